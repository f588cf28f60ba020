package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/laizesuelia/sd-trabalho-final/pkg/model"
)

const watchPage = 100

func (a *app) cmdWatch(args []string) int {
	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	since := flags.Int64("since", 0, "start after this seq")
	interval := flags.Duration("interval", time.Second, "poll interval")
	jsonOut := flags.Bool("json", false, "JSON output (one JSON object per line)")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *interval <= 0 {
		fmt.Fprintln(os.Stderr, "sdnode: watch: --interval must be positive")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "watching deliveries at %s (poll every %s, ctrl-c to stop)\n", a.addr, *interval)
	a.watch(ctx, *since, *interval, *jsonOut)
	fmt.Fprintln(os.Stderr, "\nstopped")
	return 0
}

// watch prints every delivery with seq > since as it appears, until ctx
// is done. It returns the last seq printed.
func (a *app) watch(ctx context.Context, since int64, interval time.Duration, jsonOut bool) int64 {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for {
			ds, err := a.fetchDeliveries(since, watchPage)
			if err != nil {
				fmt.Fprintf(os.Stderr, "sdnode: watch: %v\n", err)
				break
			}
			for _, d := range ds {
				if jsonOut {
					b, _ := json.Marshal(d)
					fmt.Println(string(b))
				} else {
					printDelivery(d)
				}
				since = d.Seq
			}
			if len(ds) < watchPage {
				break
			}
		}
		select {
		case <-ctx.Done():
			return since
		case <-ticker.C:
		}
	}
}

func (a *app) fetchDeliveries(since int64, limit int) ([]model.Delivery, error) {
	q := url.Values{}
	q.Set("since", fmt.Sprint(since))
	q.Set("limit", fmt.Sprint(limit))
	var ds []model.Delivery
	err := a.getJSON("/deliveries?"+q.Encode(), &ds)
	return ds, err
}
