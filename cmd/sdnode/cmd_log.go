package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/laizesuelia/sd-trabalho-final/pkg/model"
)

func (a *app) cmdLog(args []string) int {
	flags := flag.NewFlagSet("log", flag.ContinueOnError)
	since := flags.Int64("since", 0, "show deliveries with seq > this")
	limit := flags.Int("limit", 50, "max deliveries to return")
	remote := flags.Bool("remote", false, "read the journal of the node at NODE_ADDR")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	var (
		ds    []model.Delivery
		total int64 = -1
		err   error
	)
	if *remote {
		ds, err = a.fetchDeliveries(*since, *limit)
	} else {
		ds, total, err = a.localLog(*since, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sdnode: log: %v\n", err)
		return 1
	}

	if *jsonOut {
		out := map[string]interface{}{"deliveries": ds, "count": len(ds)}
		if total >= 0 {
			out["total"] = total
		}
		printJSON(out)
		return 0
	}
	if len(ds) == 0 {
		fmt.Println("no deliveries")
		return 0
	}
	for _, d := range ds {
		printDelivery(d)
	}
	if total > int64(len(ds)) {
		fmt.Printf("(%d of %d in journal)\n", len(ds), total)
	}
	return 0
}

// localLog reads a page of the local journal and its total row count.
func (a *app) localLog(since int64, limit int) ([]model.Delivery, int64, error) {
	s, err := a.openJournal()
	if err != nil {
		return nil, 0, err
	}
	defer s.Close()
	ds, err := s.ListDeliveries(since, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.CountDeliveries()
	if err != nil {
		return nil, 0, err
	}
	return ds, total, nil
}
