package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/laizesuelia/sd-trabalho-final/pkg/config"
	"github.com/laizesuelia/sd-trabalho-final/pkg/gateway"
	"github.com/laizesuelia/sd-trabalho-final/pkg/model"
	"github.com/laizesuelia/sd-trabalho-final/pkg/store"
)

const clientTimeout = 5 * time.Second

// app holds what the client subcommands share.
type app struct {
	addr   string
	dbPath string
	client *gateway.Client
}

func newApp() *app {
	return &app{
		addr:   config.EnvOr("NODE_ADDR", config.DefaultNodeAddr),
		dbPath: os.Getenv("NODE_DB"),
		client: gateway.NewClient(clientTimeout),
	}
}

func (a *app) url(path string) string { return gateway.JoinURL(a.addr, path) }

func (a *app) getJSON(path string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()
	return a.client.GetJSON(ctx, a.url(path), out)
}

func (a *app) postJSON(path string, in, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()
	return a.client.PostJSON(ctx, a.url(path), in, out)
}

// openJournal opens the local delivery journal named by NODE_DB.
func (a *app) openJournal() (*store.Store, error) {
	if a.dbPath == "" {
		return nil, fmt.Errorf("no journal: set NODE_DB or pass --remote")
	}
	s, err := store.New(a.dbPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open journal %q: %w", a.dbPath, err)
	}
	return s, nil
}

// printDelivery writes one journal row as a single line.
func printDelivery(d model.Delivery) {
	fmt.Printf("#%d [ts=%d] p%d: %s\n", d.Seq, d.Message.Timestamp, d.Message.Sender,
		truncate(d.Message.Payload, 120))
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
