package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/laizesuelia/sd-trabalho-final/pkg/config"
	"github.com/laizesuelia/sd-trabalho-final/pkg/election"
	"github.com/laizesuelia/sd-trabalho-final/pkg/engine"
	"github.com/laizesuelia/sd-trabalho-final/pkg/gateway"
	"github.com/laizesuelia/sd-trabalho-final/pkg/logging"
	"github.com/laizesuelia/sd-trabalho-final/pkg/model"
	"github.com/laizesuelia/sd-trabalho-final/pkg/ring"
	"github.com/laizesuelia/sd-trabalho-final/pkg/server"
	"github.com/laizesuelia/sd-trabalho-final/pkg/store"
)

// Services a node can run.
const (
	serviceMulticast = "multicast"
	serviceRing      = "ring"
	serviceBully     = "bully"
)

func (a *app) cmdServe(args []string) int {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return 1
	}
	kind := serviceMulticast
	if flags.NArg() > 0 {
		kind = flags.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sdnode: serve: %v\n", err)
		return 1
	}
	log := logging.NewDefaultLogger(cfg.LogLevel, cfg.ProcID)

	h, cleanup, err := buildService(cfg, kind, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sdnode: serve: %v\n", err)
		return 1
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting node", logging.F("service", kind), logging.F("n", cfg.NProcs),
		logging.F("peers", len(cfg.Peers)))
	if err := server.ListenAndServe(ctx, cfg.ListenAddr(), h, log); err != nil {
		log.Error("server failed", logging.F("err", err))
		return 1
	}
	return 0
}

// buildService wires the named service from cfg. cleanup releases
// everything it started.
func buildService(cfg *config.Config, kind string, log logging.Logger) (http.Handler, func(), error) {
	switch kind {
	case serviceMulticast:
		return buildMulticast(cfg, log)
	case serviceRing:
		node, err := ring.New(ring.Config{
			Self: cfg.ProcID, N: cfg.NProcs, Peers: cfg.Peers, Logger: log,
		})
		if err != nil {
			return nil, nil, err
		}
		return server.NewRing(node), node.Close, nil
	case serviceBully:
		node, err := election.New(election.Config{
			Self: cfg.ProcID, N: cfg.NProcs, Peers: cfg.Peers, Logger: log,
		})
		if err != nil {
			return nil, nil, err
		}
		return server.NewBully(node), node.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown service %q (want %s, %s or %s)",
			kind, serviceMulticast, serviceRing, serviceBully)
	}
}

func buildMulticast(cfg *config.Config, log logging.Logger) (http.Handler, func(), error) {
	var journal *store.Store
	deliverer := engine.DeliverFunc(func(model.Delivery) {})
	if cfg.DBPath != "" {
		s, err := store.New(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open journal %q: %w", cfg.DBPath, err)
		}
		if last, err := s.LastSeq(); err == nil && last > 0 {
			log.Warn("journal holds deliveries from an earlier run; sequence numbers restart at 1",
				logging.F("path", cfg.DBPath), logging.F("last_seq", last))
		}
		journal = s
		deliverer = journalDeliverer(s, log)
	}

	gw := gateway.New(gateway.Config{
		Self:     cfg.ProcID,
		Peers:    cfg.Peers,
		Timeout:  cfg.SendTimeout,
		Retries:  cfg.SendRetries,
		AckDelay: cfg.AckDelay(),
		Logger:   log,
	})
	eng, err := engine.New(engine.Config{
		Self:      cfg.ProcID,
		N:         cfg.NProcs,
		Transport: gw,
		Deliverer: deliverer,
		Logger:    log,
	})
	// A nil *Store must not reach the handler as a non-nil Journal.
	var j store.Journal
	if journal != nil {
		j = journal
	}
	cleanup := func() { closeMulticast(gw, j, log) }
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return server.NewMulticast(eng, j, log), cleanup, nil
}

// closeMulticast stops the gateway and closes the journal, logging what
// fails. j may be nil.
func closeMulticast(gw *gateway.Gateway, j store.Journal, log logging.Logger) {
	if err := gw.Close(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("gateway shutdown", logging.F("err", err))
	}
	if j == nil {
		return
	}
	if err := j.Close(); err != nil {
		log.Error("close journal", logging.F("err", err))
	}
}

// journalDeliverer appends each delivery to j. A failed write is logged;
// delivery to the application has already happened.
func journalDeliverer(j store.Journal, log logging.Logger) engine.DeliverFunc {
	return func(d model.Delivery) {
		err := j.RecordDelivery(d)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrDuplicate):
			log.Warn("journal already has delivery", logging.F("seq", d.Seq), logging.F("id", d.Message.ID))
		default:
			log.Error("journal write failed", logging.F("seq", d.Seq), logging.F("err", err))
		}
	}
}
