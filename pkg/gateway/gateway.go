// Package gateway is the Multicast Gateway: it fans messages and
// acknowledgments out to every peer over HTTP.
//
// Each peer gets one outbound link, an unbounded FIFO drained by a single
// worker goroutine. Enqueueing never blocks, so the engine can call the
// gateway while holding its state lock, and requests to one peer leave in
// exactly the order they were enqueued. At most one request per peer is in
// flight, so a slow peer costs one goroutine and one connection rather
// than one per message.
//
// Sends are fire-and-forget. A failed request is logged and dropped
// unless retries are configured.
package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/laizesuelia/sd-trabalho-final/pkg/logging"
	"github.com/laizesuelia/sd-trabalho-final/pkg/model"
)

// Paths of the multicast service.
const (
	ReceivePath = "/receive"
	AckPath     = "/ack"
)

// Config configures a Gateway.
type Config struct {
	// Self is this process's id; Peers[Self] is skipped.
	Self int
	// Peers holds one base URL per process, indexed by process id.
	Peers []string
	// Timeout bounds each request (DefaultTimeout if zero).
	Timeout time.Duration
	// Retries is the number of extra attempts for transient failures.
	Retries int
	// AckDelay holds back every outbound acknowledgment. Used only for
	// fault injection.
	AckDelay time.Duration
	Logger   logging.Logger
}

// Gateway implements engine.Transport over HTTP.
type Gateway struct {
	client   *Client
	links    []*link
	ackDelay time.Duration
	retry    retryConfig
	log      logging.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New starts one worker per peer. Call Close to stop them.
func New(cfg Config) *Gateway {
	log := cfg.Logger
	if log == nil {
		log = logging.NoopLogger{}
	}
	rc := defaultRetryConfig
	if cfg.Retries > 0 {
		rc.maxRetries = cfg.Retries
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	g := &Gateway{
		client:   NewClient(cfg.Timeout),
		ackDelay: cfg.AckDelay,
		retry:    rc,
		log:      log,
		cancel:   cancel,
		group:    group,
	}
	for id, base := range cfg.Peers {
		if id == cfg.Self || base == "" {
			continue
		}
		l := newLink(id, base)
		g.links = append(g.links, l)
		group.Go(func() error {
			l.run(ctx, g.send)
			return nil
		})
	}
	if g.ackDelay > 0 {
		log.Info("acknowledgments will be delayed", logging.F("delay", g.ackDelay))
	}
	return g
}

// MulticastMessage enqueues m for every peer.
func (g *Gateway) MulticastMessage(m model.Message) {
	g.enqueue(outbound{path: ReceivePath, body: m, id: m.ID})
}

// MulticastAck enqueues a for every peer, after AckDelay if configured.
func (g *Gateway) MulticastAck(a model.Ack) {
	o := outbound{path: AckPath, body: a, id: a.ID}
	if g.ackDelay > 0 {
		o.notBefore = time.Now().Add(g.ackDelay)
		g.log.Info("delaying ack", logging.F("id", a.ID), logging.F("delay", g.ackDelay))
	}
	g.enqueue(o)
}

func (g *Gateway) enqueue(o outbound) {
	for _, l := range g.links {
		l.push(o)
	}
}

// Backlog returns the number of requests waiting per peer id.
func (g *Gateway) Backlog() map[int]int {
	out := make(map[int]int, len(g.links))
	for _, l := range g.links {
		out[l.peer] = l.len()
	}
	return out
}

// Close stops every link worker. Queued requests are dropped.
func (g *Gateway) Close() error {
	g.cancel()
	return g.group.Wait()
}

func (g *Gateway) send(ctx context.Context, l *link, o outbound) {
	url := JoinURL(l.base, o.path)
	err := retryOp(ctx, g.retry, func() error {
		return g.client.PostJSON(ctx, url, o.body, nil)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		g.log.Warn("peer send failed",
			logging.F("peer", l.peer), logging.F("path", o.path),
			logging.F("id", o.id), logging.F("err", err))
		return
	}
	g.log.Debug("peer send ok", logging.F("peer", l.peer), logging.F("path", o.path), logging.F("id", o.id))
}

type outbound struct {
	path      string
	body      any
	id        string
	notBefore time.Time
}

// link is the FIFO outbound queue to one peer.
type link struct {
	peer int
	base string

	mu    sync.Mutex
	items []outbound
	wake  chan struct{}
}

func newLink(peer int, base string) *link {
	return &link{peer: peer, base: base, wake: make(chan struct{}, 1)}
}

func (l *link) push(o outbound) {
	l.mu.Lock()
	l.items = append(l.items, o)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *link) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *link) pop() (outbound, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return outbound{}, false
	}
	o := l.items[0]
	l.items[0] = outbound{}
	l.items = l.items[1:]
	return o, true
}

func (l *link) run(ctx context.Context, send func(context.Context, *link, outbound)) {
	for {
		o, ok := l.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
				continue
			}
		}
		if wait := time.Until(o.notBefore); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
		send(ctx, l, o)
	}
}
