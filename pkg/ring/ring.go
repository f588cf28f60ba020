// Package ring implements token-ring mutual exclusion.
//
// Exactly one process holds the token at a time. A holder that has
// requested the critical section enters it for CSDuration; every holder
// then passes the token to its successor (id+1) mod N after PassDelay.
// If the successor is unreachable the holder keeps the token and tries
// the next process around the ring, so one dead member does not lose it.
package ring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/laizesuelia/sd-trabalho-final/pkg/gateway"
	"github.com/laizesuelia/sd-trabalho-final/pkg/logging"
)

// PassTokenPath is where a process receives the token.
const PassTokenPath = "/pass_token"

// Defaults.
const (
	DefaultPassDelay  = 1500 * time.Millisecond
	DefaultCSDuration = 2 * time.Second
	DefaultTimeout    = 3 * time.Second
)

// Poster sends one JSON request. *gateway.Client implements it.
type Poster interface {
	PostJSON(ctx context.Context, url string, in, out any) error
}

// PassToken is the body of a token hand-off.
type PassToken struct {
	From int `json:"from"`
}

// Config configures a Node.
type Config struct {
	Self       int
	N          int
	Peers      []string
	PassDelay  time.Duration
	CSDuration time.Duration
	Timeout    time.Duration
	Client     Poster
	Logger     logging.Logger
}

// State is the externally visible state of a Node.
type State struct {
	Proc     int      `json:"proc"`
	HasToken bool     `json:"has_token"`
	WantCS   bool     `json:"want_cs"`
	InCS     bool     `json:"in_cs"`
	Peers    []string `json:"peers"`
}

// Node is one member of the ring.
type Node struct {
	self, n    int
	peers      []string
	passDelay  time.Duration
	csDuration time.Duration
	timeout    time.Duration
	client     Poster
	log        logging.Logger

	mu       sync.Mutex
	hasToken bool
	wantCS   bool
	inCS     bool
	entered  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and returns an idle node without the token.
func New(cfg Config) (*Node, error) {
	if cfg.N < 1 {
		return nil, fmt.Errorf("ring: N must be at least 1, got %d", cfg.N)
	}
	if cfg.Self < 0 || cfg.Self >= cfg.N {
		return nil, fmt.Errorf("ring: self %d out of range [0, %d)", cfg.Self, cfg.N)
	}
	n := &Node{
		self:       cfg.Self,
		n:          cfg.N,
		peers:      cfg.Peers,
		passDelay:  cfg.PassDelay,
		csDuration: cfg.CSDuration,
		timeout:    cfg.Timeout,
		client:     cfg.Client,
		log:        cfg.Logger,
	}
	if n.passDelay == 0 {
		n.passDelay = DefaultPassDelay
	}
	if n.csDuration == 0 {
		n.csDuration = DefaultCSDuration
	}
	if n.timeout == 0 {
		n.timeout = DefaultTimeout
	}
	if n.client == nil {
		n.client = gateway.NewClient(n.timeout)
	}
	if n.log == nil {
		n.log = logging.NoopLogger{}
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n, nil
}

// InitToken creates the token at this process. It returns false if the
// token is already here.
func (n *Node) InitToken() bool {
	if !n.acquire() {
		return false
	}
	n.log.Info("token initialized here")
	return true
}

// ReceiveToken accepts the token from process from. It returns false if
// this process already holds it.
func (n *Node) ReceiveToken(from int) bool {
	if !n.acquire() {
		n.log.Warn("token received while already held", logging.F("from", from))
		return false
	}
	n.log.Info("received token", logging.F("from", from))
	return true
}

// RequestCS records that this process wants the critical section. The
// request is served the next time the token arrives.
func (n *Node) RequestCS() {
	n.mu.Lock()
	n.wantCS = true
	n.mu.Unlock()
	n.log.Info("critical section requested")
}

// State returns a copy of the node's state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return State{
		Proc:     n.self,
		HasToken: n.hasToken,
		WantCS:   n.wantCS,
		InCS:     n.inCS,
		Peers:    append([]string(nil), n.peers...),
	}
}

// enteredCount reports how many times this process has entered the critical
// section.
func (n *Node) enteredCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.entered
}

// Close stops token processing. A token held at this point is lost.
func (n *Node) Close() {
	n.mu.Lock()
	n.cancel()
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Node) acquire() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.hasToken || n.ctx.Err() != nil {
		return false
	}
	n.hasToken = true
	n.wg.Add(1)
	go n.hold()
	return true
}

// hold runs while this process owns the token.
func (n *Node) hold() {
	defer n.wg.Done()
	for {
		n.mu.Lock()
		enter := n.wantCS
		if enter {
			n.wantCS = false
			n.inCS = true
			n.entered++
		}
		n.mu.Unlock()

		if enter {
			n.log.Info(">>> entered critical section", logging.F("for", n.csDuration))
			sleepErr := sleep(n.ctx, n.csDuration)
			n.mu.Lock()
			n.inCS = false
			n.mu.Unlock()
			n.log.Info("<<< left critical section")
			if sleepErr != nil {
				return
			}
		}

		if sleep(n.ctx, n.passDelay) != nil {
			return
		}
		if n.pass() {
			return
		}
	}
}

// pass hands the token to the first reachable successor. It returns false
// if the token stays here.
func (n *Node) pass() bool {
	for step := 1; step < n.n; step++ {
		next := (n.self + step) % n.n
		if next >= len(n.peers) || n.peers[next] == "" {
			continue
		}
		n.mu.Lock()
		n.hasToken = false
		n.mu.Unlock()

		err := n.send(next)
		if err == nil {
			n.log.Info("passed token", logging.F("to", next))
			return true
		}

		n.mu.Lock()
		if n.hasToken {
			// The token came back around while the failed request was in
			// flight; the new holder owns it now.
			n.mu.Unlock()
			return true
		}
		n.hasToken = true
		n.mu.Unlock()
		if n.ctx.Err() != nil {
			return true
		}
		n.log.Warn("token pass failed", logging.F("to", next), logging.F("err", err))
	}
	return false
}

func (n *Node) send(to int) error {
	ctx, cancel := context.WithTimeout(n.ctx, n.timeout)
	defer cancel()
	var resp struct {
		OK bool `json:"ok"`
	}
	url := gateway.JoinURL(n.peers[to], PassTokenPath)
	if err := n.client.PostJSON(ctx, url, PassToken{From: n.self}, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return errRefused
	}
	return nil
}

var errRefused = errors.New("successor refused token")

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
