// Package election implements the bully leader-election algorithm.
//
// A process that suspects the coordinator is gone probes every process
// with a higher id. If none answers it declares itself coordinator and
// announces it to everyone. If some higher process answers, that process
// takes over the election and this one waits for its announcement,
// starting over if the announcement does not arrive in time.
package election

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/laizesuelia/sd-trabalho-final/pkg/gateway"
	"github.com/laizesuelia/sd-trabalho-final/pkg/logging"
)

// Paths of the election service.
const (
	ElectionPath    = "/election"
	CoordinatorPath = "/coordinator"
)

// Defaults.
const (
	DefaultProbeTimeout = 500 * time.Millisecond
	DefaultAnnounceWait = 2 * time.Second
	DefaultFanOut       = 8
)

const pollInterval = 20 * time.Millisecond

// Poster sends one JSON request. *gateway.Client implements it.
type Poster interface {
	PostJSON(ctx context.Context, url string, in, out any) error
}

// ElectionMsg is the body of an ELECTION probe.
type ElectionMsg struct {
	From int `json:"from"`
}

// Alive is the answer to an ELECTION probe.
type Alive struct {
	Alive bool `json:"alive"`
}

// CoordinatorMsg announces a new coordinator.
type CoordinatorMsg struct {
	Leader int `json:"leader"`
}

// Config configures a Node.
type Config struct {
	Self int
	N    int
	// Peers holds one base URL per process, self included.
	Peers        []string
	ProbeTimeout time.Duration
	AnnounceWait time.Duration
	// FanOut bounds the number of concurrent probes and announcements.
	FanOut int
	Client Poster
	Logger logging.Logger
}

// State is the externally visible state of a Node. Coordinator is null
// while no leader is known.
type State struct {
	Proc          int  `json:"proc"`
	Coordinator   *int `json:"coordinator"`
	Participating bool `json:"participating"`
}

// Node is one participant of the election.
type Node struct {
	self, n      int
	peers        []string
	probeTimeout time.Duration
	announceWait time.Duration
	fanOut       int
	client       Poster
	log          logging.Logger

	mu            sync.Mutex
	coordinator   int
	hasLeader     bool
	participating bool
	elections     int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and returns a node with no known coordinator.
func New(cfg Config) (*Node, error) {
	if cfg.N < 1 {
		return nil, fmt.Errorf("election: N must be at least 1, got %d", cfg.N)
	}
	if cfg.Self < 0 || cfg.Self >= cfg.N {
		return nil, fmt.Errorf("election: self %d out of range [0, %d)", cfg.Self, cfg.N)
	}
	n := &Node{
		self:         cfg.Self,
		n:            cfg.N,
		peers:        cfg.Peers,
		probeTimeout: cfg.ProbeTimeout,
		announceWait: cfg.AnnounceWait,
		fanOut:       cfg.FanOut,
		client:       cfg.Client,
		log:          cfg.Logger,
	}
	if n.probeTimeout == 0 {
		n.probeTimeout = DefaultProbeTimeout
	}
	if n.announceWait == 0 {
		n.announceWait = DefaultAnnounceWait
	}
	if n.fanOut <= 0 {
		n.fanOut = DefaultFanOut
	}
	if n.client == nil {
		n.client = gateway.NewClient(n.probeTimeout)
	}
	if n.log == nil {
		n.log = logging.NoopLogger{}
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n, nil
}

// StartElection runs an election in the background. It is a no-op while
// one is already in progress.
func (n *Node) StartElection() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctx.Err() != nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.run()
	}()
}

// ReceiveElection answers a probe from a lower process and takes over the
// election.
func (n *Node) ReceiveElection(from int) Alive {
	n.log.Info("election probe received", logging.F("from", from))
	n.StartElection()
	return Alive{Alive: true}
}

// ReceiveCoordinator records leader as the coordinator and ends this
// process's participation.
func (n *Node) ReceiveCoordinator(leader int) {
	n.mu.Lock()
	n.coordinator = leader
	n.hasLeader = true
	n.participating = false
	n.mu.Unlock()
	n.log.Info("new coordinator announced", logging.F("leader", leader))
}

// CrashCoordinator forgets the current coordinator and starts a new
// election, as a failure detector would on losing the leader.
func (n *Node) CrashCoordinator() {
	n.mu.Lock()
	n.hasLeader = false
	n.participating = false
	n.mu.Unlock()
	n.log.Warn("coordinator failure detected, starting election")
	n.StartElection()
}

// State returns a copy of the node's state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := State{Proc: n.self, Participating: n.participating}
	if n.hasLeader {
		c := n.coordinator
		s.Coordinator = &c
	}
	return s
}

// electionCount reports how many elections this process has started.
func (n *Node) electionCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.elections
}

// Close cancels running elections and waits for them to return.
func (n *Node) Close() {
	n.mu.Lock()
	n.cancel()
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Node) run() {
	for {
		if !n.begin() {
			return
		}
		n.log.Info(">>> election started")

		if !n.probeHigher() {
			n.becomeLeader()
			return
		}
		n.log.Info("higher process answered, waiting for announcement")
		if n.awaitAnnouncement() {
			return
		}
		if n.ctx.Err() != nil {
			return
		}
		n.log.Warn("no announcement in time, restarting election", logging.F("waited", n.announceWait))
		n.mu.Lock()
		n.participating = false
		n.mu.Unlock()
	}
}

func (n *Node) begin() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.participating || n.ctx.Err() != nil {
		return false
	}
	n.participating = true
	n.hasLeader = false
	n.elections++
	return true
}

// probeHigher reports whether any higher process answered.
func (n *Node) probeHigher() bool {
	var answered atomic.Bool
	g := new(errgroup.Group)
	g.SetLimit(n.fanOut)
	for id := n.self + 1; id < n.n && id < len(n.peers); id++ {
		if n.peers[id] == "" {
			continue
		}
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(n.ctx, n.probeTimeout)
			defer cancel()
			var resp Alive
			err := n.client.PostJSON(ctx, gateway.JoinURL(n.peers[id], ElectionPath), ElectionMsg{From: n.self}, &resp)
			if err != nil {
				n.log.Debug("probe unanswered", logging.F("peer", id), logging.F("err", err))
				return nil
			}
			if resp.Alive {
				answered.Store(true)
				n.log.Info("higher process answered", logging.F("peer", id))
			}
			return nil
		})
	}
	g.Wait()
	return answered.Load()
}

// awaitAnnouncement reports whether a coordinator was announced within
// announceWait.
func (n *Node) awaitAnnouncement() bool {
	deadline := time.NewTimer(n.announceWait)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		n.mu.Lock()
		done := n.hasLeader
		if done {
			n.participating = false
		}
		n.mu.Unlock()
		if done {
			return true
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return false
		case <-n.ctx.Done():
			return false
		}
	}
}

func (n *Node) becomeLeader() {
	n.mu.Lock()
	n.coordinator = n.self
	n.hasLeader = true
	n.participating = false
	n.mu.Unlock()
	n.log.Info("*** this process is the new coordinator")

	g := new(errgroup.Group)
	g.SetLimit(n.fanOut)
	for id, base := range n.peers {
		if id == n.self || base == "" {
			continue
		}
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(n.ctx, n.probeTimeout)
			defer cancel()
			if err := n.client.PostJSON(ctx, gateway.JoinURL(base, CoordinatorPath), CoordinatorMsg{Leader: n.self}, nil); err != nil {
				n.log.Debug("announcement failed", logging.F("peer", id), logging.F("err", err))
			}
			return nil
		})
	}
	g.Wait()
}
