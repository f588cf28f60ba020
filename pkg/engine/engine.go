// Package engine implements causal total-order multicast.
//
// An Engine owns the process's Lamport clock, the pending set, the ack
// records and the Delivery Queue. Every origination, reception and
// acknowledgment mutates them inside one critical section, then runs a
// delivery pass: while the queue head has acknowledgments from all N
// processes it is popped and handed to the application. A head that is not
// fully acknowledged stops the pass even when later entries are, which is
// what makes every process deliver in the same (timestamp, origin) order.
//
// A head that never collects its quorum stalls delivery forever. There is
// no timeout eviction; Inspect exposes the stall for external failure
// detection.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/laizesuelia/sd-trabalho-final/pkg/clock"
	"github.com/laizesuelia/sd-trabalho-final/pkg/frontier"
	"github.com/laizesuelia/sd-trabalho-final/pkg/logging"
	"github.com/laizesuelia/sd-trabalho-final/pkg/model"
	"github.com/laizesuelia/sd-trabalho-final/pkg/queue"
)

var (
	// ErrUnknownProcess is returned for a sender id outside [0, N).
	ErrUnknownProcess = errors.New("unknown process id")
	// ErrEmptyID is returned for a message or ack without an id.
	ErrEmptyID = errors.New("empty message id")
)

// Transport fans messages and acknowledgments out to every other process.
//
// The engine calls Transport while holding its lock so that outbound
// order matches timestamp order. Implementations must only enqueue and
// return; network I/O belongs on their own goroutines.
type Transport interface {
	MulticastMessage(m model.Message)
	MulticastAck(a model.Ack)
}

// Deliverer receives messages in total order, exactly once each.
// Deliver is never called concurrently with itself.
type Deliverer interface {
	Deliver(d model.Delivery)
}

// DeliverFunc adapts a function to Deliverer.
type DeliverFunc func(d model.Delivery)

// Deliver implements Deliverer.
func (f DeliverFunc) Deliver(d model.Delivery) { f(d) }

// Config holds the engine's collaborators. Self and N are required.
type Config struct {
	Self      int
	N         int
	Transport Transport // nil means no peers to talk to
	Deliverer Deliverer // nil discards deliveries (they are still logged)
	Logger    logging.Logger
	NewID     func() string    // defaults to uuid.NewString
	Now       func() time.Time // defaults to time.Now
}

// Engine is the total-order multicast state machine of one process.
type Engine struct {
	self int
	n    int

	transport Transport
	deliverer Deliverer
	log       logging.Logger
	newID     func() string
	now       func() time.Time

	mu        sync.Mutex
	clock     clock.Clock
	pending   map[string]model.Message
	acks      map[string]map[int]struct{}
	queue     *queue.Queue
	delivered map[string]struct{}
	seq       int64

	// outbox holds deliveries popped from the queue but not yet handed to
	// the Deliverer. Only the goroutine that set draining empties it.
	outbox   []model.Delivery
	draining bool
}

// New constructs an Engine for process cfg.Self of a cluster of cfg.N.
func New(cfg Config) (*Engine, error) {
	if cfg.N < 1 {
		return nil, fmt.Errorf("cluster size must be at least 1, got %d", cfg.N)
	}
	if cfg.Self < 0 || cfg.Self >= cfg.N {
		return nil, fmt.Errorf("process id %d out of range [0, %d): %w", cfg.Self, cfg.N, ErrUnknownProcess)
	}
	e := &Engine{
		self:      cfg.Self,
		n:         cfg.N,
		transport: cfg.Transport,
		deliverer: cfg.Deliverer,
		log:       cfg.Logger,
		newID:     cfg.NewID,
		now:       cfg.Now,
		pending:   make(map[string]model.Message),
		acks:      make(map[string]map[int]struct{}),
		queue:     queue.New(),
		delivered: make(map[string]struct{}),
	}
	if e.transport == nil {
		e.transport = nopTransport{}
	}
	if e.deliverer == nil {
		e.deliverer = DeliverFunc(func(model.Delivery) {})
	}
	if e.log == nil {
		e.log = logging.NoopLogger{}
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Self returns this process's id.
func (e *Engine) Self() int { return e.self }

// N returns the cluster size.
func (e *Engine) N() int { return e.n }

// Send originates a broadcast of payload. It returns as soon as the
// message is queued locally and handed to the transport; delivery happens
// later, once every process has acknowledged it.
func (e *Engine) Send(payload string) model.Receipt {
	e.mu.Lock()
	ts := e.clock.Tick()
	m := model.Message{ID: e.newID(), Sender: e.self, Timestamp: ts, Payload: payload}
	e.pending[m.ID] = m
	e.ackSetLocked(m.ID)[e.self] = struct{}{}
	e.queue.Push(m.Entry())
	e.transport.MulticastMessage(m)
	e.collectLocked()
	e.mu.Unlock()

	e.log.Debug("sent", logging.F("id", m.ID), logging.F("ts", ts))
	e.drain()
	return model.Receipt{ID: m.ID, Timestamp: ts}
}

// ReceiveMessage handles a message multicast by another process. Receiving
// the same id twice never creates a second queue entry. The message's
// arrival counts as its origin's acknowledgment, and this process
// acknowledges it to every peer.
func (e *Engine) ReceiveMessage(m model.Message) error {
	if err := e.validate(m.ID, m.Sender); err != nil {
		return err
	}

	e.mu.Lock()
	e.clock.Receive(m.Timestamp)
	fresh := false
	if !e.isDeliveredLocked(m.ID) {
		if _, ok := e.pending[m.ID]; !ok {
			e.pending[m.ID] = m
			e.queue.Push(m.Entry())
			fresh = true
		}
		set := e.ackSetLocked(m.ID)
		set[m.Sender] = struct{}{}
		set[e.self] = struct{}{}
	}
	ack := model.Ack{ID: m.ID, Sender: e.self, Timestamp: e.clock.Tick()}
	e.transport.MulticastAck(ack)
	e.collectLocked()
	e.mu.Unlock()

	if fresh {
		e.log.Debug("received", logging.F("id", m.ID), logging.F("from", m.Sender), logging.F("ts", m.Timestamp))
	} else {
		e.log.Debug("duplicate message", logging.F("id", m.ID), logging.F("from", m.Sender))
	}
	e.drain()
	return nil
}

// ReceiveAck records an acknowledgment. The ack may arrive before the
// message it refers to; its record is then created lazily.
func (e *Engine) ReceiveAck(a model.Ack) error {
	if err := e.validate(a.ID, a.Sender); err != nil {
		return err
	}

	e.mu.Lock()
	e.clock.Receive(a.Timestamp)
	if !e.isDeliveredLocked(a.ID) {
		e.ackSetLocked(a.ID)[a.Sender] = struct{}{}
	}
	e.collectLocked()
	e.mu.Unlock()

	e.log.Debug("ack", logging.F("id", a.ID), logging.F("from", a.Sender), logging.F("ts", a.Timestamp))
	e.drain()
	return nil
}

func (e *Engine) validate(id string, sender int) error {
	if id == "" {
		return ErrEmptyID
	}
	if sender < 0 || sender >= e.n {
		return fmt.Errorf("sender %d: %w", sender, ErrUnknownProcess)
	}
	return nil
}

func (e *Engine) ackSetLocked(id string) map[int]struct{} {
	set, ok := e.acks[id]
	if !ok {
		set = make(map[int]struct{}, e.n)
		e.acks[id] = set
	}
	return set
}

func (e *Engine) isDeliveredLocked(id string) bool {
	_, ok := e.delivered[id]
	return ok
}

func sortedIDs(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

type nopTransport struct{}

func (nopTransport) MulticastMessage(model.Message) {}
func (nopTransport) MulticastAck(model.Ack)         {}

// BacklogReporter is implemented by transports that queue outbound
// requests per peer. Inspect includes the backlog when it is available.
type BacklogReporter interface {
	Backlog() map[int]int
}

// Snapshot is the read-only diagnostic view returned by Inspect.
type Snapshot struct {
	Proc      int                `json:"proc"`
	N         int                `json:"n"`
	Clock     int64              `json:"clock"`
	Queue     []model.QueueEntry `json:"queue"`
	Acks      map[string][]int   `json:"acks"`
	Delivered int64              `json:"delivered"`
	Frontier  frontier.Status    `json:"frontier"`
	Backlog   map[int]int        `json:"backlog,omitempty"`
}

// Inspect returns a copy of the engine state. It does not mutate anything.
func (e *Engine) Inspect() Snapshot {
	e.mu.Lock()
	acks := make(map[string][]int, len(e.acks))
	for id, set := range e.acks {
		acks[id] = sortedIDs(set)
	}
	q := e.queue.Snapshot()
	snap := Snapshot{
		Proc:      e.self,
		N:         e.n,
		Clock:     e.clock.Value(),
		Queue:     q,
		Acks:      acks,
		Delivered: e.seq,
		Frontier:  frontier.Compute(q, acks, e.n),
	}
	e.mu.Unlock()

	if br, ok := e.transport.(BacklogReporter); ok {
		snap.Backlog = br.Backlog()
	}
	return snap
}
