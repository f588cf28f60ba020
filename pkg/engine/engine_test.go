package engine

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/laizesuelia/sd-trabalho-final/pkg/model"
)

// captureTransport records outbound traffic so tests can route it by hand.
type captureTransport struct {
	mu   sync.Mutex
	msgs []model.Message
	acks []model.Ack
}

func (c *captureTransport) MulticastMessage(m model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *captureTransport) MulticastAck(a model.Ack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks = append(c.acks, a)
}

// recorder collects deliveries and checks that each one carries a full quorum.
type recorder struct {
	t  *testing.T
	n  int
	mu sync.Mutex
	ds []model.Delivery
}

func (r *recorder) Deliver(d model.Delivery) {
	if len(d.AckedBy) != r.n {
		r.t.Errorf("delivered %s with %d acks, want %d", d.Message.ID, len(d.AckedBy), r.n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ds = append(r.ds, d)
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ds))
	for i, d := range r.ds {
		out[i] = d.Message.Payload
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ds)
}

func seqIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestEngine(t *testing.T, self, n int) (*Engine, *captureTransport, *recorder) {
	t.Helper()
	tr := &captureTransport{}
	rec := &recorder{t: t, n: n}
	e, err := New(Config{
		Self:      self,
		N:         n,
		Transport: tr,
		Deliverer: rec,
		NewID:     seqIDs(fmt.Sprintf("p%d", self)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, tr, rec
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Self: 0, N: 0}); err == nil {
		t.Fatal("N=0 should be rejected")
	}
	if _, err := New(Config{Self: 3, N: 3}); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("self out of range: err = %v, want ErrUnknownProcess", err)
	}
	if _, err := New(Config{Self: -1, N: 3}); err == nil {
		t.Fatal("negative self should be rejected")
	}
}

func TestSend_SingleProcessDeliversImmediately(t *testing.T) {
	e, _, rec := newTestEngine(t, 0, 1)
	r := e.Send("solo")
	if r.Timestamp != 1 || r.ID == "" {
		t.Fatalf("receipt = %+v", r)
	}
	if got := rec.payloads(); len(got) != 1 || got[0] != "solo" {
		t.Fatalf("deliveries = %v", got)
	}
}

func TestSend_TimestampsIncrease(t *testing.T) {
	e, tr, _ := newTestEngine(t, 0, 3)
	r1 := e.Send("a")
	r2 := e.Send("b")
	if r2.Timestamp <= r1.Timestamp {
		t.Fatalf("second send ts %d not after first %d", r2.Timestamp, r1.Timestamp)
	}
	if len(tr.msgs) != 2 {
		t.Fatalf("multicast %d messages, want 2", len(tr.msgs))
	}
	if tr.msgs[0].Sender != 0 || tr.msgs[0].Timestamp != r1.Timestamp || tr.msgs[0].Payload != "a" {
		t.Fatalf("fanned out %+v", tr.msgs[0])
	}
}

// Process 0 sends "hello"; acks from 1 and 2 complete the quorum.
func TestSend_DeliversAfterAllAcks(t *testing.T) {
	e, _, rec := newTestEngine(t, 0, 3)
	r := e.Send("hello")

	snap := e.Inspect()
	if len(snap.Queue) != 1 || snap.Queue[0].ID != r.ID {
		t.Fatalf("queue after send = %+v", snap.Queue)
	}
	if got := snap.Acks[r.ID]; len(got) != 1 || got[0] != 0 {
		t.Fatalf("ack set after send = %v, want [0]", got)
	}
	if !snap.Frontier.Stalled() || len(snap.Frontier.Missing) != 2 {
		t.Fatalf("frontier after send = %+v", snap.Frontier)
	}

	if err := e.ReceiveAck(model.Ack{ID: r.ID, Sender: 1, Timestamp: 3}); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 0 {
		t.Fatal("delivered with 2 of 3 acks")
	}
	if err := e.ReceiveAck(model.Ack{ID: r.ID, Sender: 2, Timestamp: 3}); err != nil {
		t.Fatal(err)
	}
	if got := rec.payloads(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("deliveries = %v", got)
	}

	snap = e.Inspect()
	if len(snap.Queue) != 0 || len(snap.Acks) != 0 {
		t.Fatalf("state after delivery: queue=%v acks=%v", snap.Queue, snap.Acks)
	}
	if snap.Delivered != 1 {
		t.Fatalf("Delivered = %d, want 1", snap.Delivered)
	}
}

func TestReceiveMessage_AcksEveryoneAndAdvancesClock(t *testing.T) {
	e, tr, _ := newTestEngine(t, 1, 3)
	m := model.Message{ID: "x", Sender: 0, Timestamp: 10, Payload: "p"}
	if err := e.ReceiveMessage(m); err != nil {
		t.Fatal(err)
	}
	if len(tr.acks) != 1 {
		t.Fatalf("acks sent = %d, want 1", len(tr.acks))
	}
	ack := tr.acks[0]
	if ack.ID != "x" || ack.Sender != 1 {
		t.Fatalf("ack = %+v", ack)
	}
	// Receive(10) -> 11, Tick for the ack -> 12.
	if ack.Timestamp != 12 {
		t.Fatalf("ack ts = %d, want 12", ack.Timestamp)
	}
	snap := e.Inspect()
	if got := snap.Acks["x"]; len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("ack set = %v, want origin and self [0 1]", got)
	}
}

func TestReceiveMessage_Idempotent(t *testing.T) {
	e, _, rec := newTestEngine(t, 2, 3)
	m := model.Message{ID: "dup", Sender: 0, Timestamp: 4, Payload: "once"}
	for i := 0; i < 3; i++ {
		if err := e.ReceiveMessage(m); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(e.Inspect().Queue); n != 1 {
		t.Fatalf("queue entries = %d, want 1", n)
	}

	if err := e.ReceiveAck(model.Ack{ID: "dup", Sender: 1, Timestamp: 9}); err != nil {
		t.Fatal(err)
	}
	// A duplicate after delivery must not re-open the message.
	if err := e.ReceiveMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := e.ReceiveAck(model.Ack{ID: "dup", Sender: 1, Timestamp: 9}); err != nil {
		t.Fatal(err)
	}
	if got := rec.payloads(); len(got) != 1 {
		t.Fatalf("deliveries = %v, want exactly one", got)
	}
	snap := e.Inspect()
	if len(snap.Queue) != 0 || len(snap.Acks) != 0 {
		t.Fatalf("late duplicate left state behind: %+v", snap)
	}
}

func TestReceiveAck_BeforeMessage(t *testing.T) {
	e, _, rec := newTestEngine(t, 2, 3)
	if err := e.ReceiveAck(model.Ack{ID: "early", Sender: 1, Timestamp: 6}); err != nil {
		t.Fatal(err)
	}
	snap := e.Inspect()
	if len(snap.Queue) != 0 {
		t.Fatal("an ack alone must not queue anything")
	}
	if got := snap.Acks["early"]; len(got) != 1 || got[0] != 1 {
		t.Fatalf("lazy ack record = %v", got)
	}

	if err := e.ReceiveMessage(model.Message{ID: "early", Sender: 0, Timestamp: 5, Payload: "late"}); err != nil {
		t.Fatal(err)
	}
	if got := rec.payloads(); len(got) != 1 || got[0] != "late" {
		t.Fatalf("deliveries = %v", got)
	}
}

func TestReceive_RejectsBadInput(t *testing.T) {
	e, _, _ := newTestEngine(t, 0, 3)
	if err := e.ReceiveMessage(model.Message{ID: "", Sender: 1}); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("empty id: err = %v", err)
	}
	if err := e.ReceiveMessage(model.Message{ID: "a", Sender: 3}); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("sender 3 of 3: err = %v", err)
	}
	if err := e.ReceiveAck(model.Ack{ID: "a", Sender: -1}); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("sender -1: err = %v", err)
	}
	if v := e.Inspect().Clock; v != 0 {
		t.Fatalf("rejected input advanced the clock to %d", v)
	}
}

func TestReceive_ClockAheadOfObserved(t *testing.T) {
	e, _, _ := newTestEngine(t, 0, 3)
	before := e.Inspect().Clock
	if err := e.ReceiveAck(model.Ack{ID: "a", Sender: 1, Timestamp: 41}); err != nil {
		t.Fatal(err)
	}
	after := e.Inspect().Clock
	if after <= 41 || after < before {
		t.Fatalf("clock after observing 41 = %d (before %d)", after, before)
	}
}

// m1 and m2 share timestamp 5; m1's lower origin id orders it first even
// though m2 completes its quorum earlier.
func TestTieBreak_HoldsBackCompleteLaterMessage(t *testing.T) {
	m1 := model.Message{ID: "m1", Sender: 0, Timestamp: 5, Payload: "first"}
	m2 := model.Message{ID: "m2", Sender: 1, Timestamp: 5, Payload: "second"}

	e, _, rec := newTestEngine(t, 2, 3)
	if err := e.ReceiveMessage(m2); err != nil {
		t.Fatal(err)
	}
	if err := e.ReceiveMessage(m1); err != nil {
		t.Fatal(err)
	}
	// m2 now has {1 (origin), 2 (self)}; add 0 to complete it.
	if err := e.ReceiveAck(model.Ack{ID: "m2", Sender: 0, Timestamp: 7}); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 0 {
		t.Fatalf("delivered %v ahead of the incomplete head", rec.payloads())
	}
	snap := e.Inspect()
	if snap.Frontier.Head == nil || snap.Frontier.Head.ID != "m1" || snap.Frontier.Blocked != 1 {
		t.Fatalf("frontier = %+v", snap.Frontier)
	}

	if err := e.ReceiveAck(model.Ack{ID: "m1", Sender: 1, Timestamp: 8}); err != nil {
		t.Fatal(err)
	}
	got := rec.payloads()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("delivery order = %v, want [first second]", got)
	}
	if rec.ds[0].Seq != 1 || rec.ds[1].Seq != 2 {
		t.Fatalf("seqs = %d,%d", rec.ds[0].Seq, rec.ds[1].Seq)
	}
}

// X waits for process 2's acknowledgment while Y and Z, queued behind it,
// are already complete. The one missing ack releases all three at once.
func TestMissingAck_ReleasesQueueInOnePass(t *testing.T) {
	x := model.Message{ID: "x", Sender: 1, Timestamp: 1, Payload: "X"}
	y := model.Message{ID: "y", Sender: 2, Timestamp: 2, Payload: "Y"}
	z := model.Message{ID: "z", Sender: 1, Timestamp: 2, Payload: "Z"}

	e, _, rec := newTestEngine(t, 0, 3)
	for _, m := range []model.Message{x, y, z} {
		if err := e.ReceiveMessage(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.ReceiveAck(model.Ack{ID: "y", Sender: 1, Timestamp: 3}); err != nil {
		t.Fatal(err)
	}
	if err := e.ReceiveAck(model.Ack{ID: "z", Sender: 2, Timestamp: 3}); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 0 {
		t.Fatalf("delivered %v ahead of the incomplete head", rec.payloads())
	}
	if f := e.Inspect().Frontier; f.Head == nil || f.Head.ID != "x" || f.Blocked != 2 {
		t.Fatalf("frontier = %+v, want x blocking 2", f)
	}

	if err := e.ReceiveAck(model.Ack{ID: "x", Sender: 2, Timestamp: 4}); err != nil {
		t.Fatal(err)
	}
	got := rec.payloads()
	if len(got) != 3 || got[0] != "X" || got[1] != "Z" || got[2] != "Y" {
		t.Fatalf("delivery order = %v, want [X Z Y]", got)
	}
	for i, d := range rec.ds {
		if d.Seq != int64(i+1) {
			t.Fatalf("delivery %d has seq %d", i, d.Seq)
		}
	}
	if s := e.Inspect(); len(s.Queue) != 0 || s.Delivered != 3 {
		t.Fatalf("after release queue=%d delivered=%d", len(s.Queue), s.Delivered)
	}
}

func TestDrain_DelivererPanicReleasesDrainer(t *testing.T) {
	var got []string
	panicked := false
	e, err := New(Config{
		Self:  0,
		N:     2,
		NewID: seqIDs("p0"),
		Deliverer: DeliverFunc(func(d model.Delivery) {
			if !panicked {
				panicked = true
				panic("deliverer failed")
			}
			got = append(got, d.Message.Payload)
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	a := e.Send("a")
	b := e.Send("b")
	if err := e.ReceiveAck(model.Ack{ID: b.ID, Sender: 1, Timestamp: 3}); err != nil {
		t.Fatal(err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected the deliverer panic to propagate")
			}
		}()
		_ = e.ReceiveAck(model.Ack{ID: a.ID, Sender: 1, Timestamp: 4})
	}()

	// The next caller takes over draining and hands out what was left.
	e.Send("c")
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("after the panic delivered %v, want [b]", got)
	}
}

func TestTieBreak_SameOrderRegardlessOfArrival(t *testing.T) {
	m1 := model.Message{ID: "m1", Sender: 0, Timestamp: 5, Payload: "first"}
	m2 := model.Message{ID: "m2", Sender: 1, Timestamp: 5, Payload: "second"}

	type step func(e *Engine) error
	msg := func(m model.Message) step { return func(e *Engine) error { return e.ReceiveMessage(m) } }
	ack := func(id string, from int) step {
		return func(e *Engine) error { return e.ReceiveAck(model.Ack{ID: id, Sender: from, Timestamp: 6}) }
	}

	// Arrival orders consistent with FIFO links: an origin's message always
	// reaches process 2 before that origin's later acknowledgments.
	orders := [][]step{
		{msg(m1), msg(m2), ack("m1", 1), ack("m2", 0)},
		{msg(m2), msg(m1), ack("m2", 0), ack("m1", 1)},
		{msg(m2), ack("m1", 1), msg(m1), ack("m2", 0)},
	}
	for i, steps := range orders {
		e, _, rec := newTestEngine(t, 2, 3)
		for _, s := range steps {
			if err := s(e); err != nil {
				t.Fatal(err)
			}
		}
		got := rec.payloads()
		if len(got) != 2 || got[0] != "first" || got[1] != "second" {
			t.Fatalf("arrival order %d delivered %v", i, got)
		}
	}
}

func TestConcurrentDeliveryIsExactlyOnceAndOrdered(t *testing.T) {
	const msgs = 200
	e, _, rec := newTestEngine(t, 0, 2)

	var ids []string
	for i := 0; i < msgs; i++ {
		ids = append(ids, e.Send(fmt.Sprint(i)).ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := e.ReceiveAck(model.Ack{ID: id, Sender: 1, Timestamp: 1}); err != nil {
				t.Error(err)
			}
		}(id)
	}
	wg.Wait()

	got := rec.payloads()
	if len(got) != msgs {
		t.Fatalf("delivered %d, want %d", len(got), msgs)
	}
	for i, p := range got {
		if p != fmt.Sprint(i) {
			t.Fatalf("delivery %d = %s, want %d", i, p, i)
		}
	}
}

func TestInspect_DoesNotMutate(t *testing.T) {
	e, _, _ := newTestEngine(t, 0, 3)
	e.Send("a")
	s1 := e.Inspect()
	s2 := e.Inspect()
	if s1.Clock != s2.Clock || len(s1.Queue) != len(s2.Queue) {
		t.Fatalf("Inspect changed state: %+v vs %+v", s1, s2)
	}
	s1.Acks[s1.Queue[0].ID][0] = 99
	if e.Inspect().Acks[s1.Queue[0].ID][0] == 99 {
		t.Fatal("snapshot shares memory with engine state")
	}
}

// queueTransport counts outbound requests as if none had been sent yet.
type queueTransport struct {
	captureTransport
}

func (q *queueTransport) Backlog() map[int]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return map[int]int{1: len(q.msgs) + len(q.acks)}
}

func TestInspect_IncludesTransportBacklog(t *testing.T) {
	tr := &queueTransport{}
	e, err := New(Config{Self: 0, N: 2, Transport: tr})
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Inspect().Backlog[1]; got != 0 {
		t.Fatalf("idle backlog = %d, want 0", got)
	}
	e.Send("a")
	e.Send("b")
	if got := e.Inspect().Backlog[1]; got != 2 {
		t.Fatalf("backlog = %d, want 2", got)
	}

	plain, _, _ := newTestEngine(t, 0, 2)
	if b := plain.Inspect().Backlog; b != nil {
		t.Fatalf("transport without a backlog reported %v", b)
	}
}
