package engine

import (
	"github.com/laizesuelia/sd-trabalho-final/pkg/logging"
	"github.com/laizesuelia/sd-trabalho-final/pkg/model"
)

// collectLocked moves every deliverable head of the queue into the outbox.
// It stops at the first head missing an acknowledgment: entries behind it
// wait even if they are complete. Caller holds e.mu.
func (e *Engine) collectLocked() {
	for {
		head, ok := e.queue.Peek()
		if !ok {
			return
		}
		acked := e.acks[head.ID]
		if len(acked) < e.n {
			return
		}
		e.queue.Pop()
		m := e.pending[head.ID]
		delete(e.pending, head.ID)
		delete(e.acks, head.ID)
		e.delivered[head.ID] = struct{}{}

		e.seq++
		e.outbox = append(e.outbox, model.Delivery{
			Seq:         e.seq,
			Message:     m,
			AckedBy:     sortedIDs(acked),
			DeliveredAt: e.now().UTC(),
		})
	}
}

// drain hands outbox deliveries to the Deliverer outside the engine lock.
// At most one goroutine drains at a time, so deliveries leave in the order
// collectLocked appended them; a goroutine that finds a drain in progress
// returns and lets the drainer pick up its deliveries. If the Deliverer
// panics, the drainer gives up the role and the rest of its batch goes back
// to the front of the outbox for the next caller.
func (e *Engine) drain() {
	e.mu.Lock()
	if e.draining || len(e.outbox) == 0 {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	var rest []model.Delivery
	done := false
	defer func() {
		if done {
			return
		}
		e.mu.Lock()
		e.outbox = append(rest, e.outbox...)
		e.draining = false
		e.mu.Unlock()
	}()

	for {
		e.mu.Lock()
		if len(e.outbox) == 0 {
			e.draining = false
			done = true
			e.mu.Unlock()
			return
		}
		batch := e.outbox
		e.outbox = nil
		e.mu.Unlock()

		for i, d := range batch {
			rest = batch[i+1:]
			e.log.Info(">>> delivered",
				logging.F("seq", d.Seq),
				logging.F("id", d.Message.ID),
				logging.F("from", d.Message.Sender),
				logging.F("ts", d.Message.Timestamp),
				logging.F("payload", d.Message.Payload))
			e.deliverer.Deliver(d)
		}
		rest = nil
	}
}
