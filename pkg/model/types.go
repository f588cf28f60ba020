// Package model defines the core domain types of the total-order multicast
// service.
//
// Every broadcast is a Message stamped with its origin's Lamport clock.
// Receivers answer with an Ack to every member. A Message is delivered
// once all N processes have acknowledged it and no older message is still
// pending, where "older" is the (Timestamp, Sender) total order.
//
// JSON field names match the wire format shared by every node.
package model

import (
	"time"

	"github.com/laizesuelia/sd-trabalho-final/pkg/clock"
)

// Message is a broadcast payload. Created once at origination (or first
// reception) and never mutated afterwards.
type Message struct {
	ID        string `json:"msgId"`
	Sender    int    `json:"sender"`
	Timestamp int64  `json:"ts"`
	Payload   string `json:"payload"`
}

// Entry returns the Delivery Queue entry for m.
func (m Message) Entry() QueueEntry {
	return QueueEntry{Timestamp: m.Timestamp, Origin: m.Sender, ID: m.ID}
}

// Ack acknowledges message ID on behalf of Sender. Timestamp is the
// sender's clock at the moment it produced the acknowledgment.
type Ack struct {
	ID        string `json:"msgId"`
	Sender    int    `json:"sender"`
	Timestamp int64  `json:"ts"`
}

// QueueEntry is a (timestamp, origin, id) triple in the Delivery Queue.
type QueueEntry struct {
	Timestamp int64  `json:"ts"`
	Origin    int    `json:"sender"`
	ID        string `json:"msgId"`
}

// Less reports whether e precedes other in the cluster-wide total order.
// Entries with equal (Timestamp, Origin) fall back to ID so the order stays
// strict even for malformed input.
func (e QueueEntry) Less(other QueueEntry) bool {
	if e.Timestamp == other.Timestamp && e.Origin == other.Origin {
		return e.ID < other.ID
	}
	return clock.TotalOrderLess(e.Timestamp, e.Origin, other.Timestamp, other.Origin)
}

// Delivery is the event handed to the application when a message
// satisfies the delivery condition. Seq is the 1-based local delivery
// position; two processes that deliver the same messages assign them the
// same Seq values.
type Delivery struct {
	Seq         int64     `json:"seq"`
	Message     Message   `json:"message"`
	AckedBy     []int     `json:"acked_by"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Receipt is returned to the caller of Send.
type Receipt struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}
