package store

import "github.com/laizesuelia/sd-trabalho-final/pkg/model"

// Journal is the set of journal operations used by the server and the CLI.
// Tests can substitute an in-memory implementation.
type Journal interface {
	Close() error

	// RecordDelivery appends one delivery. Duplicates return ErrDuplicate.
	RecordDelivery(d model.Delivery) error

	// ListDeliveries returns deliveries with seq > sinceSeq, oldest first.
	ListDeliveries(sinceSeq int64, limit int) ([]model.Delivery, error)

	CountDeliveries() (int64, error)
	LastSeq() (int64, error)
}

var _ Journal = (*Store)(nil)
