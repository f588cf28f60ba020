// Package store is the delivery journal: an append-only SQLite log of every
// message this process handed to its application, in delivery order.
//
// Two journals from the same cluster can be diffed row by row. Any
// disagreement in (seq, msg_id) is a total-order violation. The journal is
// written after delivery and is never read back into the engine, so it
// plays no part in restart recovery.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/laizesuelia/sd-trabalho-final/pkg/model"

	_ "modernc.org/sqlite"
)

// ErrDuplicate is returned when a delivery for the same message id or seq
// was already recorded.
var ErrDuplicate = errors.New("delivery already recorded")

// Store manages the journal database in WAL mode.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the journal at path and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention wraps retryOp with the default config.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deliveries (
		seq          INTEGER PRIMARY KEY,
		msg_id       TEXT NOT NULL UNIQUE,
		sender       INTEGER NOT NULL,
		lamport_ts   INTEGER NOT NULL,
		payload      TEXT NOT NULL,
		acked_by     TEXT NOT NULL,
		delivered_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_order ON deliveries(lamport_ts, sender);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordDelivery appends d. Recording the same message or seq twice
// returns ErrDuplicate.
func (s *Store) RecordDelivery(d model.Delivery) error {
	if d.Seq < 1 {
		return fmt.Errorf("record delivery %s: seq %d must be positive", d.Message.ID, d.Seq)
	}
	ackedBy, err := json.Marshal(d.AckedBy)
	if err != nil {
		return fmt.Errorf("encode acked_by: %w", err)
	}
	at := d.DeliveredAt
	if at.IsZero() {
		at = time.Now()
	}
	var inserted int64
	err = retryOnContention(func() error {
		res, err := s.db.Exec(
			`INSERT INTO deliveries (seq, msg_id, sender, lamport_ts, payload, acked_by, delivered_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT DO NOTHING`,
			d.Seq, d.Message.ID, d.Message.Sender, d.Message.Timestamp, d.Message.Payload,
			string(ackedBy), at.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		inserted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("record delivery %s: %w", d.Message.ID, err)
	}
	if inserted == 0 {
		return fmt.Errorf("record delivery %s (seq %d): %w", d.Message.ID, d.Seq, ErrDuplicate)
	}
	return nil
}

// ListDeliveries returns deliveries with seq > sinceSeq in seq order.
// A limit <= 0 means no limit.
func (s *Store) ListDeliveries(sinceSeq int64, limit int) ([]model.Delivery, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT seq, msg_id, sender, lamport_ts, payload, acked_by, delivered_at
		 FROM deliveries WHERE seq > ? ORDER BY seq LIMIT ?`,
		sinceSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

// CountDeliveries returns the number of journal rows.
func (s *Store) CountDeliveries() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM deliveries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return n, nil
}

// LastSeq returns the highest recorded seq, or 0 if the journal is empty.
func (s *Store) LastSeq() (int64, error) {
	var n sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(seq) FROM deliveries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return n.Int64, nil
}

func scanDeliveries(rows *sql.Rows) ([]model.Delivery, error) {
	var out []model.Delivery
	for rows.Next() {
		var (
			d       model.Delivery
			ackedBy string
			at      string
		)
		if err := rows.Scan(&d.Seq, &d.Message.ID, &d.Message.Sender, &d.Message.Timestamp,
			&d.Message.Payload, &ackedBy, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ackedBy), &d.AckedBy); err != nil {
			return nil, fmt.Errorf("decode acked_by of seq %d: %w", d.Seq, err)
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("decode delivered_at of seq %d: %w", d.Seq, err)
		}
		d.DeliveredAt = t
		out = append(out, d)
	}
	return out, rows.Err()
}
