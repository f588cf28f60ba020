// retry.go retries journal writes that hit transient SQLite contention.
//
// A node's HTTP handlers and its CLI `log` command can touch the same
// WAL-mode database file. busy_timeout absorbs most SQLITE_BUSY cases at
// the connection level; LOCKED and IOERR_SHORT_READ still surface and are
// retried here with exponential backoff and jitter.
package store

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// isTransientSQLiteErr reports whether err is BUSY, LOCKED or a WAL short
// read. Driver errors are matched by code, anything else by message.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_IOERR_SHORT_READ:
			return true
		}
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryOp runs fn until it succeeds, fails permanently, or runs out of
// attempts.
func retryOp(cfg retryConfig, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !isTransientSQLiteErr(err) {
			return err
		}
		if attempt >= cfg.maxRetries {
			return err
		}
		time.Sleep(backoffDelay(cfg, attempt))
	}
}

// backoffDelay is min(baseDelay*2^attempt, maxDelay) plus up to baseDelay
// of jitter.
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay || delay <= 0 {
		delay = cfg.maxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(cfg.baseDelay)))
}
