// Package config loads a node's configuration from the environment.
//
// Every service of the cluster (multicast, ring, bully) reads the same
// variables, so a single deployment manifest can start any of them:
//
//	N_PROCS           cluster size (default 3)
//	PROC_ID           this process's id; a pod name like "node-2" yields 2
//	PORT              listen port (default 8000)
//	PEERS             comma-separated base URLs, index == process id
//	DELAY_PROCESS_ID  process whose acknowledgments are held back
//	DELAY_SECONDS     how long to hold them (default 5)
//	SEND_TIMEOUT      per-request timeout to peers (default 2s)
//	SEND_RETRIES      extra attempts for transient peer errors (default 0)
//	NODE_DB           delivery journal path (empty disables it)
//	LOG_LEVEL         debug, info, warn or error (default info)
//	NODE_ADDR         node targeted by client commands
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/laizesuelia/sd-trabalho-final/pkg/logging"
)

// Defaults.
const (
	DefaultProcs    = 3
	DefaultPort     = 8000
	DefaultDelay    = 5 * time.Second
	DefaultTimeout  = 2 * time.Second
	DefaultNodeAddr = "http://localhost:8000"
)

// NoDelay is DelayProcessID when no process is configured to delay acks.
const NoDelay = -1

// Config is the environment of one node process.
type Config struct {
	ProcID         int
	NProcs         int
	Port           int
	Peers          []string
	DelayProcessID int
	DelaySeconds   time.Duration
	SendTimeout    time.Duration
	SendRetries    int
	DBPath         string
	LogLevel       logging.Level
	NodeAddr       string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var errs []error
	c := &Config{
		ProcID:         ParseProcID(os.Getenv("PROC_ID")),
		NProcs:         envInt("N_PROCS", DefaultProcs, &errs),
		Port:           envInt("PORT", DefaultPort, &errs),
		Peers:          ParsePeers(os.Getenv("PEERS")),
		DelayProcessID: NoDelay,
		DelaySeconds:   envSeconds("DELAY_SECONDS", DefaultDelay, &errs),
		SendTimeout:    envDuration("SEND_TIMEOUT", DefaultTimeout, &errs),
		SendRetries:    envInt("SEND_RETRIES", 0, &errs),
		DBPath:         os.Getenv("NODE_DB"),
		NodeAddr:       EnvOr("NODE_ADDR", DefaultNodeAddr),
	}
	if v := strings.TrimSpace(os.Getenv("DELAY_PROCESS_ID")); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DELAY_PROCESS_ID: %w", err))
		} else {
			c.DelayProcessID = id
		}
	}
	lvl, err := logging.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	c.LogLevel = lvl

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the cluster shape.
func (c *Config) Validate() error {
	if c.NProcs < 1 {
		return fmt.Errorf("N_PROCS must be at least 1, got %d", c.NProcs)
	}
	if c.ProcID < 0 || c.ProcID >= c.NProcs {
		return fmt.Errorf("PROC_ID %d out of range [0, %d)", c.ProcID, c.NProcs)
	}
	if len(c.Peers) != 0 && len(c.Peers) != c.NProcs {
		return fmt.Errorf("PEERS lists %d urls, want %d (one per process)", len(c.Peers), c.NProcs)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.SendRetries < 0 {
		return fmt.Errorf("SEND_RETRIES must not be negative, got %d", c.SendRetries)
	}
	return nil
}

// AckDelay is how long this process holds back its acknowledgments.
func (c *Config) AckDelay() time.Duration {
	if c.DelayProcessID == c.ProcID {
		return c.DelaySeconds
	}
	return 0
}

// ListenAddr is the address the node's HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ParseProcID accepts "2" or a pod name such as "node-2". Anything
// unparseable yields 0.
func ParseProcID(raw string) int {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndex(raw, "-"); i >= 0 {
		raw = raw[i+1:]
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return id
}

// ParsePeers splits a comma-separated URL list, dropping blanks.
func ParsePeers(raw string) []string {
	var peers []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

// EnvOr returns the environment value for key, or def if unset or empty.
func EnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

// envSeconds reads a float number of seconds, as the deployment
// manifests do ("5", "0.5").
func envSeconds(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid seconds %q", key, v))
		return def
	}
	return time.Duration(f * float64(time.Second))
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
