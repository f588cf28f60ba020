package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/laizesuelia/sd-trabalho-final/pkg/engine"
)

func (a *app) cmdState(args []string) int {
	flags := flag.NewFlagSet("state", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output (works for every service)")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	var raw json.RawMessage
	if err := a.getJSON("/state", &raw); err != nil {
		fmt.Fprintf(os.Stderr, "sdnode: state: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(raw)
		return 0
	}

	var snap engine.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil || snap.N == 0 {
		// Not a multicast node; ring and bully state is small enough as is.
		printJSON(raw)
		return 0
	}
	printSnapshot(snap)
	return 0
}

func printSnapshot(s engine.Snapshot) {
	fmt.Printf("proc %d of %d  clock=%d  delivered=%d\n", s.Proc, s.N, s.Clock, s.Delivered)
	printBacklog(s.Backlog)
	if len(s.Queue) == 0 {
		fmt.Println("queue: empty")
		return
	}
	fmt.Printf("queue (%d):\n", len(s.Queue))
	for _, e := range s.Queue {
		fmt.Printf("  [ts=%d] p%d %s acks=%v\n", e.Timestamp, e.Origin, e.ID, s.Acks[e.ID])
	}
	f := s.Frontier
	switch {
	case f.Head == nil:
	case f.Ready:
		fmt.Println("frontier: head ready")
	default:
		fmt.Printf("frontier: STALLED on %s, waiting for acks from %v (%d blocked behind it)\n",
			f.Head.ID, f.Missing, f.Blocked)
	}
}

// printBacklog lists peers with requests still waiting to be sent. A peer
// whose backlog keeps growing is likely down.
func printBacklog(backlog map[int]int) {
	peers := make([]int, 0, len(backlog))
	for p, n := range backlog {
		if n > 0 {
			peers = append(peers, p)
		}
	}
	if len(peers) == 0 {
		return
	}
	sort.Ints(peers)
	fmt.Print("backlog:")
	for _, p := range peers {
		fmt.Printf(" p%d=%d", p, backlog[p])
	}
	fmt.Println()
}
