// Package frontier computes the delivery frontier of a process.
//
// The frontier is the head of the Delivery Queue: the oldest message still
// pending in the (timestamp, origin) total order. Nothing behind the head
// can be delivered until the head has an acknowledgment from every process,
// so a peer that never acknowledges stalls the whole queue. Status reports
// that stall explicitly, which is how an external failure detector finds
// out which process is holding delivery back.
package frontier

import (
	"sort"

	"github.com/laizesuelia/sd-trabalho-final/pkg/model"
)

// Status is the result of a frontier check over one process's queue.
type Status struct {
	Head    *model.QueueEntry `json:"head,omitempty"`
	Ready   bool              `json:"ready"`
	AckedBy []int             `json:"acked_by,omitempty"`
	Missing []int             `json:"missing,omitempty"`
	Blocked int               `json:"blocked"`
}

// Stalled reports whether a head exists and is waiting on acknowledgments.
func (s Status) Stalled() bool { return s.Head != nil && !s.Ready }

// Compute derives the frontier status for a queue snapshot in delivery
// order. acks maps message ids to the processes that acknowledged them and
// n is the cluster size. Process ids are 0..n-1.
func Compute(queue []model.QueueEntry, acks map[string][]int, n int) Status {
	if len(queue) == 0 {
		return Status{}
	}
	head := queue[0]
	acked := normalize(acks[head.ID], n)

	have := make(map[int]bool, len(acked))
	for _, p := range acked {
		have[p] = true
	}
	var missing []int
	for p := 0; p < n; p++ {
		if !have[p] {
			missing = append(missing, p)
		}
	}

	st := Status{
		Head:    &head,
		Ready:   len(missing) == 0,
		AckedBy: acked,
		Missing: missing,
	}
	if !st.Ready {
		st.Blocked = len(queue) - 1
	}
	return st
}

// normalize returns the distinct in-range ids of acked, sorted.
func normalize(acked []int, n int) []int {
	seen := make(map[int]bool, len(acked))
	var out []int
	for _, p := range acked {
		if p < 0 || p >= n || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
