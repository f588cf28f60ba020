package ring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// memRing routes PostJSON calls straight to the target node.
type memRing struct {
	mu    sync.Mutex
	nodes map[string]*Node
	down  map[string]bool
	calls []string
}

func (r *memRing) PostJSON(ctx context.Context, url string, in, out any) error {
	base := strings.TrimSuffix(url, PassTokenPath)
	r.mu.Lock()
	node, down := r.nodes[base], r.down[base]
	r.calls = append(r.calls, base)
	r.mu.Unlock()
	if down || node == nil {
		return fmt.Errorf("dial %s: connection refused", base)
	}
	ok := node.ReceiveToken(in.(PassToken).From)
	b, _ := json.Marshal(map[string]bool{"ok": ok})
	return json.Unmarshal(b, out)
}

func newRing(t *testing.T, n int, down ...int) (*memRing, []*Node) {
	t.Helper()
	net := &memRing{nodes: map[string]*Node{}, down: map[string]bool{}}
	peers := make([]string, n)
	for i := range peers {
		peers[i] = fmt.Sprintf("http://ring-%d", i)
	}
	for _, d := range down {
		net.down[peers[d]] = true
	}
	nodes := make([]*Node, n)
	for i := range nodes {
		node, err := New(Config{
			Self: i, N: n, Peers: peers,
			PassDelay: 5 * time.Millisecond, CSDuration: 20 * time.Millisecond,
			Client: net,
		})
		if err != nil {
			t.Fatal(err)
		}
		nodes[i] = node
		net.nodes[peers[i]] = node
	}
	t.Cleanup(func() {
		for _, node := range nodes {
			node.Close()
		}
	})
	return net, nodes
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Self: 0, N: 0}); err == nil {
		t.Fatal("N=0 should fail")
	}
	if _, err := New(Config{Self: 3, N: 3}); err == nil {
		t.Fatal("self out of range should fail")
	}
	n, err := New(Config{Self: 0, N: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()
	if n.passDelay != DefaultPassDelay || n.csDuration != DefaultCSDuration {
		t.Fatalf("defaults not applied: %v %v", n.passDelay, n.csDuration)
	}
}

func TestRing_RequestsAreServed(t *testing.T) {
	_, nodes := newRing(t, 3)
	nodes[1].RequestCS()
	nodes[2].RequestCS()
	if !nodes[0].InitToken() {
		t.Fatal("InitToken on idle node should succeed")
	}

	waitFor(t, func() bool { return nodes[1].enteredCount() == 1 && nodes[2].enteredCount() == 1 }, "both requests served")
	for _, i := range []int{1, 2} {
		if s := nodes[i].State(); s.WantCS {
			t.Fatalf("node %d still wants the critical section after entering", i)
		}
	}
	if nodes[0].enteredCount() != 0 {
		t.Fatal("node 0 never requested but entered")
	}
}

func TestRing_TokenKeepsCirculating(t *testing.T) {
	_, nodes := newRing(t, 3)
	nodes[0].InitToken()
	nodes[0].RequestCS()
	waitFor(t, func() bool { return nodes[0].enteredCount() == 1 }, "first entry")
	nodes[0].RequestCS()
	waitFor(t, func() bool { return nodes[0].enteredCount() == 2 }, "entry after a full lap")
}

func TestRing_RequestDuringCriticalSectionWaitsForNextLap(t *testing.T) {
	n, err := New(Config{
		Self: 0, N: 1, Peers: []string{"a"},
		CSDuration: 100 * time.Millisecond, PassDelay: time.Hour,
		Client: errPoster{},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()

	n.RequestCS()
	n.InitToken()
	waitFor(t, func() bool { return n.State().InCS }, "first entry")
	if n.State().WantCS {
		t.Fatal("request should be consumed on entry")
	}
	n.RequestCS()
	waitFor(t, func() bool { return !n.State().InCS }, "leaving the critical section")
	if s := n.State(); !s.WantCS || n.enteredCount() != 1 {
		t.Fatalf("after leaving want_cs=%v entered=%d; the request made inside was dropped", s.WantCS, n.enteredCount())
	}
}

func TestRing_DuplicateTokenRefused(t *testing.T) {
	n, err := New(Config{Self: 0, N: 2, Peers: []string{"a", "b"}, PassDelay: time.Hour, Client: errPoster{}})
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()
	if !n.InitToken() {
		t.Fatal("InitToken on idle node should succeed")
	}
	if n.ReceiveToken(1) {
		t.Fatal("ReceiveToken while holding should return false")
	}
	if n.InitToken() {
		t.Fatal("InitToken while holding should return false")
	}
	if !n.State().HasToken {
		t.Fatal("holder lost the token")
	}
}

func TestRing_SkipsDeadSuccessor(t *testing.T) {
	_, nodes := newRing(t, 3, 1)
	nodes[2].RequestCS()
	nodes[0].InitToken()
	waitFor(t, func() bool { return nodes[2].enteredCount() == 1 }, "token to skip node 1")
}

func TestRing_SingleProcessKeepsToken(t *testing.T) {
	net, nodes := newRing(t, 1)
	nodes[0].InitToken()
	nodes[0].RequestCS()
	waitFor(t, func() bool { return nodes[0].enteredCount() == 1 }, "self entry")
	if !nodes[0].State().HasToken {
		t.Fatal("sole process lost the token")
	}
	net.mu.Lock()
	defer net.mu.Unlock()
	if len(net.calls) != 0 {
		t.Fatalf("sole process sent %d requests", len(net.calls))
	}
}

func TestRing_AllSuccessorsDownKeepsToken(t *testing.T) {
	net, nodes := newRing(t, 3, 1, 2)
	nodes[0].InitToken()
	waitFor(t, func() bool {
		net.mu.Lock()
		defer net.mu.Unlock()
		return len(net.calls) >= 4
	}, "repeated pass attempts")
	waitFor(t, func() bool { return nodes[0].State().HasToken }, "token kept while every successor is down")
}

func TestState_JSON(t *testing.T) {
	n, err := New(Config{Self: 1, N: 3, Peers: []string{"a", "b", "c"}, Client: errPoster{}})
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()
	n.RequestCS()
	b, err := json.Marshal(n.State())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"proc":1,"has_token":false,"want_cs":true,"in_cs":false,"peers":["a","b","c"]}`
	if string(b) != want {
		t.Fatalf("State JSON = %s\nwant %s", b, want)
	}
}

func TestClose_StopsHolder(t *testing.T) {
	n, err := New(Config{Self: 0, N: 2, Peers: []string{"a", "b"}, PassDelay: time.Hour, Client: errPoster{}})
	if err != nil {
		t.Fatal(err)
	}
	n.InitToken()
	done := make(chan struct{})
	go func() {
		n.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a sleeping holder")
	}
	if n.InitToken() {
		t.Fatal("InitToken after Close should fail")
	}
}

type errPoster struct{}

func (errPoster) PostJSON(context.Context, string, any, any) error {
	return errors.New("unreachable")
}
