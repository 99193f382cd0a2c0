package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// memTransport records written frames.
type memTransport struct {
	mu     sync.Mutex
	frames []Frame
	fail   bool
	closed bool
}

func (t *memTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return errors.New("write to closed transport")
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	t.frames = append(t.frames, f)
	return nil
}

func (t *memTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *memTransport) events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.frames))
	for i, f := range t.frames {
		out[i] = f.Event
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestBroadcastReachesAllUserConnections(t *testing.T) {
	hub := NewHub(8, time.Minute)
	t1 := &memTransport{}
	t2 := &memTransport{}
	other := &memTransport{}
	hub.Register("user1", t1)
	hub.Register("user1", t2)
	hub.Register("user2", other)

	hub.BroadcastToUser("user1", "sprint_progress", map[string]int{"done": 3})

	waitFor(t, func() bool { return len(t1.events()) == 1 && len(t2.events()) == 1 })
	if len(other.events()) != 0 {
		t.Fatal("broadcast leaked to another user")
	}
	if t1.events()[0] != "sprint_progress" {
		t.Fatalf("event = %q", t1.events()[0])
	}
}

func TestFailingTransportEvicted(t *testing.T) {
	hub := NewHub(8, time.Minute)
	bad := &memTransport{fail: true}
	good := &memTransport{}
	hub.Register("user1", bad)
	hub.Register("user1", good)

	hub.BroadcastToUser("user1", "directive_issued", nil)

	waitFor(t, func() bool { return hub.ConnectionCount("user1") == 1 })
	bad.mu.Lock()
	closed := bad.closed
	bad.mu.Unlock()
	if !closed {
		t.Fatal("evicted transport must be closed")
	}

	hub.BroadcastToUser("user1", "directive_issued", nil)
	waitFor(t, func() bool { return len(good.events()) == 2 })
}

func TestFullQueueEvicts(t *testing.T) {
	hub := NewHub(1, time.Minute)
	// a transport that never drains: block the pump on the first write
	blocker := &blockingTransport{release: make(chan struct{})}
	hub.Register("user1", blocker)

	// first frame occupies the pump, second fills the queue, third overflows
	hub.BroadcastToUser("user1", "a", nil)
	waitFor(t, func() bool { return blocker.writing() })
	hub.BroadcastToUser("user1", "b", nil)
	hub.BroadcastToUser("user1", "c", nil)

	waitFor(t, func() bool { return hub.ConnectionCount("user1") == 0 })
	close(blocker.release)
}

type blockingTransport struct {
	mu      sync.Mutex
	started bool
	release chan struct{}
}

func (t *blockingTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	<-t.release
	return nil
}

func (t *blockingTransport) Close() error { return nil }

func (t *blockingTransport) writing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func TestHeartbeatDelivered(t *testing.T) {
	hub := NewHub(8, 20*time.Millisecond)
	tr := &memTransport{}
	hub.Register("user1", tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.RunHeartbeat(ctx)

	waitFor(t, func() bool {
		for _, e := range tr.events() {
			if e == "heartbeat" {
				return true
			}
		}
		return false
	})
}

func TestConcurrentRegisterBroadcastUnregister(t *testing.T) {
	hub := NewHub(16, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := hub.Register("user1", &memTransport{})
			hub.BroadcastToUser("user1", "tick", nil)
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if n := hub.ConnectionCount("user1"); n != 0 {
		t.Fatalf("connections left = %d", n)
	}
}

func TestEnqueueAfterUnregisterIsNoop(t *testing.T) {
	hub := NewHub(8, time.Minute)
	tr := &memTransport{}
	c := hub.Register("user1", tr)
	hub.Unregister(c)

	// The send queue is closed now; both push paths must drop silently.
	hub.SendTo(c, "late", nil)
	hub.BroadcastToUser("user1", "late", nil)

	time.Sleep(20 * time.Millisecond)
	for _, ev := range tr.events() {
		if ev == "late" {
			t.Fatal("frame delivered to a closed connection")
		}
	}
}

func TestShutdownEvictsEverything(t *testing.T) {
	hub := NewHub(8, time.Minute)
	a := &memTransport{}
	b := &memTransport{}
	hub.Register("user1", a)
	hub.Register("user2", b)

	hub.Shutdown()

	if hub.ConnectionCount("user1") != 0 || hub.ConnectionCount("user2") != 0 {
		t.Fatal("shutdown must clear the registry")
	}
}
