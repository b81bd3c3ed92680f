package ws

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// changingLister reports a different queue on every call so no broadcast
// is skipped as unchanged.
type changingLister struct{ n atomic.Uint64 }

func (l *changingLister) ListAll() []string {
	return []string{strconv.FormatUint(l.n.Add(1), 10)}
}

func TestHub_BroadcastConcurrentWithUnregister(t *testing.T) {
	h := New(&changingLister{}, time.Second, nil)

	for round := 0; round < 200; round++ {
		clients := make([]*client, 8)
		for i := range clients {
			// Buffer of one so some clients are dropped by broadcast itself.
			clients[i] = &client{send: make(chan []byte, 1)}
			h.register(clients[i])
		}

		var wg sync.WaitGroup
		wg.Add(2 + len(clients))
		go func() { defer wg.Done(); h.broadcast() }()
		go func() { defer wg.Done(); h.broadcast() }()
		for _, c := range clients {
			c := c
			go func() { defer wg.Done(); h.unregister(c) }()
		}
		wg.Wait()

		if n := h.Count(); n != 0 {
			t.Fatalf("round %d: got %d clients after unregister, want 0", round, n)
		}
	}
}

func TestHub_BroadcastDropsFullClient(t *testing.T) {
	h := New(&changingLister{}, time.Second, nil)
	c := &client{send: make(chan []byte, 1)}
	h.register(c)

	h.broadcast()
	h.broadcast()

	if n := h.Count(); n != 0 {
		t.Fatalf("got %d clients, want slow client dropped", n)
	}
	// Buffered message first, then closed.
	if _, ok := <-c.send; !ok {
		t.Fatal("expected buffered message before close")
	}
	if _, ok := <-c.send; ok {
		t.Fatal("expected send channel closed")
	}
	// Unregistering a dropped client must not close twice.
	h.unregister(c)
}
