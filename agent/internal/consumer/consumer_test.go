package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// popResult is one scripted answer from the fake broker.
type popResult struct {
	id  string
	ok  bool
	err error
}

// scriptedPopper returns results in order, then cancels the test context.
type scriptedPopper struct {
	mu      sync.Mutex
	results []popResult
	cancel  context.CancelFunc
}

func (p *scriptedPopper) Pop(ctx context.Context) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		p.cancel()
		return "", false, ctx.Err()
	}
	r := p.results[0]
	p.results = p.results[1:]
	return r.id, r.ok, r.err
}

// recordWaits replaces the consumer's timer with one that fires at once and
// records every requested wait.
func recordWaits(c *Consumer) *[]time.Duration {
	var waits []time.Duration
	c.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	c.bo.jitter = func() float64 { return 0.5 } // no jitter
	return &waits
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	b := newBackoff(time.Second, 5*time.Second)
	b.jitter = func() float64 { return 0.5 }

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.next())
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("waits (-want +got):\n%s", diff)
	}

	b.reset()
	if d := b.next(); d != time.Second {
		t.Errorf("after reset: got %v, want 1s", d)
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := newBackoff(time.Second, time.Second)
	for i := 0; i < 100; i++ {
		d := b.next()
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("wait %v outside ±25%% of 1s", d)
		}
	}
}

func TestConsumer_HandlesInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedPopper{cancel: cancel, results: []popResult{
		{id: "b", ok: true},
		{id: "a", ok: true},
	}}
	var handled []string
	c := New(src, func(_ context.Context, id string) error {
		handled = append(handled, id)
		return nil
	}, time.Second, 10*time.Second)
	recordWaits(c)

	c.Run(ctx)

	if diff := cmp.Diff([]string{"b", "a"}, handled); diff != "" {
		t.Errorf("handled (-want +got):\n%s", diff)
	}
	if s := c.Stats(); s.Handled != 2 || s.Failed != 0 {
		t.Errorf("stats: got %+v", s)
	}
}

func TestConsumer_BacksOffWhenEmptyAndResets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedPopper{cancel: cancel, results: []popResult{
		{}, {}, {},
		{id: "x", ok: true},
		{},
	}}
	c := New(src, func(context.Context, string) error { return nil }, 100*time.Millisecond, 250*time.Millisecond)
	waits := recordWaits(c)

	c.Run(ctx)

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond, 100 * time.Millisecond}
	if diff := cmp.Diff(want, *waits); diff != "" {
		t.Errorf("waits (-want +got):\n%s", diff)
	}
	if s := c.Stats(); s.EmptyPops != 4 || s.Handled != 1 {
		t.Errorf("stats: got %+v", s)
	}
}

func TestConsumer_PopErrorBacksOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedPopper{cancel: cancel, results: []popResult{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{id: "a", ok: true},
	}}
	c := New(src, func(context.Context, string) error { return nil }, time.Second, time.Minute)
	waits := recordWaits(c)

	c.Run(ctx)

	if diff := cmp.Diff([]time.Duration{time.Second, 2 * time.Second}, *waits); diff != "" {
		t.Errorf("waits (-want +got):\n%s", diff)
	}
	if s := c.Stats(); s.PopErrors != 2 || s.Handled != 1 {
		t.Errorf("stats: got %+v", s)
	}
}

func TestConsumer_HandlerErrorCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedPopper{cancel: cancel, results: []popResult{
		{id: "bad", ok: true},
		{id: "good", ok: true},
	}}
	c := New(src, func(_ context.Context, id string) error {
		if id == "bad" {
			return errors.New("boom")
		}
		return nil
	}, time.Second, time.Minute)
	recordWaits(c)

	c.Run(ctx)

	if s := c.Stats(); s.Failed != 1 || s.Handled != 1 {
		t.Errorf("stats: got %+v", s)
	}
}

func TestConsumer_StopsOnCancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedPopper{cancel: cancel, results: []popResult{{}, {}, {}}}
	c := New(src, func(context.Context, string) error { return nil }, time.Hour, time.Hour)

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConsumer_SetPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedPopper{cancel: cancel, results: []popResult{{}}}
	c := New(src, func(context.Context, string) error { return nil }, time.Second, time.Minute)
	waits := recordWaits(c)
	c.SetPolling(50*time.Millisecond, time.Second)

	c.Run(ctx)

	if diff := cmp.Diff([]time.Duration{50 * time.Millisecond}, *waits); diff != "" {
		t.Errorf("waits (-want +got):\n%s", diff)
	}
}
