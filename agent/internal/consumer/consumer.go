package consumer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Popper is the part of the broker client the consumer needs.
type Popper interface {
	Pop(ctx context.Context) (id string, ok bool, err error)
}

// Handler processes one popped message id. A returned error is logged; the
// message is not requeued since the broker has already removed it.
type Handler func(ctx context.Context, id string) error

// Stats counts what a Consumer has done so far.
type Stats struct {
	Handled   uint64
	Failed    uint64
	EmptyPops uint64
	PopErrors uint64
}

// Consumer pops messages from the broker and hands them to a Handler.
type Consumer struct {
	src     Popper
	handle  Handler
	after   func(time.Duration) <-chan time.Time // injectable for tests
	limitMu sync.Mutex
	bo      *backoff

	handled   atomic.Uint64
	failed    atomic.Uint64
	emptyPops atomic.Uint64
	popErrors atomic.Uint64
}

// New creates a Consumer. pollInterval is the first wait after an empty pop;
// waits double up to maxBackoff.
func New(src Popper, handle Handler, pollInterval, maxBackoff time.Duration) *Consumer {
	return &Consumer{
		src:    src,
		handle: handle,
		after:  time.After,
		bo:     newBackoff(pollInterval, maxBackoff),
	}
}

// SetPolling replaces the wait bounds. Safe to call while Run is active.
func (c *Consumer) SetPolling(pollInterval, maxBackoff time.Duration) {
	c.limitMu.Lock()
	c.bo.setLimits(pollInterval, maxBackoff)
	c.limitMu.Unlock()
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Handled:   c.handled.Load(),
		Failed:    c.failed.Load(),
		EmptyPops: c.emptyPops.Load(),
		PopErrors: c.popErrors.Load(),
	}
}

// Run pops and handles messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		id, ok, err := c.src.Pop(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			c.popErrors.Add(1)
			wait := c.nextWait()
			slog.Warn("consumer: pop failed, will retry", "err", err, "retry_in", wait)
			if !c.sleep(ctx, wait) {
				return
			}

		case !ok:
			c.emptyPops.Add(1)
			wait := c.nextWait()
			slog.Debug("consumer: queue empty", "retry_in", wait)
			if !c.sleep(ctx, wait) {
				return
			}

		default:
			c.resetWait()
			if err := c.handle(ctx, id); err != nil {
				c.failed.Add(1)
				slog.Error("consumer: handler failed", "id", id, "err", err)
				continue
			}
			c.handled.Add(1)
		}
	}
}

func (c *Consumer) nextWait() time.Duration {
	c.limitMu.Lock()
	defer c.limitMu.Unlock()
	return c.bo.next()
}

func (c *Consumer) resetWait() {
	c.limitMu.Lock()
	c.bo.reset()
	c.limitMu.Unlock()
}

// sleep waits for d or ctx cancellation and reports whether Run should go on.
func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.after(d):
		return true
	}
}
