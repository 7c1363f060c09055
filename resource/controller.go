// Package resource manages the background-work concurrency and IO
// throughput budgets shared by a collection's checkpoint path: how many
// field-index snapshots may flush at once, and how fast those snapshot
// blobs may be written.
package resource

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits. A zero Config serializes background work
// to one worker and leaves IO throughput unlimited.
type Config struct {
	// MaxBackgroundWorkers caps concurrent checkpoint/compaction fan-out.
	// If 0, defaults to 1 (serialized).
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec caps checkpoint blob write throughput. If 0,
	// unlimited.
	IOLimitBytesPerSec int64
}

// Controller gates background concurrency and IO throughput. A nil
// *Controller behaves as fully unlimited, so it is always safe to pass
// through unconfigured.
type Controller struct {
	bgSem     *semaphore.Weighted
	ioLimiter *rate.Limiter
}

// NewController creates a Controller from cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}
	c := &Controller{bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers)}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// AcquireBackground reserves one background worker slot, blocking until
// one is free or ctx is canceled.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// ReleaseBackground releases a background worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// AcquireIO waits until the IO budget allows writing n bytes.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	return c.ioLimiter.WaitN(ctx, n)
}
