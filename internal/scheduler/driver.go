// Package scheduler runs the lifecycle sweep on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"example.com/bulletin/internal/domain"
)

// Sweeper is the lifecycle operation the driver invokes.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (domain.SweepResult, error)
}

// Driver invokes a Sweeper every interval until its context is cancelled.
type Driver struct {
	sweeper          Sweeper
	interval         time.Duration
	now              func() time.Time
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger overrides the driver logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithClock overrides the time passed to each sweep.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// NewDriver constructs a Driver. A non-positive interval defaults to one minute.
func NewDriver(sweeper Sweeper, interval time.Duration, opts ...Option) *Driver {
	if interval <= 0 {
		interval = time.Minute
	}
	d := &Driver{
		sweeper:          sweeper,
		interval:         interval,
		now:              time.Now,
		logger:           log.New(log.Writer(), "[sweeper] ", log.LstdFlags|log.Lshortfile),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start sweeps immediately and then on every tick. It should be called in a goroutine.
func (d *Driver) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("sweep error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Driver) Wait() {
	<-d.shutdownComplete
}

// RunOnce performs a single sweep and logs what it changed.
func (d *Driver) RunOnce(ctx context.Context) (domain.SweepResult, error) {
	result, err := d.sweeper.Sweep(ctx, d.now())
	if result.Published+result.Deleted+result.Archived+result.Failed > 0 {
		d.logger.Printf("sweep published=%d deleted=%d archived=%d failed=%d",
			result.Published, result.Deleted, result.Archived, result.Failed)
	}
	return result, err
}
