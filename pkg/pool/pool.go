// Package pool wraps panjf2000/ants with bounded, observable worker pools.
// Batch embedding regeneration and fire-and-forget learning proposals run on
// these pools so external-API fan-out stays under a global concurrency cap.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

var (
	// ErrPoolClosed is returned when submitting to a released pool.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolOverload is returned when a nonblocking pool is full.
	ErrPoolOverload = errors.New("worker pool is overloaded")
)

// Config defines the configuration for a worker pool.
type Config struct {
	// Capacity is the maximum number of concurrent workers.
	Capacity int
	// ExpiryDuration is the idle expiry time for workers.
	ExpiryDuration time.Duration
	// Nonblocking makes Submit return ErrPoolOverload instead of waiting
	// when the pool is full.
	Nonblocking bool
	// MaxBlockingTasks caps queued tasks when Nonblocking is false
	// (0 means unlimited).
	MaxBlockingTasks int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() *Config {
	return &Config{
		Capacity:         64,
		ExpiryDuration:   30 * time.Second,
		Nonblocking:      false,
		MaxBlockingTasks: 0,
	}
}

// BackgroundConfig returns the configuration used for fire-and-forget
// background tasks (learning proposals, stale-source flags).
func BackgroundConfig() *Config {
	return &Config{
		Capacity:         16,
		ExpiryDuration:   60 * time.Second,
		Nonblocking:      true,
		MaxBlockingTasks: 256,
	}
}

// Pool is a named worker pool with basic counters.
type Pool struct {
	name   string
	pool   *ants.Pool
	config *Config
	closed atomic.Bool
	mu     sync.Mutex

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Rejected  int64
}

// New creates a worker pool with the given configuration.
func New(name string, config *Config) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	opts := []ants.Option{
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithNonblocking(config.Nonblocking),
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Errorw("worker panic recovered", "pool", name, "panic", p)
		}),
	}

	p, err := ants.NewPool(config.Capacity, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	logger.Infow("worker pool created", "name", name, "capacity", config.Capacity)
	return &Pool{name: name, pool: p, config: config}, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Running returns the number of running workers.
func (p *Pool) Running() int { return p.pool.Running() }

// Free returns the number of available workers.
func (p *Pool) Free() int { return p.pool.Free() }

// Submit submits a task for execution.
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	err := p.pool.Submit(func() {
		p.submitted.Add(1)
		defer func() {
			if r := recover(); r != nil {
				p.failed.Add(1)
				panic(r) // let the ants panic handler log it
			}
			p.completed.Add(1)
		}()
		task()
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			p.rejected.Add(1)
			return ErrPoolOverload
		}
		p.failed.Add(1)
		return err
	}
	return nil
}

// SubmitWithContext submits a task that is skipped if the context is
// canceled before it starts.
func (p *Pool) SubmitWithContext(ctx context.Context, task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Submit(func() {
		if ctx.Err() != nil {
			return
		}
		task()
	})
}

// Release closes the pool and frees its workers.
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return
	}
	p.closed.Store(true)
	p.pool.Release()
	logger.Infow("worker pool released", "name", p.name)
}

// ReleaseTimeout closes the pool, waiting up to timeout for running tasks.
func (p *Pool) ReleaseTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return nil
	}
	p.closed.Store(true)
	return p.pool.ReleaseTimeout(timeout)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
