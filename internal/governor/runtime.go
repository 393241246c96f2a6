// Package governor bounds how many documents are processed at once.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	MinConcurrency     = 1
	MaxConcurrency     = 100
	DefaultConcurrency = 5
	DefaultPoolSize    = 10
)

// ErrOutOfRange is returned for a concurrency bound outside [MinConcurrency, MaxConcurrency].
var ErrOutOfRange = fmt.Errorf("concurrency must be between %d and %d", MinConcurrency, MaxConcurrency)

// ValidateLimit checks a requested concurrency bound.
func ValidateLimit(n int) error {
	if n < MinConcurrency || n > MaxConcurrency {
		return fmt.Errorf("%w: got %d", ErrOutOfRange, n)
	}
	return nil
}

// Permit is one unit of the concurrency budget. It is released to the semaphore it was acquired
// from, even if the bound has since been resized.
type Permit struct {
	sem  *semaphore.Weighted
	once sync.Once
}

// Release returns the permit. Extra calls are no-ops.
func (p *Permit) Release() {
	p.once.Do(func() { p.sem.Release(1) })
}

// Runtime holds the document semaphore and the worker pool. The semaphore lives in a single
// mutex-guarded slot; Resize replaces it rather than changing it in place.
type Runtime struct {
	mu    sync.Mutex
	sem   *semaphore.Weighted
	limit int

	pool     errgroup.Group
	poolSize int
}

// NewRuntime creates a runtime allowing maxConcurrent documents and poolSize workers.
func NewRuntime(maxConcurrent, poolSize int) (*Runtime, error) {
	if err := ValidateLimit(maxConcurrent); err != nil {
		return nil, err
	}
	if poolSize < 1 {
		poolSize = DefaultPoolSize
	}
	r := &Runtime{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		limit:    maxConcurrent,
		poolSize: poolSize,
	}
	r.pool.SetLimit(poolSize)
	return r, nil
}

// Limit returns the current concurrency bound.
func (r *Runtime) Limit() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limit
}

// PoolSize returns the worker pool size.
func (r *Runtime) PoolSize() int {
	return r.poolSize
}

// Resize installs a fresh semaphore of size n. Permits already held keep referring to the old
// semaphore; only later acquisitions see the new bound.
func (r *Runtime) Resize(n int) error {
	if err := ValidateLimit(n); err != nil {
		return err
	}
	r.mu.Lock()
	old := r.limit
	r.sem = semaphore.NewWeighted(int64(n))
	r.limit = n
	r.mu.Unlock()
	slog.Info("Concurrency bound updated.", "previous", old, "maxConcurrent", n)
	return nil
}

// Acquire blocks until a permit is available or ctx is done.
func (r *Runtime) Acquire(ctx context.Context) (*Permit, error) {
	r.mu.Lock()
	sem := r.sem
	r.mu.Unlock()
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire processing permit: %w", err)
	}
	return &Permit{sem: sem}, nil
}

// Submit runs fn on a pooled worker and waits for it to finish. fn always runs to completion once
// started; cancellation is up to fn through ctx.
func (r *Runtime) Submit(ctx context.Context, fn func(context.Context) error) error {
	var (
		done   = make(chan struct{})
		runErr error
	)
	r.pool.Go(func() error {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				runErr = fmt.Errorf("worker panic: %v", p)
			}
		}()
		runErr = fn(ctx)
		// errors are returned to the submitter, never latched in the group
		return nil
	})
	<-done
	return runErr
}

// Close waits for all workers to finish.
func (r *Runtime) Close() error {
	return r.pool.Wait()
}
