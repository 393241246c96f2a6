package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

func TestValidateLimit(t *testing.T) {
	for _, n := range []int{1, 5, 100} {
		assert.NoError(t, ValidateLimit(n))
	}
	for _, n := range []int{-1, 0, 101} {
		assert.ErrorIs(t, ValidateLimit(n), ErrOutOfRange)
	}
	_, err := NewRuntime(0, 10)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDispatcher_BoundsConcurrentDocuments(t *testing.T) {
	const permits, documents = 2, 8
	rt, err := NewRuntime(permits, 10)
	require.NoError(t, err)

	var active, maxActive int32
	d := NewDispatcher(rt, func(ctx context.Context, ev models.Event) error {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	})

	events := make(chan models.Event, documents)
	for i := 0; i < documents; i++ {
		events <- models.Event{FileReference: fmt.Sprintf("gs://b/ds/%d.pdf", i), Dataset: "ds"}
	}
	close(events)

	require.NoError(t, d.Run(context.Background(), events))

	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(permits))
	assert.Equal(t, int32(0), atomic.LoadInt32(&active))
}

func TestRuntime_ResizeDoesNotAffectHeldPermits(t *testing.T) {
	ctx := context.Background()
	rt, err := NewRuntime(1, 4)
	require.NoError(t, err)

	held, err := rt.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, rt.Resize(3))
	assert.Equal(t, 3, rt.Limit())

	var later []*Permit
	for i := 0; i < 3; i++ {
		p, err := rt.Acquire(ctx)
		require.NoError(t, err, "new bound applies to new acquisitions")
		later = append(later, p)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = rt.Acquire(short)
	assert.Error(t, err, "new semaphore is exhausted")

	// releasing the old permit goes back to the old semaphore
	held.Release()
	held.Release()
	short2, cancel2 := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel2()
	_, err = rt.Acquire(short2)
	assert.Error(t, err)

	later[0].Release()
	p, err := rt.Acquire(ctx)
	require.NoError(t, err)
	p.Release()
}

func TestRuntime_ResizeOutOfRange(t *testing.T) {
	rt, err := NewRuntime(DefaultConcurrency, DefaultPoolSize)
	require.NoError(t, err)
	assert.ErrorIs(t, rt.Resize(101), ErrOutOfRange)
	assert.Equal(t, DefaultConcurrency, rt.Limit())
}

func TestRuntime_SubmitReturnsErrorsAndPanics(t *testing.T) {
	rt, err := NewRuntime(1, 1)
	require.NoError(t, err)

	boom := errors.New("boom")
	assert.ErrorIs(t, rt.Submit(context.Background(), func(context.Context) error { return boom }), boom)
	assert.ErrorContains(t, rt.Submit(context.Background(), func(context.Context) error { panic("bad") }), "worker panic")
	assert.NoError(t, rt.Submit(context.Background(), func(context.Context) error { return nil }))
	assert.NoError(t, rt.Close())
}

func TestDispatcher_QueuesFollowUpForDuplicateInFlight(t *testing.T) {
	rt, err := NewRuntime(5, 5)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var (
		mu        sync.Mutex
		calls     []string
		active    int32
		maxActive int32
	)
	d := NewDispatcher(rt, func(ctx context.Context, ev models.Event) error {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		if n > atomic.LoadInt32(&maxActive) {
			atomic.StoreInt32(&maxActive, n)
		}
		mu.Lock()
		calls = append(calls, ev.Dataset)
		first := len(calls) == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return nil
	})
	const ref = "gs://b/ds/a.pdf"
	id := models.DocumentID(ref)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	dispatch := func(i int, dataset string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = d.Dispatch(context.Background(), models.Event{FileReference: ref, Dataset: dataset})
		}()
	}
	dispatch(0, "first")
	<-started
	dispatch(1, "second")
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.inFlight[id].next != nil
	}, time.Second, time.Millisecond)
	dispatch(2, "third")
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.inFlight[id].next.ev.Dataset == "third"
	}, time.Second, time.Millisecond)

	close(release)
	wg.Wait()
	d.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, []string{"first", "third"}, calls)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	d.mu.Lock()
	assert.Empty(t, d.inFlight)
	d.mu.Unlock()
}

func TestDispatcher_FollowUpRunsAfterWaiterGivesUp(t *testing.T) {
	rt, err := NewRuntime(5, 5)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	d := NewDispatcher(rt, func(ctx context.Context, ev models.Event) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return ctx.Err()
	})
	ev := models.Event{FileReference: "gs://b/ds/a.pdf", Dataset: "ds"}

	d.Go(context.Background(), ev)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Dispatch(ctx, ev), context.DeadlineExceeded)

	close(release)
	d.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDispatcher_AcquireHonoursContext(t *testing.T) {
	rt, err := NewRuntime(1, 1)
	require.NoError(t, err)
	held, err := rt.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	called := false
	d := NewDispatcher(rt, func(context.Context, models.Event) error {
		called = true
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = d.Dispatch(ctx, models.Event{FileReference: "gs://b/ds/a.pdf"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
