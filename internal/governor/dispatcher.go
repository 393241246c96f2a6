package governor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

// Handler runs the whole pipeline for one event.
type Handler func(ctx context.Context, ev models.Event) error

// flight is one pipeline run for a document id. next is the single follow-up queued by uploads
// that arrived while the run was active; later uploads join it instead of queueing more.
type flight struct {
	ctx  context.Context
	ev   models.Event
	next *flight
	done chan struct{}
	err  error
}

func newFlight(ctx context.Context, ev models.Event) *flight {
	return &flight{ctx: ctx, ev: ev, done: make(chan struct{})}
}

// Dispatcher turns inbound events into pipeline runs: one goroutine per event, a permit per
// document, the run itself on a pooled worker. At most one run per document id is active; a
// re-upload during a run is processed once that run finishes.
type Dispatcher struct {
	rt     *Runtime
	handle Handler

	mu       sync.Mutex
	inFlight map[string]*flight
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher over rt.
func NewDispatcher(rt *Runtime, handle Handler) *Dispatcher {
	return &Dispatcher{rt: rt, handle: handle, inFlight: make(map[string]*flight)}
}

// Runtime returns the runtime the dispatcher schedules on.
func (d *Dispatcher) Runtime() *Runtime {
	return d.rt
}

// Dispatch processes ev and returns when its pipeline has finished. If the document is already
// being processed, ev is queued as a follow-up run and Dispatch returns when that run finishes or
// ctx is done; the follow-up still runs after ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) error {
	id := models.DocumentID(ev.FileReference)
	logCtx := slog.With("documentId", id, "dataset", ev.Dataset)

	d.mu.Lock()
	cur, busy := d.inFlight[id]
	if !busy {
		f := newFlight(ctx, ev)
		d.inFlight[id] = f
		d.mu.Unlock()
		return d.runFlight(id, f)
	}
	f := cur.next
	if f == nil {
		f = newFlight(context.WithoutCancel(ctx), ev)
		cur.next = f
		logCtx.Info("Document already in flight, follow-up run queued.")
	} else {
		// the queued run has not started; process the latest upload
		f.ev = ev
		logCtx.Info("Document already in flight, joined queued follow-up run.")
	}
	d.mu.Unlock()

	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runFlight runs f and hands the id over to its follow-up, if any.
func (d *Dispatcher) runFlight(id string, f *flight) error {
	f.err = d.run(f.ctx, f.ev)

	d.mu.Lock()
	next := f.next
	if next != nil {
		d.inFlight[id] = next
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.runFlight(id, next); err != nil {
				slog.Error("Follow-up document run returned an error.", "documentId", id, "error", err)
			}
		}()
	} else {
		delete(d.inFlight, id)
	}
	d.mu.Unlock()

	close(f.done)
	return f.err
}

func (d *Dispatcher) run(ctx context.Context, ev models.Event) error {
	permit, err := d.rt.Acquire(ctx)
	if err != nil {
		slog.Error("Could not acquire permit.", "fileReference", ev.FileReference, "error", err)
		return err
	}
	defer permit.Release()

	return d.rt.Submit(ctx, func(ctx context.Context) error {
		return d.handle(ctx, ev)
	})
}

// Go dispatches ev on its own goroutine.
func (d *Dispatcher) Go(ctx context.Context, ev models.Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.Dispatch(ctx, ev); err != nil {
			slog.Error("Document processing returned an error.", "fileReference", ev.FileReference, "error", err)
		}
	}()
}

// Run dispatches every event received until events is closed or ctx is done, then waits for the
// runs it started.
func (d *Dispatcher) Run(ctx context.Context, events <-chan models.Event) error {
	defer d.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Go(ctx, ev)
		}
	}
}

// Wait blocks until every run started with Go, and every follow-up run, has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
