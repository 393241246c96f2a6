// Package state tracks per-stage terminal states of a document and persists every transition.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

var (
	// ErrNotFound is returned by Store.Read for an unknown document id.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidTransition is returned when a stage is moved out of a terminal state.
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// Store persists document records. Upsert always writes the full record; the last write wins.
type Store interface {
	Upsert(ctx context.Context, doc *models.Document) error
	Read(ctx context.Context, id string) (*models.Document, error)
}

// Machine owns one document record for the duration of a pipeline run. Transitions are one-way:
// not_started -> completed | skipped | failed. The record is upserted after every transition, so
// the store is the single source of truth for progress.
type Machine struct {
	store  Store
	doc    *models.Document
	logger *slog.Logger
	now    func() time.Time
}

// NewMachine wraps doc. The caller must not write doc to the store concurrently.
func NewMachine(store Store, doc *models.Document, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{store: store, doc: doc, logger: logger, now: time.Now}
}

// Document returns the record being tracked.
func (m *Machine) Document() *models.Document {
	return m.doc
}

// Status returns the current status of stage.
func (m *Machine) Status(stage models.Stage) models.StageStatus {
	if s := m.doc.State.Get(stage); s != nil {
		return s.Status
	}
	return ""
}

// Failed reports whether the document has already failed.
func (m *Machine) Failed() bool {
	return m.doc.State.Processing.Status == models.StatusFailed
}

// Persist upserts the current record.
func (m *Machine) Persist(ctx context.Context) error {
	m.doc.UpdatedAt = m.now()
	if err := m.store.Upsert(ctx, m.doc); err != nil {
		m.logger.Error("CRITICAL: Failed to persist document record.", "error", err)
		return fmt.Errorf("failed to persist document %s: %w", m.doc.ID, err)
	}
	return nil
}

// Complete marks stage completed with its elapsed time.
func (m *Machine) Complete(ctx context.Context, stage models.Stage, elapsed time.Duration) error {
	if err := m.transition(stage, models.StatusCompleted); err != nil {
		return err
	}
	m.doc.State.Get(stage).ElapsedSeconds = elapsed.Seconds()
	m.logger.Info("Stage completed.", "stage", stage, "elapsedSeconds", elapsed.Seconds())
	return m.Persist(ctx)
}

// Skip marks stage skipped because its processing option is disabled.
func (m *Machine) Skip(ctx context.Context, stage models.Stage) error {
	if err := m.transition(stage, models.StatusSkipped); err != nil {
		return err
	}
	m.doc.State.Get(stage).ElapsedSeconds = 0
	m.logger.Info("Stage skipped.", "stage", stage)
	return m.Persist(ctx)
}

// Fail marks stage failed, appends cause to the error list and fails the overall state. Stages that
// have not started stay not_started; the pipeline does not run them.
func (m *Machine) Fail(ctx context.Context, stage models.Stage, cause error) error {
	if stage != models.StageProcessing {
		if err := m.transition(stage, models.StatusFailed); err != nil {
			return err
		}
	}
	m.appendError(stage, cause)
	m.doc.State.Processing.Status = models.StatusFailed
	m.doc.State.ProcessingCompleted = false
	m.logger.Error("Stage failed.", "stage", stage, "kind", models.KindOf(cause), "error", cause)
	return m.Persist(ctx)
}

// RecordError appends a non-fatal error without changing any stage state.
func (m *Machine) RecordError(ctx context.Context, stage models.Stage, cause error) error {
	m.appendError(stage, cause)
	m.logger.Warn("Non-fatal processing error recorded.", "stage", stage, "kind", models.KindOf(cause), "error", cause)
	return m.Persist(ctx)
}

// Finish sets the overall processing state. It completes only when every enabled stage is
// completed or skipped; otherwise the document is failed.
func (m *Machine) Finish(ctx context.Context, elapsed time.Duration) error {
	m.doc.State.Processing.ElapsedSeconds = elapsed.Seconds()
	if m.Failed() {
		return m.Persist(ctx)
	}

	for _, stage := range models.PipelineStages {
		st := m.doc.State.Get(stage).Status
		if st == models.StatusCompleted || st == models.StatusSkipped {
			continue
		}
		cause := models.NewError(models.KindStage, stage, fmt.Sprintf("stage finished in state %q", st), nil)
		m.appendError(stage, cause)
		m.doc.State.Processing.Status = models.StatusFailed
		m.doc.State.ProcessingCompleted = false
		m.logger.Error("Document finished with an incomplete stage.", "stage", stage, "status", st)
		return m.Persist(ctx)
	}

	m.doc.State.Processing.Status = models.StatusCompleted
	m.doc.State.ProcessingCompleted = true
	m.logger.Info("Document processing completed.", "elapsedSeconds", elapsed.Seconds())
	return m.Persist(ctx)
}

func (m *Machine) transition(stage models.Stage, to models.StageStatus) error {
	if stage == models.StageProcessing {
		return fmt.Errorf("%w: overall state is set by Finish or Fail", ErrInvalidTransition)
	}
	st := m.doc.State.Get(stage)
	if st == nil {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, stage)
	}
	if st.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, stage, st.Status)
	}
	st.Status = to
	return nil
}

func (m *Machine) appendError(stage models.Stage, cause error) {
	if cause == nil {
		return
	}
	m.doc.Errors = append(m.doc.Errors, models.NewErrorEntry(cause, stage, m.now()))
}
