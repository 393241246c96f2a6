// Package stages runs the individual pipeline stages for a chunk or a document.
package stages

import (
	"time"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

// Result is the outcome of one stage call. Exactly one of the three shapes is produced:
// completed (Value, Elapsed), skipped, or failed (Err).
type Result struct {
	Status  models.StageStatus
	Value   interface{}
	Elapsed time.Duration
	Err     error
	// Warning is a non-fatal error that the caller records while still accepting Value.
	Warning error
	Usage   models.Usage
}

// Completed builds a successful result.
func Completed(v interface{}, elapsed time.Duration) Result {
	return Result{Status: models.StatusCompleted, Value: v, Elapsed: elapsed}
}

// Skipped builds the result of a stage disabled by its processing option.
func Skipped() Result {
	return Result{Status: models.StatusSkipped}
}

// Failed builds a failed result.
func Failed(err error) Result {
	return Result{Status: models.StatusFailed, Err: err}
}

func (r Result) IsCompleted() bool { return r.Status == models.StatusCompleted }
func (r Result) IsSkipped() bool   { return r.Status == models.StatusSkipped }
func (r Result) IsFailed() bool    { return r.Status == models.StatusFailed }

// Text returns Value as a string, or "" when it is not one.
func (r Result) Text() string {
	s, _ := r.Value.(string)
	return s
}

func (r Result) withUsage(u models.Usage) Result {
	r.Usage = u
	return r
}

func (r Result) withWarning(err error) Result {
	r.Warning = err
	return r
}
