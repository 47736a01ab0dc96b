package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jonathan/seo-workflows/internal/logging"
	"github.com/jonathan/seo-workflows/internal/types"
)

// ProgressSink receives every step transition of a job. Reports for one job
// arrive strictly ordered; repeating a report must be harmless.
type ProgressSink interface {
	Report(ctx context.Context, jobID uuid.UUID, update types.StepUpdate) error
}

// LedgerSink writes progress into the job ledger
type LedgerSink struct {
	ledger Ledger
}

// NewLedgerSink creates a sink backed by ledger
func NewLedgerSink(ledger Ledger) *LedgerSink {
	return &LedgerSink{ledger: ledger}
}

// Report implements ProgressSink
func (s *LedgerSink) Report(ctx context.Context, jobID uuid.UUID, update types.StepUpdate) error {
	return s.ledger.UpdateStep(ctx, jobID, update)
}

// ProgressEvent is the observer view of one step transition
type ProgressEvent struct {
	JobID       uuid.UUID `json:"job_id"`
	Step        string    `json:"step"`
	Status      string    `json:"status"`
	CurrentStep int       `json:"current_step"`
	Progress    int       `json:"progress_percent"`
}

// ProgressCallback is called after a transition has been durably reported
type ProgressCallback func(event ProgressEvent)

// LogProgress returns a callback that logs transitions at debug level
func LogProgress(logger *slog.Logger) ProgressCallback {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func(ev ProgressEvent) {
		logger.Debug("step transition",
			slog.String(logging.FieldJobID, ev.JobID.String()),
			slog.String(logging.FieldStep, ev.Step),
			slog.String("status", ev.Status),
			slog.Int("current_step", ev.CurrentStep),
			slog.Int("progress_percent", ev.Progress),
		)
	}
}
