package store

import (
	"context"
	"errors"
	"time"

	"github.com/ianterrell/dmc/internal/simulation"
)

// DefaultBatchSize is the number of iterations buffered before a flush.
const DefaultBatchSize = 256

// Recorder is a simulation.Observer that writes each step to a RunStore.
// Rows are buffered and flushed in batches; call Flush when the run ends.
type Recorder struct {
	ctx       context.Context
	store     RunStore
	runID     string
	batchSize int
	pending   []IterationRecord
	written   int
}

// NewRecorder creates a recorder for an existing run.
func NewRecorder(ctx context.Context, s RunStore, runID string, batchSize int) *Recorder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Recorder{
		ctx:       ctx,
		store:     s,
		runID:     runID,
		batchSize: batchSize,
		pending:   make([]IterationRecord, 0, batchSize),
	}
}

// Observe buffers a step, flushing when the batch is full.
func (r *Recorder) Observe(step simulation.Step) error {
	s := step.Snapshot
	r.pending = append(r.pending, IterationRecord{
		Index:     step.Index,
		Time:      s.Time,
		Size:      s.Size,
		RefEnergy: s.RefEnergy,
		Births:    s.LastBranch.Births,
		Deaths:    s.LastBranch.Deaths,
	})
	if len(r.pending) >= r.batchSize {
		return r.Flush()
	}
	return nil
}

// Flush writes any buffered rows.
func (r *Recorder) Flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.store.AppendIterations(r.ctx, r.runID, r.pending); err != nil {
		return err
	}
	r.written += len(r.pending)
	r.pending = r.pending[:0]
	return nil
}

// Written returns the number of rows flushed so far.
func (r *Recorder) Written() int { return r.written }

// SummaryFromResult converts a runner result into a stored summary. A
// non-nil runErr marks the run canceled or failed.
func SummaryFromResult(res simulation.Result, runErr error) RunSummary {
	status := StatusFinished
	switch {
	case isContextErr(runErr):
		status = StatusCanceled
	case runErr != nil:
		status = StatusFailed
	case res.Collapsed:
		status = StatusCollapsed
	}
	return RunSummary{
		Status:     status,
		FinishedAt: time.Now(),
		Iterations: res.Iterations,
		Collapsed:  res.Collapsed,
		E0:         res.Energy.Mean,
		StdErr:     res.Energy.StdErr,
		FinalSize:  res.Final.Size,
		FinalTime:  res.Final.Time,
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
