// Package store persists simulation runs and their per-iteration history.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ianterrell/dmc/internal/dmc"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusFinished  = "finished"
	StatusCollapsed = "collapsed"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

var (
	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned when creating a run whose ID is taken.
	ErrRunExists = errors.New("run already exists")
)

// RunRecord describes one simulation run.
type RunRecord struct {
	ID        string     `json:"id" yaml:"id"`
	Label     string     `json:"label,omitempty" yaml:"label,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	Potential string     `json:"potential" yaml:"potential"`
	Params    dmc.Params `json:"params" yaml:"params"`

	// Planned iterations and warm-up.
	Iterations int `json:"iterations" yaml:"iterations"`
	Warmup     int `json:"warmup" yaml:"warmup"`

	Status  string      `json:"status" yaml:"status"`
	Summary *RunSummary `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// RunSummary is written when a run ends.
type RunSummary struct {
	Status     string    `json:"status" yaml:"status"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Iterations int       `json:"iterations" yaml:"iterations"`
	Collapsed  bool      `json:"collapsed" yaml:"collapsed"`
	E0         float64   `json:"e0" yaml:"e0"`
	StdErr     float64   `json:"std_err" yaml:"std_err"`
	FinalSize  int       `json:"final_size" yaml:"final_size"`
	FinalTime  float64   `json:"final_time" yaml:"final_time"`
}

// IterationRecord is one row of a run's history.
type IterationRecord struct {
	Index     int     `json:"index"`
	Time      float64 `json:"tau"`
	Size      int     `json:"walkers"`
	RefEnergy float64 `json:"ref_energy"`
	Births    int     `json:"births"`
	Deaths    int     `json:"deaths"`
}

// RunStore persists runs.
type RunStore interface {
	// CreateRun inserts a new run. Status defaults to StatusRunning.
	CreateRun(ctx context.Context, run RunRecord) error

	// AppendIterations adds history rows to a run atomically.
	AppendIterations(ctx context.Context, runID string, rows []IterationRecord) error

	// FinishRun records the summary and final status of a run.
	FinishRun(ctx context.Context, runID string, summary RunSummary) error

	// GetRun returns a run by ID, or ErrRunNotFound.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// ListRuns returns runs, newest first. limit <= 0 returns all.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// Iterations returns a run's history ordered by index.
	Iterations(ctx context.Context, runID string) ([]IterationRecord, error)

	// DeleteRun removes a run and its history.
	DeleteRun(ctx context.Context, runID string) error

	// Close releases any resources held by the store.
	Close() error
}

// NewRunID returns a time-based run identifier.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("run-%d", now.UnixNano())
}

func validateRun(run RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if run.Potential == "" {
		return fmt.Errorf("run %s: potential is required", run.ID)
	}
	return nil
}
