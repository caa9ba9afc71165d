package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryRunStore implements RunStore for testing and throwaway runs.
type InMemoryRunStore struct {
	mu         sync.RWMutex
	runs       map[string]RunRecord
	iterations map[string][]IterationRecord
}

// NewInMemoryRunStore creates an empty in-memory store.
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{
		runs:       make(map[string]RunRecord),
		iterations: make(map[string][]IterationRecord),
	}
}

// CreateRun inserts a new run.
func (s *InMemoryRunStore) CreateRun(ctx context.Context, run RunRecord) error {
	if err := validateRun(run); err != nil {
		return err
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.Summary = nil

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// AppendIterations adds history rows. Either all rows are added or none.
func (s *InMemoryRunStore) AppendIterations(ctx context.Context, runID string, rows []IterationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	seen := make(map[int]bool, len(s.iterations[runID])+len(rows))
	for _, r := range s.iterations[runID] {
		seen[r.Index] = true
	}
	for _, r := range rows {
		if seen[r.Index] {
			return fmt.Errorf("iteration %d of %s already recorded", r.Index, runID)
		}
		seen[r.Index] = true
	}

	s.iterations[runID] = append(s.iterations[runID], rows...)
	return nil
}

// FinishRun records a run's outcome.
func (s *InMemoryRunStore) FinishRun(ctx context.Context, runID string, summary RunSummary) error {
	if summary.Status == "" {
		summary.Status = StatusFinished
	}
	if summary.FinishedAt.IsZero() {
		summary.FinishedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run.Status = summary.Status
	run.Summary = &summary
	s.runs[runID] = run
	return nil
}

// GetRun returns a copy of a run.
func (s *InMemoryRunStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	out := copyRun(run)
	return &out, nil
}

// ListRuns returns runs newest first.
func (s *InMemoryRunStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]RunRecord, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, copyRun(r))
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID > runs[j].ID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Iterations returns a run's history ordered by index.
func (s *InMemoryRunStore) Iterations(ctx context.Context, runID string) ([]IterationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	out := make([]IterationRecord, len(s.iterations[runID]))
	copy(out, s.iterations[runID])
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// DeleteRun removes a run and its history.
func (s *InMemoryRunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	delete(s.runs, runID)
	delete(s.iterations, runID)
	return nil
}

// Close is a no-op.
func (s *InMemoryRunStore) Close() error {
	return nil
}

func copyRun(r RunRecord) RunRecord {
	if r.Summary != nil {
		sum := *r.Summary
		r.Summary = &sum
	}
	return r
}
