package store

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// RetentionPolicy decides which runs to keep. Runs are passed newest first.
type RetentionPolicy interface {
	Apply(runs []RunRecord) (keep []RunRecord)
}

// CountPolicy keeps the N most recent runs.
type CountPolicy struct {
	MaxCount int
}

// Apply keeps the first MaxCount runs. MaxCount <= 0 keeps none.
func (p *CountPolicy) Apply(runs []RunRecord) []RunRecord {
	if p.MaxCount <= 0 {
		return nil
	}
	if len(runs) <= p.MaxCount {
		return runs
	}
	return runs[:p.MaxCount]
}

// AgePolicy keeps runs created within MaxAge of Now.
type AgePolicy struct {
	MaxAge time.Duration
	Now    func() time.Time
}

// Apply keeps runs whose CreatedAt is after the cutoff.
func (p *AgePolicy) Apply(runs []RunRecord) []RunRecord {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	cutoff := now().Add(-p.MaxAge)
	var keep []RunRecord
	for _, r := range runs {
		if r.CreatedAt.After(cutoff) {
			keep = append(keep, r)
		}
	}
	return keep
}

// CompositePolicy keeps a run if any sub-policy keeps it.
type CompositePolicy struct {
	Policies []RetentionPolicy
}

// Apply returns the union of runs kept by the sub-policies, in input order.
func (p *CompositePolicy) Apply(runs []RunRecord) []RunRecord {
	kept := make(map[string]bool)
	for _, policy := range p.Policies {
		for _, r := range policy.Apply(runs) {
			kept[r.ID] = true
		}
	}

	var result []RunRecord
	for _, r := range runs {
		if kept[r.ID] {
			result = append(result, r)
		}
	}
	return result
}

// PruneRuns deletes every run the policy does not keep. Runs still marked
// running are never deleted. If dryRun is set nothing is removed.
func PruneRuns(ctx context.Context, s RunStore, policy RetentionPolicy, dryRun bool) (deleted []string, err error) {
	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}

	keepSet := make(map[string]bool)
	for _, r := range policy.Apply(runs) {
		keepSet[r.ID] = true
	}

	for _, r := range runs {
		if keepSet[r.ID] || r.Status == StatusRunning {
			continue
		}
		if !dryRun {
			if err := s.DeleteRun(ctx, r.ID); err != nil {
				return deleted, fmt.Errorf("removing %s: %w", r.ID, err)
			}
		}
		deleted = append(deleted, r.ID)
	}

	return deleted, nil
}

// ParseDuration parses durations like "30d", "2w" or anything
// time.ParseDuration accepts.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(num) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration suffix %q in %q", string(suffix), s)
	}
}
