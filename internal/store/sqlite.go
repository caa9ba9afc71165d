package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ianterrell/dmc/internal/dmc"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteRunStore implements RunStore on a SQLite database.
type SQLiteRunStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteRunStore opens (creating if needed) the database at dbPath and
// brings its schema up to date.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRunStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteRunStore) Path() string { return s.dbPath }

// CreateRun inserts a new run.
func (s *SQLiteRunStore) CreateRun(ctx context.Context, run RunRecord) error {
	if err := validateRun(run); err != nil {
		return err
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, run.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check run %s: %w", run.ID, err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}

	p := run.Params
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, label, created_at, potential,
			walkers, dtau, alpha, ref_energy, hold_ref_energy, seed,
			init_mode, init_a, init_b,
			planned_iterations, warmup, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Label, run.CreatedAt.UnixNano(), run.Potential,
		p.Walkers, p.TimeStep, p.Alpha, p.RefEnergy, boolToInt(p.HoldRefEnergy), p.Seed,
		p.Init.String(), p.InitA, p.InitB,
		run.Iterations, run.Warmup, run.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// AppendIterations inserts history rows in a single transaction.
func (s *SQLiteRunStore) AppendIterations(ctx context.Context, runID string, rows []IterationRecord) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := requireRunTx(ctx, tx, runID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO iterations (run_id, idx, tau, walkers, ref_energy, births, deaths)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, runID, r.Index, r.Time, r.Size, nullFloat(r.RefEnergy), r.Births, r.Deaths); err != nil {
			return fmt.Errorf("failed to insert iteration %d of %s: %w", r.Index, runID, err)
		}
	}

	return tx.Commit()
}

// FinishRun records a run's outcome.
func (s *SQLiteRunStore) FinishRun(ctx context.Context, runID string, summary RunSummary) error {
	if summary.Status == "" {
		summary.Status = StatusFinished
	}
	if summary.FinishedAt.IsZero() {
		summary.FinishedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?, finished_at = ?, iterations = ?, collapsed = ?,
			e0 = ?, std_err = ?, final_size = ?, final_time = ?
		WHERE id = ?`,
		summary.Status, summary.FinishedAt.UnixNano(), summary.Iterations, boolToInt(summary.Collapsed),
		nullFloat(summary.E0), nullFloat(summary.StdErr), summary.FinalSize, summary.FinalTime,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `
	id, label, created_at, potential,
	walkers, dtau, alpha, ref_energy, hold_ref_energy, seed,
	init_mode, init_a, init_b,
	planned_iterations, warmup, status,
	finished_at, iterations, collapsed, e0, std_err, final_size, final_time`

// GetRun returns a run by ID.
func (s *SQLiteRunStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Iterations returns a run's history ordered by index.
func (s *SQLiteRunStore) Iterations(ctx context.Context, runID string) ([]IterationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check run %s: %w", runID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, tau, walkers, ref_energy, births, deaths
		FROM iterations WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	var out []IterationRecord
	for rows.Next() {
		var r IterationRecord
		var refEnergy sql.NullFloat64
		if err := rows.Scan(&r.Index, &r.Time, &r.Size, &refEnergy, &r.Births, &r.Deaths); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		r.RefEnergy = floatOrNaN(refEnergy)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes a run. Its iterations are removed by cascade.
func (s *SQLiteRunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteRunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		run       RunRecord
		createdAt int64
		hold      int
		initMode  string

		finishedAt sql.NullInt64
		iterations sql.NullInt64
		collapsed  sql.NullInt64
		e0         sql.NullFloat64
		stdErr     sql.NullFloat64
		finalSize  sql.NullInt64
		finalTime  sql.NullFloat64
	)
	p := &run.Params
	err := row.Scan(
		&run.ID, &run.Label, &createdAt, &run.Potential,
		&p.Walkers, &p.TimeStep, &p.Alpha, &p.RefEnergy, &hold, &p.Seed,
		&initMode, &p.InitA, &p.InitB,
		&run.Iterations, &run.Warmup, &run.Status,
		&finishedAt, &iterations, &collapsed, &e0, &stdErr, &finalSize, &finalTime,
	)
	if err != nil {
		return nil, err
	}

	run.CreatedAt = time.Unix(0, createdAt)
	p.HoldRefEnergy = hold != 0
	mode, err := dmc.ParseInitMode(initMode)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", run.ID, err)
	}
	p.Init = mode

	if finishedAt.Valid {
		run.Summary = &RunSummary{
			Status:     run.Status,
			FinishedAt: time.Unix(0, finishedAt.Int64),
			Iterations: int(iterations.Int64),
			Collapsed:  collapsed.Int64 != 0,
			E0:         floatOrNaN(e0),
			StdErr:     floatOrNaN(stdErr),
			FinalSize:  int(finalSize.Int64),
			FinalTime:  finalTime.Float64,
		}
	}
	return &run, nil
}

func requireRunTx(ctx context.Context, tx *sql.Tx, runID string) error {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check run %s: %w", runID, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SQLite has no NaN; it is stored as NULL and read back as NaN.
func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
