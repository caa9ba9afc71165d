package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ianterrell/dmc/internal/dmc"
	"github.com/ianterrell/dmc/internal/estimate"
	"github.com/ianterrell/dmc/internal/logging"
)

// Plan describes how long to drive an engine.
type Plan struct {
	// Iterations is the number of Iterate calls to make.
	Iterations int

	// Warmup is the number of leading iterations excluded from estimates.
	Warmup int

	// LogEvery logs progress every N iterations at info level (0 disables).
	// At trace level every iteration is logged.
	LogEvery int
}

// Step is what observers see after each successful iteration.
type Step struct {
	// Index is the zero-based iteration index within the run.
	Index int

	// Warm is true once Index has passed the warm-up.
	Warm bool

	// Snapshot is the engine state after the iteration. Observers must not
	// modify it.
	Snapshot dmc.Snapshot
}

// Observer receives every step of a run.
type Observer interface {
	Observe(step Step) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(step Step) error

// Observe calls f(step).
func (f ObserverFunc) Observe(step Step) error { return f(step) }

// EnergySummary reports the reference-energy statistics of a run.
type EnergySummary struct {
	Mean       float64 `json:"mean"`
	StdErr     float64 `json:"std_err"`
	Cumulative float64 `json:"cumulative"`
	Samples    int     `json:"samples"`
}

// Result summarizes a finished run.
type Result struct {
	Iterations int           `json:"iterations"`
	Collapsed  bool          `json:"collapsed"`
	Energy     EnergySummary `json:"energy"`
	Final      dmc.Snapshot  `json:"final"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Runner drives engines and notifies observers.
type Runner struct {
	logger    *slog.Logger
	trace     *logging.TraceLogger
	observers []Observer
}

// NewRunner creates a runner. A nil logger discards output; a nil trace
// logger disables tracing.
func NewRunner(logger *slog.Logger, trace *logging.TraceLogger, observers ...Observer) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{logger: logger, trace: trace, observers: observers}
}

// AddObserver registers another observer.
func (r *Runner) AddObserver(o Observer) {
	r.observers = append(r.observers, o)
}

// Run iterates e according to plan. It stops early, without error, if the
// population collapses. A canceled context stops the run between iterations
// and returns the partial result with the context's error.
func (r *Runner) Run(ctx context.Context, e *dmc.Engine, plan Plan) (Result, error) {
	start := time.Now()
	energy := estimate.NewEnergyEstimate(plan.Warmup)

	r.logger.Info("run starting",
		"walkers", e.TargetSize(),
		"dtau", e.TimeStep(),
		"iterations", plan.Iterations,
		"warmup", plan.Warmup,
		"ref_energy", e.RefEnergy())

	var res Result
	finish := func() Result {
		res.Energy = EnergySummary{
			Mean:       energy.Mean(),
			StdErr:     energy.StdErr(),
			Cumulative: energy.Cumulative(),
			Samples:    energy.Samples(),
		}
		res.Final = e.Snapshot()
		res.Elapsed = time.Since(start)
		return res
	}

	for i := 0; i < plan.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return finish(), fmt.Errorf("run stopped after %d iterations: %w", i, err)
		}

		if err := e.Iterate(); err != nil {
			if errors.Is(err, dmc.ErrPopulationCollapsed) {
				res.Collapsed = true
				r.logger.Warn("population collapsed", "iteration", i, "time", e.Time())
				break
			}
			return finish(), err
		}
		res.Iterations++
		energy.Observe(e.RefEnergy())

		step := Step{Index: i, Warm: i >= plan.Warmup, Snapshot: e.Snapshot()}
		for _, o := range r.observers {
			if err := o.Observe(step); err != nil {
				return finish(), fmt.Errorf("observer failed at iteration %d: %w", i, err)
			}
		}

		r.trace.LogIteration(i, step.Snapshot)
		r.logger.Log(ctx, logging.LevelTrace, "iteration",
			"i", i, "walkers", step.Snapshot.Size, "ref_energy", step.Snapshot.RefEnergy)
		if plan.LogEvery > 0 && (i+1)%plan.LogEvery == 0 {
			r.logger.Info("progress",
				"iteration", i+1,
				"tau", step.Snapshot.Time,
				"walkers", step.Snapshot.Size,
				"ref_energy", step.Snapshot.RefEnergy,
				"e0_estimate", energy.Mean())
		}
	}

	out := finish()
	r.logger.Info("run finished",
		"iterations", out.Iterations,
		"collapsed", out.Collapsed,
		"e0", out.Energy.Mean,
		"std_err", out.Energy.StdErr,
		"elapsed", out.Elapsed)
	return out, nil
}
