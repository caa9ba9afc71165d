package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/ianterrell/dmc/internal/config"
	"github.com/ianterrell/dmc/internal/dmc"
	"github.com/ianterrell/dmc/internal/export"
	"github.com/ianterrell/dmc/internal/logging"
	"github.com/ianterrell/dmc/internal/potential"
	"github.com/ianterrell/dmc/internal/simulation"
	"github.com/ianterrell/dmc/internal/store"
	"github.com/spf13/cobra"
)

// runSummary is what `dmc run` prints.
type runSummary struct {
	RunID      string  `json:"run_id,omitempty"`
	Potential  string  `json:"potential"`
	Walkers    int     `json:"target_walkers"`
	TimeStep   float64 `json:"dtau"`
	Seed       int64   `json:"seed"`
	Iterations int     `json:"iterations"`
	Warmup     int     `json:"warmup"`
	Collapsed  bool    `json:"collapsed"`

	E0         float64  `json:"e0"`
	StdErr     float64  `json:"std_err"`
	Samples    int      `json:"samples"`
	Cumulative float64  `json:"cumulative_mean"`
	Exact      *float64 `json:"exact,omitempty"`

	FinalSize      int      `json:"final_walkers"`
	FinalTime      float64  `json:"tau"`
	FinalRefEnergy float64  `json:"final_ref_energy"`
	Phi0Deviation  *float64 `json:"phi0_max_deviation,omitempty"`

	Export  string `json:"export,omitempty"`
	Phi0Out string `json:"phi0_out,omitempty"`
	Elapsed string `json:"elapsed"`
}

func newRunCmd() *cobra.Command {
	defaults := config.Default()
	sim := defaults.Simulation

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and report the ground-state energy estimate",
		Long: `Run a diffusion Monte Carlo simulation.

Settings come from the config file and DMC_* environment variables; any flag
given on the command line overrides both.

Examples:
  dmc run                                   # harmonic oscillator, defaults
  dmc run --walkers 2000 --dtau 0.05        # larger population, finer step
  dmc run --init uniform --init-a -3 --init-b 3
  dmc run --record --export walkers.arrow   # store the run, export walkers`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			label, _ := cmd.Flags().GetString("label")
			return runSimulation(cmd, cfg, label)
		},
	}

	f := cmd.Flags()
	f.Int("walkers", sim.Walkers, "Target walker population")
	f.Float64("dtau", sim.TimeStep, "Imaginary time step")
	f.Float64("alpha", sim.Alpha, "Feedback coefficient (negative = 1/dtau)")
	f.Float64("ref-energy", sim.RefEnergy, "Initial reference energy (negative = mean initial potential)")
	f.Bool("hold-ref-energy", false, "Keep the reference energy fixed")
	f.Int64("seed", sim.Seed, "Random seed")
	f.String("init", sim.Init.Mode, "Initial distribution: delta, uniform, gaussian")
	f.Float64("init-a", 0, "First init parameter (x0, a, or mu)")
	f.Float64("init-b", 0, "Second init parameter (b or sigma)")
	f.String("potential", sim.Potential, "Potential name (see 'dmc potentials')")
	f.Int("iterations", defaults.Run.Iterations, "Number of iterations")
	f.Int("warmup", defaults.Run.Warmup, "Iterations excluded from estimates")
	f.Int("log-every", defaults.Run.LogEvery, "Log progress every N iterations (0 disables)")
	f.Duration("timeout", 0, "Stop the run after this long (0 = no limit)")
	f.Int("bins", defaults.Histogram.Bins, "Histogram bins")
	f.Float64("x-min", defaults.Histogram.XMin, "Histogram lower bound")
	f.Float64("x-max", defaults.Histogram.XMax, "Histogram upper bound")
	f.String("output-dir", defaults.Output.Dir, "Directory for the run database and trace")
	f.Bool("record", false, "Record the run in the run database")
	f.String("label", "", "Label stored with a recorded run")
	f.String("export", "", "Write the final walkers to this Arrow file")
	f.String("phi0-out", "", "Write the phi0 estimate to this Arrow file")

	return cmd
}

// applyRunFlags copies explicitly set flags over cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.DMCConfig) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Changed(name) {
			err = apply()
		}
	}

	s := &cfg.Simulation
	set("walkers", func() (e error) { s.Walkers, e = f.GetInt("walkers"); return })
	set("dtau", func() (e error) { s.TimeStep, e = f.GetFloat64("dtau"); return })
	set("alpha", func() (e error) { s.Alpha, e = f.GetFloat64("alpha"); return })
	set("ref-energy", func() (e error) { s.RefEnergy, e = f.GetFloat64("ref-energy"); return })
	set("hold-ref-energy", func() (e error) { s.HoldRefEnergy, e = f.GetBool("hold-ref-energy"); return })
	set("seed", func() (e error) { s.Seed, e = f.GetInt64("seed"); return })
	set("potential", func() (e error) { s.Potential, e = f.GetString("potential"); return })
	set("init", func() (e error) {
		mode, e := f.GetString("init")
		if e == nil && mode != s.Init.Mode {
			// Parameters from the config belong to the old mode.
			s.Init = config.InitConfig{Mode: mode}
		}
		return e
	})
	set("init-a", func() error {
		v, e := f.GetFloat64("init-a")
		s.Init.A = &v
		return e
	})
	set("init-b", func() error {
		v, e := f.GetFloat64("init-b")
		s.Init.B = &v
		return e
	})

	r := &cfg.Run
	set("iterations", func() (e error) { r.Iterations, e = f.GetInt("iterations"); return })
	set("warmup", func() (e error) { r.Warmup, e = f.GetInt("warmup"); return })
	set("log-every", func() (e error) { r.LogEvery, e = f.GetInt("log-every"); return })
	set("timeout", func() (e error) { r.Timeout, e = f.GetDuration("timeout"); return })

	h := &cfg.Histogram
	set("bins", func() (e error) { h.Bins, e = f.GetInt("bins"); return })
	set("x-min", func() (e error) { h.XMin, e = f.GetFloat64("x-min"); return })
	set("x-max", func() (e error) { h.XMax, e = f.GetFloat64("x-max"); return })

	o := &cfg.Output
	set("output-dir", func() (e error) { o.Dir, e = f.GetString("output-dir"); return })
	set("record", func() (e error) { o.Record, e = f.GetBool("record"); return })
	set("export", func() (e error) { o.Export, e = f.GetString("export"); return })
	set("phi0-out", func() (e error) { o.Phi0, e = f.GetString("phi0-out"); return })

	return err
}

func runSimulation(cmd *cobra.Command, cfg *config.DMCConfig, label string) error {
	params, err := cfg.Params()
	if err != nil {
		return err
	}
	pot, err := cfg.Potential()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
	trace := logging.NewTraceLogger(cfg.Output.Dir, cfg.Logging.Level)
	defer trace.Close()

	eng, err := dmc.New(params, pot)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	est, err := simulation.NewEstimators(cfg.Histogram.XMin, cfg.Histogram.XMax, cfg.Histogram.Bins, 0)
	if err != nil {
		return err
	}
	runner := simulation.NewRunner(logger, trace, est)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if cfg.Run.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, cfg.Run.Timeout)
		defer cancelTimeout()
	}

	var (
		runStore store.RunStore
		rec      *store.Recorder
		runID    string
	)
	if cfg.Output.Record {
		s, err := store.NewSQLiteRunStore(cfg.Output.DatabasePath())
		if err != nil {
			return fmt.Errorf("opening run database: %w", err)
		}
		defer s.Close()
		runStore = s

		runID = store.NewRunID(time.Now())
		err = runStore.CreateRun(ctx, store.RunRecord{
			ID:         runID,
			Label:      label,
			Potential:  cfg.Simulation.Potential,
			Params:     params,
			Iterations: cfg.Run.Iterations,
			Warmup:     cfg.Run.Warmup,
		})
		if err != nil {
			return fmt.Errorf("recording run: %w", err)
		}
		// Writes use a background context so a canceled run is still saved.
		rec = store.NewRecorder(context.Background(), runStore, runID, 0)
		runner.AddObserver(rec)
		logger.Debug("recording run", "id", runID, "db", cfg.Output.DatabasePath())
	}

	res, runErr := runner.Run(ctx, eng, simulation.Plan{
		Iterations: cfg.Run.Iterations,
		Warmup:     cfg.Run.Warmup,
		LogEvery:   cfg.Run.LogEvery,
	})

	if rec != nil {
		if err := rec.Flush(); err != nil && runErr == nil {
			runErr = fmt.Errorf("flushing iterations: %w", err)
		}
		if err := runStore.FinishRun(context.Background(), runID, store.SummaryFromResult(res, runErr)); err != nil {
			logger.Warn("failed to record run summary", "id", runID, "error", err)
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}

	if cfg.Output.Export != "" {
		err := export.WriteFile(cfg.Output.Export, func(w io.Writer) error {
			return export.WriteWalkers(w, res.Final, pot)
		})
		if err != nil {
			return err
		}
	}
	if cfg.Output.Phi0 != "" {
		err := export.WriteFile(cfg.Output.Phi0, func(w io.Writer) error {
			return export.WritePhi0(w, est.Phi0)
		})
		if err != nil {
			return err
		}
	}

	summary := summarize(cfg, params, res, est, runID)
	if jsonOutput(cmd) {
		if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	} else {
		printSummary(cmd.OutOrStdout(), summary)
	}

	// A canceled run still reports what it reached, then exits non-zero.
	return runErr
}

func summarize(cfg *config.DMCConfig, p dmc.Params, res simulation.Result, est *simulation.Estimators, runID string) runSummary {
	s := runSummary{
		RunID:          runID,
		Potential:      cfg.Simulation.Potential,
		Walkers:        p.Walkers,
		TimeStep:       p.TimeStep,
		Seed:           p.Seed,
		Iterations:     res.Iterations,
		Warmup:         cfg.Run.Warmup,
		Collapsed:      res.Collapsed,
		E0:             res.Energy.Mean,
		StdErr:         res.Energy.StdErr,
		Samples:        res.Energy.Samples,
		Cumulative:     res.Energy.Cumulative,
		FinalSize:      res.Final.Size,
		FinalTime:      res.Final.Time,
		FinalRefEnergy: res.Final.RefEnergy,
		Export:         cfg.Output.Export,
		Phi0Out:        cfg.Output.Phi0,
		Elapsed:        res.Elapsed.Round(time.Millisecond).String(),
	}
	if cfg.Simulation.Potential == potential.NameHarmonic {
		exact := potential.HarmonicGroundEnergy
		s.Exact = &exact
		if est.Phi0.Samples() > 0 {
			dev := est.Phi0.MaxDeviation(potential.HarmonicGroundState)
			s.Phi0Deviation = &dev
		}
	}
	return s
}

func printSummary(w io.Writer, s runSummary) {
	if s.RunID != "" {
		fmt.Fprintf(w, "Run %s\n", s.RunID)
	}
	fmt.Fprintf(w, "Potential:   %s\n", s.Potential)
	fmt.Fprintf(w, "Iterations:  %d (warm-up %d, dtau %g, seed %d)\n", s.Iterations, s.Warmup, s.TimeStep, s.Seed)
	if s.Samples > 0 {
		fmt.Fprintf(w, "E0:          %.6f +/- %.6f (%d samples)\n", s.E0, s.StdErr, s.Samples)
	} else {
		fmt.Fprintf(w, "E0:          no samples past warm-up (cumulative mean %.6f)\n", s.Cumulative)
	}
	if s.Exact != nil {
		fmt.Fprintf(w, "Exact:       %.6f\n", *s.Exact)
	}
	if s.Phi0Deviation != nil {
		fmt.Fprintf(w, "Phi0 error:  %.4f (max abs deviation)\n", *s.Phi0Deviation)
	}
	fmt.Fprintf(w, "Walkers:     %d (target %d)\n", s.FinalSize, s.Walkers)
	fmt.Fprintf(w, "Tau:         %g\n", s.FinalTime)
	if s.Collapsed {
		fmt.Fprintln(w, "Population collapsed; run ended early.")
	}
	if s.Export != "" {
		fmt.Fprintf(w, "Walkers written to %s\n", s.Export)
	}
	if s.Phi0Out != "" {
		fmt.Fprintf(w, "Phi0 written to %s\n", s.Phi0Out)
	}
	fmt.Fprintf(w, "Elapsed:     %s\n", s.Elapsed)
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	notifySignals(ch)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(ch)
		cancel()
	}
}
