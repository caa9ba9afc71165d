// Package config provides unified configuration loading for dmc.
// It supports loading from YAML files and environment variables, and
// performs the numeric validation the simulation core leaves to its caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ianterrell/dmc/internal/dmc"
	"github.com/ianterrell/dmc/internal/potential"
	"gopkg.in/yaml.v3"
)

// DMCConfig contains all dmc configuration settings.
type DMCConfig struct {
	// Simulation configures the engine.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Run configures how long and how the engine is driven.
	Run RunConfig `json:"run" yaml:"run"`

	// Histogram configures the binning used for the phi0 estimate.
	Histogram HistogramConfig `json:"histogram" yaml:"histogram"`

	// Output configures recording, export and trace files.
	Output OutputConfig `json:"output" yaml:"output"`

	// Logging contains settings for operational and trace logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SimulationConfig mirrors dmc.Params in config form.
type SimulationConfig struct {
	// Walkers is the target population size.
	Walkers int `json:"walkers" yaml:"walkers"`

	// TimeStep is the imaginary-time step; must be positive.
	TimeStep float64 `json:"time_step" yaml:"time_step"`

	// Alpha is the feedback coefficient. Negative selects 1/time_step.
	Alpha float64 `json:"alpha" yaml:"alpha"`

	// RefEnergy is the initial reference energy. Negative computes it from
	// the initial ensemble.
	RefEnergy float64 `json:"ref_energy" yaml:"ref_energy"`

	// HoldRefEnergy pins the reference energy.
	HoldRefEnergy bool `json:"hold_ref_energy" yaml:"hold_ref_energy"`

	// Seed seeds the random stream.
	Seed int64 `json:"seed" yaml:"seed"`

	// Potential names a registered potential ("harmonic", "identity").
	Potential string `json:"potential" yaml:"potential"`

	// Init selects the initial walker distribution.
	Init InitConfig `json:"init" yaml:"init"`
}

// InitConfig selects the initial walker distribution. A and B default per
// mode when unset: delta x0=0; uniform a=-4, b=4; gaussian mu=0, sigma=1.
type InitConfig struct {
	Mode string   `json:"mode" yaml:"mode"`
	A    *float64 `json:"a,omitempty" yaml:"a,omitempty"`
	B    *float64 `json:"b,omitempty" yaml:"b,omitempty"`
}

// Values returns the mode parameters with per-mode defaults applied.
func (c InitConfig) Values() (a, b float64) {
	mode, _ := dmc.ParseInitMode(c.Mode)
	switch mode {
	case dmc.InitUniform:
		a, b = dmc.DefaultUniformA, dmc.DefaultUniformB
	case dmc.InitGaussian:
		a, b = dmc.DefaultGaussianMu, dmc.DefaultGaussianSigma
	default:
		a = dmc.DefaultDeltaX0
	}
	if c.A != nil {
		a = *c.A
	}
	if c.B != nil {
		b = *c.B
	}
	return a, b
}

// RunConfig configures the runner.
type RunConfig struct {
	// Iterations is the number of iterations to run.
	Iterations int `json:"iterations" yaml:"iterations"`

	// Warmup is the number of iterations excluded from the estimates.
	Warmup int `json:"warmup" yaml:"warmup"`

	// LogEvery logs progress every N iterations (0 disables).
	LogEvery int `json:"log_every" yaml:"log_every"`

	// Timeout bounds wall-clock run time (0 = unbounded).
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// HistogramConfig configures position binning.
type HistogramConfig struct {
	XMin float64 `json:"x_min" yaml:"x_min"`
	XMax float64 `json:"x_max" yaml:"x_max"`
	Bins int     `json:"bins" yaml:"bins"`
}

// OutputConfig configures files written by a run.
type OutputConfig struct {
	// Dir holds the run database and trace file. Supports ${VAR} syntax.
	Dir string `json:"dir" yaml:"dir"`

	// Record stores every run and its iterations in Dir/runs.db.
	Record bool `json:"record" yaml:"record"`

	// Export, when set, writes the final walker snapshot as an Arrow IPC
	// file at this path.
	Export string `json:"export,omitempty" yaml:"export,omitempty"`

	// Phi0, when set, writes the phi0 estimate bins as an Arrow IPC file.
	Phi0 string `json:"phi0,omitempty" yaml:"phi0,omitempty"`
}

// DatabasePath returns the run database location.
func (c OutputConfig) DatabasePath() string {
	return filepath.Join(c.Dir, "runs.db")
}

// LoggingConfig configures dmc's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables the iteration trace at <output.dir>/trace.jsonl.
	Level string `json:"level" yaml:"level"`
}

// Default returns a DMCConfig set up for the harmonic oscillator.
func Default() *DMCConfig {
	return &DMCConfig{
		Simulation: SimulationConfig{
			Walkers:   dmc.DefaultWalkers,
			TimeStep:  dmc.DefaultTimeStep,
			Alpha:     dmc.DefaultAlpha,
			RefEnergy: dmc.DefaultRefEnergy,
			Seed:      dmc.DefaultSeed,
			Potential: potential.NameHarmonic,
			Init:      InitConfig{Mode: dmc.InitDelta.String()},
		},
		Run: RunConfig{
			Iterations: 2000,
			Warmup:     500,
			LogEvery:   250,
		},
		Histogram: HistogramConfig{
			XMin: -5.0,
			XMax: 5.0,
			Bins: 200,
		},
		Output: OutputConfig{
			Dir: ".dmc",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.dmc/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".dmc", "config.yaml"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.dmc/config.yaml -> environment variables
func Load() (*DMCConfig, error) {
	config := Default()

	if configPath, err := DefaultPath(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadPath loads path when non-empty, otherwise falls back to Load.
// Environment overrides apply in both cases.
func LoadPath(path string) (*DMCConfig, error) {
	if path == "" {
		return Load()
	}
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	applyEnvOverrides(config)
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*DMCConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Output.Dir = expandEnvVars(config.Output.Dir)
	config.Output.Export = expandEnvVars(config.Output.Export)
	config.Output.Phi0 = expandEnvVars(config.Output.Phi0)

	return config, nil
}

// Save writes the configuration to path as YAML, creating parent directories.
func (c *DMCConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *DMCConfig) Validate() error {
	s := c.Simulation
	if s.Walkers < 0 {
		return fmt.Errorf("walkers must be non-negative, got %d", s.Walkers)
	}
	if !(s.TimeStep > 0) {
		return fmt.Errorf("time_step must be positive, got %v", s.TimeStep)
	}
	if _, err := potential.Lookup(s.Potential); err != nil {
		return err
	}
	mode, err := dmc.ParseInitMode(s.Init.Mode)
	if err != nil {
		return err
	}
	a, b := s.Init.Values()
	switch mode {
	case dmc.InitUniform:
		if !(a < b) {
			return fmt.Errorf("uniform init requires a < b, got a=%v b=%v", a, b)
		}
	case dmc.InitGaussian:
		if !(b > 0) {
			return fmt.Errorf("gaussian init requires sigma > 0, got %v", b)
		}
	}

	if c.Run.Iterations < 0 {
		return fmt.Errorf("iterations must be non-negative, got %d", c.Run.Iterations)
	}
	if c.Run.Warmup < 0 {
		return fmt.Errorf("warmup must be non-negative, got %d", c.Run.Warmup)
	}
	if c.Run.LogEvery < 0 {
		return fmt.Errorf("log_every must be non-negative, got %d", c.Run.LogEvery)
	}
	if c.Run.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", c.Run.Timeout)
	}

	if c.Histogram.Bins <= 0 {
		return fmt.Errorf("bins must be positive, got %d", c.Histogram.Bins)
	}
	if !(c.Histogram.XMin < c.Histogram.XMax) {
		return fmt.Errorf("x_min must be less than x_max, got %v >= %v", c.Histogram.XMin, c.Histogram.XMax)
	}

	if c.Output.Record && c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required when output.record is set")
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// Params converts the simulation section to engine parameters.
func (c *DMCConfig) Params() (dmc.Params, error) {
	s := c.Simulation
	mode, err := dmc.ParseInitMode(s.Init.Mode)
	if err != nil {
		return dmc.Params{}, err
	}
	a, b := s.Init.Values()
	return dmc.Params{
		Walkers:       s.Walkers,
		TimeStep:      s.TimeStep,
		Alpha:         s.Alpha,
		RefEnergy:     s.RefEnergy,
		HoldRefEnergy: s.HoldRefEnergy,
		Seed:          s.Seed,
		Init:          mode,
		InitA:         a,
		InitB:         b,
	}, nil
}

// Potential resolves the configured potential.
func (c *DMCConfig) Potential() (potential.Potential, error) {
	return potential.Lookup(c.Simulation.Potential)
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *DMCConfig) {
	if v := os.Getenv("DMC_WALKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Walkers = n
		}
	}
	if v := os.Getenv("DMC_DTAU"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.TimeStep = f
		}
	}
	if v := os.Getenv("DMC_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}
	if v := os.Getenv("DMC_POTENTIAL"); v != "" {
		config.Simulation.Potential = v
	}
	if v := os.Getenv("DMC_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Run.Iterations = n
		}
	}
	if v := os.Getenv("DMC_RECORD"); v != "" {
		config.Output.Record = v == "true" || v == "1"
	}
	if v := os.Getenv("DMC_OUTPUT_DIR"); v != "" {
		config.Output.Dir = v
	}
	if v := os.Getenv("DMC_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
