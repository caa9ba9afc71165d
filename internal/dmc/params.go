package dmc

import (
	"fmt"
	"strings"
)

// InitMode selects the initial spatial distribution of walkers.
type InitMode int

const (
	// InitDelta places every walker at InitA.
	InitDelta InitMode = iota
	// InitUniform draws each walker from Uniform(InitA, InitB).
	InitUniform
	// InitGaussian draws each walker from Normal(InitA, InitB).
	InitGaussian
)

// String returns the config name of the mode.
func (m InitMode) String() string {
	switch m {
	case InitDelta:
		return "delta"
	case InitUniform:
		return "uniform"
	case InitGaussian:
		return "gaussian"
	default:
		return fmt.Sprintf("InitMode(%d)", int(m))
	}
}

// MarshalText encodes the mode by name.
func (m InitMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *InitMode) UnmarshalText(b []byte) error {
	mode, err := ParseInitMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseInitMode maps a config name to an InitMode.
func ParseInitMode(s string) (InitMode, error) {
	switch strings.ToLower(s) {
	case "delta", "":
		return InitDelta, nil
	case "uniform":
		return InitUniform, nil
	case "gaussian", "normal":
		return InitGaussian, nil
	default:
		return 0, fmt.Errorf("unknown init mode: %s (valid: delta, uniform, gaussian)", s)
	}
}

// Defaults.
const (
	DefaultWalkers   = 500
	DefaultTimeStep  = 0.1
	DefaultSeed      = 123456789
	DefaultRefEnergy = -1.0 // negative: mean potential of the initial ensemble
	DefaultAlpha     = -1.0 // negative: 1/TimeStep

	DefaultDeltaX0       = 0.0
	DefaultUniformA      = -4.0
	DefaultUniformB      = 4.0
	DefaultGaussianMu    = 0.0
	DefaultGaussianSigma = 1.0
)

// MaxMultiplicity bounds the number of copies a walker can produce in one
// branching pass, itself included.
const MaxMultiplicity = 3

// Params configures an Engine. Values are taken as given; validation
// belongs to the caller.
type Params struct {
	// Walkers is the target population size.
	Walkers int `json:"walkers"`

	// TimeStep is the imaginary-time step, > 0.
	TimeStep float64 `json:"dtau"`

	// Alpha is the feedback coefficient. Negative selects the default
	// 1/TimeStep form of the update.
	Alpha float64 `json:"alpha"`

	// RefEnergy is the initial reference energy. Negative computes it as the
	// mean potential energy of the initial ensemble.
	RefEnergy float64 `json:"ref_energy"`

	// HoldRefEnergy pins the reference energy at its initial value.
	HoldRefEnergy bool `json:"hold_ref_energy"`

	// Seed seeds the engine's random stream.
	Seed int64 `json:"seed"`

	// Init selects the initial distribution; InitA and InitB are its
	// parameters (x0 for delta; a, b for uniform; mu, sigma for gaussian).
	Init  InitMode `json:"init"`
	InitA float64  `json:"init_a"`
	InitB float64  `json:"init_b"`
}

// DefaultParams returns a delta-function start at the origin with default
// settings.
func DefaultParams() Params {
	return Params{
		Walkers:   DefaultWalkers,
		TimeStep:  DefaultTimeStep,
		Alpha:     DefaultAlpha,
		RefEnergy: DefaultRefEnergy,
		Seed:      DefaultSeed,
		Init:      InitDelta,
		InitA:     DefaultDeltaX0,
	}
}
