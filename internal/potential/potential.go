// Package potential provides potential-energy functions for the DMC engine.
package potential

import (
	"fmt"
	"math"
	"sort"
)

// Potential maps a position to a potential energy.
type Potential interface {
	At(x float64) float64
}

// Func adapts a plain function to the Potential interface.
type Func func(x float64) float64

// At calls f(x).
func (f Func) At(x float64) float64 {
	return f(x)
}

// Identity is V(x) = x.
type Identity struct{}

// At returns x.
func (Identity) At(x float64) float64 {
	return x
}

// Harmonic is the simple harmonic oscillator in dimensionless units,
// V(x) = x^2 / 2.
type Harmonic struct{}

// At returns 0.5 * x * x.
func (Harmonic) At(x float64) float64 {
	return 0.5 * x * x
}

// HarmonicGroundEnergy is the exact ground-state energy of Harmonic.
const HarmonicGroundEnergy = 0.5

// harmonicNorm is pi^(-1/4).
const harmonicNorm = 0.7511255445

// HarmonicGroundState returns the normalized ground-state wavefunction of
// Harmonic at x.
func HarmonicGroundState(x float64) float64 {
	return harmonicNorm * math.Exp(-0.5*x*x)
}

// Names of the registered potentials.
const (
	NameHarmonic = "harmonic"
	NameIdentity = "identity"
)

var registry = map[string]Potential{
	NameHarmonic: Harmonic{},
	NameIdentity: Identity{},
}

// Lookup returns the registered potential with the given name.
func Lookup(name string) (Potential, error) {
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown potential: %s (valid: %v)", name, Names())
	}
	return p, nil
}

// Names returns the registered potential names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
