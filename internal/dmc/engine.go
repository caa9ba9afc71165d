// Package dmc implements the Diffusion Monte Carlo simulation core: a walker
// population that diffuses, branches, and is held near a target size by an
// adaptive reference energy.
//
// The core is single-threaded and owns all of its state. Callers read it
// between iterations through the accessor methods and advance it only via
// Iterate.
package dmc

import (
	"errors"
	"fmt"
	"math"

	"github.com/ianterrell/dmc/internal/potential"
	"github.com/ianterrell/dmc/internal/rvg"
)

// ErrPopulationCollapsed is returned by Iterate once the population has no
// walkers. It is terminal: the engine cannot recover and must be rebuilt.
var ErrPopulationCollapsed = errors.New("population collapsed")

// BranchStats summarizes one branching pass.
type BranchStats struct {
	// PreSize is the population size entering the pass.
	PreSize int `json:"pre_size"`
	// Births is the number of clones created.
	Births int `json:"births"`
	// Deaths is the number of walkers removed.
	Deaths int `json:"deaths"`
	// Multiplicity[m] counts walkers that produced m copies.
	Multiplicity [MaxMultiplicity + 1]int `json:"multiplicity"`
}

// MaxMultiplicity returns the largest multiplicity produced in the pass.
func (s BranchStats) MaxMultiplicity() int {
	for m := MaxMultiplicity; m > 0; m-- {
		if s.Multiplicity[m] > 0 {
			return m
		}
	}
	return 0
}

// Snapshot is a read-only copy of the engine state.
type Snapshot struct {
	Positions  []float64   `json:"positions"`
	Size       int         `json:"size"`
	Time       float64     `json:"time"`
	RefEnergy  float64     `json:"ref_energy"`
	TargetSize int         `json:"target_size"`
	TimeStep   float64     `json:"time_step"`
	Iterations int         `json:"iterations"`
	Collapsed  bool        `json:"collapsed"`
	LastBranch BranchStats `json:"last_branch"`
}

// Engine is a Diffusion Monte Carlo simulation. It is not safe for
// concurrent use.
type Engine struct {
	params    Params
	potential potential.Potential
	rng       *rvg.Generator
	pop       *Population

	tau        float64
	refEnergy  float64
	iterations int
	collapsed  bool
	last       BranchStats

	// scratch for branching
	counts []int
}

// New builds an engine and initializes its walkers. A nil potential is
// treated as potential.Identity.
func New(p Params, v potential.Potential) (*Engine, error) {
	if v == nil {
		v = potential.Identity{}
	}
	if p.Walkers < 0 {
		p.Walkers = 0
	}
	switch p.Init {
	case InitDelta, InitUniform, InitGaussian:
	default:
		return nil, fmt.Errorf("unknown init mode: %v", p.Init)
	}

	e := &Engine{
		params:    p,
		potential: v,
		rng:       rvg.New(p.Seed),
		pop:       newPopulation(p.Walkers),
	}

	total := 0.0
	for i := 0; i < p.Walkers; i++ {
		var x float64
		switch p.Init {
		case InitDelta:
			x = p.InitA
		case InitUniform:
			x = e.rng.Uniform(p.InitA, p.InitB)
		case InitGaussian:
			x = e.rng.Normal(p.InitA, p.InitB)
		}
		total += v.At(x)
		e.pop.Add(x)
	}

	switch {
	case p.RefEnergy >= 0:
		e.refEnergy = p.RefEnergy
	case p.Walkers > 0:
		e.refEnergy = total / float64(p.Walkers)
	default:
		e.refEnergy = 0
	}

	return e, nil
}

// Iterate performs one diffusion pass, one branching pass, and advances the
// elapsed time by one time step. It returns ErrPopulationCollapsed (wrapped)
// if the population is empty; after that every call fails the same way.
func (e *Engine) Iterate() error {
	if e.collapsed {
		return fmt.Errorf("iteration %d: %w", e.iterations+1, ErrPopulationCollapsed)
	}
	if err := e.walk(); err != nil {
		e.collapsed = true
		return fmt.Errorf("iteration %d: %w", e.iterations+1, err)
	}
	e.branch()
	e.tau += e.params.TimeStep
	e.iterations++
	return nil
}

// walk diffuses every walker and updates the reference energy from the mean
// potential of the moved population.
func (e *Engine) walk() error {
	dt := e.params.TimeStep
	step := math.Sqrt(dt)

	total := 0.0
	for i := range e.pop.walkers {
		w := &e.pop.walkers[i]
		w.X += step * e.rng.Normal(0.0, 1.0)
		total += e.potential.At(w.X)
	}

	n := e.pop.Len()
	if n == 0 {
		return ErrPopulationCollapsed
	}
	if e.params.HoldRefEnergy {
		return nil
	}

	mean := total / float64(n)
	target := float64(e.params.Walkers)
	if e.params.Alpha < 0 {
		e.refEnergy = mean - (float64(n)-target)/(target*dt)
	} else {
		e.refEnergy = mean - e.params.Alpha*(float64(n)-target)/target
	}
	return nil
}

// Weight returns the branching weight of a walker at x under the current
// reference energy.
func (e *Engine) Weight(x float64) float64 {
	return math.Exp(-(e.potential.At(x) - e.refEnergy) * e.params.TimeStep)
}

// branch decides every walker's multiplicity from the positions and
// reference energy as they stand, then rebuilds the population in one pass.
func (e *Engine) branch() {
	n := e.pop.Len()
	if cap(e.counts) < n {
		e.counts = make([]int, n)
	}
	counts := e.counts[:n]

	stats := BranchStats{PreSize: n}
	for i, w := range e.pop.walkers {
		m := multiplicity(e.Weight(w.X) + e.rng.Uniform(0.0, 1.0))
		counts[i] = m
		stats.Multiplicity[m]++
		if m == 0 {
			stats.Deaths++
		} else {
			stats.Births += m - 1
		}
	}

	e.pop.rebuild(counts)
	e.last = stats
}

// multiplicity truncates v and clamps it to [0, MaxMultiplicity]. NaN maps
// to 0.
func multiplicity(v float64) int {
	switch {
	case v >= MaxMultiplicity:
		return MaxMultiplicity
	case v >= 1:
		return int(v)
	default:
		return 0
	}
}

// Positions returns a copy of the walker positions in population order.
func (e *Engine) Positions() []float64 { return e.pop.Positions() }

// Size returns the current number of walkers.
func (e *Engine) Size() int { return e.pop.Len() }

// Time returns the elapsed imaginary time.
func (e *Engine) Time() float64 { return e.tau }

// RefEnergy returns the current reference energy.
func (e *Engine) RefEnergy() float64 { return e.refEnergy }

// TargetSize returns the target population size.
func (e *Engine) TargetSize() int { return e.params.Walkers }

// TimeStep returns the imaginary-time step.
func (e *Engine) TimeStep() float64 { return e.params.TimeStep }

// Iterations returns the number of completed iterations.
func (e *Engine) Iterations() int { return e.iterations }

// Collapsed reports whether the population has collapsed.
func (e *Engine) Collapsed() bool { return e.collapsed }

// LastBranch returns statistics for the most recent branching pass.
func (e *Engine) LastBranch() BranchStats { return e.last }

// Potential returns the potential the engine was built with.
func (e *Engine) Potential() potential.Potential { return e.potential }

// Params returns the construction parameters.
func (e *Engine) Params() Params { return e.params }

// Draws returns the number of uniform draws consumed from the random stream.
func (e *Engine) Draws() uint64 { return e.rng.Draws() }

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Positions:  e.Positions(),
		Size:       e.Size(),
		Time:       e.tau,
		RefEnergy:  e.refEnergy,
		TargetSize: e.params.Walkers,
		TimeStep:   e.params.TimeStep,
		Iterations: e.iterations,
		Collapsed:  e.collapsed,
		LastBranch: e.last,
	}
}
