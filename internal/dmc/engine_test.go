package dmc

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ianterrell/dmc/internal/potential"
)

func newHarmonic(t *testing.T, p Params) *Engine {
	t.Helper()
	e, err := New(p, potential.Harmonic{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func TestNew_AutoRefEnergyFromDelta(t *testing.T) {
	e := newHarmonic(t, DefaultParams())

	if e.RefEnergy() != 0 {
		t.Errorf("RefEnergy() = %v, want exactly 0", e.RefEnergy())
	}
	if e.Size() != DefaultWalkers {
		t.Errorf("Size() = %d, want %d", e.Size(), DefaultWalkers)
	}
	if e.Time() != 0 {
		t.Errorf("Time() = %v, want 0", e.Time())
	}
	for i, x := range e.Positions() {
		if x != 0 {
			t.Fatalf("walker %d at %v, want 0", i, x)
		}
	}
}

func TestNew_ExplicitRefEnergy(t *testing.T) {
	p := DefaultParams()
	p.RefEnergy = 0.75
	e := newHarmonic(t, p)
	if e.RefEnergy() != 0.75 {
		t.Errorf("RefEnergy() = %v, want 0.75", e.RefEnergy())
	}
}

func TestNew_InitModes(t *testing.T) {
	tests := []struct {
		name  string
		init  InitMode
		a, b  float64
		check func(t *testing.T, xs []float64)
	}{
		{
			name: "delta",
			init: InitDelta, a: 1.5,
			check: func(t *testing.T, xs []float64) {
				for _, x := range xs {
					if x != 1.5 {
						t.Fatalf("walker at %v, want 1.5", x)
					}
				}
			},
		},
		{
			name: "uniform",
			init: InitUniform, a: -4, b: 4,
			check: func(t *testing.T, xs []float64) {
				for _, x := range xs {
					if x < -4 || x >= 4 {
						t.Fatalf("walker at %v outside [-4, 4)", x)
					}
				}
			},
		},
		{
			name: "gaussian",
			init: InitGaussian, a: 2, b: 0.5,
			check: func(t *testing.T, xs []float64) {
				sum := 0.0
				for _, x := range xs {
					sum += x
				}
				if mean := sum / float64(len(xs)); math.Abs(mean-2) > 0.1 {
					t.Errorf("mean = %v, want about 2", mean)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			p.Init, p.InitA, p.InitB = tt.init, tt.a, tt.b
			e := newHarmonic(t, p)

			xs := e.Positions()
			if len(xs) != p.Walkers {
				t.Fatalf("got %d walkers, want %d", len(xs), p.Walkers)
			}
			tt.check(t, xs)

			// Auto reference energy is the mean initial potential.
			total := 0.0
			for _, x := range xs {
				total += 0.5 * x * x
			}
			if want := total / float64(len(xs)); e.RefEnergy() != want {
				t.Errorf("RefEnergy() = %v, want %v", e.RefEnergy(), want)
			}
		})
	}
}

func TestNew_UnknownInitMode(t *testing.T) {
	for _, walkers := range []int{500, 0, -3} {
		t.Run(fmt.Sprintf("walkers=%d", walkers), func(t *testing.T) {
			p := DefaultParams()
			p.Walkers = walkers
			p.Init = InitMode(9)
			if _, err := New(p, potential.Harmonic{}); err == nil {
				t.Fatal("New() with unknown init mode succeeded, want error")
			}
		})
	}
}

func TestNew_NilPotentialIsIdentity(t *testing.T) {
	p := DefaultParams()
	p.InitA = 2
	e, err := New(p, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.RefEnergy() != 2 {
		t.Errorf("RefEnergy() = %v, want 2 (identity potential at x=2)", e.RefEnergy())
	}
}

func TestIterate_EndToEnd(t *testing.T) {
	p := Params{
		Walkers:   500,
		TimeStep:  0.1,
		Alpha:     -1,
		RefEnergy: -1,
		Seed:      123456789,
		Init:      InitDelta,
		InitA:     0,
	}
	e := newHarmonic(t, p)
	if e.RefEnergy() != 0 {
		t.Fatalf("initial RefEnergy() = %v, want 0", e.RefEnergy())
	}

	if err := e.Iterate(); err != nil {
		t.Fatalf("Iterate() error = %v", err)
	}
	if n := e.Size(); n < 0 || n > 1500 {
		t.Errorf("Size() = %d, want within [0, 1500]", n)
	}
	if math.IsNaN(e.RefEnergy()) || math.IsInf(e.RefEnergy(), 0) {
		t.Errorf("RefEnergy() = %v, want finite", e.RefEnergy())
	}
	if e.Time() != 0.1 {
		t.Errorf("Time() = %v, want 0.1", e.Time())
	}
	if e.Iterations() != 1 {
		t.Errorf("Iterations() = %d, want 1", e.Iterations())
	}
}

func TestIterate_Deterministic(t *testing.T) {
	p := DefaultParams()
	p.Init, p.InitA, p.InitB = InitGaussian, 0, 1
	a := newHarmonic(t, p)
	b := newHarmonic(t, p)

	for i := 0; i < 50; i++ {
		if err := a.Iterate(); err != nil {
			t.Fatalf("a.Iterate() error = %v", err)
		}
		if err := b.Iterate(); err != nil {
			t.Fatalf("b.Iterate() error = %v", err)
		}
		if a.RefEnergy() != b.RefEnergy() {
			t.Fatalf("iteration %d: ref energy %v != %v", i, a.RefEnergy(), b.RefEnergy())
		}
		if a.Time() != b.Time() {
			t.Fatalf("iteration %d: time %v != %v", i, a.Time(), b.Time())
		}
		xa, xb := a.Positions(), b.Positions()
		if len(xa) != len(xb) {
			t.Fatalf("iteration %d: sizes %d != %d", i, len(xa), len(xb))
		}
		for j := range xa {
			if xa[j] != xb[j] {
				t.Fatalf("iteration %d walker %d: %v != %v", i, j, xa[j], xb[j])
			}
		}
	}
}

func TestIterate_DifferentSeedsDiverge(t *testing.T) {
	p := DefaultParams()
	a := newHarmonic(t, p)
	p.Seed++
	b := newHarmonic(t, p)

	_ = a.Iterate()
	_ = b.Iterate()
	if a.RefEnergy() == b.RefEnergy() {
		t.Errorf("different seeds produced identical ref energy %v", a.RefEnergy())
	}
}

func TestIterate_DrawOrder(t *testing.T) {
	e := newHarmonic(t, DefaultParams())

	for i := 0; i < 20; i++ {
		before := e.Draws()
		n := e.Size()
		if err := e.Iterate(); err != nil {
			t.Fatalf("Iterate() error = %v", err)
		}
		if got, want := e.Draws()-before, uint64(2*n); got != want {
			t.Fatalf("iteration %d consumed %d draws, want %d", i, got, want)
		}
	}
}

func TestIterate_BranchingBound(t *testing.T) {
	// Start far from the well so weights swing widely in both directions.
	p := DefaultParams()
	p.Init, p.InitA, p.InitB = InitUniform, -6, 6
	p.TimeStep = 0.5
	e := newHarmonic(t, p)

	for i := 0; i < 100; i++ {
		pre := e.Size()
		if err := e.Iterate(); err != nil {
			t.Fatalf("Iterate() error = %v", err)
		}
		s := e.LastBranch()
		if s.PreSize != pre {
			t.Fatalf("PreSize = %d, want %d", s.PreSize, pre)
		}
		if s.MaxMultiplicity() > MaxMultiplicity {
			t.Fatalf("multiplicity %d exceeds %d", s.MaxMultiplicity(), MaxMultiplicity)
		}
		total := 0
		copies := 0
		for m, c := range s.Multiplicity {
			total += c
			copies += m * c
		}
		if total != pre {
			t.Fatalf("multiplicities cover %d walkers, want %d", total, pre)
		}
		if copies != e.Size() {
			t.Fatalf("copies = %d, size = %d", copies, e.Size())
		}
		if e.Size() != pre-s.Deaths+s.Births {
			t.Fatalf("size %d != %d - %d + %d", e.Size(), pre, s.Deaths, s.Births)
		}
		if e.Size() > MaxMultiplicity*pre {
			t.Fatalf("size %d exceeds %d", e.Size(), MaxMultiplicity*pre)
		}
	}
}

func TestIterate_HoldRefEnergy(t *testing.T) {
	p := DefaultParams()
	p.Init, p.InitA, p.InitB = InitGaussian, 0, 1
	p.HoldRefEnergy = true
	e := newHarmonic(t, p)

	want := e.RefEnergy()
	for i := 0; i < 25; i++ {
		if err := e.Iterate(); err != nil {
			t.Fatalf("Iterate() error = %v", err)
		}
		if e.RefEnergy() != want {
			t.Fatalf("iteration %d: RefEnergy() = %v, want %v", i, e.RefEnergy(), want)
		}
	}
}

func TestWalk_FeedbackFormulas(t *testing.T) {
	tests := []struct {
		name  string
		alpha float64
	}{
		{"default alpha", -1},
		{"explicit alpha", 2.5},
		{"zero alpha", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			p.Walkers = 40
			p.Alpha = tt.alpha
			p.Init, p.InitA, p.InitB = InitUniform, -1, 1
			e := newHarmonic(t, p)

			// Grow the population past target so the feedback term matters.
			for i := 0; i < 10; i++ {
				e.pop.Add(0.25)
			}
			if err := e.walk(); err != nil {
				t.Fatalf("walk() error = %v", err)
			}

			xs := e.Positions()
			total := 0.0
			for _, x := range xs {
				total += 0.5 * x * x
			}
			n := float64(len(xs))
			target := float64(p.Walkers)
			mean := total / n

			var want float64
			if tt.alpha < 0 {
				want = mean - (n-target)/(target*p.TimeStep)
			} else {
				want = mean - tt.alpha*(n-target)/target
			}
			if math.Abs(e.RefEnergy()-want) > 1e-12 {
				t.Errorf("RefEnergy() = %v, want %v", e.RefEnergy(), want)
			}
		})
	}
}

func TestIterate_CollapseWithZeroTarget(t *testing.T) {
	p := DefaultParams()
	p.Walkers = 0
	e := newHarmonic(t, p)

	err := e.Iterate()
	if !errors.Is(err, ErrPopulationCollapsed) {
		t.Fatalf("Iterate() error = %v, want ErrPopulationCollapsed", err)
	}
	if !e.Collapsed() {
		t.Error("Collapsed() = false after collapse")
	}
	if e.Time() != 0 {
		t.Errorf("Time() = %v, want 0 after collapse", e.Time())
	}

	// Terminal: later calls keep failing without consuming draws.
	draws := e.Draws()
	if err := e.Iterate(); !errors.Is(err, ErrPopulationCollapsed) {
		t.Errorf("second Iterate() error = %v, want ErrPopulationCollapsed", err)
	}
	if e.Draws() != draws {
		t.Errorf("collapsed engine consumed %d draws", e.Draws()-draws)
	}
}

func TestIterate_CollapseAfterExtinction(t *testing.T) {
	p := DefaultParams()
	p.Walkers = 50
	p.RefEnergy = 0
	p.HoldRefEnergy = true
	wall := potential.Func(func(float64) float64 { return 1e6 })
	e, err := New(p, wall)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := e.Iterate(); err != nil {
		t.Fatalf("first Iterate() error = %v", err)
	}
	if e.Size() != 0 {
		t.Fatalf("Size() = %d, want 0 after every walker died", e.Size())
	}
	if s := e.LastBranch(); s.Deaths != 50 {
		t.Errorf("Deaths = %d, want 50", s.Deaths)
	}
	if err := e.Iterate(); !errors.Is(err, ErrPopulationCollapsed) {
		t.Fatalf("second Iterate() error = %v, want ErrPopulationCollapsed", err)
	}
}

func TestIterate_HarmonicConvergence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping statistical convergence in short mode")
	}

	e := newHarmonic(t, DefaultParams())

	const (
		iterations = 2000
		warmup     = 500
	)
	sum := 0.0
	for i := 0; i < iterations; i++ {
		if err := e.Iterate(); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if i >= warmup {
			sum += e.RefEnergy()
		}
	}
	mean := sum / float64(iterations-warmup)
	if math.Abs(mean-potential.HarmonicGroundEnergy) > 0.05 {
		t.Errorf("mean reference energy = %v, want %v +/- 0.05", mean, potential.HarmonicGroundEnergy)
	}
	if n := e.Size(); n < 400 || n > 600 {
		t.Errorf("final size = %d, want near 500", n)
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	e := newHarmonic(t, DefaultParams())
	if err := e.Iterate(); err != nil {
		t.Fatalf("Iterate() error = %v", err)
	}

	s := e.Snapshot()
	if s.Size != e.Size() || len(s.Positions) != e.Size() {
		t.Fatalf("snapshot size %d/%d, engine size %d", s.Size, len(s.Positions), e.Size())
	}
	if s.TargetSize != 500 || s.TimeStep != 0.1 || s.Iterations != 1 {
		t.Errorf("snapshot = %+v", s)
	}

	s.Positions[0] = 1e9
	if e.Positions()[0] == 1e9 {
		t.Error("mutating snapshot positions changed the engine")
	}
}

func TestMultiplicity(t *testing.T) {
	tests := []struct {
		v    float64
		want int
	}{
		{0, 0},
		{0.999, 0},
		{1, 1},
		{2.7, 2},
		{3, 3},
		{17.2, 3},
		{math.Inf(1), 3},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := multiplicity(tt.v); got != tt.want {
			t.Errorf("multiplicity(%v) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestParseInitMode(t *testing.T) {
	tests := []struct {
		in      string
		want    InitMode
		wantErr bool
	}{
		{"delta", InitDelta, false},
		{"", InitDelta, false},
		{"Uniform", InitUniform, false},
		{"gaussian", InitGaussian, false},
		{"normal", InitGaussian, false},
		{"poisson", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseInitMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseInitMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseInitMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if !tt.wantErr && got.String() == "" {
			t.Errorf("empty String() for %v", got)
		}
	}
}

func TestInitMode_Text(t *testing.T) {
	for _, m := range []InitMode{InitDelta, InitUniform, InitGaussian} {
		b, err := m.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) error = %v", m, err)
		}
		var got InitMode
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", b, err)
		}
		if got != m {
			t.Errorf("text round trip of %v = %v", m, got)
		}
	}

	var m InitMode
	if err := m.UnmarshalText([]byte("lorentzian")); err == nil {
		t.Error("UnmarshalText(lorentzian) succeeded")
	}
}
