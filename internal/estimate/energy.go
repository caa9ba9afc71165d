package estimate

import "math"

// EnergyEstimate tracks the reference energy across iterations: a
// cumulative mean over every iteration and a separate mean, with standard
// error, over iterations after warm-up.
type EnergyEstimate struct {
	Warmup int

	iterations int
	cumulative float64

	n    int
	mean float64
	m2   float64
}

// NewEnergyEstimate creates an estimate that ignores the first warmup
// iterations for its post-warm-up statistics.
func NewEnergyEstimate(warmup int) *EnergyEstimate {
	return &EnergyEstimate{Warmup: warmup}
}

// Observe records the reference energy after one iteration.
func (e *EnergyEstimate) Observe(refEnergy float64) {
	e.iterations++
	e.cumulative += refEnergy
	if e.iterations <= e.Warmup {
		return
	}
	// Welford
	e.n++
	d := refEnergy - e.mean
	e.mean += d / float64(e.n)
	e.m2 += d * (refEnergy - e.mean)
}

// Iterations returns the number of observations.
func (e *EnergyEstimate) Iterations() int { return e.iterations }

// Cumulative returns the mean over every observation.
func (e *EnergyEstimate) Cumulative() float64 {
	if e.iterations == 0 {
		return 0
	}
	return e.cumulative / float64(e.iterations)
}

// Samples returns the number of post-warm-up observations.
func (e *EnergyEstimate) Samples() int { return e.n }

// Mean returns the post-warm-up mean.
func (e *EnergyEstimate) Mean() float64 { return e.mean }

// StdDev returns the post-warm-up sample standard deviation.
func (e *EnergyEstimate) StdDev() float64 {
	if e.n < 2 {
		return 0
	}
	return math.Sqrt(e.m2 / float64(e.n-1))
}

// StdErr returns the naive standard error of the post-warm-up mean. It
// ignores autocorrelation between iterations and so understates the true
// error.
func (e *EnergyEstimate) StdErr() float64 {
	if e.n < 2 {
		return 0
	}
	return e.StdDev() / math.Sqrt(float64(e.n))
}
