package simulation

import (
	"fmt"

	"github.com/ianterrell/dmc/internal/estimate"
)

// DefaultSeriesPoints bounds the reference-energy and population series.
const DefaultSeriesPoints = 10000

// Estimators is an observer that maintains the usual run statistics: the
// current-step histogram, the accumulated phi0 estimate and time series of
// reference energy and population size.
type Estimators struct {
	Histogram  *estimate.Histogram
	Phi0       *estimate.Phi0Estimate
	RefEnergy  *estimate.Series
	Population *estimate.Series
}

// NewEstimators creates estimators over [xMin, xMax) with the given number
// of bins. maxPoints bounds the time series; 0 uses DefaultSeriesPoints.
func NewEstimators(xMin, xMax float64, bins, maxPoints int) (*Estimators, error) {
	h, err := estimate.NewHistogram(xMin, xMax, bins)
	if err != nil {
		return nil, fmt.Errorf("histogram: %w", err)
	}
	p, err := estimate.NewPhi0Estimate(xMin, xMax, bins)
	if err != nil {
		return nil, fmt.Errorf("phi0 estimate: %w", err)
	}
	if maxPoints == 0 {
		maxPoints = DefaultSeriesPoints
	}
	return &Estimators{
		Histogram:  h,
		Phi0:       p,
		RefEnergy:  estimate.NewSeries(maxPoints),
		Population: estimate.NewSeries(maxPoints),
	}, nil
}

// Observe implements Observer. Phi0 only accumulates after warm-up.
func (e *Estimators) Observe(step Step) error {
	s := step.Snapshot
	e.Histogram.Observe(s.Positions)
	if step.Warm {
		e.Phi0.Observe(s.Positions)
	}
	e.RefEnergy.Add(s.Time, s.RefEnergy)
	e.Population.Add(s.Time, float64(s.Size))
	return nil
}
