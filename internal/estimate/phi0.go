package estimate

import "math"

// Phi0Estimate accumulates walker positions over many iterations. The
// walker density after equilibration is proportional to the ground-state
// wavefunction phi0, so the accumulated bins, normalized so that the sum of
// phi0^2 over the range is one, estimate phi0 itself.
type Phi0Estimate struct {
	bins    *Bins
	samples int
	dropped int
}

// NewPhi0Estimate creates an empty estimate over [xMin, xMax).
func NewPhi0Estimate(xMin, xMax float64, numBins int) (*Phi0Estimate, error) {
	b, err := NewBins(xMin, xMax, numBins)
	if err != nil {
		return nil, err
	}
	return &Phi0Estimate{bins: b}, nil
}

// Observe adds one iteration's positions.
func (p *Phi0Estimate) Observe(xs []float64) {
	p.samples++
	p.dropped += p.bins.Add(xs)
}

// Samples returns the number of observed iterations.
func (p *Phi0Estimate) Samples() int { return p.samples }

// Dropped returns the total number of out-of-range positions seen.
func (p *Phi0Estimate) Dropped() int { return p.dropped }

// Bins returns the accumulated bins.
func (p *Phi0Estimate) Bins() *Bins { return p.bins }

// Normalized returns the phi0 estimate per bin, scaled by
// 1/sqrt(sum(count^2) * width). All zeros if nothing was counted.
func (p *Phi0Estimate) Normalized() []float64 {
	out := make([]float64, len(p.bins.Counts))
	sumSq := 0.0
	for _, c := range p.bins.Counts {
		sumSq += float64(c) * float64(c)
	}
	if sumSq == 0 {
		return out
	}
	norm := 1.0 / math.Sqrt(sumSq*p.bins.Width())
	for i, c := range p.bins.Counts {
		out[i] = float64(c) * norm
	}
	return out
}

// MaxDeviation returns the largest absolute difference between the
// normalized estimate and ref evaluated at bin centers.
func (p *Phi0Estimate) MaxDeviation(ref func(float64) float64) float64 {
	est := p.Normalized()
	worst := 0.0
	for i, v := range est {
		if d := math.Abs(v - ref(p.bins.Center(i))); d > worst {
			worst = d
		}
	}
	return worst
}
