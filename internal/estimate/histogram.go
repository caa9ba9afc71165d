// Package estimate accumulates ground-state estimates from a running DMC
// engine: walker histograms, the phi0 wavefunction estimate, bounded time
// series and the running energy estimate. Everything here reads engine
// snapshots and never touches engine state.
package estimate

import (
	"fmt"
	"math"
)

// Bins is a fixed set of equal-width bins over [XMin, XMax).
type Bins struct {
	XMin   float64 `json:"x_min"`
	XMax   float64 `json:"x_max"`
	Counts []int64 `json:"counts"`
}

// NewBins creates numBins empty bins over [xMin, xMax).
func NewBins(xMin, xMax float64, numBins int) (*Bins, error) {
	if numBins <= 0 {
		return nil, fmt.Errorf("bin count must be positive, got %d", numBins)
	}
	if !(xMin < xMax) {
		return nil, fmt.Errorf("invalid bin range [%v, %v)", xMin, xMax)
	}
	return &Bins{XMin: xMin, XMax: xMax, Counts: make([]int64, numBins)}, nil
}

// Width returns the bin width.
func (b *Bins) Width() float64 {
	return (b.XMax - b.XMin) / float64(len(b.Counts))
}

// Center returns the midpoint of bin i.
func (b *Bins) Center(i int) float64 {
	return b.XMin + (float64(i)+0.5)*b.Width()
}

// Index returns the bin holding x, or -1 if x falls outside the range.
func (b *Bins) Index(x float64) int {
	if !(x >= b.XMin && x < b.XMax) {
		return -1
	}
	i := int(math.Floor((x - b.XMin) / b.Width()))
	if i >= len(b.Counts) {
		i = len(b.Counts) - 1
	}
	return i
}

// Add counts every position that falls in range and returns how many were
// dropped.
func (b *Bins) Add(xs []float64) int {
	dropped := 0
	for _, x := range xs {
		i := b.Index(x)
		if i < 0 {
			dropped++
			continue
		}
		b.Counts[i]++
	}
	return dropped
}

// Total returns the number of counted positions.
func (b *Bins) Total() int64 {
	var n int64
	for _, c := range b.Counts {
		n += c
	}
	return n
}

// Reset zeroes every bin.
func (b *Bins) Reset() {
	for i := range b.Counts {
		b.Counts[i] = 0
	}
}

// Histogram bins the current walker positions, replacing the previous
// contents on every observation.
type Histogram struct {
	bins    *Bins
	total   int
	dropped int
}

// NewHistogram creates an instantaneous histogram.
func NewHistogram(xMin, xMax float64, numBins int) (*Histogram, error) {
	b, err := NewBins(xMin, xMax, numBins)
	if err != nil {
		return nil, err
	}
	return &Histogram{bins: b}, nil
}

// Observe replaces the histogram with the given positions.
func (h *Histogram) Observe(xs []float64) {
	h.bins.Reset()
	h.total = len(xs)
	h.dropped = h.bins.Add(xs)
}

// Bins returns the underlying bins.
func (h *Histogram) Bins() *Bins { return h.bins }

// Dropped returns how many walkers fell outside the range on the last
// observation.
func (h *Histogram) Dropped() int { return h.dropped }

// Density returns per-bin heights normalized so the total area of all
// observed walkers (in range or not) is one; each walker contributes one
// bin width of area.
func (h *Histogram) Density() []float64 {
	out := make([]float64, len(h.bins.Counts))
	if h.total == 0 {
		return out
	}
	norm := 1.0 / (float64(h.total) * h.bins.Width())
	for i, c := range h.bins.Counts {
		out[i] = float64(c) * norm
	}
	return out
}
