// Package rvg generates random variates from a single seeded stream.
//
// The underlying generator is the 48-bit linear congruential generator
// specified by Knuth (TAOCP vol. 2, 3.2.1) with multiplier 0x5DEECE66D and
// increment 0xB, producing 53-bit doubles from two outputs. Draw streams are
// therefore reproducible across platforms and across implementations of the
// same generator.
//
// Every variate consumes exactly one underlying uniform draw.
package rvg

import "math"

const (
	multiplier = 0x5DEECE66D
	increment  = 0xB
	mask       = (1 << 48) - 1

	// doubleUnit is 2^-53.
	doubleUnit = 1.0 / (1 << 53)
)

// Odeh & Evans coefficients for the normal inverse CDF approximation.
const (
	p0 = 0.322232431088
	p1 = 1.0
	p2 = 0.342242088547
	p3 = 0.204231210245e-1
	p4 = 0.453642210148e-4

	q0 = 0.099348462606
	q1 = 0.588581570495
	q2 = 0.531103462366
	q3 = 0.103537752850
	q4 = 0.385607006340e-2
)

// Generator is a deterministic variate generator. It is not safe for
// concurrent use.
type Generator struct {
	state uint64
	draws uint64
}

// New returns a Generator seeded with seed.
func New(seed int64) *Generator {
	return &Generator{state: (uint64(seed) ^ multiplier) & mask}
}

// next advances the state and returns its top bits.
func (g *Generator) next(bits uint) uint64 {
	g.state = (g.state*multiplier + increment) & mask
	return g.state >> (48 - bits)
}

// Float64 returns a uniform value in [0, 1).
func (g *Generator) Float64() float64 {
	g.draws++
	hi := g.next(26)
	lo := g.next(27)
	return float64(hi<<27+lo) * doubleUnit
}

// Draws returns the number of uniform draws consumed so far.
func (g *Generator) Draws() uint64 {
	return g.draws
}

// Uniform returns a value uniformly distributed on [a, b). Use a < b.
func (g *Generator) Uniform(a, b float64) float64 {
	return a + (b-a)*g.Float64()
}

// Normal returns an approximately Normal(m, s*s) value. Use s > 0.
//
// Uses the Odeh & Evans approximation of the normal idf (J. Applied
// Statistics, 1974, vol 23, pp 96-97). It never rejects, so exactly one
// uniform draw is consumed.
func (g *Generator) Normal(m, s float64) float64 {
	u := g.Float64()

	var t float64
	if u < 0.5 {
		t = math.Sqrt(-2.0 * math.Log(u))
	} else {
		t = math.Sqrt(-2.0 * math.Log(1.0-u))
	}
	p := p0 + t*(p1+t*(p2+t*(p3+t*p4)))
	q := q0 + t*(q1+t*(q2+t*(q3+t*q4)))

	var z float64
	if u < 0.5 {
		z = p/q - t
	} else {
		z = t - p/q
	}
	return m + s*z
}
