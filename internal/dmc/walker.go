package dmc

// Walker is one replica of the system's configuration: a point in
// one-dimensional configuration space.
type Walker struct {
	X float64
}

// Population is an ordered collection of walkers. Order carries no physical
// meaning but is stable within one iteration, since it fixes the order in
// which random draws are consumed.
type Population struct {
	walkers []Walker
}

func newPopulation(capacity int) *Population {
	return &Population{walkers: make([]Walker, 0, capacity)}
}

// Len returns the number of walkers.
func (p *Population) Len() int {
	return len(p.walkers)
}

// Add appends a walker at position x.
func (p *Population) Add(x float64) {
	p.walkers = append(p.walkers, Walker{X: x})
}

// Positions returns a copy of the walker positions in population order.
func (p *Population) Positions() []float64 {
	out := make([]float64, len(p.walkers))
	for i, w := range p.walkers {
		out[i] = w.X
	}
	return out
}

// rebuild replaces the population with the survivors of a branching pass.
// counts[i] is the multiplicity of walker i: 0 removes it, m >= 1 keeps it
// and appends m-1 clones after all survivors.
func (p *Population) rebuild(counts []int) {
	survivors := 0
	clones := 0
	for _, m := range counts {
		if m > 0 {
			survivors++
			clones += m - 1
		}
	}

	next := make([]Walker, 0, survivors+clones)
	for i, w := range p.walkers {
		if counts[i] > 0 {
			next = append(next, w)
		}
	}
	for i, w := range p.walkers {
		for j := 1; j < counts[i]; j++ {
			next = append(next, Walker{X: w.X})
		}
	}
	p.walkers = next
}
