package estimate

import "math"

// Point is one (time, value) sample.
type Point struct {
	T float64 `json:"t"`
	V float64 `json:"v"`
}

// Series is a time series that keeps at most MaxPoints of its most recent
// samples. MaxPoints <= 0 keeps everything.
type Series struct {
	MaxPoints int
	points    []Point
}

// NewSeries creates a series bounded to maxPoints.
func NewSeries(maxPoints int) *Series {
	return &Series{MaxPoints: maxPoints}
}

// Add appends a sample, evicting the oldest when over capacity.
func (s *Series) Add(t, v float64) {
	s.points = append(s.points, Point{T: t, V: v})
	if s.MaxPoints > 0 && len(s.points) > s.MaxPoints {
		drop := len(s.points) - s.MaxPoints
		s.points = append(s.points[:0], s.points[drop:]...)
	}
}

// Len returns the number of retained samples.
func (s *Series) Len() int { return len(s.points) }

// Points returns a copy of the retained samples, oldest first.
func (s *Series) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Last returns the newest sample.
func (s *Series) Last() (Point, bool) {
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// Bounds returns the min and max of the retained values.
func (s *Series) Bounds() (lo, hi float64) {
	if len(s.points) == 0 {
		return 0, 0
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range s.points {
		lo = math.Min(lo, p.V)
		hi = math.Max(hi, p.V)
	}
	return lo, hi
}
