package fit

import (
	"fmt"
	"math"
)

// edge keeps internal values off the flat points of the transforms, where
// the derivative vanishes and a gradient step would stall.
const edge = 1e-4

// bound maps one parameter between the bounded external space and the
// unbounded internal space the optimizers work in:
//
//	two-sided:  x = lo + (hi-lo)(sin u + 1)/2
//	lower only: x = lo - 1 + sqrt(u² + 1)
//	upper only: x = hi + 1 - sqrt(u² + 1)
//	none:       x = u
type bound struct {
	lo, hi float64
}

func (b bound) lower() bool { return !math.IsInf(b.lo, -1) }
func (b bound) upper() bool { return !math.IsInf(b.hi, 1) }

func (b bound) external(u float64) float64 {
	switch {
	case b.lower() && b.upper():
		return b.lo + (b.hi-b.lo)*(math.Sin(u)+1)/2
	case b.lower():
		return b.lo - 1 + math.Sqrt(u*u+1)
	case b.upper():
		return b.hi + 1 - math.Sqrt(u*u+1)
	default:
		return u
	}
}

// internal inverts external. Values outside the bounds are clamped and
// values on a bound are moved just inside it.
func (b bound) internal(x float64) float64 {
	switch {
	case b.lower() && b.upper():
		s := 2*(x-b.lo)/(b.hi-b.lo) - 1
		u := math.Asin(math.Max(-1, math.Min(1, s)))
		return math.Max(-math.Pi/2+edge, math.Min(math.Pi/2-edge, u))
	case b.lower():
		d := math.Max(0, x-b.lo) + 1
		return math.Max(edge, math.Sqrt(d*d-1))
	case b.upper():
		d := math.Max(0, b.hi-x) + 1
		return math.Max(edge, math.Sqrt(d*d-1))
	default:
		return x
	}
}

// slope is dx/du, used to carry uncertainties back to external space.
func (b bound) slope(u float64) float64 {
	switch {
	case b.lower() && b.upper():
		return (b.hi - b.lo) / 2 * math.Cos(u)
	case b.lower():
		return u / math.Sqrt(u*u+1)
	case b.upper():
		return -u / math.Sqrt(u*u+1)
	default:
		return 1
	}
}

type transform []bound

func newTransform(lower, upper []float64, n int) (transform, error) {
	t := make(transform, n)
	for i := range t {
		t[i] = bound{lo: math.Inf(-1), hi: math.Inf(1)}
		if i < len(lower) && !math.IsNaN(lower[i]) {
			t[i].lo = lower[i]
		}
		if i < len(upper) && !math.IsNaN(upper[i]) {
			t[i].hi = upper[i]
		}
		if t[i].lower() && t[i].upper() && !(t[i].hi > t[i].lo) {
			return nil, fmt.Errorf("fit: parameter %d has empty bounds [%v, %v]", i, t[i].lo, t[i].hi)
		}
	}
	return t, nil
}

func (t transform) toExternal(dst, u []float64) {
	for i, b := range t {
		dst[i] = b.external(u[i])
	}
}

func (t transform) toInternal(x []float64) []float64 {
	u := make([]float64, len(t))
	for i, b := range t {
		u[i] = b.internal(x[i])
	}
	return u
}

// errors converts internal standard deviations to external ones.
func (t transform) errors(u, sigma []float64) []float64 {
	out := make([]float64, len(t))
	for i, b := range t {
		out[i] = math.Abs(b.slope(u[i])) * sigma[i]
	}
	return out
}
