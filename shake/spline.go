package shake

import (
	"sort"

	"gonum.org/v1/gonum/interp"
)

// spline interpolates probability over excitation order inside the
// tabulated range only.
type spline struct {
	lo, hi float64
	pred   interp.Predictor
	single float64
}

// newSpline fits a monotone Fritsch-Butland curve through three or more
// orders, a straight line through two, and a constant for one. Duplicate
// orders are averaged.
func newSpline(byOrder map[float64][]float64) *spline {
	if len(byOrder) == 0 {
		return nil
	}
	xs := make([]float64, 0, len(byOrder))
	for x := range byOrder {
		xs = append(xs, x)
	}
	sort.Float64s(xs)
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = mean(byOrder[x])
	}
	sp := &spline{lo: xs[0], hi: xs[len(xs)-1]}
	if len(xs) == 1 {
		sp.single = ys[0]
		return sp
	}
	if len(xs) >= 3 {
		var fb interp.FritschButland
		if err := fb.Fit(xs, ys); err == nil {
			sp.pred = &fb
			return sp
		}
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil
	}
	sp.pred = &pl
	return sp
}

func (s *spline) at(x float64) (float64, bool) {
	if s == nil || x < s.lo || x > s.hi {
		return 0, false
	}
	if s.pred == nil {
		return s.single, true
	}
	return s.pred.Predict(x), true
}
