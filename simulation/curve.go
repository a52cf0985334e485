package simulation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// curve is a tabulated function evaluated by linear interpolation and held
// at its end values outside the tabulated range.
type curve struct {
	lo, hi   float64
	loV, hiV float64
	pl       *interp.PiecewiseLinear
}

func newCurve(xs, ys []float64) (*curve, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("curve: %d energies but %d values", len(xs), len(ys))
	}
	if len(xs) == 0 {
		return nil, errors.New("curve: no points")
	}
	idx := make([]int, len(xs))
	for i := range idx {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			return nil, fmt.Errorf("curve: NaN at point %d", i)
		}
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })
	sx := make([]float64, len(xs))
	sy := make([]float64, len(xs))
	for i, j := range idx {
		sx[i], sy[i] = xs[j], ys[j]
		if i > 0 && sx[i] == sx[i-1] {
			return nil, fmt.Errorf("curve: duplicate energy %v", sx[i])
		}
	}
	c := &curve{lo: sx[0], hi: sx[len(sx)-1], loV: sy[0], hiV: sy[len(sy)-1]}
	if len(sx) == 1 {
		return c, nil
	}
	c.pl = &interp.PiecewiseLinear{}
	if err := c.pl.Fit(sx, sy); err != nil {
		return nil, fmt.Errorf("curve: %w", err)
	}
	return c, nil
}

func (c *curve) at(x float64) float64 {
	switch {
	case x <= c.lo:
		return c.loV
	case x >= c.hi:
		return c.hiV
	default:
		return c.pl.Predict(x)
	}
}

// Efficiency is a detector efficiency curve.
type Efficiency struct {
	c *curve
}

// NewEfficiency builds an efficiency curve from (energy, efficiency) pairs.
func NewEfficiency(energies, values []float64) (*Efficiency, error) {
	c, err := newCurve(energies, values)
	if err != nil {
		return nil, fmt.Errorf("simulation: efficiency %w", err)
	}
	return &Efficiency{c: c}, nil
}

// At is the efficiency at energy, using the nearest end value outside the
// measured range.
func (e *Efficiency) At(energy float64) float64 {
	if e == nil {
		return 1
	}
	return e.c.at(energy)
}

// Weights evaluates the curve on every grid point; nil curves give nil.
func (e *Efficiency) Weights(grid []float64) []float64 {
	if e == nil {
		return nil
	}
	out := make([]float64, len(grid))
	for i, x := range grid {
		out[i] = e.c.at(x)
	}
	return out
}
