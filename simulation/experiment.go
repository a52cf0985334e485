package simulation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Experiment is a measured spectrum sorted by energy.
type Experiment struct {
	X     []float64
	Y     []float64
	Sigma []float64
}

// NewExperiment copies and sorts the points. A nil sigma defaults to
// sqrt(|y|).
func NewExperiment(x, y, sigma []float64) (*Experiment, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("simulation: experiment has %d energies but %d intensities", len(x), len(y))
	}
	if sigma != nil && len(sigma) != len(x) {
		return nil, fmt.Errorf("simulation: experiment has %d points but %d uncertainties", len(x), len(sigma))
	}
	if len(x) < 2 {
		return nil, errors.New("simulation: experiment needs at least 2 points")
	}
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	e := &Experiment{
		X:     make([]float64, len(x)),
		Y:     make([]float64, len(x)),
		Sigma: make([]float64, len(x)),
	}
	for i, j := range idx {
		e.X[i] = x[j]
		e.Y[i] = y[j]
		if sigma != nil {
			e.Sigma[i] = sigma[j]
		} else {
			e.Sigma[i] = math.Sqrt(math.Abs(y[j]))
		}
	}
	return e, nil
}

// Crop keeps the points inside explicit limits; automatic limits keep
// everything. The receiver is not modified.
func (e *Experiment) Crop(xmin, xmax Bound) *Experiment {
	out := &Experiment{}
	for i, x := range e.X {
		if !xmin.Auto && x < xmin.Value {
			continue
		}
		if !xmax.Auto && x > xmax.Value {
			continue
		}
		out.X = append(out.X, x)
		out.Y = append(out.Y, e.Y[i])
		out.Sigma = append(out.Sigma, e.Sigma[i])
	}
	return out
}

// Span is the energy range of the points.
func (e *Experiment) Span() (lo, hi float64) {
	if len(e.X) == 0 {
		return 0, 0
	}
	return e.X[0], e.X[len(e.X)-1]
}

// MaxY is the largest intensity.
func (e *Experiment) MaxY() float64 {
	if len(e.Y) == 0 {
		return 0
	}
	return floats.Max(e.Y)
}

// Len is the number of points.
func (e *Experiment) Len() int {
	if e == nil {
		return 0
	}
	return len(e.X)
}
