package simulation

import (
	"errors"
	"fmt"
)

// Normalizer is the scale that brings the simulated maximum to the
// reference maximum above the offset y0. A non-positive simulated maximum
// gives 0.
func Normalizer(y0, referenceMax, simulatedMax float64) float64 {
	if simulatedMax <= 0 {
		return 0
	}
	return (referenceMax - y0) / simulatedMax
}

// Resample evaluates the simulated curve at the given energies by linear
// interpolation, holding the end values outside the grid.
func Resample(grid, sim, at []float64) ([]float64, error) {
	if len(grid) != len(sim) {
		return nil, fmt.Errorf("simulation: grid has %d points but curve %d", len(grid), len(sim))
	}
	c, err := newCurve(grid, sim)
	if err != nil {
		return nil, fmt.Errorf("simulation: resample: %w", err)
	}
	out := make([]float64, len(at))
	for i, x := range at {
		out[i] = c.at(x)
	}
	return out, nil
}

// CalculateResidues returns (y_exp - y_sim)/sigma at every experimental
// point. A zero sigma weighs the point as 1.
func CalculateResidues(grid, sim []float64, exp *Experiment) ([]float64, error) {
	if exp == nil || exp.Len() == 0 {
		return nil, errors.New("simulation: residuals need an experimental spectrum")
	}
	ys, err := Resample(grid, sim, exp.X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(ys))
	for i := range ys {
		sigma := exp.Sigma[i]
		if sigma == 0 {
			sigma = 1
		}
		out[i] = (exp.Y[i] - ys[i]) / sigma
	}
	return out, nil
}
