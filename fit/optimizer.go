// Package fit adjusts simulation parameters to minimize weighted residuals
// against an experimental spectrum. Two interchangeable backends implement
// the Optimizer contract: a Levenberg-Marquardt least-squares solver and a
// Minuit-style quasi-Newton minimizer.
package fit

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Problem is a bounded least-squares problem. Residuals fills dst, of
// length M, for the external parameter values in x; the objective is the
// sum of squares. Lower and Upper may hold ±Inf for open sides.
type Problem struct {
	Residuals func(dst, x []float64) error
	M         int
	X0        []float64
	Lower     []float64
	Upper     []float64
}

func (p Problem) validate() error {
	if p.Residuals == nil {
		return errors.New("fit: problem has no residual function")
	}
	if len(p.X0) == 0 {
		return errors.New("fit: problem has no free parameters")
	}
	if p.M < 1 {
		return fmt.Errorf("fit: problem has %d residuals", p.M)
	}
	return nil
}

// Result is the outcome of one minimization. X is in external space.
// Errors is nil when the curvature matrix could not be inverted.
type Result struct {
	X           []float64
	Errors      []float64
	Cost        float64
	Iterations  int
	Evaluations int
	Converged   bool
	Status      string
}

// Progress is reported once per iteration.
type Progress struct {
	Iteration     int
	MaxIterations int
	Evaluations   int
	Cost          float64
}

// Percent is the share of the iteration budget used, 0..100.
func (p Progress) Percent() float64 {
	if p.MaxIterations <= 0 {
		return 0
	}
	pct := 100 * float64(p.Iteration) / float64(p.MaxIterations)
	if pct > 100 {
		return 100
	}
	return pct
}

// Optimizer minimizes a Problem. Implementations check ctx between
// iterations; on cancellation they return the best point so far together
// with ctx.Err().
type Optimizer interface {
	Name() string
	Minimize(ctx context.Context, p Problem, progress func(Progress)) (Result, error)
}

// Backend names accepted by NewOptimizer.
const (
	BackendLM     = "lm"
	BackendMigrad = "migrad"
)

// NewOptimizer returns the backend registered under name.
func NewOptimizer(name string, maxIterations int, tolerance float64) (Optimizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendLM, "lmfit", "levenberg-marquardt":
		return &LevenbergMarquardt{MaxIterations: maxIterations, Tolerance: tolerance}, nil
	case BackendMigrad, "minuit":
		return &Migrad{MaxIterations: maxIterations, Tolerance: tolerance}, nil
	default:
		return nil, fmt.Errorf("fit: unknown backend %q (want %s or %s)", name, BackendLM, BackendMigrad)
	}
}

// residualFunc adapts a Problem to internal coordinates. The first error
// raised by Residuals is kept in *errp and later calls are skipped.
func residualFunc(p Problem, tr transform, errp *error) func(dst, u []float64) {
	x := make([]float64, len(tr))
	return func(dst, u []float64) {
		if *errp != nil {
			for i := range dst {
				dst[i] = 0
			}
			return
		}
		tr.toExternal(x, u)
		if err := p.Residuals(dst, x); err != nil {
			*errp = err
		}
	}
}
