package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultMaxIterations = 1000
	defaultTolerance     = 1e-8
	maxLambda            = 1e16
)

// LevenbergMarquardt is the gradient-based least-squares backend. The
// Jacobian is a forward finite difference in internal coordinates; steps
// solve the damped normal equations (JᵀJ + λ·diag(JᵀJ))δ = Jᵀr.
type LevenbergMarquardt struct {
	MaxIterations int
	// Tolerance on the relative cost decrease and on the relative step.
	Tolerance     float64
	InitialLambda float64
}

func (o *LevenbergMarquardt) Name() string { return BackendLM }

// Minimize runs damped Gauss-Newton iterations until the relative cost
// decrease or step falls below Tolerance, λ grows past any useful size,
// or the iteration budget runs out.
//
// Purpose: Default fit backend.
// Key aspects: Cancellation is checked before every iteration and returns
// the best point so far. Uncertainties come from (JᵀJ)⁻¹·C/(m−n) at the
// solution, mapped back through the bound transforms.
// Upstream: Session.Run.
// Downstream: fd.Jacobian, mat.Cholesky.
func (o *LevenbergMarquardt) Minimize(ctx context.Context, p Problem, progress func(Progress)) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}
	n, m := len(p.X0), p.M
	tr, err := newTransform(p.Lower, p.Upper, n)
	if err != nil {
		return Result{}, err
	}
	maxIter := o.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	tol := o.Tolerance
	if tol <= 0 {
		tol = defaultTolerance
	}
	lambda := o.InitialLambda
	if lambda <= 0 {
		lambda = 1e-3
	}

	var evalErr error
	f := residualFunc(p, tr, &evalErr)
	evals := 0
	eval := func(dst, u []float64) {
		evals++
		f(dst, u)
	}

	u := tr.toInternal(p.X0)
	r := make([]float64, m)
	eval(r, u)
	if evalErr != nil {
		return Result{}, fmt.Errorf("fit: initial evaluation: %w", evalErr)
	}
	cost := floats.Dot(r, r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return Result{}, errors.New("fit: objective is not finite at the starting point")
	}

	var (
		jac    = mat.NewDense(m, n, nil)
		jtj    = mat.NewSymDense(n, nil)
		damped = mat.NewSymDense(n, nil)
		grad   = mat.NewVecDense(n, nil)
		step   = mat.NewVecDense(n, nil)
		chol   mat.Cholesky
		trial  = make([]float64, n)
		rTrial = make([]float64, m)
	)
	result := func(iter int, converged bool, status string) Result {
		x := make([]float64, n)
		tr.toExternal(x, u)
		return Result{X: x, Cost: cost, Iterations: iter, Evaluations: evals, Converged: converged, Status: status}
	}
	jacobian := func() {
		fd.Jacobian(jac, eval, u, &fd.JacobianSettings{Formula: fd.Forward, OriginValue: r})
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(m, r))
	}

	iter := 0
	converged := false
	status := "iteration limit reached"
	for iter < maxIter && !converged {
		if err := ctx.Err(); err != nil {
			return result(iter, false, "cancelled"), err
		}
		if cost == 0 {
			converged, status = true, "exact fit"
			break
		}
		iter++
		jacobian()
		if evalErr != nil {
			return result(iter, false, "evaluation failed"), fmt.Errorf("fit: jacobian: %w", evalErr)
		}

		improved := false
		for lambda < maxLambda {
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					damped.SetSym(i, j, jtj.At(i, j))
				}
				d := jtj.At(i, i)
				if d <= 0 {
					d = 1
				}
				damped.SetSym(i, i, jtj.At(i, i)+lambda*d)
			}
			if !chol.Factorize(damped) {
				lambda *= 10
				continue
			}
			if err := chol.SolveVecTo(step, grad); err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) {
					lambda *= 10
					continue
				}
			}
			for i := range trial {
				trial[i] = u[i] - step.AtVec(i)
			}
			eval(rTrial, trial)
			if evalErr != nil {
				return result(iter, false, "evaluation failed"), fmt.Errorf("fit: trial step: %w", evalErr)
			}
			trialCost := floats.Dot(rTrial, rTrial)
			if trialCost < cost {
				decrease := (cost - trialCost) / cost
				stepNorm := floats.Norm(step.RawVector().Data, 2)
				small := stepNorm <= tol*(floats.Norm(u, 2)+tol)
				copy(u, trial)
				copy(r, rTrial)
				cost = trialCost
				lambda = math.Max(lambda/10, 1e-12)
				improved = true
				if decrease <= tol || small {
					converged, status = true, "relative change below tolerance"
				}
				break
			}
			lambda *= 10
		}
		if progress != nil {
			progress(Progress{Iteration: iter, MaxIterations: maxIter, Evaluations: evals, Cost: cost})
		}
		if !improved {
			// No damping lowers the cost: the point is a local minimum to
			// within the finite-difference resolution.
			converged, status = true, "no further improvement"
		}
	}

	res := result(iter, converged, status)
	res.Errors = o.uncertainties(jacobian, jtj, tr, u, cost, m, n, &evalErr)
	return res, nil
}

func (o *LevenbergMarquardt) uncertainties(jacobian func(), jtj *mat.SymDense, tr transform, u []float64, cost float64, m, n int, evalErr *error) []float64 {
	if m <= n {
		return nil
	}
	jacobian()
	if *evalErr != nil {
		return nil
	}
	var chol mat.Cholesky
	if !chol.Factorize(jtj) {
		return nil
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil
		}
	}
	scale := cost / float64(m-n)
	sigma := make([]float64, n)
	for i := range sigma {
		v := cov.At(i, i) * scale
		if v < 0 || math.IsNaN(v) {
			return nil
		}
		sigma[i] = math.Sqrt(v)
	}
	return tr.errors(u, sigma)
}
