package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Migrad is the Minuit-style backend: a quasi-Newton (BFGS) minimization
// of the χ² sum with a central-difference gradient, followed by a
// finite-difference Hessian for the parameter errors.
type Migrad struct {
	MaxIterations int
	// Tolerance on the relative change of the best cost.
	Tolerance float64
}

func (o *Migrad) Name() string { return BackendMigrad }

// progressRecorder forwards major iterations to the progress callback and
// aborts the run once ctx is done.
type progressRecorder struct {
	ctx      context.Context
	max      int
	progress func(Progress)
}

func (r *progressRecorder) Init() error { return r.ctx.Err() }

func (r *progressRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if op == optimize.MajorIteration && r.progress != nil {
		r.progress(Progress{
			Iteration:     stats.MajorIterations,
			MaxIterations: r.max,
			Evaluations:   stats.FuncEvaluations + stats.GradEvaluations,
			Cost:          loc.F,
		})
	}
	return nil
}

// Minimize runs BFGS in internal coordinates.
func (o *Migrad) Minimize(ctx context.Context, p Problem, progress func(Progress)) (Result, error) {
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

	var evalErr error
	f := residualFunc(p, tr, &evalErr)
	r := make([]float64, m)
	evals := 0
	cost := func(u []float64) float64 {
		evals++
		f(r, u)
		if evalErr != nil {
			return math.Inf(1)
		}
		c := floats.Dot(r, r)
		if math.IsNaN(c) {
			return math.Inf(1)
		}
		return c
	}
	u0 := tr.toInternal(p.X0)
	if c := cost(u0); math.IsInf(c, 1) {
		if evalErr != nil {
			return Result{}, fmt.Errorf("fit: initial evaluation: %w", evalErr)
		}
		return Result{}, errors.New("fit: objective is not finite at the starting point")
	}

	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, u []float64) {
			fd.Gradient(grad, cost, u, &fd.Settings{Formula: fd.Central})
		},
	}
	settings := &optimize.Settings{
		MajorIterations: maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   tol,
			Iterations: 5,
		},
		Recorder: &progressRecorder{ctx: ctx, max: maxIter, progress: progress},
	}
	out, runErr := optimize.Minimize(problem, u0, settings, &optimize.BFGS{})

	u := u0
	res := Result{Evaluations: evals, Status: "failed"}
	if out != nil {
		if len(out.X) == n && !math.IsInf(out.F, 1) {
			u = out.X
		}
		res.Iterations = out.MajorIterations
		res.Status = out.Status.String()
	}
	res.X = make([]float64, n)
	tr.toExternal(res.X, u)
	res.Cost = cost(u)
	res.Evaluations = evals

	if err := ctx.Err(); err != nil {
		res.Status = "cancelled"
		return res, err
	}
	if evalErr != nil {
		return res, fmt.Errorf("fit: evaluation: %w", evalErr)
	}
	if runErr != nil && !stalled(runErr) {
		return res, fmt.Errorf("fit: migrad: %w", runErr)
	}
	hess, hessOK := hessianAt(cost, u)
	switch {
	case runErr != nil:
		// A stalled line search is accepted only at a minimum to within the
		// gradient resolution: positive-definite curvature and a small
		// estimated distance to the minimum.
		edm, ok := estimatedDistance(cost, u, hess, hessOK)
		res.Evaluations = evals
		if !ok || edm > stallEDM {
			res.Status = fmt.Sprintf("line search stalled (edm %.3g)", edm)
			return res, nil
		}
		res.Converged = true
		res.Status = "line search stalled"
	default:
		switch out.Status {
		case optimize.Success, optimize.FunctionThreshold, optimize.FunctionConvergence,
			optimize.GradientThreshold, optimize.StepConvergence, optimize.MethodConverge:
			res.Converged = true
		}
	}
	res.Errors = uncertainties(hess, hessOK, tr, u)
	res.Evaluations = evals
	return res, nil
}

// stallEDM bounds the estimated distance to the minimum, in χ² units, below
// which a stalled line search counts as converged. It matches Minuit's
// 0.002·tolerance·up with the default tolerance 0.1 and up = 1.
const stallEDM = 2e-4

func stalled(err error) bool {
	return errors.Is(err, optimize.ErrNoProgress) ||
		errors.Is(err, optimize.ErrLinesearcherFailure) ||
		errors.Is(err, optimize.ErrNonDescentDirection)
}

// hessianAt factorizes the central-difference χ² Hessian at u; ok is false
// when it is not positive definite.
func hessianAt(cost func([]float64) float64, u []float64) (*mat.Cholesky, bool) {
	var hess mat.SymDense
	fd.Hessian(&hess, cost, u, &fd.Settings{Formula: fd.Central})
	var chol mat.Cholesky
	if !chol.Factorize(&hess) {
		return nil, false
	}
	return &chol, true
}

// estimatedDistance is Minuit's EDM, ½·gᵀH⁻¹g: the decrease in χ² still
// expected from a Newton step. ok is false without usable curvature.
func estimatedDistance(cost func([]float64) float64, u []float64, chol *mat.Cholesky, ok bool) (float64, bool) {
	grad := make([]float64, len(u))
	fd.Gradient(grad, cost, u, &fd.Settings{Formula: fd.Central})
	if !ok {
		return math.Inf(1), false
	}
	g := mat.NewVecDense(len(grad), grad)
	var step mat.VecDense
	if err := chol.SolveVecTo(&step, g); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return math.Inf(1), false
		}
	}
	edm := 0.5 * mat.Dot(g, &step)
	if math.IsNaN(edm) || edm < 0 {
		return math.Inf(1), false
	}
	return edm, true
}

// uncertainties inverts the χ² Hessian: cov = 2·H⁻¹ (error definition 1).
func uncertainties(chol *mat.Cholesky, ok bool, tr transform, u []float64) []float64 {
	if !ok {
		return nil
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil
		}
	}
	sigma := make([]float64, len(u))
	for i := range sigma {
		v := 2 * cov.At(i, i)
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		sigma[i] = math.Sqrt(v)
	}
	return tr.errors(u, sigma)
}
