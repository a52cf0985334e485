package fit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"spectrasim/internal/ratelimit"
	"spectrasim/shake"
	"spectrasim/simulation"
	"spectrasim/stats"
)

// Phase is the state of a Session.
type Phase int32

const (
	Idle Phase = iota
	Running
	Converged
	Failed
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Converged:
		return "converged"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// ErrBusy is returned when Run is called while another fit is running.
var ErrBusy = errors.New("fit: a fit is already running")

// DefaultPenaltyWeight scales violated shake ordering relations into
// residual units.
const DefaultPenaltyWeight = 1e4

// Options configure a Session.
type Options struct {
	Optimizer        Optimizer
	ProgressInterval time.Duration
	PenaltyWeight    float64
	Stats            *stats.Tracker
	Logf             func(string, ...any)
}

// Outcome is the record of one converged fit.
type Outcome struct {
	Params []Param
	// Free is the number of varied parameters.
	Free             int
	Fit              Result
	Simulation       *simulation.Result
	ReducedChiSquare float64
}

// Value returns the fitted value of a named parameter.
func (o *Outcome) Value(name string) (float64, bool) {
	for _, p := range o.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return 0, false
}

// Session runs fits one at a time and owns the last published simulation.
//
// Purpose: Host-facing fit state machine.
// Key aspects: Idle → Running → {Converged, Failed, Cancelled}. The
// published result only changes after the final evaluation of a converged
// fit, so a failed or cancelled run leaves it untouched.
// Upstream: CLI.
// Downstream: Optimizer, simulation.Plan.Evaluate.
type Session struct {
	opts Options
	logf func(string, ...any)

	mu     sync.Mutex
	phase  Phase
	cancel context.CancelFunc

	published atomic.Pointer[simulation.Result]
	outcome   atomic.Pointer[Outcome]
}

// NewSession applies defaults: the LM backend, a 250ms progress interval
// and log.Printf.
func NewSession(opts Options) *Session {
	if opts.Optimizer == nil {
		opts.Optimizer = &LevenbergMarquardt{}
	}
	if opts.ProgressInterval == 0 {
		opts.ProgressInterval = 250 * time.Millisecond
	}
	if opts.PenaltyWeight <= 0 {
		opts.PenaltyWeight = DefaultPenaltyWeight
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Session{opts: opts, logf: logf}
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Publish stores a completed simulation as the last good result.
func (s *Session) Publish(res *simulation.Result) {
	if res != nil {
		s.published.Store(res)
	}
}

// Published is the last good simulation, or nil.
func (s *Session) Published() *simulation.Result {
	return s.published.Load()
}

// Outcome is the last converged fit, or nil.
func (s *Session) Outcome() *Outcome {
	return s.outcome.Load()
}

// Cancel asks a running fit to stop at its next iteration.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == Running {
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	s.phase = Running
	s.cancel = cancel
	return ctx, nil
}

func (s *Session) finish(phase Phase) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.phase = phase
	s.mu.Unlock()
	if phase != Running {
		s.opts.Stats.IncrementFitOutcome(phase.String())
	}
}

// problem builds the least-squares problem of one run: weighted residuals
// followed by one penalty residual per shake ordering relation.
func (s *Session) problem(pl *simulation.Plan, layout *Layout, relations []shake.Relation, evals *atomic.Int64) Problem {
	base := pl.Params().Vary
	exp := pl.Experiment()
	tables := pl.Context().Shake()
	x0, lo, hi := layout.problemVectors()
	weight := s.opts.PenaltyWeight
	return Problem{
		M:     exp.Len() + len(relations),
		X0:    x0,
		Lower: lo,
		Upper: hi,
		Residuals: func(dst, x []float64) error {
			evals.Add(1)
			v := layout.Apply(base, layout.values(x))
			res, err := pl.Evaluate(v)
			if err != nil {
				return err
			}
			n := copy(dst, res.Residuals)
			for k, rel := range relations {
				r := 0.0
				if slack := tables.Slack(rel, v.Amplitudes); slack < 0 {
					r = -slack * weight
				}
				dst[n+k] = r
			}
			return nil
		},
	}
}

// freeRelations keeps the ordering relations that involve at least one
// varied amplitude.
func freeRelations(all []shake.Relation, layout *Layout) []shake.Relation {
	var out []shake.Relation
	for _, rel := range all {
		hi, okHi := layout.Get(ampName(rel.Hi))
		lo, okLo := layout.Get(ampName(rel.Lo))
		if (okHi && !hi.Fixed) || (okLo && !lo.Fixed) {
			out = append(out, rel)
		}
	}
	return out
}

// Run fits the free parameters of layout against the plan's experiment.
// layout is not modified; the fitted values are in the returned Outcome.
func (s *Session) Run(ctx context.Context, pl *simulation.Plan, layout *Layout, progress func(Progress)) (*Outcome, error) {
	if pl == nil || layout == nil {
		return nil, errors.New("fit: run needs a prepared plan and a parameter layout")
	}
	if pl.Experiment() == nil {
		return nil, &simulation.MissingPrerequisiteError{Option: "fit", Needs: "an experimental spectrum"}
	}
	lay := layout.clone()
	if len(lay.Free()) == 0 {
		return nil, errors.New("fit: no free parameters")
	}

	runCtx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	relations := freeRelations(pl.Context().Shake().Relations(), lay)
	var evals atomic.Int64
	prob := s.problem(pl, lay, relations, &evals)
	gate := ratelimit.NewGate(s.opts.ProgressInterval)
	opt := s.opts.Optimizer
	s.logf("fit: %s starting: %d free parameters, %d points, %d ordering constraints",
		opt.Name(), len(prob.X0), pl.Experiment().Len(), len(relations))

	res, err := opt.Minimize(runCtx, prob, func(p Progress) {
		if _, ok := gate.Tick(); !ok {
			return
		}
		if progress != nil {
			progress(p)
		}
	})
	s.opts.Stats.AddEvaluations(int(evals.Load()))
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		s.finish(Cancelled)
		s.logf("fit: %s cancelled after %d iterations", opt.Name(), res.Iterations)
		return nil, err
	case err != nil:
		s.finish(Failed)
		return nil, err
	case !res.Converged:
		s.finish(Failed)
		return nil, fmt.Errorf("fit: %s did not converge: %s", opt.Name(), res.Status)
	}

	lay.update(res.X, res.Errors)
	final, err := pl.Evaluate(lay.Apply(pl.Params().Vary, lay.values(res.X)))
	if err != nil {
		s.finish(Failed)
		return nil, fmt.Errorf("fit: final evaluation: %w", err)
	}
	if err := runCtx.Err(); err != nil {
		s.finish(Cancelled)
		return nil, err
	}
	out := &Outcome{
		Params:           lay.Params(),
		Free:             len(res.X),
		Fit:              res,
		Simulation:       final,
		ReducedChiSquare: final.ReducedChiSquare(len(res.X)),
	}
	s.published.Store(final)
	s.outcome.Store(out)
	s.finish(Converged)
	s.logf("fit: %s converged in %d iterations (%s): chi2=%.6g reduced=%.6g",
		opt.Name(), res.Iterations, res.Status, final.ChiSquare, out.ReducedChiSquare)
	return out, nil
}
