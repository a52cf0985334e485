package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"spectrasim/config"
	"spectrasim/fit"
	"spectrasim/rates"
	"spectrasim/ratestore"
	"spectrasim/shake"
	"spectrasim/simulation"
	"spectrasim/spectrumio"
	"spectrasim/sqliteutil"
	"spectrasim/stats"

	"github.com/dustin/go-humanize"
)

// runner performs one invocation: load, simulate, optionally fit, write.
type runner struct {
	cfg     config.Config
	opts    cliOptions
	stdout  io.Writer
	status  *statusLine
	tracker *stats.Tracker
	logf    func(string, ...any)
	// optimizer replaces the configured fit backend when set.
	optimizer fit.Optimizer
}

func (r *runner) run(ctx context.Context) error {
	if r.cfg.Database.CheckOnStart || r.opts.check {
		if err := r.preflight(); err != nil {
			return err
		}
		if r.opts.check {
			return nil
		}
	}

	c, name, err := r.loadContext(ctx)
	if err != nil {
		return err
	}
	if r.opts.list {
		return r.listTransitions(c, name)
	}

	params, err := r.cfg.Spectrum.Params()
	if err != nil {
		return err
	}
	overrides, err := r.cfg.Spectrum.Amplitudes()
	if err != nil {
		return err
	}
	if params.Amplitudes, err = c.Shake().NewAmplitudes(overrides); err != nil {
		return err
	}

	exp, eff, err := r.readInputs()
	if err != nil {
		return err
	}
	sel, err := r.selection(c, exp)
	if err != nil {
		return err
	}

	if r.cfg.Output.Sticks != "" {
		if err := r.writeSticks(c, sel, params); err != nil {
			return err
		}
	}

	plan, err := simulation.Prepare(c, sel, params, exp, eff)
	if err != nil {
		return err
	}
	r.tracker.IncrementSimulations()

	res, err := plan.Evaluate(params.Vary)
	if err != nil {
		return err
	}
	r.tracker.AddEvaluations(1)
	r.noteReport(res.Report)

	if r.cfg.Fit.Enabled {
		if res, err = r.fit(ctx, plan, res); err != nil {
			return err
		}
	}

	r.summarize(res, plan)
	if r.cfg.Output.Path != "" {
		if err := spectrumio.WriteFile(r.cfg.Output.Path, func(w io.Writer) error {
			return spectrumio.WriteResult(w, res)
		}); err != nil {
			return err
		}
		r.logf("Output: wrote %s points to %s (%s)", humanize.Comma(int64(len(res.Grid))), r.cfg.Output.Path, fileSize(r.cfg.Output.Path))
	}
	return nil
}

// Purpose: Check the rate database before loading it.
// Key aspects: Missing tables and failed integrity checks are fatal; the
// file is never modified.
// Upstream: run.
// Downstream: sqliteutil.Preflight.
func (r *runner) preflight() error {
	timeout := time.Duration(r.cfg.Database.BusyTimeoutMS) * time.Millisecond
	res, err := sqliteutil.Preflight(r.cfg.Database.Path, ratestore.RequiredTables, timeout, r.logf)
	if err != nil {
		return err
	}
	if !res.Healthy {
		if len(res.Missing) > 0 {
			return fmt.Errorf("rate db %s is missing tables: %s", r.cfg.Database.Path, strings.Join(res.Missing, ", "))
		}
		return fmt.Errorf("rate db %s failed its integrity check: %w", r.cfg.Database.Path, res.CheckError)
	}
	r.logf("Rate DB: %s healthy (%d tables, %s)", r.cfg.Database.Path, res.Tables, res.Elapsed.Round(time.Millisecond))
	return nil
}

func (r *runner) loadContext(ctx context.Context) (*simulation.Context, string, error) {
	store, err := ratestore.Open(r.cfg.Database.Path, ratestore.Options{
		BusyTimeout: time.Duration(r.cfg.Database.BusyTimeoutMS) * time.Millisecond,
		Logf:        r.logf,
	})
	if err != nil {
		return nil, "", err
	}
	defer store.Close()
	start := time.Now()
	d, err := store.Load(ctx)
	if err != nil {
		return nil, "", err
	}
	in, err := d.ContextInput(&shake.Cache{}, r.logf)
	if err != nil {
		return nil, "", err
	}
	c, err := simulation.NewContext(in)
	if err != nil {
		return nil, "", err
	}
	r.logf("Rate DB: loaded %s: %s lines, %d radiative and %d Auger transitions (%s)",
		d.Name, humanize.Comma(int64(len(d.Lines))), len(d.Radiative), len(d.Auger),
		time.Since(start).Round(time.Millisecond))
	return c, d.Name, nil
}

func (r *runner) listTransitions(c *simulation.Context, name string) error {
	tw := tabwriter.NewWriter(r.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "# %s\n", name)
	fmt.Fprintln(tw, "NAME\tKIND\tLEVELS\tDEFAULT")
	write := func(list []rates.Transition, kind string) {
		for _, tr := range list {
			levels := tr.Low + "-" + tr.High
			if tr.IsAuger() {
				levels += "-" + tr.Auger
			}
			def := ""
			if tr.Selected {
				def = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tr.Name, kind, levels, def)
		}
	}
	write(c.Catalog().Radiative(), "radiative")
	write(c.Catalog().Auger(), "auger")
	return tw.Flush()
}

func (r *runner) readInputs() (*simulation.Experiment, *simulation.Efficiency, error) {
	var (
		exp *simulation.Experiment
		eff *simulation.Efficiency
		err error
	)
	if path := r.cfg.Experiment.Path; path != "" {
		if exp, err = spectrumio.ReadExperiment(path); err != nil {
			return nil, nil, err
		}
		lo, hi := exp.Span()
		r.logf("Experiment: %s points from %s (%.6g to %.6g)", humanize.Comma(int64(exp.Len())), path, lo, hi)
	}
	if path := r.cfg.Experiment.Efficiency; path != "" {
		if eff, err = spectrumio.ReadEfficiency(path); err != nil {
			return nil, nil, err
		}
		r.logf("Efficiency: loaded %s", path)
	}
	return exp, eff, nil
}

// Purpose: Decide which transitions to simulate.
// Key aspects: Experiment-window selection first, then named transitions,
// then the catalog defaults. A window selection without an experiment and
// unknown names are logged as warnings; the rest still run.
// Upstream: run.
// Downstream: Context.SelectWithin, Catalog.Resolve.
func (r *runner) selection(c *simulation.Context, exp *simulation.Experiment) (rates.SelectionSet, error) {
	if r.cfg.Spectrum.WithinExperiment {
		if exp != nil {
			sel := c.SelectWithin(exp)
			r.logf("Selection: %d transitions inside the experimental window", sel.Len())
			return sel, nil
		}
		r.logf("Selection: %v", &simulation.MissingPrerequisiteError{Option: "within_experiment", Needs: "an experimental spectrum"})
		r.tracker.AddWarnings(1)
	}
	names := r.cfg.Spectrum.Selection()
	if len(names) == 0 {
		return c.Catalog().DefaultSelection(), nil
	}
	sel, err := c.Catalog().Resolve(names)
	if err != nil {
		var unknown *rates.UnknownTransitionError
		for _, e := range unwrapJoined(err) {
			if errors.As(e, &unknown) {
				r.tracker.IncrementBadSelection(unknown.Name)
			}
			r.logf("Selection: %v", e)
		}
		r.tracker.AddWarnings(len(unwrapJoined(err)))
	}
	return sel, nil
}

func unwrapJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func (r *runner) writeSticks(c *simulation.Context, sel rates.SelectionSet, params simulation.Params) error {
	// The stick report repeats the selection issues of the simulation
	// that follows; only the simulation's report is logged.
	series, _, err := simulation.Sticks(c, sel, params)
	if err != nil {
		return err
	}
	lines := 0
	for _, s := range series {
		lines += len(s.Energies)
	}
	if err := spectrumio.WriteFile(r.cfg.Output.Sticks, func(w io.Writer) error {
		return spectrumio.WriteSticks(w, series)
	}); err != nil {
		return err
	}
	r.logf("Output: wrote %s sticks to %s (%s)", humanize.Comma(int64(lines)), r.cfg.Output.Sticks, fileSize(r.cfg.Output.Sticks))
	return nil
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "size unknown"
	}
	return humanize.Bytes(uint64(info.Size()))
}

func (r *runner) noteReport(rep simulation.Report) {
	warnings := rep.Warnings()
	r.tracker.AddWarnings(len(warnings))
	for _, issue := range rep.Issues {
		var nd *simulation.NoDataError
		if errors.As(issue, &nd) {
			for _, name := range nd.Transitions {
				r.tracker.IncrementBadSelection(name)
			}
		}
	}
	for _, w := range warnings {
		r.logf("Simulation: %s", w)
	}
}

// Purpose: Fit the plan to its experiment and return the fitted result.
// Key aspects: The initial evaluation is published first; a cancelled or
// failed fit, or one without an experiment, logs a warning and returns the
// last published result so the output is still written. Only bad fit
// settings are errors. Progress goes to the terminal status line when there
// is one, otherwise to the log.
// Upstream: run.
// Downstream: fit.Session.Run.
func (r *runner) fit(ctx context.Context, plan *simulation.Plan, initial *simulation.Result) (*simulation.Result, error) {
	opt := r.optimizer
	if opt == nil {
		var err error
		if opt, err = r.cfg.Fit.Optimizer(); err != nil {
			return nil, err
		}
	}
	layout := fit.NewLayout(plan.Params().Vary, plan.Context().Shake().Channels())
	if err := r.cfg.Fit.ApplyTo(layout); err != nil {
		return nil, err
	}

	session := fit.NewSession(fit.Options{
		Optimizer:        opt,
		ProgressInterval: time.Duration(r.cfg.Fit.ProgressIntervalMS) * time.Millisecond,
		PenaltyWeight:    r.cfg.Fit.PenaltyWeight,
		Stats:            r.tracker,
		Logf:             r.logf,
	})
	session.Publish(initial)

	out, err := session.Run(ctx, plan, layout, func(p fit.Progress) {
		line := fmt.Sprintf("Fit %s: iteration %d/%d (%.0f%%), %s evaluations, cost %.6g",
			opt.Name(), p.Iteration, p.MaxIterations, p.Percent(), humanize.Comma(int64(p.Evaluations)), p.Cost)
		if r.status.Enabled() {
			r.status.Set(line)
			return
		}
		r.logf("%s", line)
	})
	r.status.Clear()
	if err != nil {
		if session.Phase() == fit.Cancelled {
			r.logf("Fit: cancelled; keeping the last published result")
			return session.Published(), nil
		}
		r.logf("Fit: %v; keeping the last published result", err)
		r.tracker.AddWarnings(1)
		if last := session.Published(); last != nil {
			return last, nil
		}
		return initial, nil
	}
	r.printParams(out)
	return out.Simulation, nil
}

func (r *runner) printParams(out *fit.Outcome) {
	tw := tabwriter.NewWriter(r.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAMETER\tVALUE\tERROR\t")
	for _, p := range out.Params {
		errText := "fixed"
		if !p.Fixed {
			errText = fmt.Sprintf("%.4g", p.Error)
		}
		fmt.Fprintf(tw, "%s\t%.8g\t%s\t\n", p.Name, p.Value, errText)
	}
	_ = tw.Flush()
	fmt.Fprintf(r.stdout, "reduced chi2: %.6g (%d free, %s iterations, %s)\n",
		out.ReducedChiSquare, out.Free, humanize.Comma(int64(out.Fit.Iterations)), out.Fit.Status)
}

func (r *runner) summarize(res *simulation.Result, plan *simulation.Plan) {
	if len(res.Grid) == 0 {
		return
	}
	r.logf("Simulation: %s grid points from %.6g to %.6g, %d/%d transitions usable",
		humanize.Comma(int64(len(res.Grid))), res.Grid[0], res.Grid[len(res.Grid)-1],
		res.Report.Selected-res.Report.Bad, res.Report.Selected)
	if plan.Experiment() != nil {
		r.logf("Simulation: chi2 %.6g, scale %.6g", res.ChiSquare, res.Scale)
	}
	if res.AvgTotalShake > 0 {
		r.logf("Simulation: average total shake probability %.4g", res.AvgTotalShake)
	}
}
