package simulation

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"spectrasim/profile"
	"spectrasim/rates"
	"spectrasim/shake"
)

type planLine struct {
	group   int
	cat     rates.Category
	energy  float64
	width   float64
	base    float64
	twoJ    int
	channel shake.Channel
}

// Plan is a prepared simulation: transitions are filtered and base
// intensities computed once, so Evaluate only redoes the work that depends
// on fit parameters. A Plan is read-only and safe for concurrent use.
type Plan struct {
	ctx       *Context
	params    Params
	normalize NormalizeMode
	groups    []SeriesInfo
	lines     []planLine
	bounds    Bounds
	exp       *Experiment
	eff       *Efficiency
	report    Report
}

// Curve is one per-transition or per-channel array on the grid.
type Curve struct {
	Info SeriesInfo
	Y    []float64
}

// Result holds every array of one evaluation, aligned to Grid.
type Result struct {
	Grid       []float64
	Total      []float64
	Diagram    []float64
	Satellite  []float64
	ShakeOff   []float64
	ShakeUp    []float64
	Auger      []float64
	Series     []Curve
	Components [][]float64

	Scale         float64
	Residuals     []float64
	ChiSquare     float64
	AvgTotalShake float64
	Report        Report
}

// ReducedChiSquare divides χ² by the degrees of freedom left after free
// fit variables; it is 0 without residuals or freedom.
func (r *Result) ReducedChiSquare(free int) float64 {
	dof := len(r.Residuals) - free
	if dof <= 0 {
		return 0
	}
	return r.ChiSquare / float64(dof)
}

// Prepare runs the parameter-independent stages: filtering, aggregation of
// base intensities and bound computation.
//
// Purpose: Build the reusable half of a simulation.
// Key aspects: Fails only for "nothing selected" and "everything invalid";
// other problems are collected in the plan's Report.
// Upstream: Simulate, fit sessions, CLI.
// Downstream: Context.collect, ComputeBounds.
func Prepare(c *Context, sel rates.SelectionSet, p Params, exp *Experiment, eff *Efficiency) (*Plan, error) {
	if c == nil {
		return nil, errNoTables
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	pl := &Plan{ctx: c, params: p, normalize: p.Normalize, eff: eff}
	groups, err := c.collect(sel, p, p.Beam, p.BeamFWHM, &pl.report)
	if err != nil {
		return nil, err
	}

	in := IntensityInputs{
		Beam:         p.Beam,
		BeamFWHM:     p.BeamFWHM,
		CrossSection: c.CrossSectionFactor(p.Mechanism, p.Beam),
		Cascade:      p.Cascade,
	}
	var diagE, diagW, satE, satW [][]float64
	for gi, g := range groups {
		pl.groups = append(pl.groups, g.info)
		gin := in
		gin.Category = g.info.Category
		gin.Channel = g.info.Channel
		es := make([]float64, len(g.lines))
		ws := make([]float64, len(g.lines))
		for i, line := range g.lines {
			pl.lines = append(pl.lines, planLine{
				group:   gi,
				cat:     g.info.Category,
				energy:  line.Energy,
				width:   line.Width,
				base:    c.baseIntensity(line, gin),
				twoJ:    line.TwoJ,
				channel: satelliteChannel(line, gin),
			})
			es[i], ws[i] = line.Energy, line.Width
		}
		switch g.info.Category {
		case rates.Satellite, rates.ShakeUp:
			satE, satW = append(satE, es), append(satW, ws)
		default:
			diagE, diagW = append(diagE, es), append(diagW, ws)
		}
	}
	pl.bounds = Union(ComputeBounds(diagE, diagW, DiagramPadding), ComputeBounds(satE, satW, SatellitePadding))

	if exp != nil {
		cropped := exp.Crop(p.XMin, p.XMax)
		if cropped.Len() < 2 {
			pl.report.add(&InvalidSelectionError{Count: 1, Items: []string{fmt.Sprintf("bounds %v..%v leave no experimental points", p.XMin, p.XMax)}})
		} else {
			pl.exp = cropped
		}
	}
	if pl.normalize == NormalizeExpMax && pl.exp == nil {
		pl.report.add(&MissingPrerequisiteError{Option: "normalize=expmax", Needs: "an experimental spectrum"})
		pl.normalize = NormalizeNone
	}
	return pl, nil
}

// Simulate prepares and evaluates in one call.
func Simulate(c *Context, sel rates.SelectionSet, p Params, exp *Experiment, eff *Efficiency) (*Result, error) {
	pl, err := Prepare(c, sel, p, exp, eff)
	if err != nil {
		return nil, err
	}
	return pl.Evaluate(p.Vary)
}

func (pl *Plan) Params() Params { return pl.params }
func (pl *Plan) Experiment() *Experiment { return pl.exp }
func (pl *Plan) Context() *Context { return pl.ctx }
func (pl *Plan) Bounds() Bounds { return pl.bounds }
func (pl *Plan) Normalize() NormalizeMode { return pl.normalize }

// Report returns a copy of the preparation diagnostics.
func (pl *Plan) Report() Report {
	rep := pl.report
	rep.Issues = append([]error(nil), pl.report.Issues...)
	return rep
}

// Grid is the energy grid Evaluate would use for v.
func (pl *Plan) Grid(v Vary) ([]float64, bool) {
	shift := v.Offsets.GridShift()
	var lo, hi float64
	if pl.exp != nil {
		lo, hi = pl.exp.Span()
		lo, hi = lo+shift, hi+shift
	} else {
		lo, hi = ResolveUserBounds(pl.bounds, v.Resolution, pl.params.XMin, pl.params.XMax, shift)
	}
	degenerate := !(hi > lo)
	if degenerate {
		mid := (lo + hi) / 2
		lo, hi = mid-1, mid+1
	}
	return Linspace(lo, hi, pl.params.Points), degenerate
}

// Series returns the discrete content of every group for the amplitudes.
func (pl *Plan) Series(amps shake.Amplitudes, offsets Offsets) []Series {
	out := make([]Series, len(pl.groups))
	for i, info := range pl.groups {
		out[i].Info = info
	}
	depl := make(map[int]float64)
	for _, ln := range pl.lines {
		s := &out[ln.group]
		s.Energies = append(s.Energies, ln.energy+offsets.For(ln.cat))
		s.Intensities = append(s.Intensities, ln.base*pl.factor(ln, amps, depl))
		s.Widths = append(s.Widths, ln.width)
		s.TwoJ = append(s.TwoJ, ln.twoJ)
	}
	return out
}

func (pl *Plan) factor(ln planLine, amps shake.Amplitudes, depl map[int]float64) float64 {
	switch ln.cat {
	case rates.Satellite, rates.ShakeUp:
		return amps.Get(ln.channel)
	}
	f, ok := depl[ln.twoJ]
	if !ok {
		f = depletion(pl.ctx.shake.TotalShake(ln.twoJ, amps))
		depl[ln.twoJ] = f
	}
	return f
}

// Evaluate sums every line profile on a fresh grid for the values in v,
// adds extra components, normalizes and computes residuals.
//
// Purpose: Hot path of simulation and fitting.
// Key aspects: All arrays are allocated per call; nothing shared is
// patched, so concurrent evaluations and repeated calls are independent.
// Upstream: Simulate, fit objective.
// Downstream: profile.AddTo, Normalizer, CalculateResidues.
func (pl *Plan) Evaluate(v Vary) (*Result, error) {
	rep := pl.Report()
	grid, degenerate := pl.Grid(v)
	if degenerate {
		rep.add(&NumericDegeneracyError{Where: "grid bounds"})
	}
	n := len(grid)
	res := &Result{
		Grid:      grid,
		Total:     make([]float64, n),
		Diagram:   make([]float64, n),
		Satellite: make([]float64, n),
		ShakeOff:  make([]float64, n),
		ShakeUp:   make([]float64, n),
		Auger:     make([]float64, n),
		Series:    make([]Curve, len(pl.groups)),
	}
	for i, info := range pl.groups {
		res.Series[i] = Curve{Info: info, Y: make([]float64, n)}
	}

	weights := pl.eff.Weights(grid)
	resolution := v.Resolution
	if resolution < 0 {
		resolution = 0
	}
	depl := make(map[int]float64)
	clamped := false
	for _, ln := range pl.lines {
		intensity := ln.base * pl.factor(ln, v.Amplitudes, depl)
		if intensity == 0 {
			continue
		}
		if profile.Degenerate(resolution, ln.width) {
			clamped = true
		}
		profile.AddTo(res.Series[ln.group].Y, pl.params.Profile, grid, ln.energy+v.Offsets.For(ln.cat), intensity, resolution, ln.width, weights)
	}
	if clamped {
		rep.add(&NumericDegeneracyError{Where: "line profile (zero width and resolution)"})
	}

	for _, cv := range res.Series {
		switch cv.Info.Category {
		case rates.Satellite:
			floats.Add(res.ShakeOff, cv.Y)
			floats.Add(res.Satellite, cv.Y)
		case rates.ShakeUp:
			floats.Add(res.ShakeUp, cv.Y)
			floats.Add(res.Satellite, cv.Y)
		case rates.Auger:
			floats.Add(res.Auger, cv.Y)
		default:
			floats.Add(res.Diagram, cv.Y)
		}
	}
	floats.Add(res.Total, res.Diagram)
	floats.Add(res.Total, res.Satellite)
	floats.Add(res.Total, res.Auger)

	if len(v.Components) > 0 {
		lineMax := floats.Max(res.Total)
		for _, comp := range v.Components {
			y := profile.Eval(comp.Kind, grid, comp.Center, comp.Amplitude*lineMax, comp.GaussWidth, comp.LorentzWidth)
			floats.Add(res.Total, y)
			res.Components = append(res.Components, y)
		}
	}

	res.Scale = 1
	if pl.normalize != NormalizeNone {
		ref := 1.0
		if pl.normalize == NormalizeExpMax {
			ref = pl.exp.MaxY()
		}
		res.Scale = Normalizer(v.YOffset, ref, floats.Max(res.Total))
		if res.Scale == 0 {
			rep.add(&NumericDegeneracyError{Where: "normalization (zero simulated maximum)"})
		}
	}
	arrays := [][]float64{res.Total, res.Diagram, res.Satellite, res.ShakeOff, res.ShakeUp, res.Auger}
	for _, cv := range res.Series {
		arrays = append(arrays, cv.Y)
	}
	arrays = append(arrays, res.Components...)
	for _, ys := range arrays {
		floats.Scale(res.Scale, ys)
		floats.AddConst(v.YOffset, ys)
	}

	if pl.exp != nil {
		r, err := CalculateResidues(grid, res.Total, pl.exp)
		if err != nil {
			return nil, err
		}
		res.Residuals = r
		res.ChiSquare = floats.Dot(r, r)
	}
	res.AvgTotalShake = pl.ctx.shake.AvgTotalShake(v.Amplitudes)
	res.Report = rep
	return res, nil
}
