package simulation

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"spectrasim/profile"
	"spectrasim/rates"
	"spectrasim/shake"
)

func testLines() []rates.Line {
	return []rates.Line{
		{Category: rates.Diagram, ShellInitial: "K1", ShellFinal: "L3", TwoJ: 1, Energy: 8000, Width: 2, Rate: 2},
		{Category: rates.Diagram, ShellInitial: "K1", ShellFinal: "L2", TwoJ: 1, Energy: 7980, Width: 2, Rate: 1},
		{Category: rates.Diagram, ShellInitial: "L3", ShellFinal: "M5", TwoJ: 3, Energy: 900, Width: 1, Rate: 1},
		{Category: rates.Satellite, ShellInitial: "K1L1", ShellFinal: "L1L3", TwoJ: 1, Energy: 8010, Width: 3, Rate: 1},
		{Category: rates.Auger, ShellInitial: "K1", ShellFinal: "L2L3", TwoJ: 1, Energy: 6000, Width: 5, Rate: 0.5},
	}
}

func testCatalog(t *testing.T) *rates.Catalog {
	t.Helper()
	cat, err := rates.NewCatalog(
		[]rates.Transition{
			{Name: "KL3", Low: "K1", High: "L3"},
			{Name: "KL2", Low: "K1", High: "L2"},
			{Name: "KM3", Low: "K1", High: "M3"},
			{Name: "LM5", Low: "L3", High: "M5"},
		},
		[]rates.Transition{{Name: "KLL", Low: "K1", High: "L2", Auger: "L3"}},
	)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return cat
}

func newTestContext(t *testing.T, lines []rates.Line, in ContextInput) *Context {
	t.Helper()
	in.Tables = rates.NewTables(lines)
	in.Catalog = testCatalog(t)
	in.Logf = t.Logf
	c, err := NewContext(in)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return c
}

func shakeInput() ContextInput {
	return ContextInput{ShakeOff: []shake.OffRow{
		{Key: "L1", TwoJ: 1, Probability: 0.1},
		{Key: "L1", TwoJ: 3, Probability: 0.1},
	}}
}

func trapezoid(x, y []float64) float64 {
	s := 0.0
	for i := 1; i < len(x); i++ {
		s += (x[i] - x[i-1]) * (y[i] + y[i-1]) / 2
	}
	return s
}

func singleLineParams(points int, lo, hi float64) Params {
	p := DefaultParams()
	p.Resolution = 0
	p.Profile = profile.Lorentzian
	p.Points = points
	p.XMin = Bound{Value: lo}
	p.XMax = Bound{Value: hi}
	return p
}

func TestSingleLorentzianPeaksAtLineEnergy(t *testing.T) {
	c := newTestContext(t, []rates.Line{
		{Category: rates.Diagram, ShellInitial: "K1", ShellFinal: "L3", TwoJ: 1, Energy: 1000, Width: 1, Rate: 1},
	}, ContextInput{})
	res, err := Simulate(c, rates.NewSelection("KL3"), singleLineParams(5, 995, 1005), nil, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(res.Grid) != 5 || res.Grid[2] != 1000 {
		t.Fatalf("unexpected grid %v", res.Grid)
	}
	best := 0
	for i, v := range res.Total {
		if v > res.Total[best] {
			best = i
		}
	}
	if best != 2 {
		t.Fatalf("expected peak at 1000 eV, got index %d (%v)", best, res.Total)
	}
	if !reflect.DeepEqual(res.Total, res.Diagram) {
		t.Fatalf("expected a diagram-only total")
	}
}

func TestSingleLorentzianIntegratesToRate(t *testing.T) {
	c := newTestContext(t, []rates.Line{
		{Category: rates.Diagram, ShellInitial: "K1", ShellFinal: "L3", TwoJ: 1, Energy: 1000, Width: 1, Rate: 1},
	}, ContextInput{})
	res, err := Simulate(c, rates.NewSelection("KL3"), singleLineParams(2001, 900, 1100), nil, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	// Lorentzian tails beyond +-100 eV hold about 0.3% of the area.
	if got := trapezoid(res.Grid, res.Total); math.Abs(got-1) > 0.01 {
		t.Fatalf("expected integral near 1, got %v", got)
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	c := newTestContext(t, testLines(), shakeInput())
	p := DefaultParams()
	p.Type = DiagramAndSatellites
	pl, err := Prepare(c, rates.NewSelection("KL3", "KL2"), p, nil, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	first, err := pl.Evaluate(p.Vary)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	second, err := pl.Evaluate(p.Vary)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !reflect.DeepEqual(first.Total, second.Total) || !reflect.DeepEqual(first.Satellite, second.Satellite) {
		t.Fatalf("expected identical results from repeated evaluation")
	}
	first.Total[0] = -1
	third, _ := pl.Evaluate(p.Vary)
	if third.Total[0] == -1 {
		t.Fatalf("expected fresh arrays per evaluation")
	}
}

func TestCategorySumsAddUp(t *testing.T) {
	c := newTestContext(t, testLines(), shakeInput())
	p := DefaultParams()
	p.Type = DiagramAndSatellites
	res, err := Simulate(c, rates.NewSelection("KL3"), p, nil, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	for i := range res.Grid {
		sum := res.Diagram[i] + res.Satellite[i] + res.Auger[i]
		if math.Abs(sum-res.Total[i]) > 1e-12 {
			t.Fatalf("point %d: components sum to %v, total %v", i, sum, res.Total[i])
		}
		if math.Abs(res.Satellite[i]-res.ShakeOff[i]-res.ShakeUp[i]) > 1e-12 {
			t.Fatalf("point %d: satellite split mismatch", i)
		}
	}
	if len(res.Series) != 2 {
		t.Fatalf("expected diagram and one shake-off series, got %d", len(res.Series))
	}
}

func TestNoSelectionIsAnError(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	_, err := Simulate(c, rates.NewSelection(), DefaultParams(), nil, nil)
	var noSel *NoSelectionError
	if !errors.As(err, &noSel) {
		t.Fatalf("expected NoSelectionError, got %v", err)
	}
}

func TestAllBadSelectionIsInvalid(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	_, err := Simulate(c, rates.NewSelection("KM3"), DefaultParams(), nil, nil)
	var invalid *InvalidSelectionError
	if !errors.As(err, &invalid) || invalid.Count != 1 {
		t.Fatalf("expected InvalidSelectionError for 1 transition, got %v", err)
	}
}

func TestPartiallyBadSelectionKeepsSentinel(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	res, err := Simulate(c, rates.NewSelection("KL3", "KM3"), DefaultParams(), nil, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if res.Report.Selected != 2 || res.Report.Bad != 1 {
		t.Fatalf("expected 2 selected and 1 bad, got %+v", res.Report)
	}
	var noData *NoDataError
	found := false
	for _, issue := range res.Report.Issues {
		if errors.As(issue, &noData) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a NoDataError issue, got %v", res.Report.Issues)
	}
	var sentinel *Curve
	for i := range res.Series {
		if res.Series[i].Info.Transition == "KM3" {
			sentinel = &res.Series[i]
		}
	}
	if sentinel == nil {
		t.Fatalf("expected a sentinel series for KM3")
	}
	for _, v := range sentinel.Y {
		if v != 0 {
			t.Fatalf("expected an all-zero sentinel curve")
		}
	}
}

func TestExpMaxWithoutExperimentDegrades(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	p := DefaultParams()
	p.Normalize = NormalizeExpMax
	res, err := Simulate(c, rates.NewSelection("KL3"), p, nil, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if res.Scale != 1 {
		t.Fatalf("expected unscaled result, got scale %v", res.Scale)
	}
	var missing *MissingPrerequisiteError
	found := false
	for _, issue := range res.Report.Issues {
		if errors.As(issue, &missing) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected MissingPrerequisiteError in report")
	}
}

func TestExpMaxMatchesExperimentPeak(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	exp, err := NewExperiment([]float64{7990, 8000, 8010}, []float64{10, 250, 12}, nil)
	if err != nil {
		t.Fatalf("NewExperiment: %v", err)
	}
	p := DefaultParams()
	p.Normalize = NormalizeExpMax
	p.Points = 201
	res, err := Simulate(c, rates.NewSelection("KL3"), p, exp, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if res.Grid[0] != 7990 || res.Grid[len(res.Grid)-1] != 8010 {
		t.Fatalf("expected experimental span, got %v..%v", res.Grid[0], res.Grid[len(res.Grid)-1])
	}
	peak := 0.0
	for _, v := range res.Total {
		peak = math.Max(peak, v)
	}
	if math.Abs(peak-250) > 1e-9 {
		t.Fatalf("expected normalized peak 250, got %v", peak)
	}
	if len(res.Residuals) != 3 {
		t.Fatalf("expected one residual per experimental point, got %d", len(res.Residuals))
	}
	if res.ChiSquare <= 0 {
		t.Fatalf("expected positive chi-square")
	}
}

func TestNormalizeOneAndYOffset(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	p := DefaultParams()
	p.Normalize = NormalizeOne
	p.YOffset = 0.5
	res, err := Simulate(c, rates.NewSelection("KL3"), p, nil, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	peak, low := math.Inf(-1), math.Inf(1)
	for _, v := range res.Total {
		peak = math.Max(peak, v)
		low = math.Min(low, v)
	}
	if math.Abs(peak-1) > 1e-9 {
		t.Fatalf("expected peak 1 with offset included, got %v", peak)
	}
	if low < 0.5 {
		t.Fatalf("expected every point above the y offset, got %v", low)
	}
}

func TestShakeAmplitudesScaleSatellitesAndDepleteDiagram(t *testing.T) {
	c := newTestContext(t, testLines(), shakeInput())
	tr, _ := c.Catalog().Lookup("KL3")
	in := IntensityInputs{Beam: -1, CrossSection: 1}

	diag := c.ComputeDiagramSeries(SeriesInfo{Category: rates.Diagram}, rates.FilterLevel(c.Tables().Lines(rates.Diagram, ""), tr.Low, tr.High, "", rates.Exact, rates.JJSet{}), in)
	sats := c.ComputeSatelliteSeries(tr, "", in, rates.JJSet{})
	if len(diag.Intensities) != 1 || math.Abs(diag.Intensities[0]-1.8) > 1e-12 {
		t.Fatalf("expected depleted diagram intensity 1.8, got %v", diag.Intensities)
	}
	if len(sats) != 1 || math.Abs(sats[0].Intensities[0]-0.1) > 1e-12 {
		t.Fatalf("expected satellite intensity 0.1, got %+v", sats)
	}

	ch := shake.Channel{Kind: shake.ShakeOff, Key: "L1"}
	amps, err := c.Shake().NewAmplitudes(map[shake.Channel]float64{ch: 2})
	if err != nil {
		t.Fatalf("NewAmplitudes: %v", err)
	}
	in.Amplitudes = amps
	diag = c.ComputeDiagramSeries(SeriesInfo{Category: rates.Diagram}, rates.FilterLevel(c.Tables().Lines(rates.Diagram, ""), tr.Low, tr.High, "", rates.Exact, rates.JJSet{}), in)
	sats = c.ComputeSatelliteSeries(tr, "", in, rates.JJSet{})
	if math.Abs(diag.Intensities[0]-1.6) > 1e-12 || math.Abs(sats[0].Intensities[0]-0.2) > 1e-12 {
		t.Fatalf("expected 1.6 and 0.2 with doubled amplitude, got %v and %v", diag.Intensities[0], sats[0].Intensities[0])
	}
}

func TestChargeStateMixtureWeightsLines(t *testing.T) {
	var lines []rates.Line
	for _, state := range []string{"1", "2"} {
		lines = append(lines, rates.Line{Category: rates.Diagram, ChargeState: state, ShellInitial: "K1", ShellFinal: "L3", TwoJ: 1, Energy: 8000, Width: 2, Rate: 4})
	}
	c := newTestContext(t, lines, ContextInput{})
	p := DefaultParams()
	p.Mixture = []ChargeFraction{{State: "1", Fraction: 0.25}, {State: "2", Fraction: 0}, {State: "7", Fraction: 0.1}}
	sticks, rep, err := Sticks(c, rates.NewSelection("KL3"), p)
	if err != nil {
		t.Fatalf("Sticks: %v", err)
	}
	if len(sticks) != 1 || sticks[0].Info.ChargeState != "1" {
		t.Fatalf("expected one series for state 1, got %+v", sticks)
	}
	if sticks[0].Intensities[0] != 1 {
		t.Fatalf("expected rate 4 weighted by 0.25, got %v", sticks[0].Intensities[0])
	}
	var invalid *InvalidSelectionError
	if len(rep.Issues) != 1 || !errors.As(rep.Issues[0], &invalid) {
		t.Fatalf("expected unknown state reported as invalid, got %v", rep.Issues)
	}

	p.Mixture = []ChargeFraction{{State: "1", Fraction: -1}}
	if _, _, err := Sticks(c, rates.NewSelection("KL3"), p); !errors.As(err, &invalid) {
		t.Fatalf("expected all-invalid mixture to fail, got %v", err)
	}
}

func TestSticksApplyOffsets(t *testing.T) {
	c := newTestContext(t, testLines(), shakeInput())
	p := DefaultParams()
	p.Type = DiagramAndSatellites
	p.Offsets = Offsets{Energy: 1, Satellite: 2}
	sticks, _, err := Sticks(c, rates.NewSelection("KL3"), p)
	if err != nil {
		t.Fatalf("Sticks: %v", err)
	}
	if len(sticks) != 2 {
		t.Fatalf("expected diagram and satellite sticks, got %d", len(sticks))
	}
	if sticks[0].Energies[0] != 8001 {
		t.Fatalf("expected diagram at 8001, got %v", sticks[0].Energies[0])
	}
	if sticks[1].Energies[0] != 8013 || sticks[1].Info.Channel.String() != "off:L1" {
		t.Fatalf("expected off:L1 satellite at 8013, got %+v", sticks[1])
	}
}

func TestAugerSpectrum(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	p := DefaultParams()
	p.Type = AugerOnly
	res, err := Simulate(c, rates.NewSelection("KLL"), p, nil, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if !reflect.DeepEqual(res.Total, res.Auger) {
		t.Fatalf("expected an Auger-only total")
	}
	if _, err := Simulate(c, rates.NewSelection("KL3"), p, nil, nil); err == nil {
		t.Fatalf("expected radiative selection to be empty for Auger spectra")
	}
}

func TestTwoJFilterReportsUnknownValues(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	sel := rates.NewSelection("KL3", "LM5")
	if got := c.AvailableTwoJ(sel, DiagramOnly); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("expected 2J values [1 3], got %v", got)
	}
	p := DefaultParams()
	p.TwoJ = rates.NewJJSet(3, 9)
	res, err := Simulate(c, sel, p, nil, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if res.Report.Bad != 1 {
		t.Fatalf("expected KL3 without 2J=3 lines to be bad, got %+v", res.Report)
	}
	var invalid *InvalidSelectionError
	found := false
	for _, issue := range res.Report.Issues {
		if errors.As(issue, &invalid) && invalid.Items[0] == "2J=9" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 2J=9 reported, got %v", res.Report.Issues)
	}
}

func TestSelectWithinExperimentRange(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	exp, err := NewExperiment([]float64{7990, 8005}, []float64{1, 1}, nil)
	if err != nil {
		t.Fatalf("NewExperiment: %v", err)
	}
	got := c.SelectWithin(exp).Names()
	if !reflect.DeepEqual(got, []string{"KL3"}) {
		t.Fatalf("expected [KL3], got %v", got)
	}
	if c.SelectWithin(nil).Len() != 0 {
		t.Fatalf("expected empty selection without experiment")
	}
}

func TestCascadeBoost(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	lm := rates.Line{ShellInitial: "L3"}
	// K1 decays at total rate 3.5; L3 is fed by KL3 (2) and the Auger line (0.5).
	want := 1 + 2.5/3.5
	if got := c.CascadeBoost(lm); math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected boost %v, got %v", want, got)
	}
	if got := c.CascadeBoost(rates.Line{ShellInitial: "K1"}); got != 1 {
		t.Fatalf("expected no boost for the primary hole, got %v", got)
	}

	in := IntensityInputs{Beam: -1, CrossSection: 1, Category: rates.Diagram, Cascade: true}
	if got := c.EffectiveIntensity(testLines()[2], in); math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected cascade-boosted intensity %v, got %v", want, got)
	}
}

func TestBeamOverlap(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{Levels: []Level{{Label: "K1", Energy: 8979}}})
	line := testLines()[0]
	if got := c.Overlap(line, 8979, 10); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("expected half overlap at threshold, got %v", got)
	}
	if got := c.Overlap(line, 9100, 10); got < 0.999999 {
		t.Fatalf("expected full overlap well above threshold, got %v", got)
	}
	if got := c.Overlap(line, 8800, 10); got > 1e-6 {
		t.Fatalf("expected no overlap below threshold, got %v", got)
	}
	if got := c.Overlap(line, -1, 10); got != 1 {
		t.Fatalf("expected disabled beam to give 1, got %v", got)
	}
}

func TestCrossSectionFactor(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{CrossSections: []CrossSection{
		{Mechanism: ElectronImpact, Energies: []float64{9000, 10000}, Values: []float64{1, 3}},
	}})
	if got := c.CrossSectionFactor(ElectronImpact, 9500); math.Abs(got-2) > 1e-12 {
		t.Fatalf("expected 2, got %v", got)
	}
	if got := c.CrossSectionFactor(Photoionization, 9500); got != 1 {
		t.Fatalf("expected 1 without a curve, got %v", got)
	}
	if got := c.CrossSectionFactor(ElectronImpact, 0); got != 1 {
		t.Fatalf("expected 1 with beam disabled, got %v", got)
	}
}

func TestExtraComponentAddsToTotal(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	p := DefaultParams()
	base, err := Simulate(c, rates.NewSelection("KL3"), p, nil, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	p.Components = []Component{{Kind: profile.Gaussian, Center: 8000, Amplitude: 0.5, GaussWidth: 3}}
	res, err := Simulate(c, rates.NewSelection("KL3"), p, nil, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(res.Components) != 1 {
		t.Fatalf("expected one component curve, got %d", len(res.Components))
	}
	for i := range res.Grid {
		if math.Abs(res.Total[i]-base.Total[i]-res.Components[0][i]) > 1e-12 {
			t.Fatalf("point %d: component not added to total", i)
		}
	}
}

func TestDegenerateWidthIsReported(t *testing.T) {
	c := newTestContext(t, []rates.Line{
		{Category: rates.Diagram, ShellInitial: "K1", ShellFinal: "L3", TwoJ: 1, Energy: 1000, Width: 0, Rate: 1},
	}, ContextInput{})
	p := singleLineParams(11, 995, 1005)
	res, err := Simulate(c, rates.NewSelection("KL3"), p, nil, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	for _, v := range res.Total {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("expected finite output for a zero-width line")
		}
	}
	var degen *NumericDegeneracyError
	found := false
	for _, issue := range res.Report.Issues {
		if errors.As(issue, &degen) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected NumericDegeneracyError in report")
	}
}

func evaluateWith(t *testing.T, c *Context, sel rates.SelectionSet, p Params, eff *Efficiency) *Result {
	t.Helper()
	pl, err := Prepare(c, sel, p, nil, eff)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	res, err := pl.Evaluate(p.Vary)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return res
}

func TestConstantEfficiencyScalesEverySeries(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	sel := rates.NewSelection("KL3", "KL2")
	p := DefaultParams()
	p.Points = 81
	p.XMin = Bound{Value: 7970}
	p.XMax = Bound{Value: 8010}
	eff, err := NewEfficiency([]float64{7000, 9000}, []float64{0.5, 0.5})
	if err != nil {
		t.Fatalf("NewEfficiency: %v", err)
	}

	plain := evaluateWith(t, c, sel, p, nil)
	weighted := evaluateWith(t, c, sel, p, eff)
	if len(plain.Series) != 2 || len(weighted.Series) != 2 {
		t.Fatalf("expected two diagram series, got %d and %d", len(plain.Series), len(weighted.Series))
	}
	for i := range plain.Grid {
		if math.Abs(weighted.Total[i]-0.5*plain.Total[i]) > 1e-15*plain.Total[i] {
			t.Fatalf("point %d: expected total %v, got %v", i, 0.5*plain.Total[i], weighted.Total[i])
		}
		if math.Abs(weighted.Diagram[i]-0.5*plain.Diagram[i]) > 1e-15*plain.Diagram[i] {
			t.Fatalf("point %d: expected diagram %v, got %v", i, 0.5*plain.Diagram[i], weighted.Diagram[i])
		}
		for s := range plain.Series {
			want := 0.5 * plain.Series[s].Y[i]
			if math.Abs(weighted.Series[s].Y[i]-want) > 1e-15*want {
				t.Fatalf("series %s point %d: expected %v, got %v", plain.Series[s].Info.Name, i, want, weighted.Series[s].Y[i])
			}
		}
	}
}

func TestEfficiencyHeldAtCurveEndsDuringEvaluate(t *testing.T) {
	c := newTestContext(t, testLines(), ContextInput{})
	sel := rates.NewSelection("KL3")
	p := DefaultParams()
	p.Points = 41
	p.XMin = Bound{Value: 7990}
	p.XMax = Bound{Value: 8010}
	// The line at 8000 lies below the tabulated range.
	eff, err := NewEfficiency([]float64{8004, 8008}, []float64{0.2, 0.6})
	if err != nil {
		t.Fatalf("NewEfficiency: %v", err)
	}

	plain := evaluateWith(t, c, sel, p, nil)
	weighted := evaluateWith(t, c, sel, p, eff)
	for i, x := range plain.Grid {
		var want float64
		switch {
		case x <= 8004:
			want = 0.2
		case x >= 8008:
			want = 0.6
		default:
			want = 0.2 + 0.1*(x-8004)
		}
		got := weighted.Total[i] / plain.Total[i]
		if math.Abs(got-want) > 1e-12 {
			t.Fatalf("x=%v: expected efficiency %v, got %v", x, want, got)
		}
	}
}
