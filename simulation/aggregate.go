package simulation

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"spectrasim/rates"
	"spectrasim/shake"
)

// SeriesInfo names one per-transition (or per-satellite-channel) curve.
type SeriesInfo struct {
	Name        string
	Transition  string
	Category    rates.Category
	Channel     shake.Channel
	ChargeState string
}

// Series is the discrete (energy, effective intensity, width, 2J) content
// of one transition or satellite channel.
type Series struct {
	Info        SeriesInfo
	Energies    []float64
	Intensities []float64
	Widths      []float64
	TwoJ        []int
}

// Empty reports whether the series is a zero sentinel.
func (s Series) Empty() bool {
	return len(s.Energies) == 0
}

type lineGroup struct {
	info  SeriesInfo
	lines []rates.Line
}

type mixState struct {
	state    string
	fraction float64
	weighted bool
}

func (c *Context) mixStates(p Params, rep *Report) ([]mixState, error) {
	if len(p.Mixture) == 0 {
		return []mixState{{state: "", fraction: 1}}, nil
	}
	var (
		out     []mixState
		invalid []string
	)
	for _, m := range p.Mixture {
		switch {
		case m.Fraction == 0:
			continue
		case m.Fraction < 0:
			invalid = append(invalid, fmt.Sprintf("charge state %s fraction %v", m.State, m.Fraction))
		case !c.tables.HasState(m.State):
			invalid = append(invalid, fmt.Sprintf("charge state %q has no rates", m.State))
		default:
			out = append(out, mixState{state: m.State, fraction: m.Fraction, weighted: true})
		}
	}
	if len(invalid) > 0 {
		rep.add(&InvalidSelectionError{Count: len(invalid), Items: invalid})
	}
	if len(out) == 0 {
		return nil, &InvalidSelectionError{Count: len(invalid), Items: append(invalid, "no charge state with a positive fraction")}
	}
	return out, nil
}

func (c *Context) stateLines(cat rates.Category, ms mixState) []rates.Line {
	lines := c.tables.Lines(cat, ms.state)
	if !ms.weighted {
		return lines
	}
	return rates.FilterChargeState(lines, ms.state, ms.fraction)
}

func seriesName(tr rates.Transition, ms mixState, ch *shake.Channel) string {
	name := tr.Name
	if ms.state != "" {
		name += " [" + ms.state + "]"
	}
	if ch != nil {
		name += " " + ch.String()
	}
	return name
}

// selectedTransitions returns the catalog entries the spectrum type uses.
func (c *Context) selectedTransitions(sel rates.SelectionSet, typ SpectrumType) []rates.Transition {
	var pool []rates.Transition
	if typ == AugerOnly {
		pool = c.catalog.Auger()
	} else {
		pool = c.catalog.Radiative()
	}
	var out []rates.Transition
	for _, tr := range pool {
		if sel.Contains(tr.Name) {
			out = append(out, tr)
		}
	}
	return out
}

// collect filters the tables into line groups for every selected
// transition and charge state.
//
// Purpose: Parameter-independent half of a run.
// Key aspects: A transition/state with no lines in any requested category
// is counted as bad and kept as an empty sentinel group; the run only fails
// when every selection is empty.
// Upstream: Prepare, Sticks.
// Downstream: rates filters, Overlap.
func (c *Context) collect(sel rates.SelectionSet, p Params, beam, fwhm float64, rep *Report) ([]lineGroup, error) {
	transitions := c.selectedTransitions(sel, p.Type)
	rep.Selected = len(transitions)
	if len(transitions) == 0 {
		return nil, &NoSelectionError{Type: p.Type}
	}
	states, err := c.mixStates(p, rep)
	if err != nil {
		return nil, err
	}
	if !p.TwoJ.Empty() {
		available := make(map[int]bool)
		for _, v := range c.AvailableTwoJ(sel, p.Type) {
			available[v] = true
		}
		var invalid []string
		for _, v := range p.TwoJ.Values() {
			if !available[v] {
				invalid = append(invalid, fmt.Sprintf("2J=%d", v))
			}
		}
		if len(invalid) > 0 {
			rep.add(&InvalidSelectionError{Count: len(invalid), Items: invalid})
		}
	}

	var (
		groups  []lineGroup
		bad     []string
		nonZero int
	)
	for _, tr := range transitions {
		for _, ms := range states {
			var trGroups []lineGroup
			if p.Type == AugerOnly {
				lines := rates.FilterLevel(c.stateLines(rates.Auger, ms), tr.Low, tr.High, tr.Auger, rates.Augmented, p.TwoJ)
				trGroups = append(trGroups, lineGroup{
					info:  SeriesInfo{Name: seriesName(tr, ms, nil), Transition: tr.Name, Category: rates.Auger, ChargeState: ms.state},
					lines: lines,
				})
			} else {
				diag := c.stateLines(rates.Diagram, ms)
				if p.Type.diagram() {
					trGroups = append(trGroups, lineGroup{
						info:  SeriesInfo{Name: seriesName(tr, ms, nil), Transition: tr.Name, Category: rates.Diagram, ChargeState: ms.state},
						lines: rates.FilterLevel(diag, tr.Low, tr.High, "", rates.Exact, p.TwoJ),
					})
				}
				if p.Type.satellites() {
					parent := rates.FilterLevel(diag, tr.Low, tr.High, "", rates.Exact, rates.JJSet{})
					trGroups = append(trGroups, c.satelliteGroups(tr, ms, parent, beam, fwhm, p.TwoJ)...)
				}
			}
			count := 0
			for _, g := range trGroups {
				count += len(g.lines)
			}
			if count == 0 {
				name := seriesName(tr, ms, nil)
				bad = append(bad, name)
				cat := rates.Diagram
				if p.Type == AugerOnly {
					cat = rates.Auger
				}
				groups = append(groups, lineGroup{info: SeriesInfo{Name: name, Transition: tr.Name, Category: cat, ChargeState: ms.state}})
				continue
			}
			nonZero++
			for _, g := range trGroups {
				if len(g.lines) > 0 || g.info.Category == rates.Diagram || g.info.Category == rates.Auger {
					groups = append(groups, g)
				}
			}
		}
	}
	rep.Bad = len(bad)
	if nonZero == 0 {
		return nil, &InvalidSelectionError{Count: len(bad), Items: bad}
	}
	if len(bad) > 0 {
		rep.add(&NoDataError{Count: len(bad), Transitions: bad})
	}
	return groups, nil
}

// satelliteGroups splits the satellites of one transition by spectator
// orbital into shake-off and shake-up groups, each carrying the mean beam
// overlap of the parent diagram lines.
func (c *Context) satelliteGroups(tr rates.Transition, ms mixState, parent []rates.Line, beam, fwhm float64, jj rates.JJSet) []lineGroup {
	overlap := 0.0
	if len(parent) > 0 {
		ovs := make([]float64, len(parent))
		for i, line := range parent {
			ovs[i] = c.Overlap(line, beam, fwhm)
		}
		overlap = stat.Mean(ovs, nil)
	}
	sats := c.stateLines(rates.Satellite, ms)
	ups := c.stateLines(rates.ShakeUp, ms)
	var out []lineGroup
	for _, key := range c.labels {
		for _, kind := range []shake.ChannelKind{shake.ShakeOff, shake.ShakeUp} {
			table, cat := sats, rates.Satellite
			if kind == shake.ShakeUp {
				table, cat = ups, rates.ShakeUp
			}
			matched := rates.FilterSatellite(table, tr.Low, tr.High, key, jj)
			if len(matched) == 0 {
				continue
			}
			for i := range matched {
				matched[i] = matched[i].WithDiagramOverlap(overlap)
			}
			ch := shake.Channel{Kind: kind, Key: key}
			out = append(out, lineGroup{
				info:  SeriesInfo{Name: seriesName(tr, ms, &ch), Transition: tr.Name, Category: cat, Channel: ch, ChargeState: ms.state},
				lines: matched,
			})
		}
	}
	return out
}

// ComputeDiagramSeries converts diagram (or Auger) lines into a series of
// effective intensities.
func (c *Context) ComputeDiagramSeries(info SeriesInfo, lines []rates.Line, in IntensityInputs) Series {
	in.Category = info.Category
	return c.computeSeries(info, lines, in)
}

// ComputeSatelliteSeries splits the satellites of one transition into
// per-channel series weighted by shake probability and the mean overlap of
// the parent diagram lines.
func (c *Context) ComputeSatelliteSeries(tr rates.Transition, state string, in IntensityInputs, jj rates.JJSet) []Series {
	ms := mixState{state: state, fraction: 1}
	parent := rates.FilterLevel(c.tables.Lines(rates.Diagram, state), tr.Low, tr.High, "", rates.Exact, rates.JJSet{})
	var out []Series
	for _, g := range c.satelliteGroups(tr, ms, parent, in.Beam, in.BeamFWHM, jj) {
		gin := in
		gin.Category = g.info.Category
		gin.Channel = g.info.Channel
		out = append(out, c.computeSeries(g.info, g.lines, gin))
	}
	return out
}

func (c *Context) computeSeries(info SeriesInfo, lines []rates.Line, in IntensityInputs) Series {
	s := Series{
		Info:        info,
		Energies:    make([]float64, len(lines)),
		Intensities: make([]float64, len(lines)),
		Widths:      make([]float64, len(lines)),
		TwoJ:        make([]int, len(lines)),
	}
	for i, line := range lines {
		s.Energies[i] = line.Energy
		s.Intensities[i] = c.EffectiveIntensity(line, in)
		s.Widths[i] = line.Width
		s.TwoJ[i] = line.TwoJ
	}
	return s
}

// AvailableTwoJ lists the 2J values of every line the selected transitions
// match, ignoring any 2J filter.
func (c *Context) AvailableTwoJ(sel rates.SelectionSet, typ SpectrumType) []int {
	var lines []rates.Line
	for _, tr := range c.selectedTransitions(sel, typ) {
		for _, state := range c.tables.States() {
			if typ == AugerOnly {
				lines = append(lines, rates.FilterLevel(c.tables.Lines(rates.Auger, state), tr.Low, tr.High, tr.Auger, rates.Augmented, rates.JJSet{})...)
				continue
			}
			if typ.diagram() {
				lines = append(lines, rates.FilterLevel(c.tables.Lines(rates.Diagram, state), tr.Low, tr.High, "", rates.Exact, rates.JJSet{})...)
			}
			if typ.satellites() {
				for _, key := range c.labels {
					lines = append(lines, rates.FilterSatellite(c.tables.Lines(rates.Satellite, state), tr.Low, tr.High, key, rates.JJSet{})...)
					lines = append(lines, rates.FilterSatellite(c.tables.Lines(rates.ShakeUp, state), tr.Low, tr.High, key, rates.JJSet{})...)
				}
			}
		}
	}
	return rates.TwoJValues(lines)
}

// SelectWithin selects every radiative transition that has a diagram line
// whose natural-width span overlaps the experimental energy range.
func (c *Context) SelectWithin(exp *Experiment) rates.SelectionSet {
	if exp.Len() == 0 {
		return rates.NewSelection()
	}
	lo, hi := exp.Span()
	var names []string
	for _, tr := range c.catalog.Radiative() {
		for _, state := range c.tables.States() {
			hit := false
			for _, line := range rates.FilterLevel(c.tables.Lines(rates.Diagram, state), tr.Low, tr.High, "", rates.Exact, rates.JJSet{}) {
				if line.Energy+line.Width/2 >= lo && line.Energy-line.Width/2 <= hi {
					hit = true
					break
				}
			}
			if hit {
				names = append(names, tr.Name)
				break
			}
		}
	}
	sort.Strings(names)
	return rates.NewSelection(names...)
}
