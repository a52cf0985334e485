package simulation

import "spectrasim/rates"

// Sticks returns the discrete lines of every selected transition, without
// profiles. The beam is disabled and the cross section is 1; energies are
// shifted by the offsets in p. Transitions without lines come back as
// empty sentinel series and are counted in the Report.
func Sticks(c *Context, sel rates.SelectionSet, p Params) ([]Series, Report, error) {
	var rep Report
	if c == nil {
		return nil, rep, errNoTables
	}
	groups, err := c.collect(sel, p, -1, 1, &rep)
	if err != nil {
		return nil, rep, err
	}
	in := IntensityInputs{
		Beam:         -1,
		BeamFWHM:     1,
		CrossSection: 1,
		Cascade:      p.Cascade,
		Amplitudes:   p.Amplitudes,
	}
	out := make([]Series, 0, len(groups))
	for _, g := range groups {
		gin := in
		gin.Category = g.info.Category
		gin.Channel = g.info.Channel
		s := c.computeSeries(g.info, g.lines, gin)
		shift := p.Offsets.For(g.info.Category)
		for i := range s.Energies {
			s.Energies[i] += shift
		}
		out = append(out, s)
	}
	return out, rep, nil
}
