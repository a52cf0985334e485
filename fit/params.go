package fit

import (
	"fmt"
	"math"
	"strings"

	"spectrasim/profile"
	"spectrasim/shake"
	"spectrasim/simulation"
)

// Parameter names outside the per-channel and per-component families.
const (
	ParamEnergyOffset    = "energy_offset"
	ParamSatelliteOffset = "satellite_offset"
	ParamShakeOffOffset  = "shake_off_offset"
	ParamShakeUpOffset   = "shake_up_offset"
	ParamResolution      = "resolution"
	ParamYOffset         = "y_offset"
)

// Param is one named fit variable.
type Param struct {
	Name  string
	Value float64
	Lower float64
	Upper float64
	Fixed bool
	// Error is the standard deviation after a fit, 0 before.
	Error float64
}

func ampName(ch shake.Channel) string { return "amp:" + ch.String() }

func componentName(i int, field string) string {
	return fmt.Sprintf("component[%d].%s", i, field)
}

// Layout maps a simulation.Vary onto named parameters and back. Every
// parameter starts free except the offsets that the offset mode does not
// use; callers narrow the set with SetFixed or VaryOnly.
type Layout struct {
	params   []Param
	index    map[string]int
	channels []shake.Channel
	comps    int
}

// NewLayout lists the parameters of v. channels are the shake channels
// whose amplitudes may vary.
func NewLayout(v simulation.Vary, channels []shake.Channel) *Layout {
	l := &Layout{index: make(map[string]int), channels: append([]shake.Channel(nil), channels...), comps: len(v.Components)}
	inf := math.Inf(1)
	add := func(name string, value, lo float64, fixed bool) {
		l.index[name] = len(l.params)
		l.params = append(l.params, Param{Name: name, Value: value, Lower: lo, Upper: inf, Fixed: fixed})
	}
	add(ParamEnergyOffset, v.Offsets.Energy, -inf, false)
	add(ParamSatelliteOffset, v.Offsets.Satellite, -inf, v.Offsets.Separate)
	add(ParamShakeOffOffset, v.Offsets.ShakeOff, -inf, !v.Offsets.Separate)
	add(ParamShakeUpOffset, v.Offsets.ShakeUp, -inf, !v.Offsets.Separate)
	add(ParamResolution, v.Resolution, 0, false)
	add(ParamYOffset, v.YOffset, -inf, false)
	for _, ch := range l.channels {
		add(ampName(ch), v.Amplitudes.Get(ch), 0, false)
	}
	for i, c := range v.Components {
		add(componentName(i, "center"), c.Center, -inf, false)
		add(componentName(i, "amplitude"), c.Amplitude, 0, false)
		add(componentName(i, "gauss_width"), c.GaussWidth, 0, c.Kind == profile.Lorentzian)
		add(componentName(i, "lorentz_width"), c.LorentzWidth, 0, c.Kind == profile.Gaussian)
	}
	return l
}

// Params returns a copy of every parameter in layout order.
func (l *Layout) Params() []Param {
	return append([]Param(nil), l.params...)
}

// Names lists every parameter name in layout order.
func (l *Layout) Names() []string {
	out := make([]string, len(l.params))
	for i, p := range l.params {
		out[i] = p.Name
	}
	return out
}

func (l *Layout) lookup(name string) (*Param, error) {
	i, ok := l.index[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("fit: unknown parameter %q", name)
	}
	return &l.params[i], nil
}

// Get returns the named parameter.
func (l *Layout) Get(name string) (Param, bool) {
	p, err := l.lookup(name)
	if err != nil {
		return Param{}, false
	}
	return *p, true
}

// SetFixed fixes or frees one parameter.
func (l *Layout) SetFixed(name string, fixed bool) error {
	p, err := l.lookup(name)
	if err != nil {
		return err
	}
	p.Fixed = fixed
	return nil
}

// VaryOnly frees exactly the named parameters and fixes the rest. A name
// ending in "*" frees every parameter with that prefix ("amp:*").
func (l *Layout) VaryOnly(names []string) error {
	for i := range l.params {
		l.params[i].Fixed = true
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if prefix, ok := strings.CutSuffix(name, "*"); ok {
			matched := false
			for i := range l.params {
				if strings.HasPrefix(l.params[i].Name, prefix) {
					l.params[i].Fixed = false
					matched = true
				}
			}
			if !matched {
				return fmt.Errorf("fit: no parameter matches %q", name)
			}
			continue
		}
		if err := l.SetFixed(name, false); err != nil {
			return err
		}
	}
	return nil
}

// SetBounds narrows a parameter's range. The built-in lower bounds of
// resolution, widths and amplitudes cannot be relaxed below 0.
func (l *Layout) SetBounds(name string, lo, hi float64) error {
	p, err := l.lookup(name)
	if err != nil {
		return err
	}
	if !(hi > lo) {
		return fmt.Errorf("fit: parameter %s bounds [%v, %v] are empty", name, lo, hi)
	}
	p.Lower = math.Max(p.Lower, lo)
	p.Upper = hi
	if !(p.Upper > p.Lower) {
		return fmt.Errorf("fit: parameter %s bounds [%v, %v] exclude the minimum %v", name, lo, hi, p.Lower)
	}
	return nil
}

// Set changes the starting value of one parameter.
func (l *Layout) Set(name string, value float64) error {
	p, err := l.lookup(name)
	if err != nil {
		return err
	}
	p.Value = value
	return nil
}

// Free returns the indices of the free parameters.
func (l *Layout) Free() []int {
	var out []int
	for i, p := range l.params {
		if !p.Fixed {
			out = append(out, i)
		}
	}
	return out
}

// problemVectors returns the start point and bounds of the free parameters.
// Start values outside their bounds are clamped.
func (l *Layout) problemVectors() (x0, lo, hi []float64) {
	for _, i := range l.Free() {
		p := l.params[i]
		x0 = append(x0, math.Max(p.Lower, math.Min(p.Upper, p.Value)))
		lo = append(lo, p.Lower)
		hi = append(hi, p.Upper)
	}
	return x0, lo, hi
}

// values merges free values into the full parameter vector.
func (l *Layout) values(free []float64) []float64 {
	out := make([]float64, len(l.params))
	for i, p := range l.params {
		out[i] = p.Value
	}
	for k, i := range l.Free() {
		out[i] = free[k]
	}
	return out
}

// Apply writes a full parameter vector onto a copy of base.
func (l *Layout) Apply(base simulation.Vary, vals []float64) simulation.Vary {
	v := base.Clone()
	at := func(name string) float64 { return vals[l.index[name]] }
	v.Offsets.Energy = at(ParamEnergyOffset)
	v.Offsets.Satellite = at(ParamSatelliteOffset)
	v.Offsets.ShakeOff = at(ParamShakeOffOffset)
	v.Offsets.ShakeUp = at(ParamShakeUpOffset)
	v.Resolution = at(ParamResolution)
	v.YOffset = at(ParamYOffset)
	for _, ch := range l.channels {
		v.Amplitudes = v.Amplitudes.With(ch, at(ampName(ch)))
	}
	for i := 0; i < l.comps && i < len(v.Components); i++ {
		v.Components[i].Center = at(componentName(i, "center"))
		v.Components[i].Amplitude = at(componentName(i, "amplitude"))
		v.Components[i].GaussWidth = at(componentName(i, "gauss_width"))
		v.Components[i].LorentzWidth = at(componentName(i, "lorentz_width"))
	}
	return v
}

// update stores fitted free values and their errors.
func (l *Layout) update(free, errs []float64) {
	for k, i := range l.Free() {
		l.params[i].Value = free[k]
		l.params[i].Error = 0
		if k < len(errs) {
			l.params[i].Error = errs[k]
		}
	}
}

// clone copies the layout so a run can update it without racing readers.
func (l *Layout) clone() *Layout {
	out := &Layout{
		params:   append([]Param(nil), l.params...),
		index:    l.index,
		channels: l.channels,
		comps:    l.comps,
	}
	return out
}
