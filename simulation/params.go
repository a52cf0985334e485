package simulation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"spectrasim/profile"
	"spectrasim/rates"
	"spectrasim/shake"
)

// SpectrumType chooses which categories a run simulates.
type SpectrumType uint8

const (
	DiagramOnly SpectrumType = iota
	SatellitesOnly
	DiagramAndSatellites
	AugerOnly
)

func (t SpectrumType) String() string {
	switch t {
	case SatellitesOnly:
		return "satellites"
	case DiagramAndSatellites:
		return "diagram+satellites"
	case AugerOnly:
		return "auger"
	default:
		return "diagram"
	}
}

// ParseSpectrumType accepts the names produced by String plus the
// "Diagram + Satellites" spelling.
func ParseSpectrumType(s string) (SpectrumType, error) {
	key := strings.ToLower(strings.ReplaceAll(s, " ", ""))
	switch key {
	case "diagram", "":
		return DiagramOnly, nil
	case "satellites", "satellite":
		return SatellitesOnly, nil
	case "diagram+satellites", "both":
		return DiagramAndSatellites, nil
	case "auger":
		return AugerOnly, nil
	default:
		return DiagramOnly, fmt.Errorf("simulation: unknown spectrum type %q", s)
	}
}

func (t SpectrumType) diagram() bool    { return t == DiagramOnly || t == DiagramAndSatellites }
func (t SpectrumType) satellites() bool { return t == SatellitesOnly || t == DiagramAndSatellites }

// NormalizeMode chooses the reference maximum for normalization.
type NormalizeMode uint8

const (
	NormalizeNone NormalizeMode = iota
	NormalizeOne
	NormalizeExpMax
)

func (m NormalizeMode) String() string {
	switch m {
	case NormalizeOne:
		return "one"
	case NormalizeExpMax:
		return "expmax"
	default:
		return "no"
	}
}

// ParseNormalize accepts "no", "one" and "expmax" in any case.
func ParseNormalize(s string) (NormalizeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no", "none", "":
		return NormalizeNone, nil
	case "one", "1":
		return NormalizeOne, nil
	case "expmax":
		return NormalizeExpMax, nil
	default:
		return NormalizeNone, fmt.Errorf("simulation: unknown normalization %q", s)
	}
}

// Bound is a grid limit: either "auto" or a fixed energy.
type Bound struct {
	Auto  bool
	Value float64
}

// AutoBound is the default limit.
var AutoBound = Bound{Auto: true}

// ParseBound reads "auto" or a number.
func ParseBound(s string) (Bound, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return AutoBound, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return AutoBound, &InvalidSelectionError{Count: 1, Items: []string{"bound " + strconv.Quote(s)}}
	}
	return Bound{Value: v}, nil
}

func (b Bound) String() string {
	if b.Auto {
		return "auto"
	}
	return strconv.FormatFloat(b.Value, 'g', -1, 64)
}

// Offsets are the energy shifts applied per category.
type Offsets struct {
	Energy    float64
	Satellite float64
	ShakeOff  float64
	ShakeUp   float64
	// Separate shifts shake-off and shake-up lines by their own offsets
	// instead of the common satellite offset.
	Separate bool
}

// For is the total shift of a line in category cat.
func (o Offsets) For(cat rates.Category) float64 {
	switch cat {
	case rates.Satellite:
		if o.Separate {
			return o.Energy + o.ShakeOff
		}
		return o.Energy + o.Satellite
	case rates.ShakeUp:
		if o.Separate {
			return o.Energy + o.ShakeUp
		}
		return o.Energy + o.Satellite
	default:
		return o.Energy
	}
}

// GridShift moves explicit and experimental bounds by the energy offset
// plus the largest satellite offset.
func (o Offsets) GridShift() float64 {
	return o.Energy + math.Max(o.Satellite, math.Max(o.ShakeOff, o.ShakeUp))
}

// Component is an extra peak added to the line total. Amplitude is relative
// to the maximum of the line total.
type Component struct {
	Kind         profile.Kind
	Center       float64
	Amplitude    float64
	GaussWidth   float64
	LorentzWidth float64
}

// ChargeFraction weights one charge state in a mixture.
type ChargeFraction struct {
	State    string
	Fraction float64
}

// Vary holds the values a fit may change between evaluations.
type Vary struct {
	Offsets    Offsets
	Resolution float64
	YOffset    float64
	Amplitudes shake.Amplitudes
	Components []Component
}

// Clone copies the slices so the result can be modified independently.
func (v Vary) Clone() Vary {
	v.Components = append([]Component(nil), v.Components...)
	return v
}

// Params are the scalar simulation parameters.
type Params struct {
	Vary

	Type      SpectrumType
	Profile   profile.Kind
	Points    int
	XMin      Bound
	XMax      Bound
	Beam      float64
	BeamFWHM  float64
	Cascade   bool
	Mechanism Mechanism
	Normalize NormalizeMode
	Mixture   []ChargeFraction
	TwoJ      rates.JJSet
}

// DefaultParams mirrors the defaults of the interactive tool.
func DefaultParams() Params {
	return Params{
		Vary:    Vary{Resolution: 1.0},
		Type:    DiagramOnly,
		Profile: profile.Lorentzian,
		Points:  500,
		XMin:    AutoBound,
		XMax:    AutoBound,
	}
}

// Validate rejects parameter sets that cannot produce a grid.
func (p Params) Validate() error {
	if p.Points < 2 {
		return fmt.Errorf("simulation: points must be at least 2, got %d", p.Points)
	}
	if p.Resolution < 0 || math.IsNaN(p.Resolution) {
		return fmt.Errorf("simulation: resolution must be >= 0, got %v", p.Resolution)
	}
	if p.BeamFWHM < 0 {
		return fmt.Errorf("simulation: beam FWHM must be >= 0, got %v", p.BeamFWHM)
	}
	if !p.XMin.Auto && !p.XMax.Auto && p.XMin.Value >= p.XMax.Value {
		return &InvalidSelectionError{Count: 1, Items: []string{fmt.Sprintf("bounds %v..%v", p.XMin, p.XMax)}}
	}
	for i, c := range p.Components {
		if c.GaussWidth < 0 || c.LorentzWidth < 0 {
			return fmt.Errorf("simulation: component %d has a negative width", i)
		}
	}
	return nil
}

var errNoTables = errors.New("simulation: context has no rate tables")
