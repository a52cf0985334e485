package simulation

import (
	"math"

	"spectrasim/rates"
	"spectrasim/shake"
)

// fwhmToSigma converts a Gaussian FWHM to its standard deviation.
const fwhmToSigma = 2.3548200450309493

// IntensityInputs are the run-wide values an effective intensity depends on.
// A Beam <= 0 disables the beam overlap.
type IntensityInputs struct {
	Beam         float64
	BeamFWHM     float64
	CrossSection float64
	Cascade      bool
	Category     rates.Category
	// Channel is the shake channel of a satellite line. When Key is empty
	// the line's own spectator key is used.
	Channel    shake.Channel
	Amplitudes shake.Amplitudes
}

// EffectiveIntensity is the line's contribution to the spectrum before
// profile broadening. It is deterministic and has no side effects.
func (c *Context) EffectiveIntensity(line rates.Line, in IntensityInputs) float64 {
	return c.baseIntensity(line, in) * c.shakeFactor(line, in)
}

// baseIntensity is the part of the effective intensity that does not
// depend on shake amplitudes.
func (c *Context) baseIntensity(line rates.Line, in IntensityInputs) float64 {
	v := line.Rate * line.MixWeight() * in.CrossSection
	switch in.Category {
	case rates.Satellite, rates.ShakeUp:
		ov, ok := line.DiagramOverlap()
		if !ok {
			ov = c.Overlap(line, in.Beam, in.BeamFWHM)
		}
		v *= ov
		ch := satelliteChannel(line, in)
		if in.Category == rates.ShakeUp {
			order, ok := line.ExcitationOrder()
			if !ok {
				return 0
			}
			v *= c.shake.ShakeupProbability(ch.Key, order, line.TwoJ)
		} else {
			v *= c.shake.ShakeoffProbability(ch.Key)
		}
	default:
		if in.Cascade {
			v *= c.CascadeBoost(line)
		}
		v *= c.Overlap(line, in.Beam, in.BeamFWHM)
	}
	return v
}

// shakeFactor is the amplitude-dependent part: the population left after
// shake for diagram and Auger lines, the channel amplitude for satellites.
func (c *Context) shakeFactor(line rates.Line, in IntensityInputs) float64 {
	switch in.Category {
	case rates.Satellite, rates.ShakeUp:
		return in.Amplitudes.Get(satelliteChannel(line, in))
	default:
		return depletion(c.shake.TotalShake(line.TwoJ, in.Amplitudes))
	}
}

func depletion(totalShake float64) float64 {
	return math.Max(0, 1-totalShake)
}

func satelliteChannel(line rates.Line, in IntensityInputs) shake.Channel {
	ch := in.Channel
	if ch.Key == "" {
		ch.Key = line.SpectatorKey()
	}
	if in.Category == rates.ShakeUp {
		ch.Kind = shake.ShakeUp
	} else {
		ch.Kind = shake.ShakeOff
	}
	return ch
}

// Overlap is the fraction of the Gaussian beam profile above the formation
// energy of the line's initial level, with the level width folded into the
// beam spread. It is 1 when the beam is disabled or the level is unknown.
func (c *Context) Overlap(line rates.Line, beam, fwhm float64) float64 {
	if beam <= 0 {
		return 1
	}
	lvl, ok := c.levels[line.ShellInitial]
	if !ok {
		return 1
	}
	sb := fwhm / fwhmToSigma
	sl := lvl.Width / 2
	sigma := math.Sqrt(sb*sb + sl*sl)
	if sigma <= 0 {
		if beam >= lvl.Energy {
			return 1
		}
		return 0
	}
	return 0.5 * math.Erfc((lvl.Energy-beam)/(math.Sqrt2*sigma))
}
