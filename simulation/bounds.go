package simulation

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Padding factors applied to the widest line when deriving bounds.
const (
	DiagramPadding   = 4.0
	SatellitePadding = 1.0
)

// Bounds is the energy span covered by a set of transition series.
type Bounds struct {
	DeltaE []float64
	Min    float64
	Max    float64
	OK     bool
}

// ComputeBounds spans every non-empty series: DeltaE is each series'
// energy range, and the limits are padded by pad times the widest line.
func ComputeBounds(energies, widths [][]float64, pad float64) Bounds {
	b := Bounds{Min: math.Inf(1), Max: math.Inf(-1)}
	maxW := 0.0
	for i, es := range energies {
		if len(es) == 0 {
			continue
		}
		lo, hi := floats.Min(es), floats.Max(es)
		b.DeltaE = append(b.DeltaE, hi-lo)
		b.Min = math.Min(b.Min, lo)
		b.Max = math.Max(b.Max, hi)
		if i < len(widths) && len(widths[i]) > 0 {
			maxW = math.Max(maxW, floats.Max(widths[i]))
		}
		b.OK = true
	}
	if !b.OK {
		return Bounds{}
	}
	b.Max += pad * maxW
	b.Min -= pad * maxW
	return b
}

// Union covers both spans; DeltaE is the elementwise maximum.
func Union(a, b Bounds) Bounds {
	switch {
	case !a.OK:
		return b
	case !b.OK:
		return a
	}
	out := Bounds{Min: math.Min(a.Min, b.Min), Max: math.Max(a.Max, b.Max), OK: true}
	n := len(a.DeltaE)
	if len(b.DeltaE) > n {
		n = len(b.DeltaE)
	}
	out.DeltaE = make([]float64, n)
	for i := range out.DeltaE {
		switch {
		case i >= len(a.DeltaE):
			out.DeltaE[i] = b.DeltaE[i]
		case i >= len(b.DeltaE):
			out.DeltaE[i] = a.DeltaE[i]
		default:
			out.DeltaE[i] = math.Max(a.DeltaE[i], b.DeltaE[i])
		}
	}
	return out
}

// ResolveUserBounds turns computed bounds and the user's limits into grid
// limits. Explicit limits are used as given, shifted by shift. Automatic
// limits are padded by 2·min(ΔE), or by 2·res·min(ΔE) when the resolution
// exceeds 0.2·min(ΔE).
func ResolveUserBounds(b Bounds, res float64, xmin, xmax Bound, shift float64) (lo, hi float64) {
	pad := 0.0
	if len(b.DeltaE) > 0 {
		minDelta := floats.Min(b.DeltaE)
		if res > 0.2*minDelta {
			pad = 2 * res * minDelta
		} else {
			pad = 2 * minDelta
		}
	}
	if xmin.Auto {
		lo = b.Min - pad
	} else {
		lo = xmin.Value + shift
	}
	if xmax.Auto {
		hi = b.Max + pad
	} else {
		hi = xmax.Value + shift
	}
	return lo, hi
}

// Linspace returns n equally spaced points from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}
