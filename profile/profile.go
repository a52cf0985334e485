// Package profile evaluates the line shapes used to turn discrete transition
// rates into continuous spectra: Gaussian, Lorentzian and Voigt densities.
package profile

import (
	"fmt"
	"math"
	"strings"
)

// Kind selects a line shape.
type Kind uint8

const (
	Gaussian Kind = iota
	Lorentzian
	Voigt
)

// MinWidth is the floor applied when resolution and natural width are both
// zero; a zero combined width would put the whole line into a single point.
const MinWidth = 1e-6

var (
	ln2        = math.Ln2
	gaussNorm  = math.Sqrt(math.Ln2 / math.Pi)
	fwhmSigma  = math.Sqrt(2 * math.Ln2)
	sqrt2Pi    = math.Sqrt(2 * math.Pi)
	invSqrtTwo = 1 / math.Sqrt2
)

func (k Kind) String() string {
	switch k {
	case Gaussian:
		return "gaussian"
	case Lorentzian:
		return "lorentzian"
	case Voigt:
		return "voigt"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind accepts the full names and the one-letter forms G, L and V.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "g", "gauss", "gaussian":
		return Gaussian, nil
	case "l", "lorentz", "lorentzian":
		return Lorentzian, nil
	case "v", "voigt":
		return Voigt, nil
	default:
		return Gaussian, fmt.Errorf("profile: unknown line shape %q", s)
	}
}

// Degenerate reports whether the combined width has to be clamped to MinWidth.
func Degenerate(res, width float64) bool {
	return res+width < MinWidth
}

// At evaluates a single density value at energy t.
//
// Purpose: Shared scalar kernel for the three line shapes.
// Key aspects: res is the instrumental resolution (Gaussian FWHM) and width
// the natural (Lorentzian) width; both are clamped so the result is finite.
// Upstream: Eval, AddTo, simulation summation.
// Downstream: Faddeeva for Voigt.
func At(kind Kind, t, energy, intensity, res, width float64) float64 {
	if res < 0 {
		res = 0
	}
	if width < 0 {
		width = 0
	}
	if Degenerate(res, width) {
		width = MinWidth - res
	}
	switch kind {
	case Gaussian:
		h := res + width
		d := (t - energy) / h
		return intensity * gaussNorm / h * math.Exp(-d*d*ln2)
	case Voigt:
		if res <= 0 {
			return lorentz(t, energy, intensity, width)
		}
		sigma := res / fwhmSigma
		z := complex((t-energy)/sigma*invSqrtTwo, width/2/sigma*invSqrtTwo)
		return intensity * real(Faddeeva(z)) / sigma / sqrt2Pi
	default:
		return lorentz(t, energy, intensity, res+width)
	}
}

func lorentz(t, energy, intensity, gamma float64) float64 {
	half := 0.5 * gamma
	d := t - energy
	return intensity * half / math.Pi / (d*d + half*half)
}

// Eval returns the density of one line at every energy in grid.
func Eval(kind Kind, grid []float64, energy, intensity, res, width float64) []float64 {
	out := make([]float64, len(grid))
	AddTo(out, kind, grid, energy, intensity, res, width, nil)
	return out
}

// AddTo accumulates one line into dst. When weight is non-nil every point is
// scaled by weight[i] (detector efficiency). dst, grid and weight must share a
// length.
func AddTo(dst []float64, kind Kind, grid []float64, energy, intensity, res, width float64, weight []float64) {
	if len(dst) != len(grid) {
		panic("profile: length mismatch")
	}
	if weight != nil && len(weight) != len(grid) {
		panic("profile: weight length mismatch")
	}
	for i, t := range grid {
		v := At(kind, t, energy, intensity, res, width)
		if weight != nil {
			v *= weight[i]
		}
		dst[i] += v
	}
}
