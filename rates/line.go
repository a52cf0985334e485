// Package rates holds fine-structure transition records, the transition
// catalog and the level-label filters that select lines for a transition.
package rates

import (
	"fmt"
	"strconv"
	"strings"
)

// Category identifies the rate table a record was loaded from.
type Category uint8

const (
	Diagram Category = iota
	Satellite
	ShakeUp
	Auger
)

var categoryNames = [...]string{"diagram", "satellite", "shakeup", "auger"}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// ParseCategory maps a stored table name back to a Category.
func ParseCategory(s string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "")
	for i, name := range categoryNames {
		if key == name {
			return Category(i), nil
		}
	}
	if key == "sat" || key == "satellites" {
		return Satellite, nil
	}
	return Diagram, fmt.Errorf("rates: unknown category %q", s)
}

// Line is one fine-structure rate-table row. Level labels are built from
// two-character level names ("K1", "L3", "M5"); satellite labels carry the
// spectator hole after the primary one ("K1L1") and shake-up labels append
// the excitation orbital ("K1L15s").
//
// Line is a value type. WithMix and WithDiagramOverlap return modified
// copies so a record shared between transitions or charge states is never
// changed in place.
type Line struct {
	Category     Category
	ChargeState  string
	ShellInitial string
	ShellFinal   string
	TwoJ         int
	Energy       float64
	Width        float64
	Rate         float64

	mix        float64
	hasMix     bool
	overlap    float64
	hasOverlap bool
}

// WithMix returns a copy carrying a charge-state mixing fraction.
func (l Line) WithMix(fraction float64) Line {
	l.mix = fraction
	l.hasMix = true
	return l
}

// WithDiagramOverlap returns a copy carrying the parent diagram overlap.
func (l Line) WithDiagramOverlap(overlap float64) Line {
	l.overlap = overlap
	l.hasOverlap = true
	return l
}

// MixWeight is the mixing fraction, or 1 when none was applied.
func (l Line) MixWeight() float64 {
	if !l.hasMix {
		return 1
	}
	return l.mix
}

// DiagramOverlap reports the overlap set by WithDiagramOverlap.
func (l Line) DiagramOverlap() (float64, bool) {
	return l.overlap, l.hasOverlap
}

// SpectatorKey is the spectator-hole level of a satellite or shake-up label.
func (l Line) SpectatorKey() string {
	if len(l.ShellInitial) < 4 {
		return ""
	}
	return l.ShellInitial[2:4]
}

// ExcitationOrder is the principal quantum number of the shake-up orbital,
// parsed from the label suffix ("K1L15s" -> 5).
func (l Line) ExcitationOrder() (int, bool) {
	if len(l.ShellInitial) < 6 {
		return 0, false
	}
	suffix := l.ShellInitial[4 : len(l.ShellInitial)-1]
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Levels splits a label into its two-character level names.
func Levels(label string) []string {
	if len(label) < 2 {
		return nil
	}
	out := make([]string, 0, len(label)/2)
	for i := 0; i+2 <= len(label); i += 2 {
		out = append(out, label[i:i+2])
	}
	return out
}
