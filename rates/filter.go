package rates

import (
	"fmt"
	"strings"
)

// Strictness controls how level labels are compared.
type Strictness uint8

const (
	// Exact requires both labels to equal the requested levels ("h").
	Exact Strictness = iota
	// Augmented accepts labels that contain the requested levels, which is
	// how spectator holes and excitation orbitals appear ("na").
	Augmented
)

// ParseStrictness accepts the short table codes "h" and "na".
func ParseStrictness(s string) (Strictness, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h", "exact":
		return Exact, nil
	case "na", "augmented":
		return Augmented, nil
	default:
		return Exact, fmt.Errorf("rates: unknown strictness %q", s)
	}
}

// MatchLevels reports whether the line belongs to the low -> high transition.
// auger is the second final hole of an Auger transition and may be empty.
func (l Line) MatchLevels(low, high, auger string, strict Strictness) bool {
	if strict == Exact {
		if l.ShellInitial != low {
			return false
		}
		if auger == "" {
			return l.ShellFinal == high
		}
		return l.ShellFinal == high+auger || l.ShellFinal == auger+high
	}
	if !strings.Contains(l.ShellInitial, low) || !strings.Contains(l.ShellFinal, high) {
		return false
	}
	return auger == "" || strings.Contains(l.ShellFinal, auger)
}

// FilterLevel returns the lines of one transition that pass the 2J filter.
// The result is freshly allocated; table entries are copied, never aliased.
func FilterLevel(lines []Line, low, high, auger string, strict Strictness, jj JJSet) []Line {
	var out []Line
	for _, line := range lines {
		if line.MatchLevels(low, high, auger, strict) && jj.Allows(line.TwoJ) {
			out = append(out, line)
		}
	}
	return out
}

// SatellitePermutations lists the four (initial, final) label pairs a
// spectator hole key can produce for low -> high.
func SatellitePermutations(low, high, key string) [4][2]string {
	return [4][2]string{
		{low + key, key + high},
		{low + key, high + key},
		{key + low, key + high},
		{key + low, high + key},
	}
}

// FilterSatellite unions the augmented matches of all four spectator label
// permutations. Each table row appears at most once, in table order.
func FilterSatellite(lines []Line, low, high, key string, jj JJSet) []Line {
	perms := SatellitePermutations(low, high, key)
	var out []Line
	for _, line := range lines {
		if !jj.Allows(line.TwoJ) {
			continue
		}
		for _, p := range perms {
			if line.MatchLevels(p[0], p[1], "", Augmented) {
				out = append(out, line)
				break
			}
		}
	}
	return out
}

// FilterChargeState keeps lines tagged with state and applies its mixing
// fraction.
func FilterChargeState(lines []Line, state string, fraction float64) []Line {
	var out []Line
	for _, line := range lines {
		if line.ChargeState == state {
			out = append(out, line.WithMix(fraction))
		}
	}
	return out
}

// TwoJValues returns the sorted distinct 2J values in lines.
func TwoJValues(lines []Line) []int {
	set := NewJJSet()
	for _, line := range lines {
		set.vals[line.TwoJ] = struct{}{}
	}
	return set.Values()
}
