// Package shake models shake-off and shake-up probabilities: per-orbital
// tables built from raw rate rows, spline interpolation over excitation
// orders, redistribution of probability mass the observed lines do not
// cover, and the ordering relations between channels used while fitting.
package shake

import (
	"sort"
	"strconv"
	"strings"

	"spectrasim/rates"
)

// OffRow is one shake-off table row.
type OffRow struct {
	Key         string
	TwoJ        int
	Probability float64
}

// UpRow is one shake-up table row. Order is the excitation orbital ("5s",
// "5") or "SUM" for the cumulative probability of the key at that 2J.
type UpRow struct {
	Key         string
	Order       string
	TwoJ        int
	Probability float64
}

// IsSum reports whether the row carries the cumulative total.
func (r UpRow) IsSum() bool {
	return strings.EqualFold(strings.TrimSpace(r.Order), "SUM")
}

// OrderIndex parses the principal quantum number of the excitation orbital.
func (r UpRow) OrderIndex() (int, bool) {
	s := strings.TrimSpace(r.Order)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Input collects everything Build needs. Satellites and ShakeUps are the
// observed satellite lines; they decide which probability mass is missing.
// Labels is the full list of spectator orbitals; when empty the shake-off
// keys are used.
type Input struct {
	ShakeOff   []OffRow
	ShakeUp    []UpRow
	Satellites []rates.Line
	ShakeUps   []rates.Line
	Labels     []string
}

type upKey struct {
	key  string
	twoJ int
}

// Tables is the read-only shake model for one set of rate tables.
type Tables struct {
	off        []OffRow
	up         []UpRow
	offAvg     map[string]float64
	missingOff float64
	splines    map[upKey]*spline
	upSum      map[upKey]float64
	missingUp  map[upKey]float64
	upBase     map[string]float64
	channels   []Channel
	twoJs      []int
}

// Build groups the raw rows and derives the missing-mass corrections.
//
// Purpose: Construct the shake model once per set of rate tables.
// Key aspects: Shake-up mass missing for a (key, 2J) is spread over the
// excitation orders actually observed so that observed orders sum to the
// SUM row. Shake-off mass of orbitals without observed satellites is spread
// over the observed orbitals. Absent SUM rows or empty denominators leave
// the tables uncorrected.
// Upstream: simulation.NewContext through Cache.
// Downstream: spline fitting.
func Build(in Input) *Tables {
	t := &Tables{
		off:       append([]OffRow(nil), in.ShakeOff...),
		up:        append([]UpRow(nil), in.ShakeUp...),
		offAvg:    make(map[string]float64),
		splines:   make(map[upKey]*spline),
		upSum:     make(map[upKey]float64),
		missingUp: make(map[upKey]float64),
		upBase:    make(map[string]float64),
	}
	t.buildShakeOff(in)
	t.buildShakeUp(in)
	t.collectChannels()
	return t
}

func weightedByMultiplicity(sum, weight map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(sum))
	for key, s := range sum {
		if weight[key] > 0 {
			out[key] = s / weight[key]
		}
	}
	return out
}

func (t *Tables) buildShakeOff(in Input) {
	sum := make(map[string]float64)
	weight := make(map[string]float64)
	for _, row := range t.off {
		mult := float64(row.TwoJ + 1)
		sum[row.Key] += row.Probability * mult
		weight[row.Key] += mult
	}
	t.offAvg = weightedByMultiplicity(sum, weight)

	observed := make(map[string]bool)
	for _, line := range in.Satellites {
		if key := line.SpectatorKey(); key != "" {
			observed[key] = true
		}
	}
	missingRows := 0
	missingMass := 0.0
	counted := make(map[string]bool)
	for _, row := range t.off {
		if observed[row.Key] {
			continue
		}
		missingRows++
		if !counted[row.Key] {
			counted[row.Key] = true
			missingMass += t.offAvg[row.Key]
		}
	}
	labels := len(in.Labels)
	if labels == 0 {
		labels = len(t.offAvg)
	}
	// Each orbital is assumed to carry two 2J rows, so missingRows/2 counts
	// the unobserved orbitals.
	denom := float64(labels) - float64(missingRows)/2
	if missingRows > 0 && denom > 0 {
		t.missingOff = missingMass / denom
	}
}

func (t *Tables) buildShakeUp(in Input) {
	points := make(map[upKey]map[float64][]float64)
	for _, row := range t.up {
		k := upKey{key: row.Key, twoJ: row.TwoJ}
		if row.IsSum() {
			t.upSum[k] += row.Probability
			continue
		}
		order, ok := row.OrderIndex()
		if !ok {
			continue
		}
		if points[k] == nil {
			points[k] = make(map[float64][]float64)
		}
		points[k][float64(order)] = append(points[k][float64(order)], row.Probability)
	}
	for k, byOrder := range points {
		if sp := newSpline(byOrder); sp != nil {
			t.splines[k] = sp
		}
	}

	found := make(map[upKey]map[int]bool)
	for _, line := range in.ShakeUps {
		order, ok := line.ExcitationOrder()
		if !ok {
			continue
		}
		k := upKey{key: line.SpectatorKey(), twoJ: line.TwoJ}
		if found[k] == nil {
			found[k] = make(map[int]bool)
		}
		found[k][order] = true
	}
	for k, total := range t.upSum {
		orders := found[k]
		if len(orders) == 0 {
			continue
		}
		existing := 0.0
		for order := range orders {
			existing += t.splineValue(k, float64(order))
		}
		t.missingUp[k] = (total - existing) / float64(len(orders))
	}

	// Channel base probability: SUM rows when present, else the tabulated
	// orders, averaged over 2J by multiplicity.
	totals := make(map[upKey]float64)
	for k, total := range t.upSum {
		totals[k] = total
	}
	for k, byOrder := range points {
		if _, ok := t.upSum[k]; ok {
			continue
		}
		for _, ps := range byOrder {
			totals[k] += mean(ps)
		}
	}
	sum := make(map[string]float64)
	weight := make(map[string]float64)
	for k, total := range totals {
		mult := float64(k.twoJ + 1)
		sum[k.key] += total * mult
		weight[k.key] += mult
	}
	t.upBase = weightedByMultiplicity(sum, weight)
}

func (t *Tables) collectChannels() {
	twoJ := make(map[int]bool)
	for key := range t.offAvg {
		t.channels = append(t.channels, Channel{Kind: ShakeOff, Key: key})
	}
	for key := range t.upBase {
		t.channels = append(t.channels, Channel{Kind: ShakeUp, Key: key})
	}
	sortChannels(t.channels)
	for _, row := range t.off {
		twoJ[row.TwoJ] = true
	}
	for k := range t.upSum {
		twoJ[k.twoJ] = true
	}
	for v := range twoJ {
		t.twoJs = append(t.twoJs, v)
	}
	sort.Ints(t.twoJs)
}

func (t *Tables) splineValue(k upKey, order float64) float64 {
	sp, ok := t.splines[k]
	if !ok {
		return 0
	}
	v, ok := sp.at(order)
	if !ok {
		return 0
	}
	return v
}

// ShakeoffProbability is the multiplicity-weighted shake-off probability of
// key plus the redistributed missing mass. Unknown keys yield 0.
func (t *Tables) ShakeoffProbability(key string) float64 {
	if t == nil {
		return 0
	}
	avg, ok := t.offAvg[key]
	if !ok {
		return 0
	}
	return avg + t.missingOff
}

// ShakeupProbability is the interpolated shake-up probability for an
// excitation order, plus the missing-mass correction for (key, 2J). It
// returns 0 when no spline exists or the order is outside the tabulated
// range.
func (t *Tables) ShakeupProbability(key string, order, twoJ int) float64 {
	if t == nil {
		return 0
	}
	k := upKey{key: key, twoJ: twoJ}
	sp, ok := t.splines[k]
	if !ok {
		return 0
	}
	v, ok := sp.at(float64(order))
	if !ok {
		return 0
	}
	return v + t.missingUp[k]
}

// TotalShake sums the shake-off rows and shake-up SUM rows at twoJ, each
// scaled by its channel amplitude.
func (t *Tables) TotalShake(twoJ int, amps Amplitudes) float64 {
	if t == nil {
		return 0
	}
	total := 0.0
	for _, row := range t.off {
		if row.TwoJ == twoJ {
			total += row.Probability * amps.Get(Channel{Kind: ShakeOff, Key: row.Key})
		}
	}
	for _, row := range t.up {
		if row.TwoJ == twoJ && row.IsSum() {
			total += row.Probability * amps.Get(Channel{Kind: ShakeUp, Key: row.Key})
		}
	}
	return total
}

// AvgTotalShake averages TotalShake over the 2J values present in the
// tables, weighted by multiplicity.
func (t *Tables) AvgTotalShake(amps Amplitudes) float64 {
	if t == nil || len(t.twoJs) == 0 {
		return 0
	}
	sum, weight := 0.0, 0.0
	for _, twoJ := range t.twoJs {
		mult := float64(twoJ + 1)
		sum += t.TotalShake(twoJ, amps) * mult
		weight += mult
	}
	if weight <= 0 {
		return 0
	}
	return sum / weight
}

// Channels lists every channel with table rows, off before up, keys sorted.
func (t *Tables) Channels() []Channel {
	if t == nil {
		return nil
	}
	return append([]Channel(nil), t.channels...)
}

// Base is the unscaled probability of a channel used for ordering.
func (t *Tables) Base(ch Channel) float64 {
	if t == nil {
		return 0
	}
	if ch.Kind == ShakeUp {
		return t.upBase[ch.Key]
	}
	return t.offAvg[ch.Key]
}

// MissingShakeoff is the mass added to every observed shake-off orbital.
func (t *Tables) MissingShakeoff() float64 {
	if t == nil {
		return 0
	}
	return t.missingOff
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range vals {
		s += v
	}
	return s / float64(len(vals))
}
