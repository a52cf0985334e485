// Package stats tracks simulation and fit counters for periodic console
// output and the end-of-run summary.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker counts simulations, profile evaluations, bad selections and fit
// outcomes.
type Tracker struct {
	// per-key counters live in sync.Map + atomic.Uint64 so hot-path
	// increments from evaluations don't fight over a mutex
	fitOutcomes   sync.Map // phase -> *atomic.Uint64
	badSelections sync.Map // transition name -> *atomic.Uint64
	start         atomic.Int64
	simulations   atomic.Uint64
	evaluations   atomic.Uint64
	warnings      atomic.Uint64
}

// NewTracker creates a new stats tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// IncrementSimulations counts one prepared simulation.
func (t *Tracker) IncrementSimulations() {
	if t == nil {
		return
	}
	t.simulations.Add(1)
}

// AddEvaluations counts profile evaluations, e.g. the calls made by a fit.
func (t *Tracker) AddEvaluations(n int) {
	if t == nil || n <= 0 {
		return
	}
	t.evaluations.Add(uint64(n))
}

// AddWarnings counts non-fatal simulation issues.
func (t *Tracker) AddWarnings(n int) {
	if t == nil || n <= 0 {
		return
	}
	t.warnings.Add(uint64(n))
}

// IncrementBadSelection counts a transition that produced no lines.
func (t *Tracker) IncrementBadSelection(name string) {
	if t == nil {
		return
	}
	incrementCounter(&t.badSelections, name)
}

// IncrementFitOutcome counts a terminal fit phase (converged, failed,
// cancelled).
func (t *Tracker) IncrementFitOutcome(phase string) {
	if t == nil {
		return
	}
	incrementCounter(&t.fitOutcomes, strings.ToLower(strings.TrimSpace(phase)))
}

// Simulations returns the number of prepared simulations.
func (t *Tracker) Simulations() uint64 {
	return t.simulations.Load()
}

// Evaluations returns the number of profile evaluations.
func (t *Tracker) Evaluations() uint64 {
	return t.evaluations.Load()
}

// Warnings returns the number of recorded simulation issues.
func (t *Tracker) Warnings() uint64 {
	return t.warnings.Load()
}

// GetFitOutcomes returns a copy of the fit outcome counts.
func (t *Tracker) GetFitOutcomes() map[string]uint64 {
	return snapshot(&t.fitOutcomes)
}

// GetBadSelections returns a copy of the per-transition bad counts.
func (t *Tracker) GetBadSelections() map[string]uint64 {
	return snapshot(&t.badSelections)
}

// GetUptime returns how long the tracker has been running.
func (t *Tracker) GetUptime() time.Duration {
	start := t.start.Load()
	return time.Since(time.Unix(0, start))
}

// Reset clears every counter.
func (t *Tracker) Reset() {
	for _, m := range []*sync.Map{&t.fitOutcomes, &t.badSelections} {
		m.Range(func(key, _ any) bool {
			m.Delete(key)
			return true
		})
	}
	t.simulations.Store(0)
	t.evaluations.Store(0)
	t.warnings.Store(0)
	t.start.Store(time.Now().UnixNano())
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	lines := make([]string, 0, 3)
	lines = append(lines, fmt.Sprintf("Simulations: %s, evaluations: %s, warnings: %s (up %s)",
		humanize.Comma(int64(t.simulations.Load())),
		humanize.Comma(int64(t.evaluations.Load())),
		humanize.Comma(int64(t.warnings.Load())),
		t.GetUptime().Round(time.Millisecond)))
	lines = append(lines, formatMapCounts("Fits", &t.fitOutcomes))
	lines = append(lines, formatMapCounts("Empty transitions", &t.badSelections))
	return lines
}

func snapshot(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func formatMapCounts(label string, counts *sync.Map) string {
	snap := snapshot(counts)
	keys := make([]string, 0, len(snap))
	for key := range snap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	for i, key := range keys {
		if i > 0 {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%s", key, humanize.Comma(int64(snap[key])))
	}
	if len(keys) == 0 {
		builder.WriteString("(none)")
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
