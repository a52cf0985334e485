// Package simulation turns selected transition-rate records into simulated
// spectra: effective intensities, grid bounds, profile summation,
// normalization and residuals against an experimental spectrum.
package simulation

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"spectrasim/rates"
	"spectrasim/shake"
)

// Mechanism selects the excitation cross section applied to every line.
type Mechanism uint8

const (
	NoMechanism Mechanism = iota
	ElectronImpact
	Photoionization
)

func (m Mechanism) String() string {
	switch m {
	case ElectronImpact:
		return "EII"
	case Photoionization:
		return "PIon"
	default:
		return "none"
	}
}

// ParseMechanism accepts "none", "EII"/"electron" and "PIon"/"photo".
func ParseMechanism(s string) (Mechanism, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return NoMechanism, nil
	case "eii", "electron", "electron-impact":
		return ElectronImpact, nil
	case "pion", "photo", "photoionization":
		return Photoionization, nil
	default:
		return NoMechanism, fmt.Errorf("simulation: unknown excitation mechanism %q", s)
	}
}

// Level is the formation energy and natural width of a vacancy level.
type Level struct {
	Label  string
	Energy float64
	Width  float64
}

// CrossSection is a tabulated cross section against beam energy.
type CrossSection struct {
	Mechanism Mechanism
	Energies  []float64
	Values    []float64
}

// ContextInput lists the read-only data a Context is built from.
type ContextInput struct {
	Tables        *rates.Tables
	Catalog       *rates.Catalog
	ShakeOff      []shake.OffRow
	ShakeUp       []shake.UpRow
	Labels        []string
	Levels        []Level
	CrossSections []CrossSection
	// Cache is optional; sharing one across contexts avoids rebuilding
	// shake tables for unchanged inputs.
	Cache *shake.Cache
	Logf  func(string, ...any)
}

// Context is the read-only state every simulation call works against. It
// is safe for concurrent use.
type Context struct {
	tables  *rates.Tables
	catalog *rates.Catalog
	shake   *shake.Tables
	labels  []string
	levels  map[string]Level
	cross   map[Mechanism]*curve
	logf    func(string, ...any)

	cascadeOnce sync.Once
	cascade     map[string]map[string]float64
}

// NewContext validates the inputs and builds the shake model.
func NewContext(in ContextInput) (*Context, error) {
	if in.Tables == nil {
		return nil, errNoTables
	}
	if in.Catalog == nil {
		return nil, errors.New("simulation: context has no transition catalog")
	}
	logf := in.Logf
	if logf == nil {
		logf = log.Printf
	}
	c := &Context{
		tables:  in.Tables,
		catalog: in.Catalog,
		levels:  make(map[string]Level, len(in.Levels)),
		cross:   make(map[Mechanism]*curve),
		logf:    logf,
	}
	for _, lvl := range in.Levels {
		c.levels[lvl.Label] = lvl
	}
	for _, cs := range in.CrossSections {
		if cs.Mechanism == NoMechanism {
			continue
		}
		cv, err := newCurve(cs.Energies, cs.Values)
		if err != nil {
			return nil, fmt.Errorf("simulation: %s cross section: %w", cs.Mechanism, err)
		}
		c.cross[cs.Mechanism] = cv
	}

	c.labels = append([]string(nil), in.Labels...)
	if len(c.labels) == 0 {
		c.labels = spectatorKeys(in.Tables)
	}

	shakeIn := shake.Input{
		ShakeOff:   in.ShakeOff,
		ShakeUp:    in.ShakeUp,
		Satellites: in.Tables.All(rates.Satellite),
		ShakeUps:   in.Tables.All(rates.ShakeUp),
		Labels:     in.Labels,
	}
	if in.Cache != nil {
		c.shake = in.Cache.Get(shakeIn, in.Tables.Fingerprint())
	} else {
		c.shake = shake.Build(shakeIn)
	}
	logf("simulation: context ready: %d lines, %d shake channels, %d spectator labels", in.Tables.Len(), len(c.shake.Channels()), len(c.labels))
	return c, nil
}

func spectatorKeys(t *rates.Tables) []string {
	seen := make(map[string]bool)
	for _, cat := range []rates.Category{rates.Satellite, rates.ShakeUp} {
		for _, line := range t.All(cat) {
			if key := line.SpectatorKey(); key != "" {
				seen[key] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func (c *Context) Tables() *rates.Tables { return c.tables }
func (c *Context) Catalog() *rates.Catalog { return c.catalog }
func (c *Context) Shake() *shake.Tables { return c.shake }

// Labels are the spectator orbitals satellites are split by.
func (c *Context) Labels() []string {
	return append([]string(nil), c.labels...)
}

// CrossSectionFactor is the configured cross section at the beam energy,
// or 1 when the mechanism has no curve or the beam is disabled.
func (c *Context) CrossSectionFactor(m Mechanism, beam float64) float64 {
	if m == NoMechanism || beam <= 0 {
		return 1
	}
	cv, ok := c.cross[m]
	if !ok {
		return 1
	}
	return cv.at(beam)
}

// CascadeBoost returns the cascade population factor of a line's initial
// level. The table is built on first use.
func (c *Context) CascadeBoost(line rates.Line) float64 {
	c.cascadeOnce.Do(c.buildCascade)
	if boost, ok := c.cascade[line.ChargeState][line.ShellInitial]; ok {
		return boost
	}
	return 1
}

// buildCascade computes, per charge state, the relative vacancy population
// P(level) = 1 + sum over parents of P(parent) * branching(parent -> level).
// Auger decays feed both final holes. Cycles contribute nothing.
func (c *Context) buildCascade() {
	c.cascade = make(map[string]map[string]float64)
	for _, state := range c.tables.States() {
		total := make(map[string]float64)
		feed := make(map[string]map[string]float64)
		addFeed := func(child, parent string, rate float64) {
			if feed[child] == nil {
				feed[child] = make(map[string]float64)
			}
			feed[child][parent] += rate
		}
		for _, line := range c.tables.Lines(rates.Diagram, state) {
			total[line.ShellInitial] += line.Rate
			addFeed(line.ShellFinal, line.ShellInitial, line.Rate)
		}
		for _, line := range c.tables.Lines(rates.Auger, state) {
			total[line.ShellInitial] += line.Rate
			for _, hole := range rates.Levels(line.ShellFinal) {
				addFeed(hole, line.ShellInitial, line.Rate)
			}
		}
		pop := make(map[string]float64)
		visiting := make(map[string]bool)
		var population func(level string) float64
		population = func(level string) float64 {
			if p, ok := pop[level]; ok {
				return p
			}
			if visiting[level] {
				return 0
			}
			visiting[level] = true
			parents := make([]string, 0, len(feed[level]))
			for parent := range feed[level] {
				parents = append(parents, parent)
			}
			sort.Strings(parents)
			p := 1.0
			for _, parent := range parents {
				if total[parent] > 0 {
					p += population(parent) * feed[level][parent] / total[parent]
				}
			}
			visiting[level] = false
			pop[level] = p
			return p
		}
		for level := range total {
			population(level)
		}
		c.cascade[state] = pop
	}
}
