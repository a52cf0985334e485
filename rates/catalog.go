package rates

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	lev "github.com/agnivade/levenshtein"
)

// Transition is a catalog entry: a named transition between two levels, plus
// the second final hole for Auger transitions.
type Transition struct {
	Name     string
	Low      string
	High     string
	Auger    string
	Selected bool
}

// IsAuger reports whether the entry names a three-level Auger transition.
func (t Transition) IsAuger() bool {
	return t.Auger != ""
}

// Catalog is the read-only set of known radiative and Auger transitions.
type Catalog struct {
	radiative []Transition
	auger     []Transition
	byName    map[string]Transition
}

// UnknownTransitionError reports a selection that names no catalog entry.
type UnknownTransitionError struct {
	Name        string
	Suggestions []string
}

func (e *UnknownTransitionError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("rates: unknown transition %q", e.Name)
	}
	return fmt.Sprintf("rates: unknown transition %q (did you mean %s?)", e.Name, strings.Join(e.Suggestions, ", "))
}

// NewCatalog validates and indexes the entries. Names must be unique across
// both lists; Auger entries need all three levels.
func NewCatalog(radiative, auger []Transition) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Transition, len(radiative)+len(auger))}
	add := func(tr Transition, isAuger bool) error {
		tr.Name = strings.TrimSpace(tr.Name)
		if tr.Name == "" {
			return errors.New("rates: transition with empty name")
		}
		if tr.Low == "" || tr.High == "" {
			return fmt.Errorf("rates: transition %q missing level labels", tr.Name)
		}
		if isAuger && tr.Auger == "" {
			return fmt.Errorf("rates: auger transition %q missing auger level", tr.Name)
		}
		if !isAuger {
			tr.Auger = ""
		}
		if _, dup := c.byName[tr.Name]; dup {
			return fmt.Errorf("rates: duplicate transition %q", tr.Name)
		}
		c.byName[tr.Name] = tr
		if isAuger {
			c.auger = append(c.auger, tr)
		} else {
			c.radiative = append(c.radiative, tr)
		}
		return nil
	}
	for _, tr := range radiative {
		if err := add(tr, false); err != nil {
			return nil, err
		}
	}
	for _, tr := range auger {
		if err := add(tr, true); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Radiative returns the radiative entries in load order.
func (c *Catalog) Radiative() []Transition {
	if c == nil {
		return nil
	}
	return append([]Transition(nil), c.radiative...)
}

// Auger returns the Auger entries in load order.
func (c *Catalog) Auger() []Transition {
	if c == nil {
		return nil
	}
	return append([]Transition(nil), c.auger...)
}

// Lookup finds an entry by exact name.
func (c *Catalog) Lookup(name string) (Transition, bool) {
	if c == nil {
		return Transition{}, false
	}
	tr, ok := c.byName[name]
	return tr, ok
}

// DefaultSelection is the set of entries flagged selected at load time.
func (c *Catalog) DefaultSelection() SelectionSet {
	if c == nil {
		return SelectionSet{}
	}
	var names []string
	for _, tr := range c.radiative {
		if tr.Selected {
			names = append(names, tr.Name)
		}
	}
	for _, tr := range c.auger {
		if tr.Selected {
			names = append(names, tr.Name)
		}
	}
	return NewSelection(names...)
}

// Resolve turns user-supplied names into a SelectionSet. Every unknown name
// is returned as an *UnknownTransitionError joined into one error.
func (c *Catalog) Resolve(names []string) (SelectionSet, error) {
	var (
		valid []string
		errs  []error
	)
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, ok := c.Lookup(name); !ok {
			errs = append(errs, &UnknownTransitionError{Name: name, Suggestions: c.Suggest(name, 3)})
			continue
		}
		valid = append(valid, name)
	}
	return NewSelection(valid...), errors.Join(errs...)
}

// Suggest returns up to max catalog names closest to name by edit distance,
// skipping anything further than half the name's length.
func (c *Catalog) Suggest(name string, max int) []string {
	if c == nil || max <= 0 {
		return nil
	}
	type scored struct {
		name string
		dist int
	}
	limit := len(name)/2 + 1
	var candidates []scored
	for known := range c.byName {
		d := lev.ComputeDistance(strings.ToLower(name), strings.ToLower(known))
		if d <= limit {
			candidates = append(candidates, scored{name: known, dist: d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].name < candidates[j].name
	})
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	out := make([]string, len(candidates))
	for i, cand := range candidates {
		out[i] = cand.name
	}
	return out
}
