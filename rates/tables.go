package rates

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/zeebo/xxh3"
)

// Tables indexes loaded lines by charge state and category. The base
// (neutral or single-state) table uses the empty charge-state tag. Tables is
// read-only once built.
type Tables struct {
	byState     map[string]*[4][]Line
	states      []string
	fingerprint uint64
}

// NewTables copies lines into a read-only index, keeping table order.
func NewTables(lines []Line) *Tables {
	t := &Tables{byState: make(map[string]*[4][]Line)}
	h := xxh3.New()
	var buf [48]byte
	for _, line := range lines {
		cats, ok := t.byState[line.ChargeState]
		if !ok {
			cats = &[4][]Line{}
			t.byState[line.ChargeState] = cats
			t.states = append(t.states, line.ChargeState)
		}
		if int(line.Category) < len(cats) {
			cats[line.Category] = append(cats[line.Category], line)
		}
		writeLineKey(h, buf[:], line)
	}
	sort.Strings(t.states)
	t.fingerprint = h.Sum64()
	return t
}

func writeLineKey(h *xxh3.Hasher, buf []byte, line Line) {
	buf[0] = byte(line.Category)
	binary.LittleEndian.PutUint64(buf[8:], uint64(int64(line.TwoJ)))
	binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(line.Energy))
	binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(line.Width))
	binary.LittleEndian.PutUint64(buf[32:], math.Float64bits(line.Rate))
	_, _ = h.Write(buf[:40])
	_, _ = h.WriteString(line.ChargeState)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(line.ShellInitial)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(line.ShellFinal)
	_, _ = h.WriteString("\x00")
}

// Lines returns the table for a category and charge state. The slice is
// shared; callers must not modify it.
func (t *Tables) Lines(cat Category, state string) []Line {
	if t == nil {
		return nil
	}
	cats, ok := t.byState[state]
	if !ok || int(cat) >= len(cats) {
		return nil
	}
	return cats[cat]
}

// All returns every line of a category across charge states.
func (t *Tables) All(cat Category) []Line {
	if t == nil {
		return nil
	}
	var out []Line
	for _, state := range t.states {
		out = append(out, t.Lines(cat, state)...)
	}
	return out
}

// States lists the charge-state tags present, sorted; "" is the base table.
func (t *Tables) States() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.states...)
}

// HasState reports whether any line carries the tag.
func (t *Tables) HasState(state string) bool {
	if t == nil {
		return false
	}
	_, ok := t.byState[state]
	return ok
}

// Fingerprint is an xxh3 digest of every record, used to key caches built
// from the tables.
func (t *Tables) Fingerprint() uint64 {
	if t == nil {
		return 0
	}
	return t.fingerprint
}

// Len counts records across all states and categories.
func (t *Tables) Len() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, cats := range t.byState {
		for _, lines := range cats {
			n += len(lines)
		}
	}
	return n
}
