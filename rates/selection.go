package rates

import "sort"

// SelectionSet is an immutable set of selected transition names. Every
// change returns a new set; the receiver is never modified.
type SelectionSet struct {
	names map[string]struct{}
}

// NewSelection builds a set from names.
func NewSelection(names ...string) SelectionSet {
	s := SelectionSet{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		s.names[name] = struct{}{}
	}
	return s
}

func (s SelectionSet) clone(extra int) SelectionSet {
	out := SelectionSet{names: make(map[string]struct{}, len(s.names)+extra)}
	for name := range s.names {
		out.names[name] = struct{}{}
	}
	return out
}

// With returns a set that also contains names.
func (s SelectionSet) With(names ...string) SelectionSet {
	out := s.clone(len(names))
	for _, name := range names {
		out.names[name] = struct{}{}
	}
	return out
}

// Without returns a set with names removed.
func (s SelectionSet) Without(names ...string) SelectionSet {
	out := s.clone(0)
	for _, name := range names {
		delete(out.names, name)
	}
	return out
}

// Toggle flips membership of one name.
func (s SelectionSet) Toggle(name string) SelectionSet {
	if s.Contains(name) {
		return s.Without(name)
	}
	return s.With(name)
}

func (s SelectionSet) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

func (s SelectionSet) Len() int {
	return len(s.names)
}

// Names returns the members sorted.
func (s SelectionSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// JJSet is an immutable set of 2J values. The empty set means no filter.
type JJSet struct {
	vals map[int]struct{}
}

// NewJJSet builds a 2J filter.
func NewJJSet(vals ...int) JJSet {
	s := JJSet{vals: make(map[int]struct{}, len(vals))}
	for _, v := range vals {
		s.vals[v] = struct{}{}
	}
	return s
}

// Allows reports whether a line with this 2J passes the filter.
func (s JJSet) Allows(twoJ int) bool {
	if len(s.vals) == 0 {
		return true
	}
	_, ok := s.vals[twoJ]
	return ok
}

func (s JJSet) Empty() bool {
	return len(s.vals) == 0
}

// Values returns the members in ascending order.
func (s JJSet) Values() []int {
	out := make([]int, 0, len(s.vals))
	for v := range s.vals {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Toggle flips membership of one 2J value.
func (s JJSet) Toggle(twoJ int) JJSet {
	out := NewJJSet(s.Values()...)
	if _, ok := out.vals[twoJ]; ok {
		delete(out.vals, twoJ)
	} else {
		out.vals[twoJ] = struct{}{}
	}
	return out
}
