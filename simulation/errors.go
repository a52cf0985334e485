package simulation

import (
	"fmt"
	"strings"
)

// NoDataError counts selected transitions that matched no rate records.
// It is collected in a Report, never returned per transition.
type NoDataError struct {
	Count       int
	Transitions []string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("simulation: %d transition(s) matched no rate records: %s", e.Count, strings.Join(e.Transitions, ", "))
}

// NoSelectionError means no transition was selected for the spectrum type.
type NoSelectionError struct {
	Type SpectrumType
}

func (e *NoSelectionError) Error() string {
	return fmt.Sprintf("simulation: no transition was chosen for a %s spectrum", e.Type)
}

// InvalidSelectionError counts selections that could not be parsed or
// matched: transitions without data, unknown 2J values, bad mixtures or
// bounds.
type InvalidSelectionError struct {
	Count int
	Items []string
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("simulation: you chose %d invalid selection(s): %s", e.Count, strings.Join(e.Items, ", "))
}

// MissingPrerequisiteError means an option needs an input that is not
// loaded. The option is disabled and the run continues.
type MissingPrerequisiteError struct {
	Option string
	Needs  string
}

func (e *MissingPrerequisiteError) Error() string {
	return fmt.Sprintf("simulation: %s requires %s; option disabled", e.Option, e.Needs)
}

// NumericDegeneracyError records a value that had to be clamped to keep the
// output finite.
type NumericDegeneracyError struct {
	Where string
}

func (e *NumericDegeneracyError) Error() string {
	return "simulation: degenerate value clamped in " + e.Where
}

// Report carries the best-effort diagnostics of a run alongside its
// partial results.
type Report struct {
	Selected int
	Bad      int
	Issues   []error
}

func (r *Report) add(err error) {
	r.Issues = append(r.Issues, err)
}

// Warnings renders the issues as text lines.
func (r Report) Warnings() []string {
	out := make([]string, 0, len(r.Issues))
	for _, err := range r.Issues {
		out = append(out, err.Error())
	}
	return out
}
