// Package spectrumio reads experimental spectra and detector efficiency
// curves and writes simulation results as CSV.
package spectrumio

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"spectrasim/simulation"
)

// Purpose: Read numeric columns from a text table.
// Key aspects: Comma and semicolon files go through csv.Reader; anything
// else is split on whitespace. Blank lines, '#' comments and leading rows
// whose first field is not a number (headers) are skipped.
// Upstream: ReadExperiment, ReadEfficiency.
// Downstream: csv.Reader, parseRow.
func readColumns(raw []byte, minCols int) ([][]float64, error) {
	var rows [][]float64
	seenData := false
	add := func(fields []string, line int) error {
		if len(fields) == 0 {
			return nil
		}
		first := strings.TrimSpace(fields[0])
		if first == "" || strings.HasPrefix(first, "#") {
			return nil
		}
		if _, err := strconv.ParseFloat(first, 64); err != nil && !seenData {
			return nil
		}
		vals, err := parseRow(fields)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if len(vals) < minCols {
			return fmt.Errorf("line %d: expected at least %d columns, got %d", line, minCols, len(vals))
		}
		seenData = true
		rows = append(rows, vals)
		return nil
	}

	if comma, ok := sniffDelimiter(raw); ok {
		reader := csv.NewReader(bytes.NewReader(raw))
		reader.Comma = comma
		reader.Comment = '#'
		reader.TrimLeadingSpace = true
		reader.FieldsPerRecord = -1
		for {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, err
			}
			line, _ := reader.FieldPos(0)
			if err := add(record, line); err != nil {
				return nil, err
			}
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(raw))
		line := 0
		for scanner.Scan() {
			line++
			if err := add(strings.Fields(scanner.Text()), line); err != nil {
				return nil, err
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		return nil, errors.New("no data rows found")
	}
	return rows, nil
}

func sniffDelimiter(raw []byte) (rune, bool) {
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.Contains(line, ","):
			return ',', true
		case strings.Contains(line, ";"):
			return ';', true
		}
		return 0, false
	}
	return 0, false
}

func parseRow(fields []string) ([]float64, error) {
	vals := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			// Trailing delimiters leave empty fields.
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", f, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// ReadExperiment reads energy, intensity and optional uncertainty columns.
// Without a third column on every row sigma defaults to sqrt(|y|).
func ReadExperiment(path string) (*simulation.Experiment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("spectrumio: read %s: %w", path, err)
	}
	rows, err := readColumns(raw, 2)
	if err != nil {
		return nil, fmt.Errorf("spectrumio: %s: %w", path, err)
	}
	x := make([]float64, len(rows))
	y := make([]float64, len(rows))
	sigma := make([]float64, len(rows))
	withSigma := true
	for i, r := range rows {
		x[i], y[i] = r[0], r[1]
		if len(r) >= 3 {
			sigma[i] = r[2]
		} else {
			withSigma = false
		}
	}
	if !withSigma {
		sigma = nil
	}
	exp, err := simulation.NewExperiment(x, y, sigma)
	if err != nil {
		return nil, fmt.Errorf("spectrumio: %s: %w", path, err)
	}
	return exp, nil
}

// ReadEfficiency reads an (energy, efficiency) detector curve.
func ReadEfficiency(path string) (*simulation.Efficiency, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("spectrumio: read %s: %w", path, err)
	}
	rows, err := readColumns(raw, 2)
	if err != nil {
		return nil, fmt.Errorf("spectrumio: %s: %w", path, err)
	}
	energies := make([]float64, len(rows))
	values := make([]float64, len(rows))
	for i, r := range rows {
		energies[i], values[i] = r[0], r[1]
	}
	eff, err := simulation.NewEfficiency(energies, values)
	if err != nil {
		return nil, fmt.Errorf("spectrumio: %s: %w", path, err)
	}
	return eff, nil
}
