package ratestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"spectrasim/rates"
	"spectrasim/shake"
	"spectrasim/simulation"
)

// Load reads the whole dataset. Rows with an unknown category or mechanism
// are skipped and logged once per table.
func (s *Store) Load(ctx context.Context) (*Dataset, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("ratestore: store is closed")
	}
	d := &Dataset{}
	steps := []struct {
		name string
		run  func(context.Context, *Dataset) error
	}{
		{"meta", s.loadMeta},
		{"lines", s.loadLines},
		{"transitions", s.loadTransitions},
		{"shake_off", s.loadShakeOff},
		{"shake_up", s.loadShakeUp},
		{"labels", s.loadLabels},
		{"levels", s.loadLevels},
		{"cross_sections", s.loadCrossSections},
	}
	for _, step := range steps {
		if err := step.run(ctx, d); err != nil {
			return nil, fmt.Errorf("ratestore: load %s: %w", step.name, err)
		}
	}
	if len(d.Lines) == 0 {
		return nil, fmt.Errorf("ratestore: %s has no rate lines", s.path)
	}
	return d, nil
}

func (s *Store) each(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) loadMeta(ctx context.Context, d *Dataset) error {
	return s.each(ctx, "SELECT key, value FROM meta", func(rows *sql.Rows) error {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		switch key {
		case "name":
			d.Name = value
		case "schema_version":
			if value != SchemaVersion {
				s.logf("ratestore: %s has schema version %s, expected %s", s.path, value, SchemaVersion)
			}
		}
		return nil
	})
}

func (s *Store) loadLines(ctx context.Context, d *Dataset) error {
	skipped := 0
	err := s.each(ctx, `SELECT category, charge_state, shell_initial, shell_final, two_j, energy, width, rate
FROM lines ORDER BY rowid`, func(rows *sql.Rows) error {
		var cat string
		var l rates.Line
		if err := rows.Scan(&cat, &l.ChargeState, &l.ShellInitial, &l.ShellFinal, &l.TwoJ, &l.Energy, &l.Width, &l.Rate); err != nil {
			return err
		}
		c, err := rates.ParseCategory(cat)
		if err != nil {
			skipped++
			return nil
		}
		l.Category = c
		d.Lines = append(d.Lines, l)
		return nil
	})
	if skipped > 0 {
		s.logf("ratestore: skipped %d lines with an unknown category", skipped)
	}
	return err
}

func (s *Store) loadTransitions(ctx context.Context, d *Dataset) error {
	return s.each(ctx, "SELECT name, low, high, auger, selected FROM transitions ORDER BY position", func(rows *sql.Rows) error {
		var tr rates.Transition
		var selected int
		if err := rows.Scan(&tr.Name, &tr.Low, &tr.High, &tr.Auger, &selected); err != nil {
			return err
		}
		tr.Selected = selected != 0
		if tr.IsAuger() {
			d.Auger = append(d.Auger, tr)
		} else {
			d.Radiative = append(d.Radiative, tr)
		}
		return nil
	})
}

func (s *Store) loadShakeOff(ctx context.Context, d *Dataset) error {
	return s.each(ctx, "SELECT key, two_j, probability FROM shake_off ORDER BY rowid", func(rows *sql.Rows) error {
		var r shake.OffRow
		if err := rows.Scan(&r.Key, &r.TwoJ, &r.Probability); err != nil {
			return err
		}
		d.ShakeOff = append(d.ShakeOff, r)
		return nil
	})
}

func (s *Store) loadShakeUp(ctx context.Context, d *Dataset) error {
	return s.each(ctx, "SELECT key, orbital, two_j, probability FROM shake_up ORDER BY rowid", func(rows *sql.Rows) error {
		var r shake.UpRow
		if err := rows.Scan(&r.Key, &r.Order, &r.TwoJ, &r.Probability); err != nil {
			return err
		}
		d.ShakeUp = append(d.ShakeUp, r)
		return nil
	})
}

func (s *Store) loadLabels(ctx context.Context, d *Dataset) error {
	return s.each(ctx, "SELECT label FROM labels ORDER BY position", func(rows *sql.Rows) error {
		var label string
		if err := rows.Scan(&label); err != nil {
			return err
		}
		d.Labels = append(d.Labels, label)
		return nil
	})
}

func (s *Store) loadLevels(ctx context.Context, d *Dataset) error {
	return s.each(ctx, "SELECT label, energy, width FROM levels ORDER BY label", func(rows *sql.Rows) error {
		var lv simulation.Level
		if err := rows.Scan(&lv.Label, &lv.Energy, &lv.Width); err != nil {
			return err
		}
		d.Levels = append(d.Levels, lv)
		return nil
	})
}

func (s *Store) loadCrossSections(ctx context.Context, d *Dataset) error {
	byMech := make(map[simulation.Mechanism]int)
	skipped := 0
	err := s.each(ctx, "SELECT mechanism, energy, value FROM cross_sections ORDER BY mechanism, energy", func(rows *sql.Rows) error {
		var name string
		var e, v float64
		if err := rows.Scan(&name, &e, &v); err != nil {
			return err
		}
		m, err := simulation.ParseMechanism(name)
		if err != nil || m == simulation.NoMechanism {
			skipped++
			return nil
		}
		i, ok := byMech[m]
		if !ok {
			i = len(d.CrossSections)
			byMech[m] = i
			d.CrossSections = append(d.CrossSections, simulation.CrossSection{Mechanism: m})
		}
		cs := &d.CrossSections[i]
		cs.Energies = append(cs.Energies, e)
		cs.Values = append(cs.Values, v)
		return nil
	})
	if skipped > 0 {
		s.logf("ratestore: skipped %d cross-section points with an unknown mechanism", skipped)
	}
	return err
}
