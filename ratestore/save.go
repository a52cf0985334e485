package ratestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Save replaces the stored dataset in one transaction.
func (s *Store) Save(ctx context.Context, d *Dataset) error {
	if s == nil || s.db == nil {
		return errors.New("ratestore: store is closed")
	}
	if s.readOnly {
		return fmt.Errorf("ratestore: %s is open read-only", s.path)
	}
	if d == nil {
		return errors.New("ratestore: nil dataset")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ratestore: begin: %w", err)
	}
	if err := writeDataset(ctx, tx, d); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ratestore: commit: %w", err)
	}
	s.logf("ratestore: saved %d lines, %d transitions, %d shake rows to %s",
		len(d.Lines), len(d.Radiative)+len(d.Auger), len(d.ShakeOff)+len(d.ShakeUp), s.path)
	return nil
}

func writeDataset(ctx context.Context, tx *sql.Tx, d *Dataset) error {
	for _, table := range RequiredTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("ratestore: clear %s: %w", table, err)
		}
	}

	meta := [][]any{{"schema_version", SchemaVersion}, {"name", d.Name}}
	if err := insertAll(ctx, tx, "meta", "INSERT INTO meta (key, value) VALUES (?, ?)", meta); err != nil {
		return err
	}

	lines := make([][]any, len(d.Lines))
	for i, l := range d.Lines {
		lines[i] = []any{l.Category.String(), l.ChargeState, l.ShellInitial, l.ShellFinal, l.TwoJ, l.Energy, l.Width, l.Rate}
	}
	if err := insertAll(ctx, tx, "lines", `INSERT INTO lines
(category, charge_state, shell_initial, shell_final, two_j, energy, width, rate) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, lines); err != nil {
		return err
	}

	var transitions [][]any
	all := append(d.Radiative[:len(d.Radiative):len(d.Radiative)], d.Auger...)
	for _, tr := range all {
		transitions = append(transitions, []any{len(transitions), tr.Name, tr.Low, tr.High, tr.Auger, boolToInt(tr.Selected)})
	}
	if err := insertAll(ctx, tx, "transitions", `INSERT INTO transitions
(position, name, low, high, auger, selected) VALUES (?, ?, ?, ?, ?, ?)`, transitions); err != nil {
		return err
	}

	off := make([][]any, len(d.ShakeOff))
	for i, r := range d.ShakeOff {
		off[i] = []any{r.Key, r.TwoJ, r.Probability}
	}
	if err := insertAll(ctx, tx, "shake_off", "INSERT INTO shake_off (key, two_j, probability) VALUES (?, ?, ?)", off); err != nil {
		return err
	}

	up := make([][]any, len(d.ShakeUp))
	for i, r := range d.ShakeUp {
		up[i] = []any{r.Key, r.Order, r.TwoJ, r.Probability}
	}
	if err := insertAll(ctx, tx, "shake_up", "INSERT INTO shake_up (key, orbital, two_j, probability) VALUES (?, ?, ?, ?)", up); err != nil {
		return err
	}

	labels := make([][]any, len(d.Labels))
	for i, label := range d.Labels {
		labels[i] = []any{i, label}
	}
	if err := insertAll(ctx, tx, "labels", "INSERT INTO labels (position, label) VALUES (?, ?)", labels); err != nil {
		return err
	}

	levels := make([][]any, len(d.Levels))
	for i, lv := range d.Levels {
		levels[i] = []any{lv.Label, lv.Energy, lv.Width}
	}
	if err := insertAll(ctx, tx, "levels", "INSERT INTO levels (label, energy, width) VALUES (?, ?, ?)", levels); err != nil {
		return err
	}

	var cross [][]any
	for _, cs := range d.CrossSections {
		if len(cs.Energies) != len(cs.Values) {
			return fmt.Errorf("ratestore: cross section %s has %d energies and %d values", cs.Mechanism, len(cs.Energies), len(cs.Values))
		}
		for i := range cs.Energies {
			cross = append(cross, []any{cs.Mechanism.String(), cs.Energies[i], cs.Values[i]})
		}
	}
	return insertAll(ctx, tx, "cross_sections", "INSERT INTO cross_sections (mechanism, energy, value) VALUES (?, ?, ?)", cross)
}

func insertAll(ctx context.Context, tx *sql.Tx, table, query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("ratestore: prepare insert for %s: %w", table, err)
	}
	defer stmt.Close()
	for i, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("ratestore: insert into %s at row %d: %w", table, i+1, err)
		}
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
