// Package ratestore persists rate tables, transition catalogs, shake rows,
// formation levels and cross-section curves in a single SQLite file.
package ratestore

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"spectrasim/rates"
	"spectrasim/shake"
	"spectrasim/simulation"
)

// SchemaVersion is stored in the meta table by Save.
const SchemaVersion = "1"

// RequiredTables are the tables Load reads; see sqliteutil.Preflight.
var RequiredTables = []string{
	"meta", "lines", "transitions", "shake_off", "shake_up", "labels", "levels", "cross_sections",
}

const schema = `
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS lines (
    category TEXT NOT NULL,
    charge_state TEXT NOT NULL DEFAULT '',
    shell_initial TEXT NOT NULL,
    shell_final TEXT NOT NULL,
    two_j INTEGER NOT NULL,
    energy REAL NOT NULL,
    width REAL NOT NULL,
    rate REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS lines_category ON lines (category, charge_state);
CREATE TABLE IF NOT EXISTS transitions (
    position INTEGER NOT NULL,
    name TEXT PRIMARY KEY,
    low TEXT NOT NULL,
    high TEXT NOT NULL,
    auger TEXT NOT NULL DEFAULT '',
    selected INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS shake_off (
    key TEXT NOT NULL,
    two_j INTEGER NOT NULL,
    probability REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS shake_up (
    key TEXT NOT NULL,
    orbital TEXT NOT NULL,
    two_j INTEGER NOT NULL,
    probability REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS labels (
    position INTEGER PRIMARY KEY,
    label TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS levels (
    label TEXT PRIMARY KEY,
    energy REAL NOT NULL,
    width REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS cross_sections (
    mechanism TEXT NOT NULL,
    energy REAL NOT NULL,
    value REAL NOT NULL
);`

// Dataset is everything a simulation context is built from.
type Dataset struct {
	Name          string
	Lines         []rates.Line
	Radiative     []rates.Transition
	Auger         []rates.Transition
	ShakeOff      []shake.OffRow
	ShakeUp       []shake.UpRow
	Labels        []string
	Levels        []simulation.Level
	CrossSections []simulation.CrossSection
}

// ContextInput indexes the dataset into the inputs of simulation.NewContext.
func (d *Dataset) ContextInput(cache *shake.Cache, logf func(string, ...any)) (simulation.ContextInput, error) {
	cat, err := rates.NewCatalog(d.Radiative, d.Auger)
	if err != nil {
		return simulation.ContextInput{}, fmt.Errorf("ratestore: %s: %w", d.Name, err)
	}
	return simulation.ContextInput{
		Tables:        rates.NewTables(d.Lines),
		Catalog:       cat,
		ShakeOff:      d.ShakeOff,
		ShakeUp:       d.ShakeUp,
		Labels:        d.Labels,
		Levels:        d.Levels,
		CrossSections: d.CrossSections,
		Cache:         cache,
		Logf:          logf,
	}, nil
}

// Store wraps one rate database.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
	logf     func(string, ...any)
}

// Options configure Open.
type Options struct {
	BusyTimeout time.Duration
	Logf        func(string, ...any)
}

// Open opens an existing rate database read-only.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ratestore: empty path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("ratestore: open: %w", err)
	}
	timeout := opts.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(%d)", path, timeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ratestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Store{db: db, path: path, readOnly: true, logf: defaultLogf(opts.Logf)}, nil
}

// Create opens (or creates) a writable rate database and ensures the schema.
func Create(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ratestore: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ratestore: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ratestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ratestore: init schema: %w", err)
	}
	return &Store{db: db, path: path, logf: defaultLogf(opts.Logf)}, nil
}

func defaultLogf(logf func(string, ...any)) func(string, ...any) {
	if logf == nil {
		return log.Printf
	}
	return logf
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path is the database file.
func (s *Store) Path() string { return s.path }
