package sqliteutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createDB(t *testing.T, path string, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}

func TestPreflightHealthy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.db")
	createDB(t, path, "create table lines (id integer)", "create table meta (key text)")

	res, err := Preflight(path, []string{"lines", "META"}, time.Second, nil)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	if !res.Healthy || len(res.Missing) != 0 || res.Tables != 2 {
		t.Fatalf("expected healthy preflight with 2 tables, got %+v", res)
	}
}

func TestPreflightReportsMissingTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.db")
	createDB(t, path, "create table lines (id integer)")

	var logged int
	res, err := Preflight(path, []string{"transitions", "lines", "shake_off"}, time.Second, func(string, ...any) { logged++ })
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	if res.Healthy {
		t.Fatalf("expected unhealthy preflight")
	}
	if len(res.Missing) != 2 || res.Missing[0] != "shake_off" || res.Missing[1] != "transitions" {
		t.Fatalf("expected [shake_off transitions], got %v", res.Missing)
	}
	if logged != 1 {
		t.Fatalf("expected one log line, got %d", logged)
	}
}

func TestPreflightCorruptFileIsLeftInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.db")
	if err := os.WriteFile(path, []byte("not a sqlite database at all, just some text padding it out"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	res, err := Preflight(path, nil, time.Second, func(string, ...any) {})
	if err != nil {
		t.Fatalf("preflight returned error: %v", err)
	}
	if res.Healthy || res.CheckError == nil {
		t.Fatalf("expected a failed quick_check, got %+v", res)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected the file to stay in place: %v", err)
	}
}

func TestPreflightMissingFile(t *testing.T) {
	if _, err := Preflight(filepath.Join(t.TempDir(), "none.db"), nil, time.Second, nil); err == nil {
		t.Fatalf("expected missing file to fail")
	}
	if _, err := Preflight(" ", nil, time.Second, nil); err == nil {
		t.Fatalf("expected empty path to fail")
	}
}
