// Package sqliteutil holds SQLite helpers shared by the rate database tools.
package sqliteutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// PreflightResult reports the outcome of a rate database preflight check.
type PreflightResult struct {
	Healthy    bool     // quick_check passed and every required table exists.
	Missing    []string // Required tables that are absent, sorted.
	Tables     int      // Number of user tables found.
	Elapsed    time.Duration
	CheckError error // Nil when quick_check succeeded.
}

// Preflight opens path read-only and runs a bounded quick_check plus a
// schema probe for the required tables. The file is never modified: a
// corrupt rate database is a build problem, not something to repair at
// startup.
func Preflight(path string, required []string, timeout time.Duration, logf func(string, ...any)) (PreflightResult, error) {
	if logf == nil {
		logf = log.Printf
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	start := time.Now().UTC()
	res := PreflightResult{}

	if strings.TrimSpace(path) == "" {
		return res, errors.New("preflight: empty path")
	}
	if _, err := os.Stat(path); err != nil {
		return res, fmt.Errorf("preflight: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(%d)", path, timeout.Milliseconds()))
	if err != nil {
		return res, fmt.Errorf("preflight: open rate db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	res.CheckError = quickCheck(ctx, db)
	if res.CheckError == nil {
		tables, err := userTables(ctx, db)
		if err != nil {
			res.CheckError = err
		} else {
			res.Tables = len(tables)
			res.Missing = missingTables(tables, required)
		}
	}
	res.Elapsed = time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("preflight: rate db timed out after %s", timeout)
	}
	switch {
	case res.CheckError != nil:
		logf("rate db preflight: quick_check failed (%v); elapsed=%s", res.CheckError, res.Elapsed)
	case len(res.Missing) > 0:
		logf("rate db preflight: missing tables %s; elapsed=%s", strings.Join(res.Missing, ", "), res.Elapsed)
	default:
		res.Healthy = true
	}
	return res, nil
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		if scanErr := rows.Scan(&status); scanErr != nil {
			return scanErr
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

func userTables(ctx context.Context, db *sql.DB) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, "select name from sqlite_master where type = 'table' and name not like 'sqlite_%'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = struct{}{}
	}
	return out, rows.Err()
}

func missingTables(have map[string]struct{}, required []string) []string {
	var missing []string
	for _, name := range required {
		if _, ok := have[strings.ToLower(name)]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
