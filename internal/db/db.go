// Package db is the sqlite run log. It records the raw ids read at every
// orientation of every cycle and the outcome of each cycle so that a run can
// be inspected or replayed later. Belief state is never stored.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run id has no search_runs row.
var ErrRunNotFound = errors.New("run not found")

// Cycle statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

type DB struct {
	*sql.DB
	path string
}

// NewDB opens (creating if needed) the database at path and migrates it to
// the latest schema. Use ":memory:" for a throwaway database.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases alive and serialises writes
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Run describes one search run.
type Run struct {
	ID           string
	Method       string
	Evidence     string
	Rows         int
	Cols         int
	Orientations int
	// ConfigJSON is the full search configuration the run was started with.
	ConfigJSON []byte
	Started    time.Time
}

// Reading is the raw id list read at one orientation of one cycle.
type Reading struct {
	RunID       string
	Cycle       int
	Orientation int
	TagIDs      []string
	At          time.Time
}

// CycleOutcome summarises one finished cycle.
type CycleOutcome struct {
	RunID        string
	Cycle        int
	Status       string
	Error        string
	UnknownCount int
	TargetReads  int
	Finished     time.Time
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		t = time.Now()
	}
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// InsertRun records the start of a run.
func (db *DB) InsertRun(run Run) error {
	_, err := db.Exec(
		`INSERT INTO search_runs (
			run_id, method, evidence, grid_rows, grid_cols, orientations, config_json, started_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Method, run.Evidence, run.Rows, run.Cols, run.Orientations,
		string(run.ConfigJSON), unixSeconds(run.Started),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `run_id, method, evidence, grid_rows, grid_cols, orientations, config_json, started_unix`

func scanRun(scan func(dest ...any) error) (Run, error) {
	var (
		r       Run
		cfg     string
		started float64
	)
	if err := scan(&r.ID, &r.Method, &r.Evidence, &r.Rows, &r.Cols, &r.Orientations, &cfg, &started); err != nil {
		return Run{}, err
	}
	r.ConfigJSON = []byte(cfg)
	r.Started = fromUnixSeconds(started)
	return r, nil
}

// Run returns the run with the given id.
func (db *DB) Run(id string) (Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM search_runs WHERE run_id = ?`, id)
	r, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM search_runs ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecordReading stores the ids read at one orientation. Recording the same
// (run, cycle, orientation) twice replaces the earlier reading.
func (db *DB) RecordReading(r Reading) error {
	ids := r.TagIDs
	if ids == nil {
		ids = []string{}
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT OR REPLACE INTO readings (run_id, cycle, orientation, tag_ids, read_unix)
		VALUES (?, ?, ?, ?, ?)`,
		r.RunID, r.Cycle, r.Orientation, string(encoded), unixSeconds(r.At),
	)
	if err != nil {
		return fmt.Errorf("failed to record reading for run %s cycle %d orientation %d: %w",
			r.RunID, r.Cycle, r.Orientation, err)
	}
	return nil
}

// Readings returns all readings of a run ordered by cycle then orientation.
func (db *DB) Readings(runID string) ([]Reading, error) {
	rows, err := db.Query(
		`SELECT cycle, orientation, tag_ids, read_unix FROM readings
		WHERE run_id = ? ORDER BY cycle, orientation`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var (
			r       = Reading{RunID: runID}
			encoded string
			at      float64
		)
		if err := rows.Scan(&r.Cycle, &r.Orientation, &encoded, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(encoded), &r.TagIDs); err != nil {
			return nil, fmt.Errorf("reading cycle %d orientation %d: %w", r.Cycle, r.Orientation, err)
		}
		r.At = fromUnixSeconds(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordCycleOutcome stores how a cycle ended.
func (db *DB) RecordCycleOutcome(o CycleOutcome) error {
	_, err := db.Exec(
		`INSERT OR REPLACE INTO cycle_outcomes (
			run_id, cycle, status, error, unknown_count, target_reads, finished_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.Cycle, o.Status, o.Error, o.UnknownCount, o.TargetReads, unixSeconds(o.Finished),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome for run %s cycle %d: %w", o.RunID, o.Cycle, err)
	}
	return nil
}

// CycleOutcomes returns the outcomes of a run ordered by cycle.
func (db *DB) CycleOutcomes(runID string) ([]CycleOutcome, error) {
	rows, err := db.Query(
		`SELECT cycle, status, error, unknown_count, target_reads, finished_unix
		FROM cycle_outcomes WHERE run_id = ? ORDER BY cycle`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleOutcome
	for rows.Next() {
		o := CycleOutcome{RunID: runID}
		var finished float64
		if err := rows.Scan(&o.Cycle, &o.Status, &o.Error, &o.UnknownCount, &o.TargetReads, &finished); err != nil {
			return nil, err
		}
		o.Finished = fromUnixSeconds(finished)
		out = append(out, o)
	}
	return out, rows.Err()
}
