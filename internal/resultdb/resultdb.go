// Package resultdb persists run and validation records in SQLite.
// Success is recorded explicitly and never inferred from artifact file
// presence; the retry-failed mode and the batch skip-list are both
// driven from these records.
package resultdb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection holding run and result records.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the result database at path and
// applies the connection pragmas. Migrations are applied separately.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result db %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return &DB{db}, nil
}

// Run is one orchestration run.
type Run struct {
	RunID      string
	Mode       string
	StartedAt  int64 // unix nanos
	FinishedAt int64 // 0 while running
	Attempted  int
	Succeeded  int
}

// Result is one per-place outcome within a run.
type Result struct {
	ResultID     string
	RunID        string
	PlaceID      string
	Passed       bool
	FailureKind  string // empty on success
	Reason       string
	AreaKm2      float64
	AreaRatio    float64
	DistanceKm   float64
	QualityScore float64
	ArtifactFile string
	CreatedAt    int64 // unix nanos
}

// InsertRun records the start of a run. An empty RunID gets a UUID.
func (db *DB) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixNano()
	}

	return retryOnBusy(func() error {
		_, err := db.Exec(`
			INSERT INTO runs (run_id, mode, started_at, attempted, succeeded)
			VALUES (?, ?, ?, 0, 0)`,
			run.RunID, run.Mode, run.StartedAt)
		return err
	})
}

// FinishRun records a run's completion and final counters.
func (db *DB) FinishRun(run *Run) error {
	if run.FinishedAt == 0 {
		run.FinishedAt = time.Now().UnixNano()
	}
	return retryOnBusy(func() error {
		_, err := db.Exec(`
			UPDATE runs SET finished_at = ?, attempted = ?, succeeded = ?
			WHERE run_id = ?`,
			run.FinishedAt, run.Attempted, run.Succeeded, run.RunID)
		return err
	})
}

// InsertResult records one per-place outcome. An empty ResultID gets a
// UUID.
func (db *DB) InsertResult(res *Result) error {
	if res.ResultID == "" {
		res.ResultID = uuid.New().String()
	}
	if res.CreatedAt == 0 {
		res.CreatedAt = time.Now().UnixNano()
	}

	return retryOnBusy(func() error {
		_, err := db.Exec(`
			INSERT INTO results (
				result_id, run_id, place_id, passed, failure_kind, reason,
				area_km2, area_ratio, distance_km, quality_score,
				artifact_file, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.ResultID, res.RunID, res.PlaceID, res.Passed, res.FailureKind, res.Reason,
			res.AreaKm2, res.AreaRatio, res.DistanceKm, res.QualityScore,
			res.ArtifactFile, res.CreatedAt)
		return err
	})
}

// ResultsForRun returns a run's results in insertion order.
func (db *DB) ResultsForRun(runID string) ([]*Result, error) {
	rows, err := db.Query(`
		SELECT result_id, run_id, place_id, passed, failure_kind, reason,
		       area_km2, area_ratio, distance_km, quality_score,
		       artifact_file, created_at
		FROM results
		WHERE run_id = ?
		ORDER BY rowid ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		r := &Result{}
		if err := rows.Scan(
			&r.ResultID, &r.RunID, &r.PlaceID, &r.Passed, &r.FailureKind, &r.Reason,
			&r.AreaKm2, &r.AreaRatio, &r.DistanceKm, &r.QualityScore,
			&r.ArtifactFile, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns a run record by id.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(`
		SELECT run_id, mode, started_at, COALESCE(finished_at, 0), attempted, succeeded
		FROM runs WHERE run_id = ?`, runID)

	run := &Run{}
	if err := row.Scan(&run.RunID, &run.Mode, &run.StartedAt, &run.FinishedAt,
		&run.Attempted, &run.Succeeded); err != nil {
		return nil, fmt.Errorf("scan run %s: %w", runID, err)
	}
	return run, nil
}

// LatestRunID returns the id of the most recently started run, or empty
// when no runs exist.
func (db *DB) LatestRunID() (string, error) {
	row := db.QueryRow(`SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1`)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("query latest run: %w", err)
	}
	return id, nil
}

// FailedPlaceIDs returns places whose most recent result is a failure,
// ordered by place id. These feed the retry-failed mode.
func (db *DB) FailedPlaceIDs() ([]string, error) {
	return db.placeIDsByLatestOutcome(false)
}

// SucceededPlaceIDs returns places whose most recent result passed.
// These feed the batch skip-list.
func (db *DB) SucceededPlaceIDs() ([]string, error) {
	return db.placeIDsByLatestOutcome(true)
}

func (db *DB) placeIDsByLatestOutcome(passed bool) ([]string, error) {
	// Latest per place is insertion order (rowid), which disambiguates
	// results recorded within the same timestamp.
	rows, err := db.Query(`
		SELECT r.place_id
		FROM results r
		JOIN (
			SELECT place_id, MAX(rowid) AS latest
			FROM results
			GROUP BY place_id
		) last ON last.place_id = r.place_id AND last.latest = r.rowid
		WHERE r.passed = ?
		ORDER BY r.place_id`, passed)
	if err != nil {
		return nil, fmt.Errorf("query place ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// retryOnBusy retries a write a few times when another connection holds
// the database lock, beyond what busy_timeout already covers.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") &&
			!strings.Contains(err.Error(), "SQLITE_BUSY") {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}
