package resultdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.MigrateUp())
	return db
}

func TestMigrateUpAndVersion(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	// Re-running with nothing pending is not an error.
	assert.NoError(t, db.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.MigrateDown())

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(0), version)
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	run := &Run{Mode: "batch"}
	require.NoError(t, db.InsertRun(run))
	assert.NotEmpty(t, run.RunID, "missing id gets a generated uuid")
	assert.NotZero(t, run.StartedAt)

	run.Attempted = 5
	run.Succeeded = 3
	require.NoError(t, db.FinishRun(run))

	got, err := db.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "batch", got.Mode)
	assert.Equal(t, 5, got.Attempted)
	assert.Equal(t, 3, got.Succeeded)
	assert.NotZero(t, got.FinishedAt)
}

func TestLatestRunID(t *testing.T) {
	db := openTestDB(t)

	id, err := db.LatestRunID()
	require.NoError(t, err)
	assert.Empty(t, id, "empty database has no latest run")

	first := &Run{Mode: "single", StartedAt: 100}
	second := &Run{Mode: "batch", StartedAt: 200}
	require.NoError(t, db.InsertRun(first))
	require.NoError(t, db.InsertRun(second))

	id, err = db.LatestRunID()
	require.NoError(t, err)
	assert.Equal(t, second.RunID, id)
}

func TestResultsForRun(t *testing.T) {
	db := openTestDB(t)

	run := &Run{Mode: "batch"}
	require.NoError(t, db.InsertRun(run))

	require.NoError(t, db.InsertResult(&Result{
		RunID: run.RunID, PlaceID: "munich", Passed: true,
		AreaKm2: 310.4, AreaRatio: 1.0, DistanceKm: 2.1, QualityScore: 0.97,
		ArtifactFile: "munich.geojson", CreatedAt: 100,
	}))
	require.NoError(t, db.InsertResult(&Result{
		RunID: run.RunID, PlaceID: "springfield", Passed: false,
		FailureKind: "ambiguous_relation", Reason: "2 candidates too close to rank",
		CreatedAt: 200,
	}))

	results, err := db.ResultsForRun(run.RunID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "munich", results[0].PlaceID)
	assert.True(t, results[0].Passed)
	assert.InDelta(t, 310.4, results[0].AreaKm2, 1e-9)

	assert.Equal(t, "springfield", results[1].PlaceID)
	assert.False(t, results[1].Passed)
	assert.Equal(t, "ambiguous_relation", results[1].FailureKind)
}

func TestPlaceIDsByLatestOutcome(t *testing.T) {
	db := openTestDB(t)

	run := &Run{Mode: "batch"}
	require.NoError(t, db.InsertRun(run))

	// munich: failed, then succeeded. Only the latest outcome counts.
	require.NoError(t, db.InsertResult(&Result{
		RunID: run.RunID, PlaceID: "munich", Passed: false,
		FailureKind: "fetch_failed", CreatedAt: 100,
	}))
	require.NoError(t, db.InsertResult(&Result{
		RunID: run.RunID, PlaceID: "munich", Passed: true, CreatedAt: 200,
	}))
	// prague: still failing.
	require.NoError(t, db.InsertResult(&Result{
		RunID: run.RunID, PlaceID: "prague", Passed: false,
		FailureKind: "stitch_incomplete", CreatedAt: 150,
	}))

	failed, err := db.FailedPlaceIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"prague"}, failed)

	succeeded, err := db.SucceededPlaceIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"munich"}, succeeded)
}

func TestInsertResultGeneratesID(t *testing.T) {
	db := openTestDB(t)

	run := &Run{Mode: "single"}
	require.NoError(t, db.InsertRun(run))

	res := &Result{RunID: run.RunID, PlaceID: "munich", Passed: true}
	require.NoError(t, db.InsertResult(res))
	assert.NotEmpty(t, res.ResultID)
	assert.NotZero(t, res.CreatedAt)
}
