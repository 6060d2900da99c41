// Package pipeline orchestrates boundary acquisition end to end: source
// selection, discovery, fetch, stitching, validation, and gated
// persistence. Runs are strictly sequential with one fetch in flight;
// per-place failures are classified and recorded, never fatal to the
// run.
package pipeline

import (
	"context"
	"fmt"

	"github.com/atlas-data/boundaryline/internal/artifact"
	"github.com/atlas-data/boundaryline/internal/catalog"
	"github.com/atlas-data/boundaryline/internal/geo"
	"github.com/atlas-data/boundaryline/internal/monitoring"
	"github.com/atlas-data/boundaryline/internal/persist"
	"github.com/atlas-data/boundaryline/internal/resultdb"
	"github.com/atlas-data/boundaryline/internal/source"
	"github.com/atlas-data/boundaryline/internal/stitch"
	"github.com/atlas-data/boundaryline/internal/timeutil"
	"github.com/atlas-data/boundaryline/internal/validate"
)

// approximatedScoreCap bounds the quality score of placeholder
// artifacts; a generated circle can never outrank a validated boundary.
const approximatedScoreCap = 0.3

// Pipeline wires the acquisition stages together.
type Pipeline struct {
	Catalog   *catalog.Catalog
	Client    source.RelationClient
	Persister *persist.Manager

	// Results, when set, receives run and per-place records.
	Results *resultdb.DB

	Gates     validate.Gates
	StitchTol float64
	Clock     timeutil.Clock

	// AllowApproximation opts placeholder source kinds into the
	// circular fallback.
	AllowApproximation bool
}

// Outcome is the result of processing one place.
type Outcome struct {
	PlaceID      string
	Validation   validate.Result
	ArtifactPath string
	Backup       *persist.BackupRecord

	// Failure is non-nil when the place failed; every failure is
	// classified, none aborts the run.
	Failure *Failure
}

// RequestFromRecord builds a PlaceRequest from a catalog record. The
// catalog stores [lat, lon]; requests carry lon/lat points.
func (p *Pipeline) RequestFromRecord(rec catalog.Record) source.PlaceRequest {
	req := source.PlaceRequest{
		ID:                 rec.ID,
		Name:               rec.DisplayName(),
		Country:            rec.Country,
		Subdivision:        rec.Subdivision,
		ReferenceAreaKm2:   rec.ReferenceAreaKm2,
		KnownRelationID:    rec.OSMRelationID,
		AllowApproximation: p.AllowApproximation,
	}
	if rec.HasCoordinates() {
		req.Expected = &geo.Point{Lon: rec.Lon(), Lat: rec.Lat()}
	}
	return req
}

// RequestForCatalogID builds a PlaceRequest for a catalog entry by id.
func (p *Pipeline) RequestForCatalogID(id string) (source.PlaceRequest, error) {
	rec, ok := p.Catalog.Get(id)
	if !ok {
		return source.PlaceRequest{}, fmt.Errorf("catalog has no entry %q", id)
	}
	return p.RequestFromRecord(rec), nil
}

// RunSingle processes one place.
func (p *Pipeline) RunSingle(ctx context.Context, req source.PlaceRequest) (*Stats, error) {
	return p.run(ctx, "single", []source.PlaceRequest{req}, nil)
}

// RunBatch processes catalog entries that lack a detailed boundary,
// honoring the skip-list. A limit of 0 means no limit.
func (p *Pipeline) RunBatch(ctx context.Context, limit int, progress *Progress) (*Stats, error) {
	var reqs []source.PlaceRequest
	for _, rec := range p.Catalog.WithoutBoundary() {
		if progress.Done(rec.ID) {
			continue
		}
		reqs = append(reqs, p.RequestFromRecord(rec))
		if limit > 0 && len(reqs) >= limit {
			break
		}
	}
	return p.run(ctx, "batch", reqs, progress)
}

// RunRetryFailed reprocesses places whose latest recorded result is a
// failure. A limit of 0 means no limit.
func (p *Pipeline) RunRetryFailed(ctx context.Context, limit int) (*Stats, error) {
	if p.Results == nil {
		return nil, fmt.Errorf("retry-failed mode needs the result database")
	}
	ids, err := p.Results.FailedPlaceIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to load failed places: %w", err)
	}

	var reqs []source.PlaceRequest
	for _, id := range ids {
		rec, ok := p.Catalog.Get(id)
		if !ok {
			monitoring.Logf("skipping %s: no longer in catalog", id)
			continue
		}
		reqs = append(reqs, p.RequestFromRecord(rec))
		if limit > 0 && len(reqs) >= limit {
			break
		}
	}
	return p.run(ctx, "retry-failed", reqs, nil)
}

// testFixture is the fixed city set exercised by the test mode: three
// places with known relations and reference areas.
var testFixture = []source.PlaceRequest{
	{ID: "munich", Name: "Munich", Country: "Germany",
		Expected: &geo.Point{Lon: 11.5755, Lat: 48.1374}, ReferenceAreaKm2: 310.7},
	{ID: "prague", Name: "Prague", Country: "Czech Republic",
		Expected: &geo.Point{Lon: 14.4378, Lat: 50.0755}, ReferenceAreaKm2: 496.0},
	{ID: "vienna", Name: "Vienna", Country: "Austria",
		Expected: &geo.Point{Lon: 16.3738, Lat: 48.2082}, ReferenceAreaKm2: 414.6},
}

// RunTest processes the fixed test fixture set.
func (p *Pipeline) RunTest(ctx context.Context) (*Stats, error) {
	return p.run(ctx, "test", testFixture, nil)
}

// run executes one orchestration pass. Context cancellation aborts the
// in-flight place and skips the rest; completed artifacts stay valid.
// Successful places are marked on the shared progress skip-list so
// successive batch invocations do not reprocess them.
func (p *Pipeline) run(ctx context.Context, mode string, reqs []source.PlaceRequest, progress *Progress) (*Stats, error) {
	stats := NewStats(mode)

	var run *resultdb.Run
	if p.Results != nil {
		run = &resultdb.Run{Mode: mode, StartedAt: p.Clock.Now().UnixNano()}
		if err := p.Results.InsertRun(run); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
		stats.RunID = run.RunID
	}

	monitoring.Logf("run %s started: mode=%s places=%d", stats.RunID, mode, len(reqs))

	var runErr error
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		outcome := p.processPlace(ctx, req)
		stats.Record(outcome)
		if run != nil {
			if err := p.recordOutcome(run.RunID, outcome); err != nil {
				monitoring.Logf("failed to record result for %s: %v", outcome.PlaceID, err)
			}
		}

		if outcome.Failure != nil {
			monitoring.Logf("%s failed: %v", outcome.PlaceID, outcome.Failure)
		} else {
			progress.Mark(outcome.PlaceID)
			monitoring.Logf("%s done: %s (quality %.2f)",
				outcome.PlaceID, outcome.ArtifactPath, outcome.Validation.QualityScore)
		}
	}

	if run != nil {
		run.Attempted = stats.Attempted
		run.Succeeded = stats.Succeeded
		run.FinishedAt = p.Clock.Now().UnixNano()
		if err := p.Results.FinishRun(run); err != nil {
			monitoring.Logf("failed to finalize run record: %v", err)
		}
	}

	monitoring.Logf("run %s finished: %s", stats.RunID, stats.Summary())
	return stats, runErr
}

// processPlace runs the full acquisition chain for one place. Every
// error path returns a classified failure in the outcome.
func (p *Pipeline) processPlace(ctx context.Context, req source.PlaceRequest) *Outcome {
	out := &Outcome{PlaceID: req.ID}

	kind := source.Select(req.Country)
	if kind == source.Unsupported {
		out.Failure = &Failure{Kind: SourceUnsupported, PlaceID: req.ID,
			Reason: fmt.Sprintf("no boundary source for country %q", req.Country)}
		return out
	}

	strat, err := source.ForKind(kind, p.Client)
	if err != nil {
		out.Failure = &Failure{Kind: SourceUnsupported, PlaceID: req.ID, Reason: err.Error(), Err: err}
		return out
	}
	if !strat.IsApplicable(req) {
		out.Failure = &Failure{Kind: SourceUnsupported, PlaceID: req.ID,
			Reason: fmt.Sprintf("source %s not applicable without approximation opt-in", kind)}
		return out
	}

	ref, err := strat.Discover(ctx, req)
	if err != nil {
		out.Failure = classifyAcquisition(req.ID, err)
		return out
	}

	rawSegments, err := strat.Fetch(ctx, req, ref)
	if err != nil {
		out.Failure = classifyAcquisition(req.ID, err)
		return out
	}

	segments := make([]stitch.Segment, len(rawSegments))
	for i, s := range rawSegments {
		segments[i] = stitch.Segment(s.Points)
	}
	rings, err := stitch.Stitch(segments, p.StitchTol)
	if err != nil {
		out.Failure = classifyAcquisition(req.ID, err)
		return out
	}

	boundary := geo.AssemblePolygons(rings)
	out.Validation = validate.Validate(boundary, req, p.Gates)
	if !out.Validation.Passed() {
		out.Failure = classifyValidation(req.ID, out.Validation)
		return out
	}

	approximated := kind == source.USCensusPlaceholder || kind == source.StatsCanadaPlaceholder
	score := out.Validation.QualityScore
	if approximated && score > approximatedScoreCap {
		score = approximatedScoreCap
		out.Validation.QualityScore = score
	}

	a := &artifact.Artifact{
		Boundary: boundary,
		Props: artifact.Properties{
			Name:          req.Name,
			SourceKind:    kind.String(),
			RelationID:    ref.ID,
			FetchedAt:     p.Clock.Now().UTC(),
			QualityScore:  score,
			Approximated:  approximated,
			LowConfidence: out.Validation.LowConfidence,
		},
	}

	path, backup, err := p.Persister.Persist(req.ID, a, out.Validation)
	if err != nil {
		out.Failure = &Failure{Kind: PersistenceFailed, PlaceID: req.ID, Reason: err.Error(), Err: err}
		return out
	}
	out.ArtifactPath = path
	out.Backup = backup
	return out
}

func (p *Pipeline) recordOutcome(runID string, out *Outcome) error {
	res := &resultdb.Result{
		RunID:        runID,
		PlaceID:      out.PlaceID,
		Passed:       out.Failure == nil,
		AreaKm2:      out.Validation.AreaKm2,
		AreaRatio:    out.Validation.AreaRatio,
		DistanceKm:   out.Validation.DistanceKm,
		QualityScore: out.Validation.QualityScore,
		ArtifactFile: out.ArtifactPath,
		CreatedAt:    p.Clock.Now().UnixNano(),
	}
	if out.Failure != nil {
		res.FailureKind = out.Failure.Kind.String()
		res.Reason = out.Failure.Reason
	}
	return p.Results.InsertResult(res)
}
