// Package validate applies quality gates to reconstructed boundaries.
// Each gate passes or fails independently; a gate whose inputs are
// unknown is skipped, not auto-passed, and skipping the area gate marks
// the result low-confidence.
package validate

import (
	"fmt"

	"github.com/atlas-data/boundaryline/internal/geo"
	"github.com/atlas-data/boundaryline/internal/source"
)

// Gates holds the validation thresholds. Zero-value fields are not
// usable; start from DefaultGates and override.
type Gates struct {
	MinRingPoints int

	// ClosureTolerance is the max first-to-last vertex distance, in
	// degrees, for a ring to count as closed. Matches the stitcher's
	// joining tolerance.
	ClosureTolerance float64

	// Absolute area sanity bounds, km². Outside these the geometry is
	// grossly wrong regardless of any reference area.
	MinAreaKm2 float64
	MaxAreaKm2 float64

	// Area ratio bounds against the reference area, when known.
	MinAreaRatio float64
	MaxAreaRatio float64

	// Max distance between computed centroid and expected coordinates.
	MaxCentroidDistanceKm float64
}

// DefaultGates returns the production thresholds.
func DefaultGates() Gates {
	return Gates{
		MinRingPoints:         4,
		ClosureTolerance:      geo.CoordTolerance,
		MinAreaKm2:            1.0,
		MaxAreaKm2:            50000.0,
		MinAreaRatio:          0.1,
		MaxAreaRatio:          10.0,
		MaxCentroidDistanceKm: 100.0,
	}
}

// GateStatus is the outcome of one gate.
type GateStatus int

const (
	Skipped GateStatus = iota
	Passed
	Failed
)

func (s GateStatus) String() string {
	switch s {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	default:
		return "skipped"
	}
}

// GateResult is one gate's outcome with a human-readable reason on
// failure.
type GateResult struct {
	Status GateStatus
	Reason string
}

// Result is the full validation outcome for one boundary.
type Result struct {
	Structural GateResult
	Area       GateResult
	Distance   GateResult

	AreaKm2    float64
	AreaRatio  float64 // 0 when no reference area
	DistanceKm float64 // -1 when no expected coordinates
	Centroid   geo.Point

	// QualityScore is in [0,1]: a banded area-ratio component combined
	// with a linear distance component over the gates that applied.
	QualityScore float64

	// LowConfidence marks results validated without a reference area.
	LowConfidence bool
}

// Passed reports whether every applicable gate passed.
func (r Result) Passed() bool {
	for _, g := range []GateResult{r.Structural, r.Area, r.Distance} {
		if g.Status == Failed {
			return false
		}
	}
	return true
}

// Validate runs all gates over the boundary. The request supplies the
// reference area and expected coordinates; either may be absent.
func Validate(b geo.Boundary, req source.PlaceRequest, cfg Gates) Result {
	res := Result{
		AreaKm2:    b.AreaKm2(),
		Centroid:   b.Centroid(),
		DistanceKm: -1,
	}

	res.Structural = structuralGate(b, res.AreaKm2, cfg)

	if req.ReferenceAreaKm2 > 0 {
		res.AreaRatio = res.AreaKm2 / req.ReferenceAreaKm2
		res.Area = areaRatioGate(res.AreaRatio, cfg)
	} else {
		res.Area = GateResult{Status: Skipped, Reason: "no reference area"}
		res.LowConfidence = true
	}

	if req.Expected != nil {
		res.DistanceKm = geo.Haversine(res.Centroid, *req.Expected)
		res.Distance = distanceGate(res.DistanceKm, cfg)
	} else {
		res.Distance = GateResult{Status: Skipped, Reason: "no expected coordinates"}
	}

	res.QualityScore = qualityScore(res, cfg)
	return res
}

func structuralGate(b geo.Boundary, areaKm2 float64, cfg Gates) GateResult {
	if len(b) == 0 {
		return GateResult{Status: Failed, Reason: "no polygons"}
	}
	for _, poly := range b {
		rings := append([]geo.Ring{poly.Outer}, poly.Holes...)
		for _, ring := range rings {
			if len(ring) < cfg.MinRingPoints {
				return GateResult{Status: Failed,
					Reason: fmt.Sprintf("ring has %d points, need at least %d", len(ring), cfg.MinRingPoints)}
			}
			if !ring.Closed(cfg.ClosureTolerance) {
				return GateResult{Status: Failed, Reason: "ring not closed"}
			}
		}
	}
	if areaKm2 < cfg.MinAreaKm2 || areaKm2 > cfg.MaxAreaKm2 {
		return GateResult{Status: Failed,
			Reason: fmt.Sprintf("area %.1f km² outside plausible range [%.0f, %.0f]",
				areaKm2, cfg.MinAreaKm2, cfg.MaxAreaKm2)}
	}
	return GateResult{Status: Passed}
}

func areaRatioGate(ratio float64, cfg Gates) GateResult {
	if ratio < cfg.MinAreaRatio || ratio > cfg.MaxAreaRatio {
		return GateResult{Status: Failed,
			Reason: fmt.Sprintf("area ratio %.3f outside [%.1f, %.1f]",
				ratio, cfg.MinAreaRatio, cfg.MaxAreaRatio)}
	}
	return GateResult{Status: Passed}
}

func distanceGate(km float64, cfg Gates) GateResult {
	if km >= cfg.MaxCentroidDistanceKm {
		return GateResult{Status: Failed,
			Reason: fmt.Sprintf("centroid %.1f km from expected location (limit %.0f km)",
				km, cfg.MaxCentroidDistanceKm)}
	}
	return GateResult{Status: Passed}
}

// qualityScore combines the gates that applied. The area component is
// banded by how far the ratio strays from 1.0; the distance component
// falls off linearly toward the distance threshold.
func qualityScore(res Result, cfg Gates) float64 {
	if res.Structural.Status == Failed {
		return 0
	}

	var components []float64
	if res.Area.Status != Skipped {
		components = append(components, areaScoreBand(res.AreaRatio))
	}
	if res.Distance.Status != Skipped {
		d := 1.0 - res.DistanceKm/cfg.MaxCentroidDistanceKm
		if d < 0 {
			d = 0
		}
		if d > 1 {
			d = 1
		}
		components = append(components, d)
	}
	if len(components) == 0 {
		// Structure alone proves very little.
		return 0.3
	}

	var sum float64
	for _, c := range components {
		sum += c
	}
	return sum / float64(len(components))
}

func areaScoreBand(ratio float64) float64 {
	switch {
	case ratio >= 0.8 && ratio <= 1.2:
		return 1.0
	case ratio >= 0.5 && ratio <= 2.0:
		return 0.8
	case ratio >= 0.2 && ratio <= 5.0:
		return 0.6
	default:
		return 0.3
	}
}
