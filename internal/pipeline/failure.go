package pipeline

import (
	"errors"
	"fmt"

	"github.com/atlas-data/boundaryline/internal/overpass"
	"github.com/atlas-data/boundaryline/internal/stitch"
	"github.com/atlas-data/boundaryline/internal/validate"
)

// FailureKind classifies every way a single place can fail, so batch
// summaries and the retry-failed mode can reason about outcomes.
type FailureKind int

const (
	SourceUnsupported FailureKind = iota
	RelationNotFound
	AmbiguousRelation
	FetchFailed
	StitchIncomplete
	ValidationFailedStructure
	ValidationFailedArea
	ValidationFailedDistance
	PersistenceFailed
)

func (k FailureKind) String() string {
	switch k {
	case SourceUnsupported:
		return "source_unsupported"
	case RelationNotFound:
		return "relation_not_found"
	case AmbiguousRelation:
		return "ambiguous_relation"
	case FetchFailed:
		return "fetch_failed"
	case StitchIncomplete:
		return "stitch_incomplete"
	case ValidationFailedStructure:
		return "validation_failed_structure"
	case ValidationFailedArea:
		return "validation_failed_area"
	case ValidationFailedDistance:
		return "validation_failed_distance"
	case PersistenceFailed:
		return "persistence_failed"
	default:
		return fmt.Sprintf("failure_kind(%d)", int(k))
	}
}

// Failure is one place's classified failure. It never aborts a run.
type Failure struct {
	Kind    FailureKind
	PlaceID string
	Reason  string
	Err     error
}

func (f *Failure) Error() string {
	if f.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", f.PlaceID, f.Kind, f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.PlaceID, f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// classifyAcquisition maps discovery and fetch errors onto the failure
// taxonomy.
func classifyAcquisition(placeID string, err error) *Failure {
	var ambiguous *overpass.AmbiguousError
	var fetchErr *overpass.FetchError
	var incomplete *stitch.IncompleteError

	switch {
	case errors.Is(err, overpass.ErrNotFound):
		return &Failure{Kind: RelationNotFound, PlaceID: placeID, Reason: err.Error(), Err: err}
	case errors.As(err, &ambiguous):
		return &Failure{Kind: AmbiguousRelation, PlaceID: placeID, Reason: err.Error(), Err: err}
	case errors.As(err, &incomplete):
		return &Failure{Kind: StitchIncomplete, PlaceID: placeID, Reason: err.Error(), Err: err}
	case errors.As(err, &fetchErr):
		return &Failure{Kind: FetchFailed, PlaceID: placeID, Reason: err.Error(), Err: err}
	default:
		return &Failure{Kind: FetchFailed, PlaceID: placeID, Reason: err.Error(), Err: err}
	}
}

// classifyValidation maps the first failed gate onto the taxonomy.
func classifyValidation(placeID string, res validate.Result) *Failure {
	switch {
	case res.Structural.Status == validate.Failed:
		return &Failure{Kind: ValidationFailedStructure, PlaceID: placeID, Reason: res.Structural.Reason}
	case res.Area.Status == validate.Failed:
		return &Failure{Kind: ValidationFailedArea, PlaceID: placeID, Reason: res.Area.Reason}
	default:
		return &Failure{Kind: ValidationFailedDistance, PlaceID: placeID, Reason: res.Distance.Reason}
	}
}
