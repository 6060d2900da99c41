// Package source maps a jurisdiction's country to a boundary data
// source and exposes one fetch strategy per source kind. Unsupported
// countries are an explicit failure signal, never defaulted to a
// source that happens to work.
package source

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/atlas-data/boundaryline/internal/geo"
	"github.com/atlas-data/boundaryline/internal/overpass"
	"github.com/atlas-data/boundaryline/internal/region"
)

// Kind identifies a boundary data source.
type Kind int

const (
	Unsupported Kind = iota
	OSM
	USCensusPlaceholder
	StatsCanadaPlaceholder
)

func (k Kind) String() string {
	switch k {
	case OSM:
		return "osm"
	case USCensusPlaceholder:
		return "us_census_placeholder"
	case StatsCanadaPlaceholder:
		return "stats_canada_placeholder"
	default:
		return "unsupported"
	}
}

// kindByCountry is the deterministic dispatch table, keyed by the
// normalized country name.
var kindByCountry = map[string]Kind{
	"germany":              OSM,
	"france":               OSM,
	"spain":                OSM,
	"italy":                OSM,
	"poland":               OSM,
	"czech republic":       OSM,
	"austria":              OSM,
	"switzerland":          OSM,
	"belgium":              OSM,
	"netherlands":          OSM,
	"sweden":               OSM,
	"norway":               OSM,
	"finland":              OSM,
	"denmark":              OSM,
	"united kingdom":       OSM,
	"portugal":             OSM,
	"greece":               OSM,
	"turkey":               OSM,
	"ireland":              OSM,
	"brazil":               OSM,
	"south africa":         OSM,
	"japan":                OSM,
	"south korea":          OSM,
	"china":                OSM,
	"taiwan":               OSM,
	"thailand":             OSM,
	"malaysia":             OSM,
	"singapore":            OSM,
	"hong kong":            OSM,
	"australia":            OSM,
	"new zealand":          OSM,
	"qatar":                OSM,
	"united arab emirates": OSM,

	"united states": USCensusPlaceholder,
	"canada":        StatsCanadaPlaceholder,
}

// Select returns the source kind for a country. The lookup normalizes
// common aliases (usa, uk, czechia, ...) before dispatch.
func Select(country string) Kind {
	if kind, ok := kindByCountry[region.NormalizeCountry(country)]; ok {
		return kind
	}
	return Unsupported
}

// PlaceRequest describes one place to acquire a boundary for.
type PlaceRequest struct {
	ID      string
	Name    string
	Country string

	// Subdivision is the state or province the place belongs to,
	// used as an extra disambiguation signal. Empty when unknown.
	Subdivision string

	// Expected is the place's known location, used for candidate
	// disambiguation and the centroid distance gate. Nil when unknown.
	Expected *geo.Point

	// KnownRelationID is a curated upstream relation id. When set,
	// discovery is skipped and the relation is fetched directly.
	KnownRelationID int64

	// ReferenceAreaKm2 is the independently sourced area used by the
	// area-ratio gate. Zero means unknown.
	ReferenceAreaKm2 float64

	// AllowApproximation opts into the circular placeholder fallback
	// for placeholder source kinds. Off by default.
	AllowApproximation bool
}

// Strategy is one boundary acquisition path. Discover resolves the
// place to a relation reference; Fetch retrieves its raw way segments.
type Strategy interface {
	IsApplicable(req PlaceRequest) bool
	Discover(ctx context.Context, req PlaceRequest) (overpass.RelationRef, error)
	Fetch(ctx context.Context, req PlaceRequest, ref overpass.RelationRef) ([]overpass.RawSegment, error)
}

// RelationClient is the part of the boundary-query client the OSM
// strategy needs. *overpass.Client satisfies it.
type RelationClient interface {
	Discover(ctx context.Context, req overpass.DiscoverRequest) (overpass.RelationRef, error)
	FetchRelation(ctx context.Context, id int64) ([]overpass.RawSegment, error)
}

// ErrNoStrategy reports a source kind with no acquisition path.
var ErrNoStrategy = errors.New("no strategy for source kind")

// ForKind returns the strategy serving a source kind.
func ForKind(kind Kind, client RelationClient) (Strategy, error) {
	switch kind {
	case OSM:
		return &OSMStrategy{Client: client, MaxDistanceKm: 300}, nil
	case USCensusPlaceholder, StatsCanadaPlaceholder:
		return &PlaceholderStrategy{Kind: kind}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoStrategy, kind)
	}
}

// OSMStrategy acquires boundaries from the external boundary-query
// service, composing the discovery request from the per-country
// admin-level table and the local-spelling table.
type OSMStrategy struct {
	Client        RelationClient
	MaxDistanceKm float64
}

func (s *OSMStrategy) IsApplicable(req PlaceRequest) bool {
	return Select(req.Country) == OSM
}

func (s *OSMStrategy) Discover(ctx context.Context, req PlaceRequest) (overpass.RelationRef, error) {
	if req.KnownRelationID != 0 {
		ref := overpass.RelationRef{ID: req.KnownRelationID, Name: req.Name, Score: 1.0}
		if req.Expected != nil {
			ref.Center = *req.Expected
		}
		return ref, nil
	}

	dreq := overpass.DiscoverRequest{
		Name:          req.Name,
		Subdivision:   req.Subdivision,
		AdminLevels:   region.AdminLevels(req.Country),
		Expected:      req.Expected,
		MaxDistanceKm: s.MaxDistanceKm,
	}
	if local, ok := region.LocalName(req.Name); ok {
		dreq.LocalName = local
	}
	return s.Client.Discover(ctx, dreq)
}

func (s *OSMStrategy) Fetch(ctx context.Context, _ PlaceRequest, ref overpass.RelationRef) ([]overpass.RawSegment, error) {
	return s.Client.FetchRelation(ctx, ref.ID)
}

// ApproximationPoints is the vertex count of a generated circular
// placeholder ring.
const ApproximationPoints = 48

// DefaultApproximationRadiusKm is used when no reference area is known.
const DefaultApproximationRadiusKm = 5.0

// PlaceholderStrategy serves countries whose authoritative boundary
// source is not wired up. It generates a circular approximation around
// the expected coordinates, and only when the caller opted in; the
// resulting artifact must be tagged as approximated downstream.
type PlaceholderStrategy struct {
	Kind Kind
}

func (s *PlaceholderStrategy) IsApplicable(req PlaceRequest) bool {
	return Select(req.Country) == s.Kind && req.AllowApproximation && req.Expected != nil
}

func (s *PlaceholderStrategy) Discover(_ context.Context, req PlaceRequest) (overpass.RelationRef, error) {
	if !req.AllowApproximation {
		return overpass.RelationRef{}, fmt.Errorf("source %s requires opting into approximation", s.Kind)
	}
	if req.Expected == nil {
		return overpass.RelationRef{}, fmt.Errorf("approximation for %q needs expected coordinates", req.Name)
	}
	// Synthetic reference: there is no upstream relation.
	return overpass.RelationRef{ID: 0, Name: req.Name, Center: *req.Expected, Score: 1.0}, nil
}

func (s *PlaceholderStrategy) Fetch(_ context.Context, req PlaceRequest, ref overpass.RelationRef) ([]overpass.RawSegment, error) {
	if req.Expected == nil {
		return nil, fmt.Errorf("approximation for %q needs expected coordinates", req.Name)
	}
	radius := DefaultApproximationRadiusKm
	if req.ReferenceAreaKm2 > 0 {
		radius = math.Sqrt(req.ReferenceAreaKm2 / math.Pi)
	}
	ring := CircleRing(*req.Expected, radius, ApproximationPoints)
	return []overpass.RawSegment{{WayID: 0, Role: "outer", Points: ring}}, nil
}

// CircleRing builds a closed n-gon of the given radius around center.
// Longitude offsets are widened by 1/cos(lat) so the ring is circular
// in kilometres rather than in degrees.
func CircleRing(center geo.Point, radiusKm float64, n int) []geo.Point {
	radiusDeg := radiusKm / geo.KmPerDegreeLat
	lonScale := 1.0 / math.Cos(center.Lat*math.Pi/180.0)

	points := make([]geo.Point, 0, n+1)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		points = append(points, geo.Point{
			Lon: center.Lon + radiusDeg*math.Cos(angle)*lonScale,
			Lat: center.Lat + radiusDeg*math.Sin(angle),
		})
	}
	points = append(points, points[0])
	return points
}
