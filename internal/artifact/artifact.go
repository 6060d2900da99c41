// Package artifact defines the persisted boundary artifact: a GeoJSON
// FeatureCollection with one feature per boundary, geometry Polygon or
// MultiPolygon, and the pipeline's source/quality metadata as feature
// properties. Coordinates round-trip exactly: encoding/json emits the
// shortest decimal that parses back to the identical float64.
package artifact

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlas-data/boundaryline/internal/fsutil"
	"github.com/atlas-data/boundaryline/internal/geo"
)

// Properties is the metadata block written with every boundary feature.
type Properties struct {
	Name         string    `json:"name"`
	SourceKind   string    `json:"source_kind"`
	RelationID   int64     `json:"relation_id,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	QualityScore float64   `json:"quality_score"`

	// Approximated marks circular-placeholder artifacts so they can never
	// be mistaken for validated boundaries, whatever their quality score.
	Approximated bool `json:"approximated,omitempty"`

	// LowConfidence marks artifacts validated without a reference area.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// Artifact is one place's boundary with its metadata.
type Artifact struct {
	Boundary geo.Boundary
	Props    Properties
}

// GeoJSON wire types. Coordinates stay raw until the geometry type is
// known, since Polygon and MultiPolygon nest differently.
type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string     `json:"type"`
	Geometry   geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ringCoords converts a ring to GeoJSON [lon, lat] pairs.
func ringCoords(r geo.Ring) [][]float64 {
	out := make([][]float64, len(r))
	for i, p := range r {
		out[i] = []float64{p.Lon, p.Lat}
	}
	return out
}

func coordsRing(coords [][]float64) (geo.Ring, error) {
	r := make(geo.Ring, len(coords))
	for i, pair := range coords {
		if len(pair) < 2 {
			return nil, fmt.Errorf("coordinate %d has %d members, want 2", i, len(pair))
		}
		r[i] = geo.Point{Lon: pair[0], Lat: pair[1]}
	}
	return r, nil
}

// polygonCoords converts one polygon part: outer ring first, then holes.
func polygonCoords(p geo.Polygon) [][][]float64 {
	out := make([][][]float64, 0, 1+len(p.Holes))
	out = append(out, ringCoords(p.Outer))
	for _, h := range p.Holes {
		out = append(out, ringCoords(h))
	}
	return out
}

// Marshal encodes the artifact as an indented GeoJSON FeatureCollection.
// A single-part boundary is written as a Polygon, multiple parts as a
// MultiPolygon.
func Marshal(a *Artifact) ([]byte, error) {
	if len(a.Boundary) == 0 {
		return nil, fmt.Errorf("artifact has no boundary geometry")
	}

	var g geometry
	if len(a.Boundary) == 1 {
		coords, err := json.Marshal(polygonCoords(a.Boundary[0]))
		if err != nil {
			return nil, err
		}
		g = geometry{Type: "Polygon", Coordinates: coords}
	} else {
		multi := make([][][][]float64, len(a.Boundary))
		for i, p := range a.Boundary {
			multi[i] = polygonCoords(p)
		}
		coords, err := json.Marshal(multi)
		if err != nil {
			return nil, err
		}
		g = geometry{Type: "MultiPolygon", Coordinates: coords}
	}

	fc := featureCollection{
		Type: "FeatureCollection",
		Features: []feature{{
			Type:       "Feature",
			Geometry:   g,
			Properties: a.Props,
		}},
	}
	return json.MarshalIndent(fc, "", "  ")
}

// Unmarshal decodes a GeoJSON FeatureCollection produced by Marshal.
func Unmarshal(data []byte) (*Artifact, error) {
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse artifact: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("artifact is %q, want FeatureCollection", fc.Type)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("artifact has no features")
	}

	f := fc.Features[0]
	var boundary geo.Boundary

	switch f.Geometry.Type {
	case "Polygon":
		var coords [][][]float64
		if err := json.Unmarshal(f.Geometry.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("failed to parse polygon coordinates: %w", err)
		}
		p, err := parsePolygon(coords)
		if err != nil {
			return nil, err
		}
		boundary = geo.Boundary{p}
	case "MultiPolygon":
		var coords [][][][]float64
		if err := json.Unmarshal(f.Geometry.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("failed to parse multipolygon coordinates: %w", err)
		}
		for i, pc := range coords {
			p, err := parsePolygon(pc)
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", i, err)
			}
			boundary = append(boundary, p)
		}
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", f.Geometry.Type)
	}

	return &Artifact{Boundary: boundary, Props: f.Properties}, nil
}

func parsePolygon(coords [][][]float64) (geo.Polygon, error) {
	if len(coords) == 0 {
		return geo.Polygon{}, fmt.Errorf("polygon has no rings")
	}
	outer, err := coordsRing(coords[0])
	if err != nil {
		return geo.Polygon{}, err
	}
	p := geo.Polygon{Outer: outer}
	for _, hc := range coords[1:] {
		h, err := coordsRing(hc)
		if err != nil {
			return geo.Polygon{}, err
		}
		p.Holes = append(p.Holes, h)
	}
	return p, nil
}

// Write marshals the artifact to path through the given filesystem.
func Write(fs fsutil.FileSystem, path string, a *Artifact) error {
	data, err := Marshal(a)
	if err != nil {
		return err
	}
	return fs.WriteFile(path, data, 0644)
}

// Read loads and decodes an artifact from path.
func Read(fs fsutil.FileSystem, path string) (*Artifact, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
