// Package catalog reads and updates the external city catalog
// (cities.json). The catalog is an external collaborator: this pipeline
// only consumes its records and flips the boundary-availability flag
// after a validated artifact is written.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atlas-data/boundaryline/internal/fsutil"
)

// Record is one city entry in the catalog. Coordinates are [lat, lon],
// matching the catalog's historical ordering (GeoJSON artifacts use
// lon-first; conversion happens at the pipeline boundary).
type Record struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Country             string    `json:"country"`
	Subdivision         string    `json:"subdivision,omitempty"`
	Coordinates         []float64 `json:"coordinates"`
	HasDetailedBoundary bool      `json:"hasDetailedBoundary"`
	BoundaryFile        string    `json:"boundaryFile,omitempty"`
	ReferenceAreaKm2    float64   `json:"referenceAreaKm2,omitempty"`
	OSMRelationID       int64     `json:"osmRelationId,omitempty"`
}

// Lat returns the record's latitude, or 0 when coordinates are absent.
func (r Record) Lat() float64 {
	if len(r.Coordinates) >= 2 {
		return r.Coordinates[0]
	}
	return 0
}

// Lon returns the record's longitude, or 0 when coordinates are absent.
func (r Record) Lon() float64 {
	if len(r.Coordinates) >= 2 {
		return r.Coordinates[1]
	}
	return 0
}

// HasCoordinates reports whether the record carries an expected location.
func (r Record) HasCoordinates() bool {
	return len(r.Coordinates) >= 2
}

// DisplayName returns the city name with any ", Country" suffix trimmed.
// Catalog names historically embed the country for display.
func (r Record) DisplayName() string {
	name, _, _ := strings.Cut(r.Name, ",")
	return strings.TrimSpace(name)
}

type catalogFile struct {
	Cities []Record `json:"cities"`
}

// Catalog is the loaded city catalog, bound to the file it came from.
type Catalog struct {
	fs     fsutil.FileSystem
	path   string
	cities []Record
	byID   map[string]int
}

// Load reads the catalog from path. An unreadable or malformed catalog is
// an orchestration-level fatal error for callers, not a per-item failure.
func Load(fs fsutil.FileSystem, path string) (*Catalog, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var cf catalogFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	c := &Catalog{
		fs:     fs,
		path:   path,
		cities: cf.Cities,
		byID:   make(map[string]int, len(cf.Cities)),
	}
	for i, rec := range cf.Cities {
		if rec.ID == "" {
			return nil, fmt.Errorf("catalog %s: entry %d has no id", path, i)
		}
		c.byID[rec.ID] = i
	}
	return c, nil
}

// Len returns the number of catalog records.
func (c *Catalog) Len() int { return len(c.cities) }

// Records returns a copy of all catalog records in file order.
func (c *Catalog) Records() []Record {
	out := make([]Record, len(c.cities))
	copy(out, c.cities)
	return out
}

// Get returns the record with the given id.
func (c *Catalog) Get(id string) (Record, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Record{}, false
	}
	return c.cities[i], true
}

// WithoutBoundary returns records that do not yet have a detailed
// boundary artifact.
func (c *Catalog) WithoutBoundary() []Record {
	var out []Record
	for _, rec := range c.cities {
		if !rec.HasDetailedBoundary {
			out = append(out, rec)
		}
	}
	return out
}

// MarkBoundary flags the record as having a detailed boundary, records
// the artifact file reference, and persists the updated catalog.
func (c *Catalog) MarkBoundary(id, boundaryFile string) error {
	i, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("catalog has no entry %q", id)
	}
	c.cities[i].HasDetailedBoundary = true
	c.cities[i].BoundaryFile = boundaryFile
	return c.save()
}

func (c *Catalog) save() error {
	data, err := json.MarshalIndent(catalogFile{Cities: c.cities}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	if err := c.fs.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write catalog %s: %w", c.path, err)
	}
	return nil
}
