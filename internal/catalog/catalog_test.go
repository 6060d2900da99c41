package catalog

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/atlas-data/boundaryline/internal/fsutil"
)

const sampleCatalog = `{
  "cities": [
    {
      "id": "london",
      "name": "London, United Kingdom",
      "country": "United Kingdom",
      "coordinates": [51.5074, -0.1278],
      "hasDetailedBoundary": true,
      "boundaryFile": "london.geojson",
      "referenceAreaKm2": 1572
    },
    {
      "id": "prague",
      "name": "Prague, Czech Republic",
      "country": "Czech Republic",
      "coordinates": [50.0755, 14.4378],
      "hasDetailedBoundary": false,
      "referenceAreaKm2": 496
    },
    {
      "id": "vancouver",
      "name": "Vancouver, Canada",
      "country": "Canada",
      "subdivision": "British Columbia",
      "coordinates": [49.2827, -123.1207],
      "hasDetailedBoundary": false
    }
  ]
}`

func loadSample(t *testing.T) (*Catalog, *fsutil.MemoryFileSystem) {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	if err := mfs.WriteFile("cities.json", []byte(sampleCatalog), 0644); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	c, err := Load(mfs, "cities.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c, mfs
}

func TestLoad(t *testing.T) {
	c, _ := loadSample(t)
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}

	rec, ok := c.Get("prague")
	if !ok {
		t.Fatal("prague not found")
	}
	if rec.Lat() != 50.0755 || rec.Lon() != 14.4378 {
		t.Errorf("coordinates = %g, %g", rec.Lat(), rec.Lon())
	}
	if rec.DisplayName() != "Prague" {
		t.Errorf("DisplayName = %q, want Prague", rec.DisplayName())
	}
	if rec.ReferenceAreaKm2 != 496 {
		t.Errorf("ReferenceAreaKm2 = %g", rec.ReferenceAreaKm2)
	}
}

func TestLoadMissingFile(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	if _, err := Load(mfs, "cities.json"); err == nil {
		t.Error("expected error for missing catalog")
	}
}

func TestLoadMalformed(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("cities.json", []byte("{not json"), 0644)
	if _, err := Load(mfs, "cities.json"); err == nil {
		t.Error("expected error for malformed catalog")
	}
}

func TestLoadRejectsMissingID(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("cities.json", []byte(`{"cities":[{"name":"Nowhere"}]}`), 0644)
	if _, err := Load(mfs, "cities.json"); err == nil {
		t.Error("expected error for entry without id")
	}
}

func TestWithoutBoundary(t *testing.T) {
	c, _ := loadSample(t)
	missing := c.WithoutBoundary()

	var ids []string
	for _, rec := range missing {
		ids = append(ids, rec.ID)
	}
	if diff := cmp.Diff([]string{"prague", "vancouver"}, ids); diff != "" {
		t.Errorf("WithoutBoundary mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkBoundaryPersists(t *testing.T) {
	c, mfs := loadSample(t)

	if err := c.MarkBoundary("prague", "prague.geojson"); err != nil {
		t.Fatalf("MarkBoundary: %v", err)
	}

	// Reload from disk and confirm the update was persisted.
	data, err := mfs.ReadFile("cities.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var cf struct {
		Cities []Record `json:"cities"`
	}
	if err := json.Unmarshal(data, &cf); err != nil {
		t.Fatalf("parse persisted catalog: %v", err)
	}

	var prague *Record
	for i := range cf.Cities {
		if cf.Cities[i].ID == "prague" {
			prague = &cf.Cities[i]
		}
	}
	if prague == nil {
		t.Fatal("prague missing after save")
	}
	if !prague.HasDetailedBoundary || prague.BoundaryFile != "prague.geojson" {
		t.Errorf("prague = %+v", prague)
	}

	// Untouched records survive the round trip.
	if cf.Cities[0].ID != "london" || !cf.Cities[0].HasDetailedBoundary {
		t.Errorf("london record disturbed: %+v", cf.Cities[0])
	}
}

func TestMarkBoundaryUnknownID(t *testing.T) {
	c, _ := loadSample(t)
	if err := c.MarkBoundary("atlantis", "atlantis.geojson"); err == nil {
		t.Error("expected error for unknown id")
	}
}
