// Package config loads pipeline tuning from a JSON file. Fields omitted
// from the file keep their defaults, so partial configs are safe; the
// same schema is accepted for every command mode.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileConfig is the on-disk schema. Pointer fields distinguish "absent"
// from zero values.
type FileConfig struct {
	// Fetcher params
	OverpassURL      *string `json:"overpass_url,omitempty"`
	MaxFetchAttempts *int    `json:"max_fetch_attempts,omitempty"`
	BackoffBase      *string `json:"backoff_base,omitempty"`    // duration string like "2s"
	RequestDelay     *string `json:"request_delay,omitempty"`   // minimum delay between external requests
	RequestTimeout   *string `json:"request_timeout,omitempty"` // per-request timeout

	// Stitcher params
	StitchToleranceDeg *float64 `json:"stitch_tolerance_deg,omitempty"`

	// Validation gates
	MinAreaRatio        *float64 `json:"min_area_ratio,omitempty"`
	MaxAreaRatio        *float64 `json:"max_area_ratio,omitempty"`
	MinAbsoluteAreaKm2  *float64 `json:"min_absolute_area_km2,omitempty"`
	MaxAbsoluteAreaKm2  *float64 `json:"max_absolute_area_km2,omitempty"`
	DistanceThresholdKm *float64 `json:"distance_threshold_km,omitempty"`

	// Paths
	BoundaryDir  *string `json:"boundary_dir,omitempty"`
	BackupDir    *string `json:"backup_dir,omitempty"`
	CatalogPath  *string `json:"catalog_path,omitempty"`
	ResultDBPath *string `json:"result_db_path,omitempty"`
}

// Pipeline is the resolved configuration the components consume.
type Pipeline struct {
	OverpassURL      string
	MaxFetchAttempts int
	BackoffBase      time.Duration
	RequestDelay     time.Duration
	RequestTimeout   time.Duration

	StitchToleranceDeg float64

	MinAreaRatio        float64
	MaxAreaRatio        float64
	MinAbsoluteAreaKm2  float64
	MaxAbsoluteAreaKm2  float64
	DistanceThresholdKm float64

	BoundaryDir  string
	BackupDir    string
	CatalogPath  string
	ResultDBPath string
}

// Defaults returns the pipeline defaults. Gate bounds follow the
// documented sanity thresholds: area ratio within [0.1, 10], absolute
// area within [1, 50000] km², centroid within 100 km.
func Defaults() Pipeline {
	return Pipeline{
		OverpassURL:      "https://overpass-api.de/api/interpreter",
		MaxFetchAttempts: 3,
		BackoffBase:      2 * time.Second,
		RequestDelay:     time.Second,
		RequestTimeout:   180 * time.Second,

		StitchToleranceDeg: 1e-4,

		MinAreaRatio:        0.1,
		MaxAreaRatio:        10.0,
		MinAbsoluteAreaKm2:  1.0,
		MaxAbsoluteAreaKm2:  50000.0,
		DistanceThresholdKm: 100.0,

		BoundaryDir:  "boundaries",
		BackupDir:    "boundaries/backups",
		CatalogPath:  "cities.json",
		ResultDBPath: "boundary_runs.db",
	}
}

// Load reads a FileConfig from a JSON file. The path must carry a .json
// extension and the file must be under 1MB.
func Load(path string) (*FileConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &fc, nil
}

// Apply overlays the non-nil fields of fc onto p. Duration strings are
// parsed with time.ParseDuration.
func (p *Pipeline) Apply(fc *FileConfig) error {
	if fc == nil {
		return nil
	}

	if fc.OverpassURL != nil {
		p.OverpassURL = *fc.OverpassURL
	}
	if fc.MaxFetchAttempts != nil {
		if *fc.MaxFetchAttempts < 1 {
			return fmt.Errorf("max_fetch_attempts must be >= 1, got %d", *fc.MaxFetchAttempts)
		}
		p.MaxFetchAttempts = *fc.MaxFetchAttempts
	}
	if fc.BackoffBase != nil {
		d, err := time.ParseDuration(*fc.BackoffBase)
		if err != nil {
			return fmt.Errorf("invalid backoff_base: %w", err)
		}
		p.BackoffBase = d
	}
	if fc.RequestDelay != nil {
		d, err := time.ParseDuration(*fc.RequestDelay)
		if err != nil {
			return fmt.Errorf("invalid request_delay: %w", err)
		}
		p.RequestDelay = d
	}
	if fc.RequestTimeout != nil {
		d, err := time.ParseDuration(*fc.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid request_timeout: %w", err)
		}
		p.RequestTimeout = d
	}

	if fc.StitchToleranceDeg != nil {
		if *fc.StitchToleranceDeg <= 0 {
			return fmt.Errorf("stitch_tolerance_deg must be positive, got %g", *fc.StitchToleranceDeg)
		}
		p.StitchToleranceDeg = *fc.StitchToleranceDeg
	}

	if fc.MinAreaRatio != nil {
		p.MinAreaRatio = *fc.MinAreaRatio
	}
	if fc.MaxAreaRatio != nil {
		p.MaxAreaRatio = *fc.MaxAreaRatio
	}
	if p.MinAreaRatio >= p.MaxAreaRatio {
		return fmt.Errorf("min_area_ratio %g must be below max_area_ratio %g", p.MinAreaRatio, p.MaxAreaRatio)
	}
	if fc.MinAbsoluteAreaKm2 != nil {
		p.MinAbsoluteAreaKm2 = *fc.MinAbsoluteAreaKm2
	}
	if fc.MaxAbsoluteAreaKm2 != nil {
		p.MaxAbsoluteAreaKm2 = *fc.MaxAbsoluteAreaKm2
	}
	if fc.DistanceThresholdKm != nil {
		if *fc.DistanceThresholdKm <= 0 {
			return fmt.Errorf("distance_threshold_km must be positive, got %g", *fc.DistanceThresholdKm)
		}
		p.DistanceThresholdKm = *fc.DistanceThresholdKm
	}

	if fc.BoundaryDir != nil {
		p.BoundaryDir = *fc.BoundaryDir
	}
	if fc.BackupDir != nil {
		p.BackupDir = *fc.BackupDir
	}
	if fc.CatalogPath != nil {
		p.CatalogPath = *fc.CatalogPath
	}
	if fc.ResultDBPath != nil {
		p.ResultDBPath = *fc.ResultDBPath
	}
	return nil
}
