package validate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-data/boundaryline/internal/geo"
	"github.com/atlas-data/boundaryline/internal/source"
)

// squareBoundary builds a closed square of roughly the given area,
// centered on (lon, lat).
func squareBoundary(lon, lat, areaKm2 float64) geo.Boundary {
	sideDeg := math.Sqrt(areaKm2) / geo.KmPerDegreeLat
	lonHalf := sideDeg / (2 * math.Cos(lat*math.Pi/180))
	latHalf := sideDeg / 2
	ring := geo.Ring{
		{Lon: lon - lonHalf, Lat: lat - latHalf},
		{Lon: lon + lonHalf, Lat: lat - latHalf},
		{Lon: lon + lonHalf, Lat: lat + latHalf},
		{Lon: lon - lonHalf, Lat: lat + latHalf},
		{Lon: lon - lonHalf, Lat: lat - latHalf},
	}
	return geo.Boundary{{Outer: ring}}
}

func TestAreaRatioGate(t *testing.T) {
	b := squareBoundary(11.58, 48.14, 310)
	cfg := DefaultGates()

	tests := []struct {
		name      string
		reference float64
		wantPass  bool
	}{
		{"ratio near 1.0 passes", 310, true},
		{"ratio 0.05 fails", 310 / 0.05, false},
		{"ratio just above 10 fails", 30, false},
		{"ratio 0.2 passes", 1550, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(b, source.PlaceRequest{ReferenceAreaKm2: tt.reference}, cfg)
			if tt.wantPass {
				assert.Equal(t, Passed, res.Area.Status, res.Area.Reason)
			} else {
				assert.Equal(t, Failed, res.Area.Status)
				assert.NotEmpty(t, res.Area.Reason)
			}
			assert.False(t, res.LowConfidence)
		})
	}
}

func TestDistanceGate(t *testing.T) {
	b := squareBoundary(11.58, 48.14, 310)
	cfg := DefaultGates()

	near := &geo.Point{Lon: 11.58, Lat: 48.23} // ~10 km north
	res := Validate(b, source.PlaceRequest{Expected: near}, cfg)
	assert.Equal(t, Passed, res.Distance.Status)
	assert.InDelta(t, 10, res.DistanceKm, 1.0)

	far := &geo.Point{Lon: 11.58, Lat: 49.49} // ~150 km north
	res = Validate(b, source.PlaceRequest{Expected: far}, cfg)
	assert.Equal(t, Failed, res.Distance.Status)
	assert.False(t, res.Passed())
}

func TestNoReferenceAreaIsLowConfidence(t *testing.T) {
	b := squareBoundary(0, 0, 100)
	res := Validate(b, source.PlaceRequest{}, DefaultGates())

	assert.Equal(t, Skipped, res.Area.Status)
	assert.Equal(t, Skipped, res.Distance.Status)
	assert.True(t, res.LowConfidence)
	assert.True(t, res.Passed(), "skipped gates do not fail the result")
	assert.InDelta(t, 0.3, res.QualityScore, 1e-9, "structure alone scores low")
}

func TestStructuralGate(t *testing.T) {
	cfg := DefaultGates()

	t.Run("empty boundary", func(t *testing.T) {
		res := Validate(geo.Boundary{}, source.PlaceRequest{}, cfg)
		assert.Equal(t, Failed, res.Structural.Status)
		assert.Zero(t, res.QualityScore)
	})

	t.Run("open ring", func(t *testing.T) {
		ring := geo.Ring{{Lon: 0, Lat: 0}, {Lon: 0.1, Lat: 0}, {Lon: 0.1, Lat: 0.1}, {Lon: 0, Lat: 0.1}}
		res := Validate(geo.Boundary{{Outer: ring}}, source.PlaceRequest{}, cfg)
		assert.Equal(t, Failed, res.Structural.Status)
		assert.Contains(t, res.Structural.Reason, "not closed")
	})

	t.Run("too few points", func(t *testing.T) {
		ring := geo.Ring{{Lon: 0, Lat: 0}, {Lon: 0.1, Lat: 0}, {Lon: 0, Lat: 0}}
		res := Validate(geo.Boundary{{Outer: ring}}, source.PlaceRequest{}, cfg)
		assert.Equal(t, Failed, res.Structural.Status)
	})

	t.Run("implausibly small area", func(t *testing.T) {
		res := Validate(squareBoundary(0, 0, 0.2), source.PlaceRequest{}, cfg)
		assert.Equal(t, Failed, res.Structural.Status)
		assert.Contains(t, res.Structural.Reason, "plausible range")
	})

	t.Run("implausibly large area", func(t *testing.T) {
		res := Validate(squareBoundary(0, 0, 80000), source.PlaceRequest{}, cfg)
		assert.Equal(t, Failed, res.Structural.Status)
	})

	t.Run("open hole ring", func(t *testing.T) {
		b := squareBoundary(0, 0, 400)
		b[0].Holes = []geo.Ring{{{Lon: 0, Lat: 0}, {Lon: 0.01, Lat: 0}, {Lon: 0.01, Lat: 0.01}, {Lon: 0.02, Lat: 0.02}}}
		res := Validate(b, source.PlaceRequest{}, cfg)
		assert.Equal(t, Failed, res.Structural.Status)
	})
}

func TestQualityScore(t *testing.T) {
	b := squareBoundary(11.58, 48.14, 310)
	cfg := DefaultGates()
	centroid := b.Centroid()

	t.Run("perfect match", func(t *testing.T) {
		res := Validate(b, source.PlaceRequest{
			ReferenceAreaKm2: 310,
			Expected:         &centroid,
		}, cfg)
		require.True(t, res.Passed())
		assert.InDelta(t, 1.0, res.QualityScore, 1e-9)
	})

	t.Run("area band degrades with ratio", func(t *testing.T) {
		res := Validate(b, source.PlaceRequest{ReferenceAreaKm2: 310 / 3.0}, cfg)
		assert.InDelta(t, 0.6, res.QualityScore, 1e-9)
	})

	t.Run("distance component linear falloff", func(t *testing.T) {
		// ~50 km away at a 100 km threshold: distance component ~0.5,
		// area component 1.0, averaged.
		away := &geo.Point{Lon: centroid.Lon, Lat: centroid.Lat + 50.0/geo.KmPerDegreeLat}
		res := Validate(b, source.PlaceRequest{ReferenceAreaKm2: 310, Expected: away}, cfg)
		assert.InDelta(t, 0.75, res.QualityScore, 0.02)
	})
}

func TestBoundaryMetricsReported(t *testing.T) {
	b := squareBoundary(11.58, 48.14, 310)
	res := Validate(b, source.PlaceRequest{ReferenceAreaKm2: 300}, DefaultGates())

	assert.InEpsilon(t, 310, res.AreaKm2, 0.05)
	assert.InEpsilon(t, 310.0/300.0, res.AreaRatio, 0.05)
	assert.Equal(t, float64(-1), res.DistanceKm)
	assert.InDelta(t, 11.58, res.Centroid.Lon, 0.01)
	assert.InDelta(t, 48.14, res.Centroid.Lat, 0.01)
}
