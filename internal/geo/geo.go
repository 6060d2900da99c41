// Package geo provides the coordinate and polygon primitives used by the
// boundary pipeline. Area and distance math here is sanity-check grade: a
// flat-earth shoelace with latitude scaling is adequate at city scale and
// is only used to reject grossly wrong boundaries, never to report
// geodesically exact figures.
package geo

import "math"

const (
	// KmPerDegreeLat is the approximate north-south span of one degree of
	// latitude. Longitude degrees shrink by cos(latitude).
	KmPerDegreeLat = 111.0

	// EarthRadiusKm is the mean earth radius used for great-circle distance.
	EarthRadiusKm = 6371.0

	// CoordTolerance is the default tolerance, in degrees, below which two
	// coordinates are considered the same point. It absorbs float round-trip
	// noise and duplicate nodes in fetched segments (~11 m at the equator).
	CoordTolerance = 1e-4
)

// Point is a single coordinate pair. GeoJSON ordering: longitude first.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// PlanarDistance returns the planar distance between two points in degree
// units. It is only meaningful for near-coincidence checks against a
// tolerance, not for real distances.
func (p Point) PlanarDistance(q Point) float64 {
	dx := p.Lon - q.Lon
	dy := p.Lat - q.Lat
	return math.Sqrt(dx*dx + dy*dy)
}

// Near reports whether two points coincide within tol degrees.
func (p Point) Near(q Point, tol float64) bool {
	return p.PlanarDistance(q) <= tol
}

// Haversine returns the great-circle distance between two points in km.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Ring is an ordered vertex sequence bounding one contiguous polygon part.
// A well-formed ring is closed: first and last vertex coincide.
type Ring []Point

// Closed reports whether the ring's first and last vertices coincide
// within tol and the ring has at least four points (three distinct
// vertices plus the closing duplicate).
func (r Ring) Closed(tol float64) bool {
	if len(r) < 4 {
		return false
	}
	return r[0].Near(r[len(r)-1], tol)
}

// meanLat returns the average latitude of the ring's vertices.
func (r Ring) meanLat() float64 {
	if len(r) == 0 {
		return 0
	}
	var sum float64
	for _, p := range r {
		sum += p.Lat
	}
	return sum / float64(len(r))
}

// SignedAreaDeg2 returns the shoelace area of the ring in squared degrees.
// The sign carries winding order: positive for counter-clockwise.
func (r Ring) SignedAreaDeg2() float64 {
	if len(r) < 4 {
		return 0
	}
	var sum float64
	for i := 0; i < len(r)-1; i++ {
		sum += r[i].Lon*r[i+1].Lat - r[i+1].Lon*r[i].Lat
	}
	return sum / 2
}

// AreaKm2 returns the enclosed area in km², scaling the shoelace result by
// the latitude-dependent length of a longitude degree at the ring's mean
// latitude.
func (r Ring) AreaKm2() float64 {
	deg2 := math.Abs(r.SignedAreaDeg2())
	lonKmPerDeg := KmPerDegreeLat * math.Cos(math.Abs(r.meanLat())*math.Pi/180)
	return deg2 * KmPerDegreeLat * lonKmPerDeg
}

// Centroid returns the area centroid of the ring. Degenerate rings with
// near-zero area fall back to the vertex mean.
func (r Ring) Centroid() Point {
	if len(r) == 0 {
		return Point{}
	}
	a := r.SignedAreaDeg2()
	if math.Abs(a) < 1e-12 {
		var c Point
		for _, p := range r {
			c.Lon += p.Lon
			c.Lat += p.Lat
		}
		c.Lon /= float64(len(r))
		c.Lat /= float64(len(r))
		return c
	}

	var cx, cy float64
	for i := 0; i < len(r)-1; i++ {
		cross := r[i].Lon*r[i+1].Lat - r[i+1].Lon*r[i].Lat
		cx += (r[i].Lon + r[i+1].Lon) * cross
		cy += (r[i].Lat + r[i+1].Lat) * cross
	}
	return Point{Lon: cx / (6 * a), Lat: cy / (6 * a)}
}

// Contains reports whether the point lies inside the ring, using ray
// casting. Points exactly on an edge are not guaranteed either way; the
// pipeline only uses this for containment of well-separated rings.
func (r Ring) Contains(p Point) bool {
	inside := false
	for i, j := 0, len(r)-1; i < len(r); j, i = i, i+1 {
		a, b := r[i], r[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

// ContainsRing reports whether other lies inside r, tested at other's
// centroid.
func (r Ring) ContainsRing(other Ring) bool {
	return r.Contains(other.Centroid())
}

// Polygon is one contiguous boundary part: an outer ring plus any hole
// rings fully enclosed by it.
type Polygon struct {
	Outer Ring
	Holes []Ring
}

// AreaKm2 returns the polygon area with hole areas subtracted.
func (p Polygon) AreaKm2() float64 {
	a := p.Outer.AreaKm2()
	for _, h := range p.Holes {
		a -= h.AreaKm2()
	}
	if a < 0 {
		return 0
	}
	return a
}

// Boundary is a full administrative boundary: one or more disjoint
// polygon parts (boroughs, islands, enclaves).
type Boundary []Polygon

// AreaKm2 returns the total boundary area across all parts.
func (b Boundary) AreaKm2() float64 {
	var a float64
	for _, p := range b {
		a += p.AreaKm2()
	}
	return a
}

// Centroid returns the area-weighted centroid across all outer rings.
func (b Boundary) Centroid() Point {
	var c Point
	var total float64
	for _, p := range b {
		a := p.Outer.AreaKm2()
		pc := p.Outer.Centroid()
		c.Lon += pc.Lon * a
		c.Lat += pc.Lat * a
		total += a
	}
	if total == 0 {
		if len(b) > 0 {
			return b[0].Outer.Centroid()
		}
		return Point{}
	}
	c.Lon /= total
	c.Lat /= total
	return c
}

// PointCount returns the number of vertices across all rings.
func (b Boundary) PointCount() int {
	var n int
	for _, p := range b {
		n += len(p.Outer)
		for _, h := range p.Holes {
			n += len(h)
		}
	}
	return n
}

// AssemblePolygons classifies closed rings into outer rings and holes.
// Signed area gives only a provisional winding-based hint, so the final
// classification uses containment: a ring whose interior lies inside
// another outer ring is that ring's hole, not a separate disjoint part.
// Rings are considered largest-first so hole-in-island nesting resolves
// to the smallest enclosing outer.
func AssemblePolygons(rings []Ring) Boundary {
	if len(rings) == 0 {
		return nil
	}

	sorted := make([]Ring, len(rings))
	copy(sorted, rings)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].AreaKm2() > sorted[j-1].AreaKm2(); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var b Boundary
	for _, ring := range sorted {
		// Attach to the smallest outer ring that encloses this one.
		holeOf := -1
		for i := len(b) - 1; i >= 0; i-- {
			if b[i].Outer.ContainsRing(ring) {
				holeOf = i
				break
			}
		}
		if holeOf >= 0 {
			b[holeOf].Holes = append(b[holeOf].Holes, ring)
		} else {
			b = append(b, Polygon{Outer: ring})
		}
	}
	return b
}
