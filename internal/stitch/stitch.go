// Package stitch reconstructs closed boundary rings from the unordered,
// fragmented way segments returned by boundary-data services. Segments
// arrive in arbitrary order with arbitrary orientation; the stitcher
// chains them endpoint-to-endpoint, reversing where needed, until every
// segment is consumed by exactly one ring.
package stitch

import (
	"fmt"
	"math"

	"github.com/atlas-data/boundaryline/internal/geo"
)

// MinChainVertices is the vertex count below which an unclosable chain is
// treated as fetch noise and silently dropped rather than reported.
const MinChainVertices = 4

// Segment is one fetched polyline fragment with two endpoints. Segments
// are transient: they do not outlive a single Stitch call.
type Segment []geo.Point

// IncompleteError reports that one or more chains above the noise
// threshold could not be closed. The stitcher never force-closes a gap;
// the whole jurisdiction fails instead.
type IncompleteError struct {
	OpenChains   int
	OpenVertices int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("stitch incomplete: %d unclosed chain(s) with %d vertices total",
		e.OpenChains, e.OpenVertices)
}

// Stitch assembles the given segments into the minimum set of closed
// rings. Every returned ring is exactly closed (first == last) and has at
// least four points. tol is the coordinate tolerance in degrees; pass
// geo.CoordTolerance unless the source needs something looser.
func Stitch(segments []Segment, tol float64) ([]geo.Ring, error) {
	norm := normalize(segments, tol)
	if len(norm) == 0 {
		return nil, nil
	}

	idx := newEndpointIndex(norm, tol)
	consumed := make([]bool, len(norm))

	var rings []geo.Ring
	openChains, openVertices := 0, 0

	for start := range norm {
		if consumed[start] {
			continue
		}
		consumed[start] = true
		chain := append(geo.Ring(nil), norm[start]...)

		for {
			head, tail := chain[0], chain[len(chain)-1]
			if head.Near(tail, tol) {
				if len(chain) >= 4 {
					// Snap the closing vertex so first == last exactly.
					chain[len(chain)-1] = chain[0]
					rings = append(rings, chain)
				}
				chain = nil
				break
			}

			j, reversed, atHead := idx.nextUnconsumed(head, tail, consumed)
			if j < 0 {
				break
			}
			consumed[j] = true
			seg := norm[j]
			if reversed {
				seg = reverse(seg)
			}
			if atHead {
				// Prepend, dropping the shared joint vertex.
				joined := make(geo.Ring, 0, len(seg)-1+len(chain))
				joined = append(joined, seg[:len(seg)-1]...)
				chain = append(joined, chain...)
			} else {
				chain = append(chain, seg[1:]...)
			}
		}

		if chain != nil {
			if len(chain) >= MinChainVertices {
				openChains++
				openVertices += len(chain)
			}
			// Shorter dangling chains are noise from duplicate or stub
			// ways and are dropped.
		}
	}

	if openChains > 0 {
		return nil, &IncompleteError{OpenChains: openChains, OpenVertices: openVertices}
	}
	return rings, nil
}

// normalize collapses near-identical consecutive points within each
// segment and drops duplicate segments, comparing in either orientation.
func normalize(segments []Segment, tol float64) []Segment {
	out := make([]Segment, 0, len(segments))
	seen := make(map[string]bool)

	for _, seg := range segments {
		cleaned := make(Segment, 0, len(seg))
		for _, p := range seg {
			if len(cleaned) > 0 && cleaned[len(cleaned)-1].Near(p, tol) {
				continue
			}
			cleaned = append(cleaned, p)
		}
		if len(cleaned) < 2 {
			continue
		}

		fwd := segmentKey(cleaned, tol)
		rev := segmentKey(reverse(cleaned), tol)
		if seen[fwd] || seen[rev] {
			continue
		}
		seen[fwd] = true
		out = append(out, cleaned)
	}
	return out
}

// segmentKey builds a duplicate-detection key from tolerance-rounded
// coordinates.
func segmentKey(seg Segment, tol float64) string {
	key := make([]byte, 0, len(seg)*16)
	for _, p := range seg {
		c := snapCell(p, tol)
		key = fmt.Appendf(key, "%d,%d;", c.x, c.y)
	}
	return string(key)
}

func reverse(seg Segment) Segment {
	out := make(Segment, len(seg))
	for i, p := range seg {
		out[len(seg)-1-i] = p
	}
	return out
}

// cell is a coordinate rounded onto the tolerance grid.
type cell struct {
	x, y int64
}

func snapCell(p geo.Point, tol float64) cell {
	return cell{
		x: int64(math.Round(p.Lon / tol)),
		y: int64(math.Round(p.Lat / tol)),
	}
}

// endpointIndex maps tolerance-grid cells to the segments whose endpoints
// fall in them. Lookups scan the 3x3 cell neighborhood so matches are not
// lost across a grid line.
type endpointIndex struct {
	tol      float64
	segments []Segment
	byCell   map[cell][]int
}

func newEndpointIndex(segments []Segment, tol float64) *endpointIndex {
	idx := &endpointIndex{
		tol:      tol,
		segments: segments,
		byCell:   make(map[cell][]int, len(segments)*2),
	}
	for i, seg := range segments {
		for _, p := range []geo.Point{seg[0], seg[len(seg)-1]} {
			c := snapCell(p, tol)
			idx.byCell[c] = append(idx.byCell[c], i)
		}
	}
	return idx
}

// nextUnconsumed finds an unconsumed segment with an endpoint matching
// the chain's tail (preferred) or head. It returns the segment index,
// whether the segment must be reversed before joining, and whether it
// joins at the chain's head.
func (idx *endpointIndex) nextUnconsumed(head, tail geo.Point, consumed []bool) (j int, reversed, atHead bool) {
	if j, reversed = idx.match(tail, consumed); j >= 0 {
		return j, reversed, false
	}
	if j, reversed = idx.match(head, consumed); j >= 0 {
		// A segment whose start touches the chain head must be reversed
		// to read toward the head, and vice versa.
		return j, !reversed, true
	}
	return -1, false, false
}

// match finds an unconsumed segment with an endpoint near p. reversed is
// true when the matching endpoint is the segment's end.
func (idx *endpointIndex) match(p geo.Point, consumed []bool) (int, bool) {
	center := snapCell(p, idx.tol)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			c := cell{x: center.x + dx, y: center.y + dy}
			for _, i := range idx.byCell[c] {
				if consumed[i] {
					continue
				}
				seg := idx.segments[i]
				if seg[0].Near(p, idx.tol) {
					return i, false
				}
				if seg[len(seg)-1].Near(p, idx.tol) {
					return i, true
				}
			}
		}
	}
	return -1, false
}
