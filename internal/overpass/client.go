// Package overpass implements the client for the external boundary-query
// service. It discovers administrative-boundary relations for a named
// place, ranks ambiguous candidates instead of guessing, and fetches a
// relation's raw member way segments. The service is rate-limited and
// occasionally inconsistent, so every request is paced by a minimum
// inter-request delay and transient failures retry with exponential
// backoff up to a fixed attempt cap.
package overpass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atlas-data/boundaryline/internal/geo"
	"github.com/atlas-data/boundaryline/internal/httputil"
	"github.com/atlas-data/boundaryline/internal/monitoring"
	"github.com/atlas-data/boundaryline/internal/timeutil"
)

const userAgent = "boundaryline/1.0"

// scoreEpsilon is the ranking margin below which two candidates are
// considered a tie and reported as ambiguous rather than guessed.
const scoreEpsilon = 0.05

// ErrNotFound reports that no administrative relation matched the place.
var ErrNotFound = errors.New("no matching administrative relation")

// AmbiguousError reports two or more candidates whose ranking scores are
// too close to choose between safely.
type AmbiguousError struct {
	Candidates []RelationRef
}

func (e *AmbiguousError) Error() string {
	ids := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		ids[i] = strconv.FormatInt(c.ID, 10)
	}
	return fmt.Sprintf("ambiguous relation: %d candidates too close to rank (%s)",
		len(e.Candidates), strings.Join(ids, ", "))
}

// FetchError reports retry exhaustion against the boundary service.
type FetchError struct {
	Attempts int
	Last     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *FetchError) Unwrap() error { return e.Last }

// RelationRef identifies one candidate administrative-boundary relation.
type RelationRef struct {
	ID         int64
	Name       string
	AdminLevel int
	Center     geo.Point
	Score      float64
}

// RawSegment is one fetched member way: an ordered polyline with two
// endpoints. Segments are transient and are discarded after stitching.
type RawSegment struct {
	WayID  int64
	Role   string
	Points []geo.Point
}

// DiscoverRequest describes what to search for. AdminLevels is the
// jurisdiction's conventional administrative depth, most preferred first.
type DiscoverRequest struct {
	Name          string
	LocalName     string // optional local-language spelling
	Subdivision   string // optional state or province, a ranking tiebreak
	AdminLevels   []int
	Expected      *geo.Point // optional expected location
	MaxDistanceKm float64    // candidates farther than this are dropped; 0 disables
}

// Config configures a Client. Zero fields get production defaults.
type Config struct {
	BaseURL         string
	HTTP            httputil.Client
	Clock           timeutil.Clock
	MaxAttempts     int
	BackoffBase     time.Duration
	MinRequestDelay time.Duration
}

// Client talks to the boundary-query service. Safe for sequential use;
// the pipeline never has more than one fetch in flight.
type Client struct {
	baseURL     string
	http        httputil.Client
	clock       timeutil.Clock
	maxAttempts int
	backoffBase time.Duration
	minDelay    time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

// NewClient creates a Client, applying defaults for unset config fields.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:     cfg.BaseURL,
		http:        cfg.HTTP,
		clock:       cfg.Clock,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		minDelay:    cfg.MinRequestDelay,
	}
	if c.baseURL == "" {
		c.baseURL = "https://overpass-api.de/api/interpreter"
	}
	if c.http == nil {
		c.http = httputil.NewStandardClient(nil)
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 3
	}
	if c.backoffBase <= 0 {
		c.backoffBase = 2 * time.Second
	}
	if c.minDelay <= 0 {
		c.minDelay = time.Second
	}
	return c
}

// Discover searches for administrative-boundary relations matching the
// request and returns the best-ranked candidate. Near-ties are returned
// as an AmbiguousError; an empty result is ErrNotFound.
func (c *Client) Discover(ctx context.Context, req DiscoverRequest) (RelationRef, error) {
	body, err := c.do(ctx, discoverQuery(req))
	if err != nil {
		return RelationRef{}, err
	}

	resp, err := parseResponse(body)
	if err != nil {
		return RelationRef{}, err
	}

	candidates := rankCandidates(resp.Elements, req)
	if len(candidates) == 0 {
		return RelationRef{}, ErrNotFound
	}
	if len(candidates) > 1 && candidates[0].Score-candidates[1].Score < scoreEpsilon {
		// Report every candidate within the tie margin of the leader.
		tied := []RelationRef{candidates[0]}
		for _, cand := range candidates[1:] {
			if candidates[0].Score-cand.Score < scoreEpsilon {
				tied = append(tied, cand)
			}
		}
		return RelationRef{}, &AmbiguousError{Candidates: tied}
	}

	monitoring.Logf("discovered relation %d (%s, admin_level=%d, score=%.2f)",
		candidates[0].ID, candidates[0].Name, candidates[0].AdminLevel, candidates[0].Score)
	return candidates[0], nil
}

// FetchRelation retrieves every member way segment of the relation.
func (c *Client) FetchRelation(ctx context.Context, id int64) ([]RawSegment, error) {
	query := fmt.Sprintf("[out:json][timeout:180];\n(\n  rel(%d);\n  way(r);\n);\nout geom;", id)
	body, err := c.do(ctx, query)
	if err != nil {
		return nil, err
	}

	resp, err := parseResponse(body)
	if err != nil {
		return nil, err
	}

	var relation *element
	ways := make(map[int64]*element)
	for i := range resp.Elements {
		el := &resp.Elements[i]
		switch el.Type {
		case "relation":
			if el.ID == id {
				relation = el
			}
		case "way":
			ways[el.ID] = el
		}
	}
	if relation == nil {
		return nil, fmt.Errorf("relation %d not present in response", id)
	}

	var segments []RawSegment
	for _, m := range relation.Members {
		if m.Type != "way" {
			continue
		}
		switch m.Role {
		case "outer", "inner", "":
		default:
			continue
		}
		way, ok := ways[m.Ref]
		if !ok || len(way.Geometry) < 2 {
			continue
		}
		points := make([]geo.Point, len(way.Geometry))
		for i, n := range way.Geometry {
			points[i] = geo.Point{Lon: n.Lon, Lat: n.Lat}
		}
		segments = append(segments, RawSegment{WayID: way.ID, Role: m.Role, Points: points})
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("relation %d has no usable boundary ways", id)
	}

	monitoring.Logf("fetched relation %d: %d way segments", id, len(segments))
	return segments, nil
}

// do posts an Overpass QL query with pacing and retry. Transport errors,
// rate limiting (429) and server errors (5xx) are retried with
// exponential backoff; other failures are returned immediately.
func (c *Client) do(ctx context.Context, query string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			c.clock.Sleep(c.backoffBase << (attempt - 1))
		}
		c.pace()

		body, retryable, err := c.once(ctx, query)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		monitoring.Logf("request attempt %d/%d failed: %v", attempt+1, c.maxAttempts, err)
	}

	return nil, &FetchError{Attempts: c.maxAttempts, Last: lastErr}
}

// pace enforces the minimum delay between consecutive external requests,
// regardless of their outcome.
func (c *Client) pace() {
	c.mu.Lock()
	last := c.lastRequest
	c.mu.Unlock()

	if !last.IsZero() {
		if elapsed := c.clock.Since(last); elapsed < c.minDelay {
			c.clock.Sleep(c.minDelay - elapsed)
		}
	}

	c.mu.Lock()
	c.lastRequest = c.clock.Now()
	c.mu.Unlock()
}

func (c *Client) once(ctx context.Context, query string) (body []byte, retryable bool, err error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, fmt.Errorf("failed to read response: %w", err)
		}
		return data, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("server returned %d", resp.StatusCode)
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("server returned %d", resp.StatusCode)
	}
}

// discoverQuery builds the relation search. Both the local name tag and
// the English name tag are tried so locale-specific spellings resolve.
func discoverQuery(req DiscoverRequest) string {
	levels := req.AdminLevels
	if len(levels) == 0 {
		levels = []int{8, 7}
	}
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = strconv.Itoa(l)
	}
	levelPattern := fmt.Sprintf("^(%s)$", strings.Join(parts, "|"))

	name := req.Name
	if req.LocalName != "" {
		name = req.LocalName
	}

	var b strings.Builder
	b.WriteString("[out:json][timeout:25];\n(\n")
	fmt.Fprintf(&b, "  relation[\"boundary\"=\"administrative\"][\"admin_level\"~%q][\"name\"=%q];\n",
		levelPattern, name)
	fmt.Fprintf(&b, "  relation[\"boundary\"=\"administrative\"][\"admin_level\"~%q][\"name:en\"=%q];\n",
		levelPattern, req.Name)
	b.WriteString(");\nout tags center;")
	return b.String()
}

// rankCandidates scores relation elements by name similarity, admin-level
// preference and (when an expected location is known) centroid distance.
func rankCandidates(elements []element, req DiscoverRequest) []RelationRef {
	var out []RelationRef

	for _, el := range elements {
		if el.Type != "relation" {
			continue
		}
		name := el.Tags["name"]
		level, _ := strconv.Atoi(el.Tags["admin_level"])

		ref := RelationRef{ID: el.ID, Name: name, AdminLevel: level}
		if el.Center != nil {
			ref.Center = geo.Point{Lon: el.Center.Lon, Lat: el.Center.Lat}
		}

		nameScore := nameSimilarity(name, req.Name)
		if req.LocalName != "" {
			if s := nameSimilarity(name, req.LocalName); s > nameScore {
				nameScore = s
			}
		}
		if en, ok := el.Tags["name:en"]; ok {
			if s := nameSimilarity(en, req.Name); s > nameScore {
				nameScore = s
			}
		}

		levelScore := 0.2
		for i, l := range req.AdminLevels {
			if l == level {
				if i == 0 {
					levelScore = 1.0
				} else {
					levelScore = 0.7
				}
				break
			}
		}

		if req.Expected != nil && el.Center != nil {
			km := geo.Haversine(*req.Expected, ref.Center)
			if req.MaxDistanceKm > 0 && km > req.MaxDistanceKm {
				continue
			}
			distScore := 1.0 / (1.0 + km/25.0)
			ref.Score = 0.5*nameScore + 0.3*levelScore + 0.2*distScore
		} else {
			ref.Score = 0.6*nameScore + 0.4*levelScore
		}
		if matchesSubdivision(el.Tags, req.Subdivision) {
			ref.Score += 0.1
		}

		out = append(out, ref)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// matchesSubdivision reports whether a candidate's placement tags name
// the requested state or province.
func matchesSubdivision(tags map[string]string, subdivision string) bool {
	if subdivision == "" {
		return false
	}
	sub := strings.ToLower(subdivision)
	for _, key := range []string{"is_in", "is_in:state", "addr:state", "addr:province"} {
		if v, ok := tags[key]; ok && strings.Contains(strings.ToLower(v), sub) {
			return true
		}
	}
	return false
}

// nameSimilarity returns 1.0 for a case-insensitive exact match, else a
// normalized edit-distance similarity in [0,1].
func nameSimilarity(a, b string) float64 {
	la, lb := strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return 0
	}
	if la == lb {
		return 1.0
	}
	d := levenshtein(la, lb)
	max := len(la)
	if len(lb) > max {
		max = len(lb)
	}
	return 1.0 - float64(d)/float64(max)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(min(curr[j-1]+1, prev[j]+1), prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
