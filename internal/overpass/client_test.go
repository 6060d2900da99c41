package overpass

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-data/boundaryline/internal/geo"
	"github.com/atlas-data/boundaryline/internal/httputil"
	"github.com/atlas-data/boundaryline/internal/monitoring"
	"github.com/atlas-data/boundaryline/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func newTestClient(mock *httputil.MockClient) (*Client, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := NewClient(Config{
		BaseURL:         "http://overpass.test/api/interpreter",
		HTTP:            mock,
		Clock:           clock,
		MaxAttempts:     3,
		BackoffBase:     2 * time.Second,
		MinRequestDelay: time.Second,
	})
	return c, clock
}

const londonDiscoverBody = `{"elements":[
  {"type":"relation","id":65606,
   "tags":{"name":"London","admin_level":"8","boundary":"administrative"},
   "center":{"lat":51.5074,"lon":-0.1278}}
]}`

func TestDiscoverSingleCandidate(t *testing.T) {
	mock := httputil.NewMockClient().AddResponse(http.StatusOK, londonDiscoverBody)
	c, _ := newTestClient(mock)

	ref, err := c.Discover(context.Background(), DiscoverRequest{
		Name:        "London",
		AdminLevels: []int{8},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(65606), ref.ID)
	assert.Equal(t, 8, ref.AdminLevel)
	assert.Greater(t, ref.Score, 0.9)

	// The query carries the admin-level pattern and both name filters.
	body := mock.RequestBody(0)
	assert.Contains(t, body, "admin_level")
	assert.Contains(t, body, "London")
	assert.Contains(t, body, "%5E%288%29%24") // url-encoded ^(8)$
}

func TestDiscoverUsesLocalName(t *testing.T) {
	mock := httputil.NewMockClient().AddResponse(http.StatusOK, `{"elements":[
	  {"type":"relation","id":62428,
	   "tags":{"name":"München","admin_level":"8"},
	   "center":{"lat":48.1374,"lon":11.5755}}
	]}`)
	c, _ := newTestClient(mock)

	ref, err := c.Discover(context.Background(), DiscoverRequest{
		Name:        "Munich",
		LocalName:   "München",
		AdminLevels: []int{8},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(62428), ref.ID)
	assert.Greater(t, ref.Score, 0.9, "local-name exact match should score high")
}

func TestDiscoverNotFound(t *testing.T) {
	mock := httputil.NewMockClient().AddResponse(http.StatusOK, `{"elements":[]}`)
	c, _ := newTestClient(mock)

	_, err := c.Discover(context.Background(), DiscoverRequest{Name: "Nowhere"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiscoverAmbiguousTie(t *testing.T) {
	// Two identically named relations at the same admin level: a safe
	// choice is impossible, so both must be reported.
	mock := httputil.NewMockClient().AddResponse(http.StatusOK, `{"elements":[
	  {"type":"relation","id":100,"tags":{"name":"Springfield","admin_level":"8"}},
	  {"type":"relation","id":200,"tags":{"name":"Springfield","admin_level":"8"}}
	]}`)
	c, _ := newTestClient(mock)

	_, err := c.Discover(context.Background(), DiscoverRequest{
		Name:        "Springfield",
		AdminLevels: []int{8},
	})

	var ambiguous *AmbiguousError
	require.True(t, errors.As(err, &ambiguous))
	assert.Len(t, ambiguous.Candidates, 2)
}

func TestDiscoverExpectedLocationBreaksTie(t *testing.T) {
	// Same names, but one candidate sits at the expected location: the
	// distance component separates the scores.
	mock := httputil.NewMockClient().AddResponse(http.StatusOK, `{"elements":[
	  {"type":"relation","id":100,"tags":{"name":"Springfield","admin_level":"8"},
	   "center":{"lat":39.8,"lon":-89.65}},
	  {"type":"relation","id":200,"tags":{"name":"Springfield","admin_level":"8"},
	   "center":{"lat":42.1,"lon":-72.59}}
	]}`)
	c, _ := newTestClient(mock)

	expected := &geo.Point{Lon: -89.65, Lat: 39.8}
	ref, err := c.Discover(context.Background(), DiscoverRequest{
		Name:        "Springfield",
		AdminLevels: []int{8},
		Expected:    expected,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), ref.ID)
}

func TestDiscoverSubdivisionBreaksTie(t *testing.T) {
	// Same names and levels, no coordinates on file; the candidate whose
	// placement tags name the requested state wins.
	mock := httputil.NewMockClient().AddResponse(http.StatusOK, `{"elements":[
	  {"type":"relation","id":100,
	   "tags":{"name":"Springfield","admin_level":"8","is_in":"Illinois, USA"}},
	  {"type":"relation","id":200,
	   "tags":{"name":"Springfield","admin_level":"8","is_in":"Massachusetts, USA"}}
	]}`)
	c, _ := newTestClient(mock)

	ref, err := c.Discover(context.Background(), DiscoverRequest{
		Name:        "Springfield",
		Subdivision: "Illinois",
		AdminLevels: []int{8},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), ref.ID)
}

func TestDiscoverDropsFarCandidates(t *testing.T) {
	mock := httputil.NewMockClient().AddResponse(http.StatusOK, `{"elements":[
	  {"type":"relation","id":300,"tags":{"name":"Portland","admin_level":"8"},
	   "center":{"lat":43.66,"lon":-70.25}}
	]}`)
	c, _ := newTestClient(mock)

	// Expecting Portland, Oregon; the Maine candidate is ~4000 km away.
	expected := &geo.Point{Lon: -122.67, Lat: 45.52}
	_, err := c.Discover(context.Background(), DiscoverRequest{
		Name:          "Portland",
		AdminLevels:   []int{8},
		Expected:      expected,
		MaxDistanceKm: 100,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

const relationFetchBody = `{"elements":[
  {"type":"relation","id":65606,"members":[
    {"type":"way","ref":1,"role":"outer"},
    {"type":"way","ref":2,"role":"outer"},
    {"type":"way","ref":3,"role":"inner"},
    {"type":"way","ref":4,"role":"subarea"},
    {"type":"node","ref":9,"role":"admin_centre"}
  ]},
  {"type":"way","id":1,"geometry":[{"lat":51.5,"lon":-0.1},{"lat":51.6,"lon":-0.1}]},
  {"type":"way","id":2,"geometry":[{"lat":51.6,"lon":-0.1},{"lat":51.6,"lon":0.0}]},
  {"type":"way","id":3,"geometry":[{"lat":51.55,"lon":-0.05},{"lat":51.56,"lon":-0.05}]},
  {"type":"way","id":4,"geometry":[{"lat":51.0,"lon":0.0},{"lat":51.1,"lon":0.0}]}
]}`

func TestFetchRelation(t *testing.T) {
	mock := httputil.NewMockClient().AddResponse(http.StatusOK, relationFetchBody)
	c, _ := newTestClient(mock)

	segments, err := c.FetchRelation(context.Background(), 65606)
	require.NoError(t, err)
	require.Len(t, segments, 3, "outer and inner ways only; subarea excluded")

	assert.Equal(t, int64(1), segments[0].WayID)
	assert.Equal(t, "outer", segments[0].Role)
	assert.Equal(t, geo.Point{Lon: -0.1, Lat: 51.5}, segments[0].Points[0])
	assert.Equal(t, "inner", segments[2].Role)

	assert.Contains(t, mock.RequestBody(0), "rel%2865606%29") // url-encoded rel(65606)
}

func TestFetchRelationMissingFromResponse(t *testing.T) {
	mock := httputil.NewMockClient().AddResponse(http.StatusOK, `{"elements":[]}`)
	c, _ := newTestClient(mock)

	_, err := c.FetchRelation(context.Background(), 42)
	assert.Error(t, err)
}

func TestRetryTransientThenSuccess(t *testing.T) {
	mock := httputil.NewMockClient().
		AddResponse(http.StatusTooManyRequests, "rate limited").
		AddResponse(http.StatusOK, relationFetchBody)
	c, clock := newTestClient(mock)

	_, err := c.FetchRelation(context.Background(), 65606)
	require.NoError(t, err)
	assert.Equal(t, 2, mock.RequestCount())

	// One backoff sleep of the base duration between the attempts.
	assert.Contains(t, clock.Sleeps(), 2*time.Second)
}

func TestRetryExhaustion(t *testing.T) {
	mock := httputil.NewMockClient().
		AddError(errors.New("connection reset")).
		AddResponse(http.StatusServiceUnavailable, "down").
		AddError(errors.New("timeout"))
	c, clock := newTestClient(mock)

	_, err := c.FetchRelation(context.Background(), 65606)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Equal(t, 3, mock.RequestCount())

	// Exponential backoff: base, then doubled.
	sleeps := clock.Sleeps()
	assert.Contains(t, sleeps, 2*time.Second)
	assert.Contains(t, sleeps, 4*time.Second)
}

func TestClientErrorNotRetried(t *testing.T) {
	mock := httputil.NewMockClient().AddResponse(http.StatusBadRequest, "bad query")
	c, _ := newTestClient(mock)

	_, err := c.FetchRelation(context.Background(), 65606)
	assert.Error(t, err)
	assert.Equal(t, 1, mock.RequestCount())

	var fetchErr *FetchError
	assert.False(t, errors.As(err, &fetchErr), "4xx is not retry exhaustion")
}

func TestMinimumDelayBetweenRequests(t *testing.T) {
	mock := httputil.NewMockClient().
		AddResponse(http.StatusOK, londonDiscoverBody).
		AddResponse(http.StatusOK, relationFetchBody)
	c, clock := newTestClient(mock)

	ctx := context.Background()
	_, err := c.Discover(ctx, DiscoverRequest{Name: "London", AdminLevels: []int{8}})
	require.NoError(t, err)

	before := len(clock.Sleeps())
	_, err = c.FetchRelation(ctx, 65606)
	require.NoError(t, err)

	// No time passed between the two requests, so the full courtesy
	// delay must have been slept.
	sleeps := clock.Sleeps()[before:]
	require.NotEmpty(t, sleeps)
	assert.Equal(t, time.Second, sleeps[0])
}

func TestContextCancellation(t *testing.T) {
	mock := httputil.NewMockClient()
	c, _ := newTestClient(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchRelation(ctx, 65606)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUserAgentSet(t *testing.T) {
	mock := httputil.NewMockClient().AddResponse(http.StatusOK, londonDiscoverBody)
	c, _ := newTestClient(mock)

	_, err := c.Discover(context.Background(), DiscoverRequest{Name: "London"})
	require.NoError(t, err)

	req := mock.Request(0)
	require.NotNil(t, req)
	assert.True(t, strings.HasPrefix(req.Header.Get("User-Agent"), "boundaryline/"))
}
