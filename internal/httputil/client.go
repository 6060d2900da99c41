// Package httputil provides the HTTP client abstraction the boundary
// fetcher talks through, plus a mock implementation so fetch, retry and
// rate-limit behaviour can be tested without touching the network.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// Client abstracts HTTP for testability. Use a StandardClient in
// production and a MockClient in tests.
type Client interface {
	// Do sends an HTTP request and returns the response.
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement Client.
type StandardClient struct {
	*http.Client
}

// NewStandardClient wraps c, falling back to http.DefaultClient when nil.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// MockClient is a canned-response HTTP client. Responses are returned in
// the order queued; requests are recorded for inspection.
type MockClient struct {
	mu        sync.Mutex
	requests  []*http.Request
	bodies    []string
	responses []*mockResponse
	next      int

	// DoFunc, when set, overrides the queued responses entirely.
	DoFunc func(req *http.Request) (*http.Response, error)
}

type mockResponse struct {
	status int
	body   string
	err    error
}

// NewMockClient creates an empty MockClient. With no queued responses it
// answers 200 with an empty body.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// AddResponse queues a response with the given status and body.
func (m *MockClient) AddResponse(status int, body string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &mockResponse{status: status, body: body})
	return m
}

// AddError queues a transport-level error.
func (m *MockClient) AddError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &mockResponse{err: err})
	return m
}

// Do records the request (including its body) and returns the next
// queued response.
func (m *MockClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		req.Body.Close()
		body = string(b)
	}
	m.bodies = append(m.bodies, body)

	if m.DoFunc != nil {
		return m.DoFunc(req)
	}

	if m.next < len(m.responses) {
		r := m.responses[m.next]
		m.next++
		if r.err != nil {
			return nil, r.err
		}
		return &http.Response{
			StatusCode: r.status,
			Body:       io.NopCloser(bytes.NewBufferString(r.body)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}

	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString("")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// RequestCount returns the number of requests seen so far.
func (m *MockClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Request returns the nth recorded request, or nil when out of range.
func (m *MockClient) Request(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil
	}
	return m.requests[n]
}

// RequestBody returns the recorded body of the nth request.
func (m *MockClient) RequestBody(n int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.bodies) {
		return ""
	}
	return m.bodies[n]
}
