package httputil

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestMockClientQueuedResponses(t *testing.T) {
	m := NewMockClient().
		AddResponse(http.StatusTooManyRequests, "slow down").
		AddResponse(http.StatusOK, `{"elements":[]}`)

	req, _ := http.NewRequest(http.MethodPost, "http://example.test/api", strings.NewReader("data=1"))
	resp, err := m.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodPost, "http://example.test/api", nil)
	resp2, err := m.Do(req2)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	body, _ := io.ReadAll(resp2.Body)
	if string(body) != `{"elements":[]}` {
		t.Errorf("body = %q", body)
	}

	if m.RequestCount() != 2 {
		t.Errorf("RequestCount = %d, want 2", m.RequestCount())
	}
	if m.RequestBody(0) != "data=1" {
		t.Errorf("RequestBody(0) = %q", m.RequestBody(0))
	}
}

func TestMockClientQueuedError(t *testing.T) {
	wantErr := errors.New("connection reset")
	m := NewMockClient().AddError(wantErr)

	req, _ := http.NewRequest(http.MethodGet, "http://example.test", nil)
	if _, err := m.Do(req); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestMockClientDefaultResponse(t *testing.T) {
	m := NewMockClient()
	req, _ := http.NewRequest(http.MethodGet, "http://example.test", nil)
	resp, err := m.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStandardClientNilFallback(t *testing.T) {
	c := NewStandardClient(nil)
	if c.Client != http.DefaultClient {
		t.Error("nil should fall back to http.DefaultClient")
	}
}
