package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeRelay struct {
	sessions int
	accounts int
	streams  int
	ready    bool
}

func (f fakeRelay) SessionCount() (int, int) { return f.sessions, f.accounts }
func (f fakeRelay) StreamCount() int         { return f.streams }
func (f fakeRelay) Ready() bool              { return f.ready }

func TestHealthReportsNotReadyBeforeStartup(t *testing.T) {
	s := New(":0", fakeRelay{ready: false})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}
}

func TestHealthOKOnceReady(t *testing.T) {
	s := New(":0", fakeRelay{ready: true})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", rec.Code)
	}
}

func TestStateReflectsSessionCounts(t *testing.T) {
	s := New(":0", fakeRelay{ready: true, sessions: 3, accounts: 2})
	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["sessions"] != 3 || body["accounts_online"] != 2 {
		t.Fatalf("unexpected state body: %+v", body)
	}
}

func TestStreamsReflectsActiveCount(t *testing.T) {
	s := New(":0", fakeRelay{ready: true, streams: 5})
	req := httptest.NewRequest(http.MethodGet, "/api/streams", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["active"] != 5 {
		t.Fatalf("expected active=5, got %+v", body)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := New(":0", fakeRelay{ready: true, sessions: 1})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
}
