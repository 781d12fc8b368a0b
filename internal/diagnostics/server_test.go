package diagnostics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStatusSource struct {
	statuses []PortStatus
}

func (f fakeStatusSource) PortStatuses() []PortStatus { return f.statuses }

func (f fakeStatusSource) PortStatus(id int) (PortStatus, bool) {
	for _, s := range f.statuses {
		if s.Port == id {
			return s, true
		}
	}
	return PortStatus{}, false
}

func newTestServer() *Server {
	statuses := []PortStatus{
		{Port: 0, Busy: true, QueueDepth: 2, QueueCap: 8},
		{Port: 1, Busy: false, QueueDepth: 0, QueueCap: 8, LastError: "TIMEOUT"},
	}
	return New(":0", fakeStatusSource{statuses: statuses}, nil)
}

func TestHandleHealthReportsOK(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want %q", body["status"], "ok")
	}
}

func TestHandlePortsReportsStatuses(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/ports", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	var statuses []PortStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 port statuses, got %d", len(statuses))
	}
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected X-Request-Id header to be set")
	}
}

func TestHandlePortByIDReturnsStatusOrNotFound(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/ports/1", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status for existing port = %d, want %d", rec.Code, http.StatusOK)
	}
	var status PortStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if status.LastError != "TIMEOUT" {
		t.Fatalf("LastError = %q, want %q", status.LastError, "TIMEOUT")
	}

	req = httptest.NewRequest(http.MethodGet, "/ports/9", nil)
	rec = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status for missing port = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
