package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type fixedReadiness struct {
	ready   bool
	details map[string]uint64
}

func (f fixedReadiness) Readiness() (bool, map[string]uint64) { return f.ready, f.details }

func TestReadiness_Handler(t *testing.T) {
	rr := httptest.NewRecorder()
	Readiness(fixedReadiness{ready: true, details: map[string]uint64{"cached_tiles": 3}})(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"cached_tiles":3`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	Readiness(fixedReadiness{})(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "not_ready") {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}
