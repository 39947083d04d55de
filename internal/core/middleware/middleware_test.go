package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	mylog "github.com/mohammed-shakir/speedtiles/internal/logger"
)

func TestLogging_PropagatesRequestID(t *testing.T) {
	var seen string
	h := Logging(quietLogger())(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = mylog.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tiles", nil)
	req.Header.Set("X-Request-ID", "abc")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "abc" || rr.Header().Get("X-Request-ID") != "abc" {
		t.Fatalf("ctx id=%q header=%q want abc", seen, rr.Header().Get("X-Request-ID"))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/tiles", nil))
	if _, err := uuid.Parse(rr.Header().Get("X-Request-ID")); err != nil {
		t.Fatalf("generated id %q is not a uuid", rr.Header().Get("X-Request-ID"))
	}
}

func TestRecover_Returns500(t *testing.T) {
	h := Recover(quietLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", rr.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/v1/route", nil))
	if rr.Code != http.StatusNoContent || called {
		t.Fatalf("status=%d called=%v", rr.Code, called)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") != "GET,POST,OPTIONS" {
		t.Fatalf("allow methods=%q", rr.Header().Get("Access-Control-Allow-Methods"))
	}
}

func quietLogger() *slog.Logger {
	zl := mylog.Build(mylog.Config{Level: "error"}, io.Discard)
	return mylog.NewSlog(&zl)
}
