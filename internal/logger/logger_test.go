package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &m); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, b)
	}
	return m
}

func TestSlog_ContextFieldsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Component: "test"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRunID(WithRequestID(context.Background(), "req-1"), "run-7")
	log.WarnContext(ctx, "tile unavailable", "status", 404, "err", errors.New("boom"))

	m := decodeLine(t, buf.Bytes())
	for k, want := range map[string]any{
		"request_id": "req-1",
		"run_id":     "run-7",
		"component":  "test",
		"level":      "warn",
		"msg":        "tile unavailable",
		"err":        "boom",
	} {
		if m[k] != want {
			t.Fatalf("%s=%v want %v", k, m[k], want)
		}
	}
	if m["status"] != float64(404) {
		t.Fatalf("status=%v want 404", m["status"])
	}
}

func TestSlog_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	log := NewSlog(&zl)

	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %q", buf.String())
	}
	log.Info("shown")
	if buf.Len() == 0 {
		t.Fatalf("info line missing")
	}
}

func TestSlog_GroupPrefixesKeys(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	log := NewSlog(&zl).WithGroup("fetch").With("tiles", 3)

	log.Info("batch", "misses", 1)
	m := decodeLine(t, buf.Bytes())
	if m["fetch.tiles"] != float64(3) || m["fetch.misses"] != float64(1) {
		t.Fatalf("grouped attrs missing: %v", m)
	}
}

func TestNewID_IsUUID(t *testing.T) {
	if _, err := uuid.Parse(NewID()); err != nil {
		t.Fatalf("NewID not a uuid: %v", err)
	}
	if RequestID(WithRequestID(context.Background(), "")) == "" {
		t.Fatalf("empty request id was not replaced")
	}
}
