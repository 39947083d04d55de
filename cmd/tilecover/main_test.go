package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestCover_EmitsOneURLPerFile(t *testing.T) {
	var buf bytes.Buffer
	if err := cover(&buf, "13.1,52.1,13.2,52.2", "http://tiles.test", 2); err != nil {
		t.Fatalf("cover: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// one tile per level, two files each
	if len(lines) != 6 {
		t.Fatalf("lines=%d want 6:\n%s", len(lines), buf.String())
	}
	var first coverLine
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Level != 0 || first.URL != "http://tiles.test/0/3198.spd.0.gz" {
		t.Fatalf("first=%+v", first)
	}
}

func TestCover_BadBBox(t *testing.T) {
	if err := cover(&bytes.Buffer{}, "1,2,3", "http://tiles.test", 1); err == nil {
		t.Fatalf("expected error for short bbox")
	}
}

func TestSegment(t *testing.T) {
	var buf bytes.Buffer
	if err := segment(&buf, "268737385"); err != nil {
		t.Fatalf("segment: %v", err)
	}
	if got := buf.String(); got != "level=1 tile=37741 segment=8\n" {
		t.Fatalf("out=%q", got)
	}
}

func TestEncodeThenDecode(t *testing.T) {
	in := `{"level":1,"index":37741,"subtiles":[{"subtile_segments":4,"total_segments":4,"reference_speeds":[30,40]}]}`
	var bin bytes.Buffer
	if err := encode(&bin, strings.NewReader(in)); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out bytes.Buffer
	if err := decode(&out, &bin); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var got struct {
		Level    int `json:"level"`
		Index    int `json:"index"`
		SubTiles []struct {
			TileIndex       int       `json:"tile_index"`
			ReferenceSpeeds []float64 `json:"reference_speeds"`
		} `json:"subtiles"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if got.Level != 1 || got.Index != 37741 || len(got.SubTiles) != 1 {
		t.Fatalf("tile=%+v", got)
	}
	if got.SubTiles[0].TileIndex != 37741 || len(got.SubTiles[0].ReferenceSpeeds) != 2 {
		t.Fatalf("subtile=%+v", got.SubTiles[0])
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	if err := decode(&bytes.Buffer{}, strings.NewReader("\xff\xff\xff")); err == nil {
		t.Fatalf("expected schema error")
	}
}

func TestPoint_OneTilePerLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := point(&buf, "13.4,52.5", "http://tiles.test"); err != nil {
		t.Fatalf("point: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%d want 3", len(lines))
	}
	var l1 coverLine
	if err := json.Unmarshal([]byte(lines[1]), &l1); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// row 142, column 193
	if l1.Level != 1 || l1.Index != 142*360+193 || l1.URL != "http://tiles.test/1/51313.spd.0.gz" {
		t.Fatalf("level 1=%+v", l1)
	}
	if err := point(&bytes.Buffer{}, "north", "http://tiles.test"); err == nil {
		t.Fatalf("expected error for malformed point")
	}
}
