package osmlr

import (
	"testing"

	"github.com/mohammed-shakir/speedtiles/internal/core/model"
)

func TestParseSegmentID_KnownSamples(t *testing.T) {
	cases := []struct {
		id   uint64
		want model.SegmentRef
	}{
		{id: 268737385, want: model.SegmentRef{Level: 1, TileIndex: 37741, SegmentIndex: 8}},
		{id: 5033181920, want: model.SegmentRef{Level: 0, TileIndex: 2140, SegmentIndex: 150}},
		{id: 0, want: model.SegmentRef{}},
	}
	for _, c := range cases {
		if got := ParseSegmentID(c.id); got != c.want {
			t.Fatalf("ParseSegmentID(%d)=%+v want %+v", c.id, got, c.want)
		}
	}
}

func TestParseSegmentID_FieldWidths(t *testing.T) {
	// all 46 bits set
	got := ParseSegmentID(1<<46 - 1)
	if got.Level != 7 || got.TileIndex != 1<<22-1 || got.SegmentIndex != 1<<21-1 {
		t.Fatalf("max fields=%+v", got)
	}
	// bits above 46 are ignored
	if ParseSegmentID(1<<50|268737385) != ParseSegmentID(268737385) {
		t.Fatalf("high bits leaked into parsed fields")
	}
}

func TestSegmentID_RoundTrip(t *testing.T) {
	ref := model.SegmentRef{Level: 2, TileIndex: 821573, SegmentIndex: 1234}
	if got := ParseSegmentID(SegmentID(ref)); got != ref {
		t.Fatalf("round trip=%+v want %+v", got, ref)
	}
}
