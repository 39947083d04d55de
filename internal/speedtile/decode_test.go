package speedtile

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/mohammed-shakir/speedtiles/internal/core/model"
)

func sampleTile() model.Tile {
	return model.Tile{
		Level: 1,
		Index: 37741,
		SubTiles: []model.SubTile{
			{Level: 1, TileIndex: 37741, StartSegmentIndex: 0, SubtileSegments: 4, TotalSegments: 8, ReferenceSpeeds: []float64{30, 40, 50, 60}},
			{Level: 1, TileIndex: 37741, StartSegmentIndex: 4, SubtileSegments: 4, TotalSegments: 8, ReferenceSpeeds: []float64{70, 80}},
		},
	}
}

func gunzip(t *testing.T, b []byte) []byte {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gzip read: %v", err)
	}
	return raw
}

func TestDecode_GzipAndPlainPayloads(t *testing.T) {
	want := sampleTile()
	buf, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(buf, gzipMagic) {
		t.Fatalf("encoded payload is not gzip")
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode gzip: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decoded=%+v\nwant=%+v", got, want)
	}

	// transports may inflate the body before we see it
	plain, err := Decode(gunzip(t, buf))
	if err != nil {
		t.Fatalf("Decode plain: %v", err)
	}
	if !reflect.DeepEqual(plain, want) {
		t.Fatalf("plain decode differs: %+v", plain)
	}
}

func TestDecode_SubTilesCarryTileAddress(t *testing.T) {
	in := sampleTile()
	for i := range in.SubTiles {
		in.SubTiles[i].Level, in.SubTiles[i].TileIndex = 0, 0
	}
	buf, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, st := range got.SubTiles {
		if st.Level != 1 || st.TileIndex != 37741 {
			t.Fatalf("subtile address=%d/%d want 1/37741", st.Level, st.TileIndex)
		}
	}
}

func rawTile(t *testing.T, fill func(m *dynamicpb.Message)) []byte {
	t.Helper()
	m := dynamicpb.NewMessage(schema.tile)
	fill(m)
	b, err := proto.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func addSubTile(m *dynamicpb.Message, segs, total uint32, speeds ...uint32) {
	list := m.Mutable(schema.subtiles).List()
	sub := list.NewElement().Message()
	sub.Set(schema.subtileSegments, protoreflect.ValueOfUint32(segs))
	sub.Set(schema.totalSegments, protoreflect.ValueOfUint32(total))
	sl := sub.Mutable(schema.referenceSpeeds).List()
	for _, s := range speeds {
		sl.Append(protoreflect.ValueOfUint32(s))
	}
	list.Append(protoreflect.ValueOfMessage(sub))
}

func TestDecode_SchemaViolations(t *testing.T) {
	cases := map[string][]byte{
		"missing level": rawTile(t, func(m *dynamicpb.Message) {
			m.Set(schema.index, protoreflect.ValueOfUint32(5))
		}),
		"missing index": rawTile(t, func(m *dynamicpb.Message) {
			m.Set(schema.level, protoreflect.ValueOfUint32(1))
		}),
		"level outside grid": rawTile(t, func(m *dynamicpb.Message) {
			m.Set(schema.level, protoreflect.ValueOfUint32(3))
			m.Set(schema.index, protoreflect.ValueOfUint32(5))
		}),
		"zero subtile segments": rawTile(t, func(m *dynamicpb.Message) {
			m.Set(schema.level, protoreflect.ValueOfUint32(1))
			m.Set(schema.index, protoreflect.ValueOfUint32(5))
			addSubTile(m, 0, 10)
		}),
		"too many speeds": rawTile(t, func(m *dynamicpb.Message) {
			m.Set(schema.level, protoreflect.ValueOfUint32(1))
			m.Set(schema.index, protoreflect.ValueOfUint32(5))
			addSubTile(m, 2, 10, 1, 2, 3)
		}),
		"garbage":     {0xff, 0xff, 0xff, 0xff},
		"broken gzip": {0x1f, 0x8b, 0x00},
	}

	for name, buf := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Decode(buf)
			if !errors.Is(err, ErrSchemaViolation) {
				t.Fatalf("err=%v want ErrSchemaViolation", err)
			}
			if !reflect.DeepEqual(got, model.Tile{}) {
				t.Fatalf("partial result returned: %+v", got)
			}
		})
	}
}

func TestDecode_EmptySubTileListIsValid(t *testing.T) {
	buf := rawTile(t, func(m *dynamicpb.Message) {
		m.Set(schema.level, protoreflect.ValueOfUint32(0))
		m.Set(schema.index, protoreflect.ValueOfUint32(0))
	})
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Level != 0 || got.Index != 0 || len(got.SubTiles) != 0 {
		t.Fatalf("unexpected tile: %+v", got)
	}
}

func TestEncode_RejectsInvalidInput(t *testing.T) {
	if _, err := Encode(model.Tile{Level: 5}); err == nil {
		t.Fatalf("expected error for level 5")
	}
	bad := model.Tile{Level: 1, Index: 1, SubTiles: []model.SubTile{{SubtileSegments: 1, ReferenceSpeeds: []float64{-1}}}}
	if _, err := Encode(bad); err == nil {
		t.Fatalf("expected error for negative speed")
	}
}
