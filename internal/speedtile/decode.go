// Package speedtile decodes and encodes binary speed tiles.
package speedtile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/mohammed-shakir/speedtiles/internal/core/model"
	"github.com/mohammed-shakir/speedtiles/internal/mapper/osmlr"
)

// ErrSchemaViolation wraps every decode failure. No partial tile is ever
// returned alongside it.
var ErrSchemaViolation = errors.New("speed tile schema violation")

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchemaViolation, fmt.Sprintf(format, args...))
}

var gzipMagic = []byte{0x1f, 0x8b}

// Decode parses one speed tile buffer. The buffer may still be gzip
// compressed or may already have been inflated by the HTTP transport.
func Decode(buf []byte) (model.Tile, error) {
	raw, err := inflate(buf)
	if err != nil {
		return model.Tile{}, violation("inflate: %v", err)
	}

	msg := dynamicpb.NewMessage(schema.tile)
	if err := proto.Unmarshal(raw, msg); err != nil {
		return model.Tile{}, violation("unmarshal: %v", err)
	}
	return toTile(msg)
}

func inflate(buf []byte) ([]byte, error) {
	if !bytes.HasPrefix(buf, gzipMagic) {
		return buf, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer func() { _ = zr.Close() }()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	return out, nil
}

// toTile verifies msg and converts it to a plain model.Tile.
func toTile(msg protoreflect.Message) (model.Tile, error) {
	if !msg.Has(schema.level) {
		return model.Tile{}, violation("missing level")
	}
	if !msg.Has(schema.index) {
		return model.Tile{}, violation("missing index")
	}
	level := int(msg.Get(schema.level).Uint())
	index := int(msg.Get(schema.index).Uint())
	if !osmlr.ValidLevel(level) {
		return model.Tile{}, violation("level %d outside grid", level)
	}

	list := msg.Get(schema.subtiles).List()
	tile := model.Tile{
		Level:    level,
		Index:    index,
		SubTiles: make([]model.SubTile, 0, list.Len()),
	}
	for i := 0; i < list.Len(); i++ {
		st, err := toSubTile(list.Get(i).Message(), level, index)
		if err != nil {
			return model.Tile{}, fmt.Errorf("subtile %d: %w", i, err)
		}
		tile.SubTiles = append(tile.SubTiles, st)
	}
	return tile, nil
}

func toSubTile(m protoreflect.Message, level, index int) (model.SubTile, error) {
	if !m.Has(schema.subtileSegments) {
		return model.SubTile{}, violation("missing subtileSegments")
	}
	if !m.Has(schema.totalSegments) {
		return model.SubTile{}, violation("missing totalSegments")
	}
	st := model.SubTile{
		Level:             level,
		TileIndex:         index,
		StartSegmentIndex: int(m.Get(schema.startSegment).Uint()),
		SubtileSegments:   int(m.Get(schema.subtileSegments).Uint()),
		TotalSegments:     int(m.Get(schema.totalSegments).Uint()),
	}
	if st.SubtileSegments == 0 {
		return model.SubTile{}, violation("subtileSegments is zero")
	}

	speeds := m.Get(schema.referenceSpeeds).List()
	if speeds.Len() > st.SubtileSegments {
		return model.SubTile{}, violation("%d reference speeds for %d segments", speeds.Len(), st.SubtileSegments)
	}
	st.ReferenceSpeeds = make([]float64, speeds.Len())
	for i := range st.ReferenceSpeeds {
		st.ReferenceSpeeds[i] = float64(speeds.Get(i).Uint())
	}
	return st, nil
}

// Encode serialises tile in the same gzip-compressed wire format Decode
// reads. Speeds are rounded to whole units.
func Encode(tile model.Tile) ([]byte, error) {
	if !osmlr.ValidLevel(tile.Level) {
		return nil, fmt.Errorf("encode: invalid level %d", tile.Level)
	}
	if tile.Index < 0 || tile.Index > math.MaxUint32 {
		return nil, fmt.Errorf("encode: index %d out of range", tile.Index)
	}

	msg := dynamicpb.NewMessage(schema.tile)
	msg.Set(schema.level, protoreflect.ValueOfUint32(uint32(tile.Level)))
	msg.Set(schema.index, protoreflect.ValueOfUint32(uint32(tile.Index)))

	list := msg.Mutable(schema.subtiles).List()
	for i, st := range tile.SubTiles {
		sub := list.NewElement().Message()
		for _, f := range []struct {
			fd protoreflect.FieldDescriptor
			v  int
		}{
			{schema.startSegment, st.StartSegmentIndex},
			{schema.subtileSegments, st.SubtileSegments},
			{schema.totalSegments, st.TotalSegments},
		} {
			if f.v < 0 || f.v > math.MaxUint32 {
				return nil, fmt.Errorf("encode: subtile %d %s=%d out of range", i, f.fd.Name(), f.v)
			}
			sub.Set(f.fd, protoreflect.ValueOfUint32(uint32(f.v)))
		}
		speeds := sub.Mutable(schema.referenceSpeeds).List()
		for _, s := range st.ReferenceSpeeds {
			if s < 0 || s > math.MaxUint32 {
				return nil, fmt.Errorf("encode: subtile %d speed %v out of range", i, s)
			}
			speeds.Append(protoreflect.ValueOfUint32(uint32(math.Round(s))))
		}
		list.Append(protoreflect.ValueOfMessage(sub))
	}

	raw, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode: marshal: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("encode: gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("encode: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}
