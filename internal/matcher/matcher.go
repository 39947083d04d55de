// Package matcher resolves OSMLR segment ids to reference speeds and
// annotates route edges with them.
package matcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/speedtiles/internal/core/executor"
	"github.com/mohammed-shakir/speedtiles/internal/core/model"
	"github.com/mohammed-shakir/speedtiles/internal/core/observability"
	"github.com/mohammed-shakir/speedtiles/internal/mapper/osmlr"
)

// level 2 tiles hold local roads that carry no reference speeds
const discardedLevel = 2

type Matcher struct {
	logger  *slog.Logger
	fetcher executor.Interface
}

func New(logger *slog.Logger, fetcher executor.Interface) *Matcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Matcher{logger: logger, fetcher: fetcher}
}

// MatchSubTile scans subtiles in stored order for the one owning
// segmentIndex. Local ranges are (start, start+subtileSegments], except the
// last subtile whose upper bound is totalSegments.
func MatchSubTile(subtiles []model.SubTile, segmentIndex int) (float64, bool) {
	for i, st := range subtiles {
		upper := st.StartSegmentIndex + st.SubtileSegments
		if i == len(subtiles)-1 {
			upper = st.TotalSegments
		}
		if st.StartSegmentIndex >= segmentIndex || segmentIndex > upper {
			continue
		}
		if st.SubtileSegments <= 0 {
			return 0, false
		}
		slot := segmentIndex % st.SubtileSegments
		if slot >= len(st.ReferenceSpeeds) {
			return 0, false
		}
		return st.ReferenceSpeeds[slot], true
	}
	return 0, false
}

// references parses ids, drops duplicates and anything outside levels 0/1.
func references(ids []uint64) (map[uint64]model.SegmentRef, int) {
	refs := make(map[uint64]model.SegmentRef, len(ids))
	discarded := 0
	for _, id := range ids {
		if _, seen := refs[id]; seen {
			continue
		}
		ref := osmlr.ParseSegmentID(id)
		if ref.Level == discardedLevel || !osmlr.ValidLevel(ref.Level) {
			discarded++
			continue
		}
		refs[id] = ref
	}
	return refs, discarded
}

// ResolveSpeeds returns the reference speed of every id that has one. Ids
// without data are simply absent from the map.
func (m *Matcher) ResolveSpeeds(ctx context.Context, ids []uint64) (map[uint64]float64, error) {
	refs, discarded := references(ids)
	observability.AddSegmentMatches(observability.MatchDiscarded, discarded)
	if len(refs) == 0 {
		return map[uint64]float64{}, nil
	}

	addrs := make([]model.TileAddress, 0, len(refs))
	for _, id := range ids {
		if ref, ok := refs[id]; ok {
			addrs = append(addrs, ref.Address())
		}
	}
	tiles, err := m.fetcher.FetchTiles(ctx, addrs)
	if err != nil {
		return nil, fmt.Errorf("resolve speeds: %w", err)
	}

	speeds := make(map[uint64]float64, len(refs))
	for id, ref := range refs {
		subs, ok := tiles.Get(ref.Address())
		if !ok {
			continue
		}
		if v, ok := MatchSubTile(subs, ref.SegmentIndex); ok {
			speeds[id] = v
		}
	}
	misses := len(refs) - len(speeds)
	observability.AddSegmentMatches(observability.MatchHit, len(speeds))
	observability.AddSegmentMatches(observability.MatchMiss, misses)
	m.logger.DebugContext(ctx, "segments resolved",
		"ids", len(refs), "matched", len(speeds), "misses", misses, "discarded", discarded)
	return speeds, nil
}

// Annotate cuts the route shape per edge and attaches the speed of the
// edge's first segment id.
func (m *Matcher) Annotate(ctx context.Context, route model.Route) ([]model.AnnotatedSegment, error) {
	var ids []uint64
	for _, e := range route.Edges {
		ids = append(ids, e.SegmentIDs...)
	}
	speeds, err := m.ResolveSpeeds(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]model.AnnotatedSegment, 0, len(route.Edges))
	for _, e := range route.Edges {
		seg := model.AnnotatedSegment{Coordinates: sliceShape(route.Shape, e.BeginShapeIndex, e.EndShapeIndex)}
		if len(e.SegmentIDs) > 0 {
			if v, ok := speeds[e.SegmentIDs[0]]; ok {
				seg.ReferenceSpeed = &v
			}
		}
		out = append(out, seg)
	}
	return out, nil
}

// sliceShape returns shape[begin..end] inclusive, clamped to the shape.
func sliceShape(shape []model.LatLon, begin, end int) []model.LatLon {
	if begin < 0 {
		begin = 0
	}
	if end > len(shape)-1 {
		end = len(shape) - 1
	}
	if begin > end {
		return []model.LatLon{}
	}
	return append([]model.LatLon(nil), shape[begin:end+1]...)
}

// Lookup resolves one segment id. A nil speed means no data.
func (m *Matcher) Lookup(ctx context.Context, id uint64) (model.SegmentRef, *float64, error) {
	ref := osmlr.ParseSegmentID(id)
	speeds, err := m.ResolveSpeeds(ctx, []uint64{id})
	if err != nil {
		return ref, nil, err
	}
	if v, ok := speeds[id]; ok {
		return ref, &v, nil
	}
	return ref, nil, nil
}
