// Package tileagg groups decoded speed subtiles by tile address.
package tileagg

import (
	"github.com/mohammed-shakir/speedtiles/internal/aggregate"
	"github.com/mohammed-shakir/speedtiles/internal/core/model"
)

type Consolidator struct{}

var _ aggregate.Interface = Consolidator{}

func New() Consolidator { return Consolidator{} }

// ConsolidateTiles flattens the subtiles of every tile, in input order, and
// groups them with Consolidate.
func (Consolidator) ConsolidateTiles(tiles []model.Tile) model.TileSet {
	n := 0
	for _, t := range tiles {
		n += len(t.SubTiles)
	}
	flat := make([]model.SubTile, 0, n)
	for _, t := range tiles {
		flat = append(flat, t.SubTiles...)
	}
	return Consolidate(flat)
}

// Consolidate groups subtiles by level then tile index. Order within a
// group follows input order; nothing is re-sorted and the input slice is
// left untouched.
func Consolidate(subtiles []model.SubTile) model.TileSet {
	out := model.TileSet{}
	for _, st := range subtiles {
		byIndex, ok := out[st.Level]
		if !ok {
			byIndex = make(map[int][]model.SubTile)
			out[st.Level] = byIndex
		}
		byIndex[st.TileIndex] = append(byIndex[st.TileIndex], st)
	}
	return out
}
