// Package osmlr maps bounding boxes and OSMLR segment ids onto the fixed
// three-level speed tile grid.
package osmlr

import (
	"fmt"
	"math"
	"strconv"

	"github.com/mohammed-shakir/speedtiles/internal/core/model"
	"github.com/mohammed-shakir/speedtiles/internal/mapper"
)

// Level describes one grid resolution.
type Level struct {
	Level int
	Size  float64 // degrees per tile side
}

var levels = []Level{
	{Level: 0, Size: 4.0},
	{Level: 1, Size: 1.0},
	{Level: 2, Size: 0.25},
}

// Levels returns a copy of the grid table, coarsest first.
func Levels() []Level {
	out := make([]Level, len(levels))
	copy(out, levels)
	return out
}

// ValidLevel reports whether lvl is part of the grid table.
func ValidLevel(lvl int) bool {
	return lvl >= 0 && lvl < len(levels)
}

// LevelSize returns the tile size in degrees for lvl.
func LevelSize(lvl int) (float64, error) {
	if !ValidLevel(lvl) {
		return 0, fmt.Errorf("invalid tile level %d (must be 0..%d)", lvl, len(levels)-1)
	}
	return levels[lvl].Size, nil
}

type Mapper struct{}

var _ mapper.Interface = (*Mapper)(nil)

func New() *Mapper { return &Mapper{} }

// TilesForBBox returns the addresses of every tile at every level touching
// bb. Boxes crossing the anti-meridian are split in two and the halves are
// concatenated as-is, so the result may hold duplicates.
func (m *Mapper) TilesForBBox(bb model.BBox) []model.TileAddress {
	if bb.Left > bb.Right {
		east := m.TilesForBBox(model.BBox{Left: bb.Left, Bottom: bb.Bottom, Right: 180, Top: bb.Top})
		west := m.TilesForBBox(model.BBox{Left: -180, Bottom: bb.Bottom, Right: bb.Right, Top: bb.Top})
		return append(east, west...)
	}

	// shift so all arithmetic stays non-negative
	left := bb.Left + 180
	right := bb.Right + 180
	bottom := bb.Bottom + 90
	top := bb.Top + 90

	var out []model.TileAddress
	for _, l := range levels {
		perRow := 360.0 / l.Size
		for x := math.Floor(left / l.Size); x <= math.Floor(right/l.Size); x++ {
			for y := math.Floor(bottom / l.Size); y <= math.Floor(top/l.Size); y++ {
				out = append(out, model.TileAddress{
					Level: l.Level,
					Index: int(math.Floor(y*perRow + x)),
				})
			}
		}
	}
	return out
}

// TileForPoint returns the address of the tile at lvl containing lon/lat.
func TileForPoint(lvl int, lon, lat float64) (model.TileAddress, error) {
	size, err := LevelSize(lvl)
	if err != nil {
		return model.TileAddress{}, err
	}
	x := math.Floor((lon + 180) / size)
	y := math.Floor((lat + 90) / size)
	return model.TileAddress{Level: lvl, Index: int(math.Floor(y*(360.0/size) + x))}, nil
}

// URLSuffix is the storage path fragment of a tile, without extension.
func URLSuffix(a model.TileAddress) string {
	return strconv.Itoa(a.Level) + "/" + strconv.Itoa(a.Index)
}

// Unique drops repeated addresses, keeping first-seen order.
func Unique(addrs []model.TileAddress) []model.TileAddress {
	seen := make(map[model.TileAddress]struct{}, len(addrs))
	out := make([]model.TileAddress, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// TileBound returns the lon/lat extent of a tile.
func TileBound(a model.TileAddress) (model.BBox, error) {
	size, err := LevelSize(a.Level)
	if err != nil {
		return model.BBox{}, err
	}
	perRow := int(360.0 / size)
	rows := int(180.0 / size)
	if a.Index < 0 || a.Index >= perRow*rows {
		return model.BBox{}, fmt.Errorf("tile index %d out of range for level %d", a.Index, a.Level)
	}
	x := float64(a.Index % perRow)
	y := float64(a.Index / perRow)
	return model.BBox{
		Left:   x*size - 180,
		Bottom: y*size - 90,
		Right:  (x+1)*size - 180,
		Top:    (y+1)*size - 90,
	}, nil
}
