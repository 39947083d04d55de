// Package aggregate defines how decoded tiles are folded into a lookup set.
package aggregate

import "github.com/mohammed-shakir/speedtiles/internal/core/model"

type Interface interface {
	ConsolidateTiles(tiles []model.Tile) model.TileSet
}
