// Package cache defines the process-lifetime store for consolidated speed tiles.
package cache

import "github.com/mohammed-shakir/speedtiles/internal/core/model"

type Interface interface {
	Get(a model.TileAddress) ([]model.SubTile, bool)
	Has(a model.TileAddress) bool
	Merge(set model.TileSet)
	Len() int
}
