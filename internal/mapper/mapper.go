// Package mapper converts geographic extents into speed tile addresses.
package mapper

import (
	"github.com/mohammed-shakir/speedtiles/internal/core/model"
)

type Interface interface {
	TilesForBBox(bb model.BBox) []model.TileAddress
}
