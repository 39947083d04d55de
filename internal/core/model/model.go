// Package model defines core domain types shared across the service.
package model

import (
	"fmt"

	"github.com/paulmach/orb"
)

// BBox is a lon/lat box in EPSG:4326. Left may exceed Right when the box
// crosses the anti-meridian.
type BBox struct {
	Left, Bottom float64
	Right, Top   float64
}

// String representation matching the bbox query parameter format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.Left, b.Bottom, b.Right, b.Top)
}

// CrossesAntimeridian reports whether the box wraps past 180°.
func (b BBox) CrossesAntimeridian() bool { return b.Left > b.Right }

func (b BBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.Left, b.Bottom},
		Max: orb.Point{b.Right, b.Top},
	}
}

// TileAddress identifies one cell of a fixed grid level.
type TileAddress struct {
	Level int `json:"level"`
	Index int `json:"index"`
}

func (a TileAddress) String() string {
	return fmt.Sprintf("%d/%d", a.Level, a.Index)
}

// SegmentRef is a segment id unpacked into its tile and local index.
type SegmentRef struct {
	Level        int `json:"level"`
	TileIndex    int `json:"tile_index"`
	SegmentIndex int `json:"segment_index"`
}

func (r SegmentRef) Address() TileAddress {
	return TileAddress{Level: r.Level, Index: r.TileIndex}
}

// SubTile is one contiguous partition of a tile's local segment range.
type SubTile struct {
	Level             int       `json:"level"`
	TileIndex         int       `json:"tile_index"`
	StartSegmentIndex int       `json:"start_segment_index"`
	SubtileSegments   int       `json:"subtile_segments"`
	TotalSegments     int       `json:"total_segments"`
	ReferenceSpeeds   []float64 `json:"reference_speeds"`
}

// Tile is the decoded content of one speed tile file.
type Tile struct {
	Level    int       `json:"level"`
	Index    int       `json:"index"`
	SubTiles []SubTile `json:"subtiles"`
}

// TileSet maps level -> tile index -> subtiles in stored order.
type TileSet map[int]map[int][]SubTile

func (s TileSet) Get(a TileAddress) ([]SubTile, bool) {
	byIndex, ok := s[a.Level]
	if !ok {
		return nil, false
	}
	subs, ok := byIndex[a.Index]
	return subs, ok
}

func (s TileSet) Put(a TileAddress, subs []SubTile) {
	byIndex, ok := s[a.Level]
	if !ok {
		byIndex = make(map[int][]SubTile)
		s[a.Level] = byIndex
	}
	byIndex[a.Index] = subs
}

// Len returns the number of (level, index) entries.
func (s TileSet) Len() int {
	n := 0
	for _, byIndex := range s {
		n += len(byIndex)
	}
	return n
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p LatLon) Point() orb.Point { return orb.Point{p.Lon, p.Lat} }

// RouteEdge is one leg of a decoded route geometry.
type RouteEdge struct {
	BeginShapeIndex int      `json:"begin_shape_index"`
	EndShapeIndex   int      `json:"end_shape_index"`
	SegmentIDs      []uint64 `json:"segment_ids,omitempty"`
}

// Route is a routing-service response reduced to what matching needs.
type Route struct {
	Shape []LatLon
	Edges []RouteEdge
}

// AnnotatedSegment is the unit handed to the rendering layer. A nil
// ReferenceSpeed means no data.
type AnnotatedSegment struct {
	Coordinates    []LatLon `json:"coordinates"`
	ReferenceSpeed *float64 `json:"reference_speed"`
}

func (s AnnotatedSegment) LineString() orb.LineString {
	ls := make(orb.LineString, 0, len(s.Coordinates))
	for _, c := range s.Coordinates {
		ls = append(ls, c.Point())
	}
	return ls
}
