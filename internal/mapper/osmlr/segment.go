package osmlr

import "github.com/mohammed-shakir/speedtiles/internal/core/model"

// Bit layout of an OSMLR segment id (Valhalla GraphId):
// 3 bits level, 22 bits tile index, 21 bits segment index.
const (
	levelBits   = 3
	tileBits    = 22
	segmentBits = 21

	levelMask   = 1<<levelBits - 1
	tileMask    = 1<<tileBits - 1
	segmentMask = 1<<segmentBits - 1

	tileShift    = levelBits
	segmentShift = levelBits + tileBits
)

// ParseSegmentID unpacks id into level, tile index and local segment
// index. Bits above the segment field are ignored.
func ParseSegmentID(id uint64) model.SegmentRef {
	return model.SegmentRef{
		Level:        int(id & levelMask),
		TileIndex:    int((id >> tileShift) & tileMask),
		SegmentIndex: int((id >> segmentShift) & segmentMask),
	}
}

// SegmentID packs ref back into an id. Fields wider than their bit width
// are truncated.
func SegmentID(ref model.SegmentRef) uint64 {
	return uint64(ref.Level)&levelMask |
		(uint64(ref.TileIndex)&tileMask)<<tileShift |
		(uint64(ref.SegmentIndex)&segmentMask)<<segmentShift
}
