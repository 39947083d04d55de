// Package composer renders annotated routes and tile covers as JSON or
// GeoJSON response bodies.
package composer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/speedtiles/internal/core/model"
	"github.com/mohammed-shakir/speedtiles/internal/mapper/osmlr"
)

type Format int

const (
	FormatJSON Format = iota
	FormatGeoJSON
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeGeoJSON = "application/geo+json"
)

type NegotiationInput struct {
	AcceptHeader  string
	OutputFormat  string
	DefaultFormat Format
}

type Negotiation struct {
	Format      Format
	ContentType string
}

func negotiationFor(f Format) Negotiation {
	if f == FormatGeoJSON {
		return Negotiation{Format: FormatGeoJSON, ContentType: ContentTypeGeoJSON}
	}
	return Negotiation{Format: FormatJSON, ContentType: ContentTypeJSON}
}

// NegotiateFormat picks the output format. An explicit format parameter
// wins over the Accept header; the highest q value wins within Accept.
func NegotiateFormat(in NegotiationInput) Negotiation {
	of := strings.ToLower(strings.TrimSpace(in.OutputFormat))
	switch {
	case of == "geojson", strings.HasPrefix(of, ContentTypeGeoJSON):
		return negotiationFor(FormatGeoJSON)
	case of == "json", strings.HasPrefix(of, ContentTypeJSON):
		return negotiationFor(FormatJSON)
	}

	ah := strings.ToLower(in.AcceptHeader)
	bestQ := -1.0
	best := Negotiation{}
	for part := range strings.SplitSeq(ah, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		mt := token
		params := ""
		if i := strings.Index(token, ";"); i >= 0 {
			mt = strings.TrimSpace(token[:i])
			params = token[i+1:]
		}
		q := 1.0
		for p := range strings.SplitSeq(params, ";") {
			p = strings.TrimSpace(p)
			if after, ok := strings.CutPrefix(p, "q="); ok {
				if v, err := strconv.ParseFloat(after, 64); err == nil {
					q = v
				}
			}
		}
		var cand Negotiation
		switch {
		case mt == "*/*", mt == "application/*":
			cand = negotiationFor(in.DefaultFormat)
		case strings.Contains(mt, "geo+json"):
			cand = negotiationFor(FormatGeoJSON)
		case mt == ContentTypeJSON:
			cand = negotiationFor(FormatJSON)
		default:
			continue
		}
		if q > bestQ {
			bestQ = q
			best = cand
		}
	}
	if bestQ >= 0 {
		return best
	}
	return negotiationFor(in.DefaultFormat)
}

// SegmentsFeatureCollection renders one LineString feature per segment.
// A segment without data carries a null reference_speed.
func SegmentsFeatureCollection(segs []model.AnnotatedSegment) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, s := range segs {
		f := geojson.NewFeature(s.LineString())
		f.Properties["index"] = i
		if s.ReferenceSpeed != nil {
			f.Properties["reference_speed"] = *s.ReferenceSpeed
		} else {
			f.Properties["reference_speed"] = nil
		}
		fc.Append(f)
	}
	return fc
}

// TilesFeatureCollection renders the footprint polygon of every distinct
// address that overlaps bb. The grid formula lets a box touching lon 180
// spill onto column 0 of the next row and a box touching lat 90 run past
// the last row; those addresses are left out and counted in the second
// return value.
func TilesFeatureCollection(bb model.BBox, addrs []model.TileAddress) (*geojson.FeatureCollection, int) {
	halves := []orb.Bound{bb.Bound()}
	if bb.CrossesAntimeridian() {
		halves = []orb.Bound{
			model.BBox{Left: bb.Left, Bottom: bb.Bottom, Right: 180, Top: bb.Top}.Bound(),
			model.BBox{Left: -180, Bottom: bb.Bottom, Right: bb.Right, Top: bb.Top}.Bound(),
		}
	}

	fc := geojson.NewFeatureCollection()
	skipped := 0
	for _, a := range osmlr.Unique(addrs) {
		tb, err := osmlr.TileBound(a)
		if err != nil || !overlaps(tb.Bound(), halves) {
			skipped++
			continue
		}
		f := geojson.NewFeature(tb.Bound().ToPolygon())
		f.ID = a.String()
		f.Properties["level"] = a.Level
		f.Properties["index"] = a.Index
		fc.Append(f)
	}
	return fc, skipped
}

func overlaps(tile orb.Bound, halves []orb.Bound) bool {
	for _, h := range halves {
		if tile.Intersects(h) {
			return true
		}
	}
	return false
}

// RouteLine merges segment coordinates into one line, dropping the
// repeated join points.
func RouteLine(segs []model.AnnotatedSegment) orb.LineString {
	var ls orb.LineString
	for _, s := range segs {
		for _, p := range s.LineString() {
			if n := len(ls); n > 0 && ls[n-1].Equal(p) {
				continue
			}
			ls = append(ls, p)
		}
	}
	return ls
}

// Segments encodes segs in the negotiated format.
func Segments(neg Negotiation, segs []model.AnnotatedSegment) ([]byte, error) {
	if neg.Format == FormatGeoJSON {
		b, err := SegmentsFeatureCollection(segs).MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal FeatureCollection: %w", err)
		}
		return b, nil
	}
	if segs == nil {
		segs = []model.AnnotatedSegment{}
	}
	b, err := json.Marshal(struct {
		Segments []model.AnnotatedSegment `json:"segments"`
		BBox     []float64                `json:"bbox,omitempty"`
	}{Segments: segs, BBox: bboxOf(segs)})
	if err != nil {
		return nil, fmt.Errorf("marshal segments: %w", err)
	}
	return b, nil
}

// bboxOf returns [west, south, east, north] of the route, or nil.
func bboxOf(segs []model.AnnotatedSegment) []float64 {
	ls := RouteLine(segs)
	if len(ls) == 0 {
		return nil
	}
	b := ls.Bound()
	return []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
}
