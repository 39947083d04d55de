package composer

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/speedtiles/internal/core/model"
	"github.com/mohammed-shakir/speedtiles/internal/mapper/osmlr"
)

func fixtureSegments() []model.AnnotatedSegment {
	v := 42.0
	return []model.AnnotatedSegment{
		{Coordinates: []model.LatLon{{Lat: 1, Lon: 10}, {Lat: 2, Lon: 11}}, ReferenceSpeed: &v},
		{Coordinates: []model.LatLon{{Lat: 2, Lon: 11}, {Lat: 3, Lon: 12}}},
	}
}

func TestSegments_GeoJSON(t *testing.T) {
	b, err := Segments(Negotiation{Format: FormatGeoJSON}, fixtureSegments())
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features=%d want 2", len(fc.Features))
	}
	ls, ok := fc.Features[0].Geometry.(orb.LineString)
	if !ok || !ls.Equal(orb.LineString{{10, 1}, {11, 2}}) {
		t.Fatalf("geometry=%v want lon/lat order", fc.Features[0].Geometry)
	}
	if fc.Features[0].Properties["reference_speed"] != 42.0 {
		t.Fatalf("speed=%v", fc.Features[0].Properties["reference_speed"])
	}
	if v, ok := fc.Features[1].Properties["reference_speed"]; !ok || v != nil {
		t.Fatalf("absent speed must be null; got %v (present=%v)", v, ok)
	}
}

func TestSegments_JSON(t *testing.T) {
	b, err := Segments(Negotiation{Format: FormatJSON}, fixtureSegments())
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	var out struct {
		Segments []model.AnnotatedSegment `json:"segments"`
		BBox     []float64                `json:"bbox"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Segments) != 2 || out.Segments[1].ReferenceSpeed != nil {
		t.Fatalf("segments=%+v", out.Segments)
	}
	want := []float64{10, 1, 12, 3}
	for i := range want {
		if out.BBox[i] != want[i] {
			t.Fatalf("bbox=%v want %v", out.BBox, want)
		}
	}

	empty, _ := Segments(Negotiation{Format: FormatJSON}, nil)
	if string(empty) != `{"segments":[]}` {
		t.Fatalf("empty=%s", empty)
	}
}

func TestRouteLine_DropsJoinPoints(t *testing.T) {
	ls := RouteLine(fixtureSegments())
	if len(ls) != 3 {
		t.Fatalf("points=%d want 3", len(ls))
	}
}

func TestTilesFeatureCollection(t *testing.T) {
	bb := model.BBox{Left: -179, Bottom: -89, Right: -178, Top: -88}
	fc, skipped := TilesFeatureCollection(bb, []model.TileAddress{{Level: 0, Index: 0}, {Level: 0, Index: 0}})
	if skipped != 0 || len(fc.Features) != 1 {
		t.Fatalf("features=%d skipped=%d want 1,0", len(fc.Features), skipped)
	}
	poly, ok := fc.Features[0].Geometry.(orb.Polygon)
	if !ok {
		t.Fatalf("geometry=%T want polygon", fc.Features[0].Geometry)
	}
	if b := poly.Bound(); b.Min != (orb.Point{-180, -90}) || b.Max != (orb.Point{-176, -86}) {
		t.Fatalf("bound=%v", b)
	}
	if fc.Features[0].ID != "0/0" {
		t.Fatalf("id=%v", fc.Features[0].ID)
	}

	if _, skipped := TilesFeatureCollection(bb, []model.TileAddress{{Level: 9, Index: 0}}); skipped != 1 {
		t.Fatalf("invalid level skipped=%d want 1", skipped)
	}
}

func TestTilesFeatureCollection_TopEdgeRowIsLeftOut(t *testing.T) {
	bb := model.BBox{Left: -10, Bottom: 80, Right: 10, Top: 90}
	fc, skipped := TilesFeatureCollection(bb, osmlr.New().TilesForBBox(bb))
	// the row past lat 90 at each level: 6 + 21 + 81 columns
	if skipped != 108 {
		t.Fatalf("skipped=%d want 108", skipped)
	}
	if len(fc.Features) != 18+210+3240 {
		t.Fatalf("features=%d want %d", len(fc.Features), 18+210+3240)
	}
	for _, f := range fc.Features {
		if b := f.Geometry.Bound(); b.Max.Y() > 90 {
			t.Fatalf("feature %v extends past the pole: %v", f.ID, b)
		}
	}
}

func TestTilesFeatureCollection_CrossingBoxStaysInside(t *testing.T) {
	bb := model.BBox{Left: 170, Bottom: 10, Right: -170, Top: 20}
	addrs := osmlr.New().TilesForBBox(bb)
	fc, skipped := TilesFeatureCollection(bb, addrs)

	// one wrapped column-0 tile above the box per level
	if skipped != 3 {
		t.Fatalf("skipped=%d want 3", skipped)
	}
	if len(fc.Features) != len(osmlr.Unique(addrs))-3 {
		t.Fatalf("features=%d want %d", len(fc.Features), len(osmlr.Unique(addrs))-3)
	}
	east := orb.Bound{Min: orb.Point{170, 10}, Max: orb.Point{180, 20}}
	west := orb.Bound{Min: orb.Point{-180, 10}, Max: orb.Point{-170, 20}}
	for _, f := range fc.Features {
		if f.ID == "0/2520" {
			t.Fatalf("wrapped tile 0/2520 rendered")
		}
		b := f.Geometry.Bound()
		if !b.Intersects(east) && !b.Intersects(west) {
			t.Fatalf("feature %v outside box: %v", f.ID, b)
		}
	}
}
