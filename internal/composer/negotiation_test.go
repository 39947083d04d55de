package composer

import "testing"

func TestNegotiateFormat_OrderOfPrecedence(t *testing.T) {
	neg := NegotiateFormat(NegotiationInput{
		OutputFormat:  "geojson",
		AcceptHeader:  "application/json",
		DefaultFormat: FormatJSON,
	})
	if neg.Format != FormatGeoJSON || neg.ContentType != ContentTypeGeoJSON {
		t.Fatalf("format parameter must win; got %+v", neg)
	}

	neg = NegotiateFormat(NegotiationInput{
		AcceptHeader:  "application/json;q=0.5,application/geo+json;q=0.9",
		DefaultFormat: FormatJSON,
	})
	if neg.Format != FormatGeoJSON {
		t.Fatalf("expected GeoJSON via Accept q-values")
	}
}

func TestNegotiateFormat_Defaults(t *testing.T) {
	if neg := NegotiateFormat(NegotiationInput{AcceptHeader: "*/*"}); neg.Format != FormatJSON {
		t.Fatalf("*/* should fall back to default; got %+v", neg)
	}
	if neg := NegotiateFormat(NegotiationInput{AcceptHeader: "text/html"}); neg.Format != FormatJSON {
		t.Fatalf("unknown type should fall back to default; got %+v", neg)
	}
	if neg := NegotiateFormat(NegotiationInput{DefaultFormat: FormatGeoJSON}); neg.ContentType != ContentTypeGeoJSON {
		t.Fatalf("empty input should use default; got %+v", neg)
	}
}
