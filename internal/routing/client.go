// Package routing talks to the external turn-by-turn routing service and
// reduces its answers to model.Route.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/twpayne/go-polyline"

	"github.com/mohammed-shakir/speedtiles/internal/core/model"
	"github.com/mohammed-shakir/speedtiles/internal/core/observability"
)

// ErrRouteService wraps every failure of the routing service. The caller
// shows it to the user as a route error.
var ErrRouteService = errors.New("route service error")

// shapes are encoded with six decimal places
var codec = polyline.Codec{Dim: 2, Scale: 1e6}

const DefaultCosting = "auto"

type Request struct {
	Locations []model.LatLon `json:"locations"`
	Costing   string         `json:"costing,omitempty"`
}

// Validate checks the request before any network call.
func (r Request) Validate() error {
	if len(r.Locations) < 2 {
		return errors.New("route needs at least two locations")
	}
	for i, l := range r.Locations {
		if l.Lat < -90 || l.Lat > 90 || l.Lon < -180 || l.Lon > 180 {
			return fmt.Errorf("location %d out of range: %v,%v", i, l.Lat, l.Lon)
		}
	}
	return nil
}

type Options struct {
	Costing  string
	MemoSize int
}

type Client struct {
	logger   *slog.Logger
	http     *http.Client
	base     *url.URL
	costing  string
	memo     *lru.Cache[uint64, model.Route]
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse routing url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("routing url %q: scheme must be http or https", baseURL)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if client == nil {
		client = http.DefaultClient
	}
	costing := strings.TrimSpace(opts.Costing)
	if costing == "" {
		costing = DefaultCosting
	}
	c := &Client{logger: logger, http: client, base: u, costing: costing, startNow: time.Now}
	if opts.MemoSize > 0 {
		memo, err := lru.New[uint64, model.Route](opts.MemoSize)
		if err != nil {
			return nil, fmt.Errorf("route memo: %w", err)
		}
		c.memo = memo
	}
	return c, nil
}

// memoKey hashes the normalized request: costing plus 6-decimal coordinates.
func (c *Client) memoKey(req Request) uint64 {
	var b strings.Builder
	b.WriteString(req.Costing)
	for _, l := range req.Locations {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(l.Lat, 'f', 6, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(l.Lon, 'f', 6, 64))
	}
	return xxhash.Sum64String(b.String())
}

// Route computes a route between the request locations and returns its
// shape together with the traffic segments of every edge.
func (c *Client) Route(ctx context.Context, req Request) (model.Route, error) {
	if err := req.Validate(); err != nil {
		return model.Route{}, fmt.Errorf("%w: %w", ErrRouteService, err)
	}
	if strings.TrimSpace(req.Costing) == "" {
		req.Costing = c.costing
	}

	var key uint64
	if c.memo != nil {
		key = c.memoKey(req)
		if r, ok := c.memo.Get(key); ok {
			c.logger.DebugContext(ctx, "route memo hit", "locations", len(req.Locations))
			return r, nil
		}
	}

	shape, err := c.routeShape(ctx, req)
	if err != nil {
		return model.Route{}, err
	}
	route, err := c.traceAttributes(ctx, shape, req.Costing)
	if err != nil {
		return model.Route{}, err
	}

	if c.memo != nil {
		c.memo.Add(key, route)
	}
	return route, nil
}

type routeResponse struct {
	Trip struct {
		Legs []struct {
			Shape string `json:"shape"`
		} `json:"legs"`
	} `json:"trip"`
}

// routeShape returns the polyline of the whole trip. Legs share their join
// point, which is kept once.
func (c *Client) routeShape(ctx context.Context, req Request) ([]model.LatLon, error) {
	body := map[string]any{
		"locations": req.Locations,
		"costing":   req.Costing,
	}
	var resp routeResponse
	if err := c.post(ctx, "/route", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Trip.Legs) == 0 {
		return nil, fmt.Errorf("%w: route has no legs", ErrRouteService)
	}

	var shape []model.LatLon
	for i, leg := range resp.Trip.Legs {
		pts, err := DecodeShape(leg.Shape)
		if err != nil {
			return nil, fmt.Errorf("%w: leg %d: %w", ErrRouteService, i, err)
		}
		if i > 0 && len(pts) > 0 && len(shape) > 0 && pts[0] == shape[len(shape)-1] {
			pts = pts[1:]
		}
		shape = append(shape, pts...)
	}
	return shape, nil
}

type traceResponse struct {
	Shape string `json:"shape"`
	Edges []struct {
		BeginShapeIndex int `json:"begin_shape_index"`
		EndShapeIndex   int `json:"end_shape_index"`
		TrafficSegments []struct {
			SegmentID uint64 `json:"segment_id"`
		} `json:"traffic_segments"`
	} `json:"edges"`
}

func (c *Client) traceAttributes(ctx context.Context, shape []model.LatLon, costing string) (model.Route, error) {
	body := map[string]any{
		"encoded_polyline": EncodeShape(shape),
		"costing":          costing,
		"shape_match":      "edge_walk",
		"filters": map[string]any{
			"attributes": []string{
				"edge.begin_shape_index",
				"edge.end_shape_index",
				"edge.traffic_segments",
				"shape",
			},
			"action": "include",
		},
	}
	var resp traceResponse
	if err := c.post(ctx, "/trace_attributes", body, &resp); err != nil {
		return model.Route{}, err
	}

	route := model.Route{Shape: shape, Edges: make([]model.RouteEdge, 0, len(resp.Edges))}
	if resp.Shape != "" {
		pts, err := DecodeShape(resp.Shape)
		if err != nil {
			return model.Route{}, fmt.Errorf("%w: trace shape: %w", ErrRouteService, err)
		}
		route.Shape = pts
	}
	for _, e := range resp.Edges {
		edge := model.RouteEdge{BeginShapeIndex: e.BeginShapeIndex, EndShapeIndex: e.EndShapeIndex}
		for _, ts := range e.TrafficSegments {
			edge.SegmentIDs = append(edge.SegmentIDs, ts.SegmentID)
		}
		route.Edges = append(route.Edges, edge)
	}
	return route, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode %s request: %w", ErrRouteService, path, err)
	}
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build %s request: %w", ErrRouteService, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := c.startNow()
	resp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency("routing"+path, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRouteService, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s status=%d body=%q", ErrRouteService, path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", ErrRouteService, path, err)
	}
	return nil
}

// DecodeShape decodes a precision-6 encoded polyline.
func DecodeShape(s string) ([]model.LatLon, error) {
	coords, rest, err := codec.DecodeCoords([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode polyline: %d trailing bytes", len(rest))
	}
	out := make([]model.LatLon, 0, len(coords))
	for _, c := range coords {
		out = append(out, model.LatLon{Lat: c[0], Lon: c[1]})
	}
	return out, nil
}

func EncodeShape(pts []model.LatLon) string {
	coords := make([][]float64, 0, len(pts))
	for _, p := range pts {
		coords = append(coords, []float64{p.Lat, p.Lon})
	}
	return string(codec.EncodeCoords(nil, coords))
}
