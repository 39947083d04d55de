// Package router holds the HTTP handlers of the speed tile API.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/speedtiles/internal/composer"
	"github.com/mohammed-shakir/speedtiles/internal/core/executor"
	"github.com/mohammed-shakir/speedtiles/internal/core/model"
	"github.com/mohammed-shakir/speedtiles/internal/core/observability"
	"github.com/mohammed-shakir/speedtiles/internal/mapper"
	"github.com/mohammed-shakir/speedtiles/internal/pipeline"
	"github.com/mohammed-shakir/speedtiles/internal/routing"
)

// Service is what the handlers need from the pipeline.
type Service interface {
	Run(ctx context.Context, req routing.Request) (pipeline.Result, error)
	Latest() (pipeline.Result, bool)
	Region(ctx context.Context, bb model.BBox) (pipeline.RegionResult, error)
	Lookup(ctx context.Context, id uint64) (model.SegmentRef, *float64, error)
}

type API struct {
	logger      *slog.Logger
	svc         Service
	mapper      mapper.Interface
	tileBaseURL string
}

func NewAPI(logger *slog.Logger, svc Service, m mapper.Interface, tileBaseURL string) *API {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &API{logger: logger, svc: svc, mapper: m, tileBaseURL: tileBaseURL}
}

// Register mounts every /v1 route on r.
func (a *API) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/tiles", instrument("/v1/tiles", a.Tiles))
		r.Get("/region", instrument("/v1/region", a.Region))
		r.Get("/segments/{id}", instrument("/v1/segments/{id}", a.Segment))
		r.Post("/route", instrument("/v1/route", a.Route))
		r.Get("/route/latest", instrument("/v1/route/latest", a.Latest))
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeBody(w, status, contentType, b)
}

func writeBody(w http.ResponseWriter, status int, contentType string, b []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func negotiate(r *http.Request) composer.Negotiation {
	return composer.NegotiateFormat(composer.NegotiationInput{
		AcceptHeader:  r.Header.Get("Accept"),
		OutputFormat:  r.URL.Query().Get("format"),
		DefaultFormat: composer.FormatJSON,
	})
}

// writeError maps pipeline errors onto status codes. The routing and tile
// messages are meant for the end user.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, routing.ErrRouteService):
		a.logger.WarnContext(r.Context(), "route service error", "err", err)
		http.Error(w, "route could not be computed, try different waypoints", http.StatusBadGateway)
	case errors.Is(err, executor.ErrNetwork):
		a.logger.ErrorContext(r.Context(), "tile storage unreachable", "err", err)
		http.Error(w, "speed tiles are temporarily unavailable", http.StatusBadGateway)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "request canceled", http.StatusRequestTimeout)
	default:
		a.logger.ErrorContext(r.Context(), "request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type tileEntry struct {
	Level int    `json:"level"`
	Index int    `json:"index"`
	URL   string `json:"url"`
}

// Tiles lists the addresses covering a bbox, duplicates included.
func (a *API) Tiles(w http.ResponseWriter, r *http.Request) {
	bb, err := ParseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		http.Error(w, "invalid bbox: "+err.Error(), http.StatusBadRequest)
		return
	}
	addrs := a.mapper.TilesForBBox(bb)

	neg := negotiate(r)
	if neg.Format == composer.FormatGeoJSON {
		fc, skipped := composer.TilesFeatureCollection(bb, addrs)
		if skipped > 0 {
			a.logger.DebugContext(r.Context(), "tiles outside grid left out", "bbox", bb.String(), "skipped", skipped)
		}
		writeJSON(w, http.StatusOK, neg.ContentType, fc)
		return
	}

	out := struct {
		BBox  []float64   `json:"bbox"`
		Tiles []tileEntry `json:"tiles"`
	}{
		BBox:  []float64{bb.Left, bb.Bottom, bb.Right, bb.Top},
		Tiles: make([]tileEntry, 0, len(addrs)),
	}
	for _, ad := range addrs {
		out.Tiles = append(out.Tiles, tileEntry{Level: ad.Level, Index: ad.Index, URL: executor.TileURL(a.tileBaseURL, ad, 0)})
	}
	writeJSON(w, http.StatusOK, neg.ContentType, out)
}

type regionTile struct {
	Level    int `json:"level"`
	Index    int `json:"index"`
	SubTiles int `json:"subtiles"`
	Speeds   int `json:"speeds"`
}

// Region fetches every tile covering a bbox and summarises what came back.
func (a *API) Region(w http.ResponseWriter, r *http.Request) {
	bb, err := ParseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		http.Error(w, "invalid bbox: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := a.svc.Region(r.Context(), bb)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	out := struct {
		Addresses   int                 `json:"addresses"`
		CacheHits   int                 `json:"cache_hits"`
		Tiles       []regionTile        `json:"tiles"`
		Unavailable []executor.Sentinel `json:"unavailable"`
	}{
		Addresses:   len(res.Addresses),
		CacheHits:   res.CacheHits,
		Tiles:       []regionTile{},
		Unavailable: res.Unavailable,
	}
	if out.Unavailable == nil {
		out.Unavailable = []executor.Sentinel{}
	}
	// addresses can repeat across the anti-meridian split
	seen := make(map[model.TileAddress]bool, len(res.Addresses))
	for _, ad := range res.Addresses {
		subs, ok := res.Tiles.Get(ad)
		if !ok || seen[ad] {
			continue
		}
		seen[ad] = true
		rt := regionTile{Level: ad.Level, Index: ad.Index, SubTiles: len(subs)}
		for _, st := range subs {
			rt.Speeds += len(st.ReferenceSpeeds)
		}
		out.Tiles = append(out.Tiles, rt)
	}
	writeJSON(w, http.StatusOK, composer.ContentTypeJSON, out)
}

func (a *API) Segment(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid segment id %q", raw), http.StatusBadRequest)
		return
	}
	ref, speed, err := a.svc.Lookup(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, composer.ContentTypeJSON, struct {
		ID uint64 `json:"id"`
		model.SegmentRef
		ReferenceSpeed *float64 `json:"reference_speed"`
	}{ID: id, SegmentRef: ref, ReferenceSpeed: speed})
}

const maxRouteBody = 1 << 20

func (a *API) Route(w http.ResponseWriter, r *http.Request) {
	var req routing.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRouteBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid route request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, "invalid route request: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := a.svc.Run(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeResult(w, r, res)
}

func (a *API) Latest(w http.ResponseWriter, r *http.Request) {
	res, ok := a.svc.Latest()
	if !ok {
		http.Error(w, "no route has been annotated yet", http.StatusNotFound)
		return
	}
	a.writeResult(w, r, res)
}

func (a *API) writeResult(w http.ResponseWriter, r *http.Request, res pipeline.Result) {
	neg := negotiate(r)
	b, err := composer.Segments(neg, res.Segments)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Run-ID", res.RunID)
	if res.Stale {
		w.Header().Set("X-Run-Stale", "true")
	}
	writeBody(w, http.StatusOK, neg.ContentType, b)
}

// ParseBBox parses "left,bottom,right,top" with an optional trailing
// EPSG:4326. Left may exceed right for boxes crossing the anti-meridian.
func ParseBBox(raw string) (model.BBox, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.BBox{}, errors.New("missing required parameter: bbox")
	}
	parts := strings.Split(raw, ",")
	if len(parts) == 5 {
		srid := strings.ToUpper(strings.TrimSpace(parts[4]))
		if srid != "EPSG:4326" {
			return model.BBox{}, fmt.Errorf("only EPSG:4326 is supported (got %q)", srid)
		}
		parts = parts[:4]
	}
	if len(parts) != 4 {
		return model.BBox{}, errors.New("expected 4 comma-separated values: left,bottom,right,top")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := parseFloat(p)
		if err != nil {
			return model.BBox{}, fmt.Errorf("value %d: %w", i+1, err)
		}
		v[i] = f
	}
	bb := model.BBox{Left: v[0], Bottom: v[1], Right: v[2], Top: v[3]}

	if !(bb.Left >= -180 && bb.Left <= 180 && bb.Right >= -180 && bb.Right <= 180) {
		return model.BBox{}, errors.New("longitude must be in [-180,180]")
	}
	if !(bb.Bottom >= -90 && bb.Bottom <= 90 && bb.Top >= -90 && bb.Top <= 90) {
		return model.BBox{}, errors.New("latitude must be in [-90,90]")
	}
	if bb.Top < bb.Bottom {
		return model.BBox{}, errors.New("top must not be below bottom")
	}
	return bb, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}
