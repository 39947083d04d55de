// Package pipeline wires routing, tile fetching and segment matching into
// route annotation runs, and keeps the output of the newest run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohammed-shakir/speedtiles/internal/cache/tilecache"
	"github.com/mohammed-shakir/speedtiles/internal/core/executor"
	"github.com/mohammed-shakir/speedtiles/internal/core/model"
	"github.com/mohammed-shakir/speedtiles/internal/core/observability"
	"github.com/mohammed-shakir/speedtiles/internal/logger"
	"github.com/mohammed-shakir/speedtiles/internal/mapper"
	"github.com/mohammed-shakir/speedtiles/internal/matcher"
	"github.com/mohammed-shakir/speedtiles/internal/routing"
	"github.com/mohammed-shakir/speedtiles/internal/runevents"
)

type Router interface {
	Route(ctx context.Context, req routing.Request) (model.Route, error)
}

// Result is the outcome of one route run.
type Result struct {
	RunID    string                   `json:"run_id"`
	Seq      uint64                   `json:"seq"`
	Segments []model.AnnotatedSegment `json:"segments"`
	Matched  int                      `json:"matched"`
	Stale    bool                     `json:"stale,omitempty"`
	At       time.Time                `json:"at"`
}

// RegionResult is the tile set covering a bounding box.
type RegionResult struct {
	Addresses   []model.TileAddress
	Tiles       model.TileSet
	Unavailable []executor.Sentinel
	CacheHits   int
}

type Pipeline struct {
	logger  *slog.Logger
	cache   *tilecache.Store
	exec    *executor.Executor
	match   *matcher.Matcher
	router  Router
	mapper  mapper.Interface
	events  runevents.Sink
	nowFunc func() time.Time

	seq    atomic.Uint64
	mu     sync.RWMutex
	latest *Result
}

type Deps struct {
	Cache  *tilecache.Store
	Exec   *executor.Executor
	Router Router
	Mapper mapper.Interface
	Events runevents.Sink
}

func New(logger *slog.Logger, d Deps) (*Pipeline, error) {
	if d.Cache == nil || d.Exec == nil || d.Router == nil || d.Mapper == nil {
		return nil, fmt.Errorf("pipeline: missing dependency (cache=%t exec=%t router=%t mapper=%t)",
			d.Cache != nil, d.Exec != nil, d.Router != nil, d.Mapper != nil)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	events := d.Events
	if events == nil {
		events = runevents.Nop{}
	}
	return &Pipeline{
		logger:  logger,
		cache:   d.Cache,
		exec:    d.Exec,
		match:   matcher.New(logger, d.Exec),
		router:  d.Router,
		mapper:  d.Mapper,
		events:  events,
		nowFunc: time.Now,
	}, nil
}

func (p *Pipeline) Cache() *tilecache.Store { return p.cache }

// Lookup resolves a single segment id through the shared cache.
func (p *Pipeline) Lookup(ctx context.Context, id uint64) (model.SegmentRef, *float64, error) {
	return p.match.Lookup(ctx, id)
}

// Readiness reports cache size and issued run count. The pipeline has no
// warm-up phase, so it is always ready.
func (p *Pipeline) Readiness() (bool, map[string]uint64) {
	return true, map[string]uint64{
		"cached_tiles": uint64(p.cache.Len()),
		"runs":         p.seq.Load(),
	}
}

// Run routes req, annotates the route and publishes the result as the
// latest one unless a newer run was started meanwhile. A superseded run
// still returns its result, flagged Stale.
func (p *Pipeline) Run(ctx context.Context, req routing.Request) (Result, error) {
	seq := p.seq.Add(1)
	runID := logger.NewID()
	ctx = logger.WithRunID(ctx, runID)

	route, err := p.router.Route(ctx, req)
	if err != nil {
		observability.IncPipelineRun(observability.RunError)
		p.logger.WarnContext(ctx, "route failed", "seq", seq, "err", err)
		return Result{}, err
	}
	segs, err := p.match.Annotate(ctx, route)
	if err != nil {
		observability.IncPipelineRun(observability.RunError)
		p.logger.ErrorContext(ctx, "annotate failed", "seq", seq, "err", err)
		return Result{}, err
	}

	res := Result{RunID: runID, Seq: seq, Segments: segs, At: p.nowFunc()}
	for _, s := range segs {
		if s.ReferenceSpeed != nil {
			res.Matched++
		}
	}

	if !p.apply(&res) {
		res.Stale = true
		observability.IncPipelineRun(observability.RunStale)
		p.logger.InfoContext(ctx, "stale run dropped", "seq", seq, "newest", p.seq.Load())
		return res, nil
	}

	observability.IncPipelineRun(observability.RunApplied)
	p.events.Publish(runevents.Event{
		RunID:    runID,
		Seq:      seq,
		Segments: len(segs),
		Matched:  res.Matched,
		TS:       res.At,
	})
	p.logger.InfoContext(ctx, "run applied",
		"seq", seq, "segments", len(segs), "matched", res.Matched, "cached_tiles", p.cache.Len())
	return res, nil
}

// apply stores res if its run is still the newest issued one.
func (p *Pipeline) apply(res *Result) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if res.Seq != p.seq.Load() {
		return false
	}
	cp := *res
	p.latest = &cp
	return true
}

// Latest returns the output of the newest applied run.
func (p *Pipeline) Latest() (Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return Result{}, false
	}
	return *p.latest, true
}

// Region fetches every tile covering bb at every level.
func (p *Pipeline) Region(ctx context.Context, bb model.BBox) (RegionResult, error) {
	addrs := p.mapper.TilesForBBox(bb)
	b, err := p.exec.Fetch(ctx, addrs)
	if err != nil {
		return RegionResult{}, fmt.Errorf("region %s: %w", bb.String(), err)
	}
	p.logger.InfoContext(ctx, "region fetched",
		"bbox", bb.String(),
		"addresses", len(addrs),
		"tiles", b.Tiles.Len(),
		"unavailable", len(b.Unavailable))
	return RegionResult{
		Addresses:   addrs,
		Tiles:       b.Tiles,
		Unavailable: b.Unavailable,
		CacheHits:   b.CacheHits,
	}, nil
}
