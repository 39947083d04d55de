// Package executor fetches speed tiles from static storage and feeds them
// through decode, consolidation and the tile cache.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/speedtiles/internal/aggregate"
	"github.com/mohammed-shakir/speedtiles/internal/aggregate/tileagg"
	"github.com/mohammed-shakir/speedtiles/internal/cache"
	"github.com/mohammed-shakir/speedtiles/internal/core/model"
	"github.com/mohammed-shakir/speedtiles/internal/core/observability"
	"github.com/mohammed-shakir/speedtiles/internal/mapper/osmlr"
	"github.com/mohammed-shakir/speedtiles/internal/speedtile"
)

// ErrNetwork marks a request that could not be made at all. It fails the
// whole batch.
var ErrNetwork = errors.New("tile fetch network failure")

type Interface interface {
	FetchTiles(ctx context.Context, addrs []model.TileAddress) (model.TileSet, error)
}

// Sentinel records a tile file that was requested but produced no data.
type Sentinel struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Batch is the detailed result of one fetch call.
type Batch struct {
	Tiles       model.TileSet
	Unavailable []Sentinel
	CacheHits   int
	Fetched     int
}

type Options struct {
	BaseURL string
	// SubtileFiles is how many .spd.{n}.gz files exist per tile.
	SubtileFiles int
	// MaxWorkers caps concurrent requests; 0 runs one goroutine per tile.
	MaxWorkers int
	// Timeout bounds a single request; 0 means none.
	Timeout time.Duration
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	cache    cache.Interface
	agg      aggregate.Interface
	baseURL  string
	files    int
	workers  int
	timeout  time.Duration
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, c cache.Interface, opts Options) (*Executor, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse tile base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("tile base url %q: scheme must be http or https", base)
	}
	if c == nil {
		return nil, errors.New("executor: nil tile cache")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if client == nil {
		client = http.DefaultClient
	}
	files := opts.SubtileFiles
	if files <= 0 {
		files = 1
	}
	return &Executor{
		logger:   logger,
		client:   client,
		cache:    c,
		agg:      tileagg.New(),
		baseURL:  base,
		files:    files,
		workers:  opts.MaxWorkers,
		timeout:  opts.Timeout,
		startNow: time.Now,
	}, nil
}

// TileURL is the storage location of file n of a tile.
func TileURL(base string, a model.TileAddress, n int) string {
	return strings.TrimRight(base, "/") + "/" + osmlr.URLSuffix(a) + ".spd." + strconv.Itoa(n) + ".gz"
}

func (e *Executor) FetchTiles(ctx context.Context, addrs []model.TileAddress) (model.TileSet, error) {
	b, err := e.Fetch(ctx, addrs)
	if err != nil {
		return nil, err
	}
	return b.Tiles, nil
}

type tileResult struct {
	tiles     []model.Tile
	sentinels []Sentinel
}

// Fetch resolves addrs against the cache and storage. Only a transport
// failure returns an error; missing or undecodable tiles end up in
// Batch.Unavailable.
func (e *Executor) Fetch(ctx context.Context, addrs []model.TileAddress) (Batch, error) {
	out := Batch{Tiles: make(model.TileSet)}

	var missing []model.TileAddress
	for _, a := range osmlr.Unique(addrs) {
		if subs, ok := e.cache.Get(a); ok {
			out.Tiles.Put(a, subs)
			out.CacheHits++
			continue
		}
		missing = append(missing, a)
	}
	observability.AddTileCacheHits(out.CacheHits)
	observability.AddTileCacheMisses(len(missing))

	if len(missing) == 0 {
		e.logger.DebugContext(ctx, "tile batch served from cache", "tiles", out.CacheHits)
		return out, nil
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := e.startNow()
	results := make([]tileResult, len(missing))
	var (
		errOnce  sync.Once
		firstErr error
	)

	workerN := e.workers
	if workerN <= 0 || workerN > len(missing) {
		workerN = len(missing)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := e.fetchTile(batchCtx, missing[i])
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					continue
				}
				results[i] = res
			}
		}()
	}

	for i := range missing {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		if ctx.Err() != nil {
			return Batch{}, fmt.Errorf("fetch tiles: %w", ctx.Err())
		}
		e.logger.ErrorContext(ctx, "tile batch failed", "tiles", len(missing), "err", firstErr)
		return Batch{}, firstErr
	}

	var decoded []model.Tile
	for _, r := range results {
		decoded = append(decoded, r.tiles...)
		out.Unavailable = append(out.Unavailable, r.sentinels...)
	}
	out.Fetched = len(decoded)

	fresh := e.agg.ConsolidateTiles(decoded)
	e.cache.Merge(fresh)
	for lvl, byIndex := range fresh {
		for idx, subs := range byIndex {
			out.Tiles.Put(model.TileAddress{Level: lvl, Index: idx}, subs)
		}
	}

	e.logger.InfoContext(ctx, "tile batch done",
		"requested", len(missing),
		"decoded", len(decoded),
		"unavailable", len(out.Unavailable),
		"cache_hits", out.CacheHits,
		"dur", time.Since(start).String())
	return out, nil
}

// fetchTile requests every subtile file of a. Files after the first stop
// at the first 404.
func (e *Executor) fetchTile(ctx context.Context, a model.TileAddress) (tileResult, error) {
	var res tileResult
	for n := 0; n < e.files; n++ {
		u := TileURL(e.baseURL, a, n)
		body, status, err := e.get(ctx, u)
		if err != nil {
			observability.IncTileFetch(observability.FetchNetwork)
			return tileResult{}, err
		}
		if status < 200 || status >= 300 {
			if n > 0 && status == http.StatusNotFound {
				e.logger.DebugContext(ctx, "no more subtile files", "tile", a.String(), "files", n)
				break
			}
			observability.IncTileFetch(observability.FetchUnavailable)
			e.logger.WarnContext(ctx, "tile unavailable", "url", u, "status", status)
			res.sentinels = append(res.sentinels, Sentinel{URL: u, Status: status})
			break
		}

		tile, err := speedtile.Decode(body)
		if err != nil {
			observability.IncTileFetch(observability.FetchBadTile)
			e.logger.WarnContext(ctx, "tile rejected", "url", u, "err", err)
			res.sentinels = append(res.sentinels, Sentinel{URL: u, Status: status, Reason: err.Error()})
			continue
		}
		observability.IncTileFetch(observability.FetchOK)
		res.tiles = append(res.tiles, tile)
	}
	return res, nil
}

func (e *Executor) get(ctx context.Context, u string) ([]byte, int, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request %s: %w", ErrNetwork, u, err)
	}

	start := e.startNow()
	resp, err := e.client.Do(req)
	observability.ObserveUpstreamLatency("tile_storage", time.Since(start).Seconds())
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %w", ErrNetwork, u, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Warn("close response body", "err", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read %s: %w", ErrNetwork, u, err)
	}
	return body, resp.StatusCode, nil
}
