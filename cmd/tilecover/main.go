package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mohammed-shakir/speedtiles/internal/cache/tilecache"
	"github.com/mohammed-shakir/speedtiles/internal/core/config"
	"github.com/mohammed-shakir/speedtiles/internal/core/model"
	"github.com/mohammed-shakir/speedtiles/internal/core/executor"
	"github.com/mohammed-shakir/speedtiles/internal/core/httpclient"
	"github.com/mohammed-shakir/speedtiles/internal/core/router"
	"github.com/mohammed-shakir/speedtiles/internal/mapper/osmlr"
	"github.com/mohammed-shakir/speedtiles/internal/speedtile"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

type coverLine struct {
	Level int    `json:"level"`
	Index int    `json:"index"`
	URL   string `json:"url"`
}

func cover(w io.Writer, bbox, base string, files int) error {
	bb, err := router.ParseBBox(bbox)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, a := range osmlr.Unique(osmlr.New().TilesForBBox(bb)) {
		for n := 0; n < files; n++ {
			if err := enc.Encode(coverLine{Level: a.Level, Index: a.Index, URL: executor.TileURL(base, a, n)}); err != nil {
				return err
			}
		}
	}
	return nil
}

func fetch(ctx context.Context, w io.Writer, bbox, base string, files int) error {
	bb, err := router.ParseBBox(bbox)
	if err != nil {
		return err
	}
	exec, err := executor.New(slog.New(slog.DiscardHandler), httpclient.NewOutbound(30*time.Second),
		tilecache.New(tilecache.PolicyOverwrite), executor.Options{BaseURL: base, SubtileFiles: files})
	if err != nil {
		return err
	}
	batch, err := exec.Fetch(ctx, osmlr.New().TilesForBBox(bb))
	if err != nil {
		return err
	}
	subtiles := 0
	for _, byIndex := range batch.Tiles {
		for _, subs := range byIndex {
			subtiles += len(subs)
		}
	}
	_, err = fmt.Fprintf(w, "tiles=%d subtiles=%d unavailable=%d fetched=%d\n",
		batch.Tiles.Len(), subtiles, len(batch.Unavailable), batch.Fetched)
	for _, s := range batch.Unavailable {
		fmt.Fprintf(w, "  unavailable %s status=%d %s\n", s.URL, s.Status, s.Reason)
	}
	return err
}

// point prints the tile holding lon,lat at every grid level.
func point(w io.Writer, raw, base string) error {
	var lon, lat float64
	if _, err := fmt.Sscanf(raw, "%g,%g", &lon, &lat); err != nil {
		return fmt.Errorf("point %q: want lon,lat: %w", raw, err)
	}
	enc := json.NewEncoder(w)
	for _, l := range osmlr.Levels() {
		a, err := osmlr.TileForPoint(l.Level, lon, lat)
		if err != nil {
			return err
		}
		if err := enc.Encode(coverLine{Level: a.Level, Index: a.Index, URL: executor.TileURL(base, a, 0)}); err != nil {
			return err
		}
	}
	return nil
}

func segment(w io.Writer, raw string) error {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("segment id: %w", err)
	}
	ref := osmlr.ParseSegmentID(id)
	_, err = fmt.Fprintf(w, "level=%d tile=%d segment=%d\n", ref.Level, ref.TileIndex, ref.SegmentIndex)
	return err
}

// encode reads a JSON tile and writes it in the storage wire format.
func encode(w io.Writer, r io.Reader) error {
	var tile model.Tile
	if err := json.NewDecoder(r).Decode(&tile); err != nil {
		return fmt.Errorf("read tile json: %w", err)
	}
	buf, err := speedtile.Encode(tile)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func decode(w io.Writer, r io.Reader) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	tile, err := speedtile.Decode(buf)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tile)
}

func main() {
	bbox := flag.String("bbox", "", "left,bottom,right,top in EPSG:4326")
	base := flag.String("base", getenv("TILE_BASE_URL", config.DefaultTileBaseURL), "speed tile base URL")
	files := flag.Int("files", 1, "subtile files per tile")
	doFetch := flag.Bool("fetch", false, "download and decode the covering tiles")
	seg := flag.String("segment", "", "decode a segment id instead of covering a bbox")
	pt := flag.String("point", "", "lon,lat: print the tile holding this point at each level")
	doEncode := flag.Bool("encode", false, "read a JSON tile on stdin, write a .spd.gz tile on stdout")
	doDecode := flag.Bool("decode", false, "read a .spd.gz tile on stdin, write JSON on stdout")
	flag.Parse()

	var err error
	switch {
	case *doEncode:
		err = encode(os.Stdout, os.Stdin)
	case *doDecode:
		err = decode(os.Stdout, os.Stdin)
	case *pt != "":
		err = point(os.Stdout, *pt, *base)
	case *seg != "":
		err = segment(os.Stdout, *seg)
	case *bbox == "":
		flag.Usage()
		os.Exit(2)
	case *doFetch:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		err = fetch(ctx, os.Stdout, *bbox, *base, *files)
	default:
		err = cover(os.Stdout, *bbox, *base, *files)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "tilecover:", err)
		os.Exit(1)
	}
}
