package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/speedtiles/internal/cache/tilecache"
	"github.com/mohammed-shakir/speedtiles/internal/core/config"
	"github.com/mohammed-shakir/speedtiles/internal/core/executor"
	"github.com/mohammed-shakir/speedtiles/internal/core/httpclient"
	"github.com/mohammed-shakir/speedtiles/internal/core/observability"
	"github.com/mohammed-shakir/speedtiles/internal/core/router"
	"github.com/mohammed-shakir/speedtiles/internal/core/server"
	"github.com/mohammed-shakir/speedtiles/internal/logger"
	"github.com/mohammed-shakir/speedtiles/internal/mapper/osmlr"
	"github.com/mohammed-shakir/speedtiles/internal/metrics"
	"github.com/mohammed-shakir/speedtiles/internal/pipeline"
	"github.com/mohammed-shakir/speedtiles/internal/routing"
	"github.com/mohammed-shakir/speedtiles/internal/runevents"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configFlag := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		zl := logger.Build(logger.Config{Level: "error"}, os.Stderr)
		zl.Error().Err(err).Msg("load config")
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "speedtiles",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting speedtiles",
		"addr", cfg.Addr,
		"version", Version,
		"tiles", cfg.TileBaseURL,
		"routing", cfg.RoutingURL,
		"subtile_files", cfg.SubtileFiles)

	policy, err := tilecache.ParsePolicy(cfg.CacheMergePolicy)
	if err != nil {
		appLog.Error("invalid cache policy", "err", err)
		return 2
	}
	store := tilecache.New(policy)
	appLog.Info("tile cache ready", "merge_policy", store.Policy().String())

	exec, err := executor.New(appLog, httpclient.NewOutbound(0), store, executor.Options{
		BaseURL:      cfg.TileBaseURL,
		SubtileFiles: cfg.SubtileFiles,
		MaxWorkers:   cfg.FetchMaxWorkers,
		Timeout:      cfg.FetchTimeout,
	})
	if err != nil {
		appLog.Error("failed to initialize executor", "err", err)
		return 1
	}

	routes, err := routing.New(appLog, httpclient.NewOutbound(0), cfg.RoutingURL, routing.Options{
		Costing:  cfg.RoutingCosting,
		MemoSize: cfg.RouteMemoSize,
	})
	if err != nil {
		appLog.Error("failed to initialize routing client", "err", err)
		return 1
	}

	var events runevents.Sink = runevents.Nop{}
	if cfg.Events.Enabled {
		pub, err := runevents.NewPublisher(appLog, cfg.Events.BrokerList(), cfg.Events.Topic, cfg.Events.Queue)
		if err != nil {
			appLog.Error("failed to initialize run events", "err", err)
			return 1
		}
		events = pub
	}
	defer func() {
		if err := events.Close(); err != nil {
			appLog.Warn("close run events", "err", err)
		}
	}()

	m := osmlr.New()
	pipe, err := pipeline.New(appLog, pipeline.Deps{
		Cache:  store,
		Exec:   exec,
		Router: routes,
		Mapper: m,
		Events: events,
	})
	if err != nil {
		appLog.Error("pipeline setup failed", "err", err)
		return 1
	}

	prov, err := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build:   metrics.BuildFromRuntime(Version),
	})
	if err != nil {
		appLog.Error("metrics setup failed", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := router.NewAPI(appLog, pipe, m, cfg.TileBaseURL)
	handler := server.NewHandler(appLog, api, pipe)

	go func() {
		if err := server.RunAux(ctx, appLog, prov.Server()); err != nil {
			appLog.Error("metrics server error", "err", err)
		}
	}()

	if err := server.Run(ctx, cfg, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
