// Package config loads service settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const DefaultTileBaseURL = "https://s3.amazonaws.com/speed-extracts/2017/0"

type EventsCfg struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers" validate:"required_if=Enabled true"`
	Topic   string `yaml:"topic" validate:"required_if=Enabled true"`
	Queue   int    `yaml:"queue" validate:"gte=0"`
}

func (e EventsCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type MetricsCfg struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
	Path    string `yaml:"path" validate:"omitempty,startswith=/"`
}

type Config struct {
	Addr       string `yaml:"addr" validate:"required"`
	LogLevel   string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogConsole bool   `yaml:"log_console"`
	LogSampleN int    `yaml:"log_sample_n" validate:"gte=0"`

	TileBaseURL      string        `yaml:"tile_base_url" validate:"required,url"`
	SubtileFiles     int           `yaml:"subtile_files" validate:"gte=1,lte=64"`
	FetchMaxWorkers  int           `yaml:"fetch_max_workers" validate:"gte=0"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout" validate:"gte=0"`
	CacheMergePolicy string        `yaml:"cache_merge_policy" validate:"oneof=overwrite append"`

	RoutingURL     string `yaml:"routing_url" validate:"required,url"`
	RoutingCosting string `yaml:"routing_costing" validate:"required"`
	RouteMemoSize  int    `yaml:"route_memo_size" validate:"gte=0"`

	Events  EventsCfg  `yaml:"events"`
	Metrics MetricsCfg `yaml:"metrics"`
}

func Defaults() Config {
	return Config{
		Addr:             ":8090",
		LogLevel:         "info",
		TileBaseURL:      DefaultTileBaseURL,
		SubtileFiles:     1,
		CacheMergePolicy: "overwrite",
		RoutingURL:       "http://localhost:8002",
		RoutingCosting:   "auto",
		RouteMemoSize:    256,
		Events: EventsCfg{
			Brokers: "localhost:9092",
			Topic:   "speedtiles-runs",
			Queue:   1024,
		},
		Metrics: MetricsCfg{
			Addr: ":9100",
			Path: "/metrics",
		},
	}
}

// FromEnv returns the defaults overridden by environment variables. The
// result is not validated.
func FromEnv() Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// Load reads the YAML file at path (skipped when empty), applies the
// environment on top and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Addr = getenv("ADDR", c.Addr)
	c.LogLevel = strings.ToLower(getenv("LOG_LEVEL", c.LogLevel))
	c.LogConsole = getbool("LOG_CONSOLE", c.LogConsole)
	c.LogSampleN = getint("LOG_SAMPLE_N", c.LogSampleN)

	c.TileBaseURL = getenv("TILE_BASE_URL", c.TileBaseURL)
	c.SubtileFiles = getint("SUBTILE_FILES", c.SubtileFiles)
	c.FetchMaxWorkers = getint("FETCH_MAX_WORKERS", c.FetchMaxWorkers)
	c.FetchTimeout = getduration("FETCH_TIMEOUT", c.FetchTimeout)
	c.CacheMergePolicy = strings.ToLower(getenv("CACHE_MERGE_POLICY", c.CacheMergePolicy))

	c.RoutingURL = getenv("ROUTING_URL", c.RoutingURL)
	c.RoutingCosting = getenv("ROUTING_COSTING", c.RoutingCosting)
	c.RouteMemoSize = getint("ROUTE_MEMO_SIZE", c.RouteMemoSize)

	c.Events.Enabled = getbool("EVENTS_ENABLED", c.Events.Enabled)
	c.Events.Brokers = getenv("KAFKA_BROKERS", c.Events.Brokers)
	c.Events.Topic = getenv("KAFKA_TOPIC", c.Events.Topic)
	c.Events.Queue = getint("EVENTS_QUEUE", c.Events.Queue)

	c.Metrics.Enabled = getbool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = getenv("METRICS_ADDR", c.Metrics.Addr)
	c.Metrics.Path = getenv("METRICS_PATH", c.Metrics.Path)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
