// Package config loads server settings: defaults, then an optional YAML
// file named by PCSTREAM_SETTINGS, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/pcstream/internal/lod"
)

// SettingsEnv names the YAML settings file.
const SettingsEnv = "PCSTREAM_SETTINGS"

type InvalidationCfg struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
	Brokers string `yaml:"brokers"`
	GroupID string `yaml:"group_id"`
}

type MetricsCfg struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

type ITownsCfg struct {
	LODMax   int  `yaml:"lod_max"`
	HRCDepth int  `yaml:"hrc_depth"`
	Shuffle  bool `yaml:"shuffle"`
}

type Config struct {
	Addr       string `yaml:"addr"`
	LogLevel   string `yaml:"log_level"`
	LogConsole bool   `yaml:"log_console"`
	LogSampleN int    `yaml:"log_sample_n"`

	PGDSN            string        `yaml:"pg_dsn"`
	PGPoolSize       int           `yaml:"pg_pool_size"`
	PGQueryTimeout   time.Duration `yaml:"pg_query_timeout"`
	PGConnectTimeout time.Duration `yaml:"pg_connect_timeout"`
	CatalogSize      int           `yaml:"catalog_size"`

	// CacheDriver is disk, redis or none.
	CacheDriver string        `yaml:"cache_driver"`
	CacheDir    string        `yaml:"cache_dir"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	RedisAddr   string        `yaml:"redis_addr"`

	// Depth is the number of greyhound levels served.
	Depth              int   `yaml:"depth"`
	GreyhoundParallel  bool  `yaml:"greyhound_parallel"`
	GreyhoundSmallLeaf int64 `yaml:"greyhound_small_leaf"`
	UseMorton          bool  `yaml:"use_morton"`
	// SmallLeaf is the iTowns fold threshold; 0 disables folding.
	SmallLeaf         int64     `yaml:"small_leaf"`
	ThreeDTilesLODMax int       `yaml:"threedtiles_lod_max"`
	ITowns            ITownsCfg `yaml:"itowns"`

	// URLPrefix mounts every protocol route below it, e.g. /lopocs.
	URLPrefix string `yaml:"url_prefix"`
	// ServerURL is the public base used in tileset content links.
	ServerURL string `yaml:"server_url"`

	Metrics      MetricsCfg      `yaml:"metrics"`
	Invalidation InvalidationCfg `yaml:"invalidation"`
}

func defaults() Config {
	return Config{
		Addr:              ":5000",
		LogLevel:          "info",
		PGDSN:             "postgres://localhost:5432/pointclouds?sslmode=disable",
		PGPoolSize:        8,
		PGQueryTimeout:    30 * time.Second,
		PGConnectTimeout:  time.Minute,
		CatalogSize:       256,
		CacheDriver:       "disk",
		CacheDir:          "cache",
		RedisAddr:         "localhost:6379",
		Depth:             6,
		SmallLeaf:         10000,
		ThreeDTilesLODMax: 6,
		ITowns:            ITownsCfg{LODMax: 10, HRCDepth: 2},
		ServerURL:         "http://localhost:5000",
		Metrics:           MetricsCfg{Enabled: true, Path: "/metrics"},
		Invalidation: InvalidationCfg{
			Topic:   "pointcloud-catalog",
			Brokers: "localhost:9092",
			GroupID: "pcstream",
		},
	}
}

// FromEnv returns defaults overridden by the environment.
func FromEnv() Config {
	cfg := defaults()
	applyEnv(&cfg)
	cfg.normalize()
	return cfg
}

// Load overlays the settings file, when PCSTREAM_SETTINGS is set, before
// the environment, and validates the result.
func Load() (Config, error) {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv(SettingsEnv)); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("settings: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("settings %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Addr = getenv("ADDR", c.Addr)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogConsole = getbool("LOG_CONSOLE", c.LogConsole)
	c.LogSampleN = getint("LOG_SAMPLE_N", c.LogSampleN)

	c.PGDSN = getenv("PG_DSN", c.PGDSN)
	c.PGPoolSize = getint("PG_POOL_SIZE", c.PGPoolSize)
	c.PGQueryTimeout = getduration("PG_QUERY_TIMEOUT", c.PGQueryTimeout)
	c.PGConnectTimeout = getduration("PG_CONNECT_TIMEOUT", c.PGConnectTimeout)
	c.CatalogSize = getint("CATALOG_SIZE", c.CatalogSize)

	c.CacheDriver = getenv("CACHE_DRIVER", c.CacheDriver)
	c.CacheDir = getenv("CACHE_DIR", c.CacheDir)
	c.CacheTTL = getduration("CACHE_TTL", c.CacheTTL)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)

	c.Depth = getint("DEPTH", c.Depth)
	c.GreyhoundParallel = getbool("GREYHOUND_PARALLEL", c.GreyhoundParallel)
	c.GreyhoundSmallLeaf = getint64("GREYHOUND_SMALL_LEAF", c.GreyhoundSmallLeaf)
	c.UseMorton = getbool("USE_MORTON", c.UseMorton)
	c.SmallLeaf = getint64("SMALL_LEAF", c.SmallLeaf)
	c.ThreeDTilesLODMax = getint("THREEDTILES_LOD_MAX", c.ThreeDTilesLODMax)
	c.ITowns.LODMax = getint("ITOWNS_LOD_MAX", c.ITowns.LODMax)
	c.ITowns.HRCDepth = getint("ITOWNS_HRC_DEPTH", c.ITowns.HRCDepth)
	c.ITowns.Shuffle = getbool("ITOWNS_SHUFFLE", c.ITowns.Shuffle)

	c.URLPrefix = getenv("URL_PREFIX", c.URLPrefix)
	c.ServerURL = getenv("SERVER_URL", c.ServerURL)

	c.Metrics.Enabled = getbool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = getenv("METRICS_ADDR", c.Metrics.Addr)
	c.Metrics.Path = getenv("METRICS_PATH", c.Metrics.Path)

	c.Invalidation.Enabled = getbool("INVALIDATION_ENABLED", c.Invalidation.Enabled)
	c.Invalidation.Topic = getenv("KAFKA_TOPIC", c.Invalidation.Topic)
	c.Invalidation.Brokers = getenv("KAFKA_BROKERS", c.Invalidation.Brokers)
	c.Invalidation.GroupID = getenv("KAFKA_GROUP_ID", c.Invalidation.GroupID)
}

// normalize gives URLPrefix a leading slash and no trailing one, and drops
// the trailing slash of ServerURL.
func (c *Config) normalize() {
	c.CacheDriver = strings.ToLower(strings.TrimSpace(c.CacheDriver))
	p := strings.Trim(strings.TrimSpace(c.URLPrefix), "/")
	if p != "" {
		p = "/" + p
	}
	c.URLPrefix = p
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (c Config) Validate() error {
	var errs []error
	switch c.CacheDriver {
	case "disk":
		if c.CacheDir == "" {
			errs = append(errs, errors.New("CACHE_DIR is required with the disk cache"))
		}
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required with the redis cache"))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("CACHE_DRIVER %q: want disk, redis or none", c.CacheDriver))
	}
	if c.Depth < 1 {
		errs = append(errs, fmt.Errorf("DEPTH must be positive (got %d)", c.Depth))
	}
	if c.PGPoolSize < 1 {
		errs = append(errs, fmt.Errorf("PG_POOL_SIZE must be positive (got %d)", c.PGPoolSize))
	}
	if c.Depth > lod.MidocLimit+1 {
		errs = append(errs, fmt.Errorf("DEPTH must be at most %d (got %d)", lod.MidocLimit+1, c.Depth))
	}
	// 0 is a valid maximum: only the root level is served.
	if c.ThreeDTilesLODMax < 0 || c.ThreeDTilesLODMax > lod.MidocLimit {
		errs = append(errs, fmt.Errorf("THREEDTILES_LOD_MAX must be in [0,%d] (got %d)", lod.MidocLimit, c.ThreeDTilesLODMax))
	}
	if c.ITowns.LODMax < 0 || c.ITowns.LODMax > lod.AdaptiveLimit {
		errs = append(errs, fmt.Errorf("ITOWNS_LOD_MAX must be in [0,%d] (got %d)", lod.AdaptiveLimit, c.ITowns.LODMax))
	}
	if c.ITowns.HRCDepth < 0 {
		errs = append(errs, fmt.Errorf("ITOWNS_HRC_DEPTH must not be negative (got %d)", c.ITowns.HRCDepth))
	}
	if c.SmallLeaf < 0 || c.GreyhoundSmallLeaf < 0 {
		errs = append(errs, errors.New("small leaf thresholds must not be negative"))
	}
	if c.Invalidation.Enabled && strings.TrimSpace(c.Invalidation.Brokers) == "" {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when invalidation is enabled"))
	}
	return errors.Join(errs...)
}

// BrokerList splits the comma separated broker list.
func (c InvalidationCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
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

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
