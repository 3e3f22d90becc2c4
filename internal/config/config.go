// Package config loads process settings from the environment.
//
// Values that differ per deployment (addresses, DSNs) have no default only
// when there is no sensible local one; everything else defaults to what a
// single-node development setup needs.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/unkn0wn-root/stampede"
)

type Config struct {
	Redis   RedisConfig
	DB      DBConfig
	Log     LogConfig
	Cache   CacheConfig
	Seckill SeckillConfig
	Metrics MetricsConfig
}

type RedisConfig struct {
	Addrs    []string `envconfig:"REDIS_ADDRS" default:"localhost:6379"`
	Password string   `envconfig:"REDIS_PASSWORD"`
	DB       int      `envconfig:"REDIS_DB" default:"0"`
}

type DBConfig struct {
	Driver      string `envconfig:"DB_DRIVER" default:"sqlite"` // sqlite | postgres
	DSN         string `envconfig:"DB_DSN" default:"stampede.db"`
	AutoMigrate bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

type LogConfig struct {
	Backend string `envconfig:"LOG_BACKEND" default:"zap"` // zap | logrus | zerolog | slog
	Level   string `envconfig:"LOG_LEVEL" default:"info"`
	Format  string `envconfig:"LOG_FORMAT" default:"json"` // json | console
}

type CacheConfig struct {
	// Provider backs the shop cache: redis shares entries across replicas,
	// ristretto and bigcache keep them in-process.
	Provider       string        `envconfig:"CACHE_PROVIDER" default:"redis"`
	Strategy       string        `envconfig:"CACHE_STRATEGY" default:"mutex"`
	Codec          string        `envconfig:"CACHE_CODEC" default:"json"`        // json | msgpack | cbor
	Hooks          string        `envconfig:"CACHE_HOOKS" default:"prometheus"` // prometheus | slog | both
	TTL            time.Duration `envconfig:"CACHE_TTL" default:"30m"`
	TTLJitter      float64       `envconfig:"CACHE_TTL_JITTER" default:"0.1"`
	NullTTL        time.Duration `envconfig:"CACHE_NULL_TTL" default:"2m"`
	LockTTL        time.Duration `envconfig:"CACHE_LOCK_TTL" default:"10s"`
	LogicalTTL     time.Duration `envconfig:"CACHE_LOGICAL_TTL" default:"20m"`
	RetryDelay     time.Duration `envconfig:"CACHE_RETRY_DELAY" default:"50ms"`
	MaxAttempts    int           `envconfig:"CACHE_MAX_ATTEMPTS" default:"40"`
	RebuildWorkers int           `envconfig:"CACHE_REBUILD_WORKERS" default:"10"`
	RebuildQueue   int           `envconfig:"CACHE_REBUILD_QUEUE" default:"1024"`
	LocalMaxBytes  int64         `envconfig:"CACHE_LOCAL_MAX_BYTES" default:"67108864"`
	Breaker        bool          `envconfig:"CACHE_BREAKER" default:"true"`
	PreheatIDs     []int64       `envconfig:"CACHE_PREHEAT_IDS"`
}

type SeckillConfig struct {
	Stream      string        `envconfig:"SECKILL_STREAM" default:"stream.orders"`
	Group       string        `envconfig:"SECKILL_GROUP" default:"g1"`
	Consumer    string        `envconfig:"SECKILL_CONSUMER"` // empty => hostname
	Block       time.Duration `envconfig:"SECKILL_BLOCK" default:"2s"`
	Backoff     time.Duration `envconfig:"SECKILL_BACKOFF" default:"20ms"`
	MaxBackoff  time.Duration `envconfig:"SECKILL_MAX_BACKOFF" default:"2s"`
	LockTTL     time.Duration `envconfig:"SECKILL_LOCK_TTL" default:"10s"`
	ClaimIdle   time.Duration `envconfig:"SECKILL_CLAIM_IDLE" default:"1m"`
	IDRetention time.Duration `envconfig:"SECKILL_ID_RETENTION" default:"48h"`
}

type MetricsConfig struct {
	Addr string `envconfig:"METRICS_ADDR" default:":9090"` // empty disables the endpoint
}

var (
	validDrivers   = map[string]bool{"sqlite": true, "postgres": true}
	validProviders = map[string]bool{"redis": true, "ristretto": true, "bigcache": true}
	validBackends  = map[string]bool{"zap": true, "logrus": true, "zerolog": true, "slog": true}
	validCodecs    = map[string]bool{"json": true, "msgpack": true, "cbor": true}
	validHooks     = map[string]bool{"prometheus": true, "slog": true, "both": true}
)

// Load reads a .env file from the working directory if present, then the
// environment. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "config: read .env")
	}
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: process env")
	}
	if cfg.Seckill.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "stampede"
		}
		cfg.Seckill.Consumer = host
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Redis.Addrs) == 0 {
		return errors.New("config: REDIS_ADDRS is empty")
	}
	if !validDrivers[c.DB.Driver] {
		return errors.Newf("config: unknown DB_DRIVER %q", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return errors.New("config: DB_DSN is empty")
	}
	if !validBackends[c.Log.Backend] {
		return errors.Newf("config: unknown LOG_BACKEND %q", c.Log.Backend)
	}
	if !validProviders[c.Cache.Provider] {
		return errors.Newf("config: unknown CACHE_PROVIDER %q", c.Cache.Provider)
	}
	strategy, err := stampede.ParseStrategy(c.Cache.Strategy)
	if err != nil {
		return errors.Wrap(err, "config: CACHE_STRATEGY")
	}
	// bigcache evicts every entry after one LifeWindow, stale copies included
	if c.Cache.Provider == "bigcache" && strategy == stampede.LogicalExpire {
		return errors.New("config: CACHE_PROVIDER=bigcache cannot serve CACHE_STRATEGY=logical")
	}
	if !validCodecs[c.Cache.Codec] {
		return errors.Newf("config: unknown CACHE_CODEC %q", c.Cache.Codec)
	}
	if !validHooks[c.Cache.Hooks] {
		return errors.Newf("config: unknown CACHE_HOOKS %q", c.Cache.Hooks)
	}
	if c.Cache.TTLJitter < 0 || c.Cache.TTLJitter >= 1 {
		return errors.Newf("config: CACHE_TTL_JITTER %v outside [0, 1)", c.Cache.TTLJitter)
	}
	if c.Cache.RebuildWorkers <= 0 || c.Cache.RebuildQueue < 0 {
		return errors.New("config: rebuild pool needs at least one worker")
	}
	if c.Seckill.Stream == "" || c.Seckill.Group == "" {
		return errors.New("config: seckill stream and group are required")
	}
	return nil
}
