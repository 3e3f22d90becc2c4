package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/unkn0wn-root/stampede"
	"github.com/unkn0wn-root/stampede/codec"
	asynchook "github.com/unkn0wn-root/stampede/hooks/async"
	"github.com/unkn0wn-root/stampede/idgen"
	"github.com/unkn0wn-root/stampede/internal/config"
	"github.com/unkn0wn-root/stampede/lock"
	stlog "github.com/unkn0wn-root/stampede/log"
	logrusadapter "github.com/unkn0wn-root/stampede/log/logrus"
	slogadapter "github.com/unkn0wn-root/stampede/log/slog"
	zapadapter "github.com/unkn0wn-root/stampede/log/zap"
	zerologadapter "github.com/unkn0wn-root/stampede/log/zerolog"
	"github.com/unkn0wn-root/stampede/pool"
	"github.com/unkn0wn-root/stampede/promhooks"
	pr "github.com/unkn0wn-root/stampede/provider"
	"github.com/unkn0wn-root/stampede/provider/bigcache"
	"github.com/unkn0wn-root/stampede/provider/breaker"
	rp "github.com/unkn0wn-root/stampede/provider/redis"
	"github.com/unkn0wn-root/stampede/provider/ristretto"
	"github.com/unkn0wn-root/stampede/queue"
	"github.com/unkn0wn-root/stampede/seckill"
	"github.com/unkn0wn-root/stampede/shop"
	"github.com/unkn0wn-root/stampede/sloghooks"
	"github.com/unkn0wn-root/stampede/store"
)

var Module = fx.Options(
	fx.Module("config", fx.Provide(config.Load)),
	fx.Module("logger", fx.Provide(NewZap, NewSlog, NewLogger)),
	fx.Module("infra", fx.Provide(NewRedis, NewDB, NewStore, NewRegistry)),
	fx.Module("cache", fx.Provide(NewLocker, NewRebuildPool, NewHooks, NewProvider, NewShopCache, NewShopService)),
	fx.Module("seckill", fx.Provide(NewIDGenerator, NewSeckillService, NewQueue, NewFinalizer, NewWorker)),
)

func NewZap(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Log.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// NewSlog backs the slog log backend and the slog cache hooks.
func NewSlog(cfg config.Config) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.Log.Format == "console" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
}

// NewLogger picks the structured logger handed to the cache and services.
// fx lifecycle events always go through zap.
func NewLogger(cfg config.Config, zl *zap.Logger, sl *slog.Logger) (stlog.Logger, error) {
	switch cfg.Log.Backend {
	case "logrus":
		lvl, err := logrus.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(lvl)
		if cfg.Log.Format != "console" {
			l.SetFormatter(&logrus.JSONFormatter{})
		}
		return logrusadapter.New(l), nil
	case "zerolog":
		lvl, err := zerolog.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		var l zerolog.Logger
		if cfg.Log.Format == "console" {
			l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
		} else {
			l = zerolog.New(os.Stderr)
		}
		return zerologadapter.Logger{L: l.With().Timestamp().Logger().Level(lvl)}, nil
	case "slog":
		return slogadapter.Logger{L: sl}, nil
	case "zap", "":
		return zapadapter.New(zl), nil
	}
	return nil, fmt.Errorf("unknown log backend %q", cfg.Log.Backend)
}

func NewRedis(lc fx.Lifecycle, cfg config.Config) redis.UniversalClient {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		OnStop:  func(context.Context) error { return rdb.Close() },
	})
	return rdb
}

func NewDB(lc fx.Lifecycle, cfg config.Config) (*gorm.DB, error) {
	db, err := store.Open(cfg.DB.Driver, cfg.DB.DSN, nil)
	if err != nil {
		return nil, err
	}
	if cfg.DB.AutoMigrate {
		if err := store.AutoMigrate(db); err != nil {
			return nil, err
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return sqlDB.Close() }})
	return db, nil
}

func NewStore(db *gorm.DB) *store.Store { return store.New(db) }

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func NewLocker(rdb redis.UniversalClient, lg stlog.Logger) lock.Locker {
	return lock.NewRedis(rdb, lg)
}

func NewRebuildPool(lc fx.Lifecycle, cfg config.Config) *pool.Pool {
	p := pool.New(cfg.Cache.RebuildWorkers, cfg.Cache.RebuildQueue)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { p.Close(); return nil }})
	return p
}

func NewHooks(lc fx.Lifecycle, cfg config.Config, reg *prometheus.Registry, sl *slog.Logger) (stampede.Hooks, error) {
	var sinks []stampede.Hooks
	if cfg.Cache.Hooks == "prometheus" || cfg.Cache.Hooks == "both" {
		ph, err := promhooks.New(reg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ph)
	}
	if cfg.Cache.Hooks == "slog" || cfg.Cache.Hooks == "both" {
		sinks = append(sinks, sloghooks.New(sl, sloghooks.Options{
			SelfHealEvery:  100,
			ContendedEvery: 100,
		}))
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("unknown cache hooks %q", cfg.Cache.Hooks)
	}
	h := asynchook.New(stampede.MultiHooks(sinks...), 1, 4096)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { h.Close(); return nil }})
	return h, nil
}

func NewProvider(cfg config.Config, rdb redis.UniversalClient, reg *prometheus.Registry, lg stlog.Logger) (pr.Provider, error) {
	var (
		p   pr.Provider
		err error
	)
	switch cfg.Cache.Provider {
	case "ristretto":
		var local *ristretto.Provider
		local, err = ristretto.New(ristrettoConfig(cfg))
		if err == nil {
			p = local
			err = reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "stampede_local_cache_hit_ratio",
				Help: "Hit ratio of the in-process ristretto tier.",
			}, func() float64 { return local.Metrics().Ratio() }))
		}
	case "bigcache":
		p, err = bigcache.New(bigcacheConfig(cfg))
	default:
		p, err = rp.New(rp.Config{Client: rdb, Jitter: cfg.Cache.TTLJitter})
	}
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Breaker {
		p = breaker.New(p, breaker.Config{
			Name:    "shop-cache",
			Timeout: 5 * time.Second,
			Logger:  lg,
		})
	}
	return p, nil
}

func ristrettoConfig(cfg config.Config) ristretto.Config {
	return ristretto.Config{
		NumCounters: max(cfg.Cache.LocalMaxBytes/100, 1000),
		MaxCost:     cfg.Cache.LocalMaxBytes,
		BufferItems: 64,
		Metrics:     true,
		Synchronous: true,
	}
}

// bigcache evicts on one global window. It must outlive every entry the
// cache writes; the frame deadlines retire shorter-lived ones.
func bigcacheConfig(cfg config.Config) bigcache.Config {
	return bigcache.Config{
		LifeWindow:         max(cfg.Cache.TTL, cfg.Cache.NullTTL),
		HardMaxCacheSizeMB: int(cfg.Cache.LocalMaxBytes >> 20),
	}
}

func newShopCodec(name string) (codec.Codec[store.Shop], error) {
	switch name {
	case "msgpack":
		return codec.Msgpack[store.Shop]{}, nil
	case "cbor":
		c, err := codec.NewCBOR[store.Shop](false)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "json", "":
		return codec.JSON[store.Shop]{}, nil
	}
	return nil, fmt.Errorf("unknown cache codec %q", name)
}

type shopCacheParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Provider  pr.Provider
	Locker    lock.Locker
	Pool      *pool.Pool
	Hooks     stampede.Hooks
	Logger    stlog.Logger
	Store     *store.Store
}

func NewShopCache(p shopCacheParams) (stampede.Cache[store.Shop], error) {
	strategy, err := stampede.ParseStrategy(p.Config.Cache.Strategy)
	if err != nil {
		return nil, err
	}
	c := p.Config.Cache
	cdc, err := newShopCodec(c.Codec)
	if err != nil {
		return nil, err
	}
	cache, err := shop.NewCache(stampede.Options[store.Shop]{
		Provider:    p.Provider,
		Codec:       cdc,
		Locker:      p.Locker,
		Pool:        p.Pool,
		Strategy:    strategy,
		TTL:         c.TTL,
		NullTTL:     c.NullTTL,
		LockTTL:     c.LockTTL,
		LogicalTTL:  c.LogicalTTL,
		RetryDelay:  c.RetryDelay,
		MaxAttempts: c.MaxAttempts,
		Logger:      p.Logger,
		Hooks:       p.Hooks,
		ComputeSetCost: func(_ string, raw []byte) int64 {
			return int64(len(raw))
		},
	}, p.Store)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{OnStop: cache.Close})
	return cache, nil
}

func NewShopService(cache stampede.Cache[store.Shop], st *store.Store, lg stlog.Logger) *shop.Service {
	return shop.NewService(cache, st, lg)
}

func NewIDGenerator(cfg config.Config, rdb redis.UniversalClient) *idgen.Generator {
	return idgen.New(idgen.NewRedisCounter(rdb, cfg.Seckill.IDRetention))
}

func NewSeckillService(cfg config.Config, rdb redis.UniversalClient, ids *idgen.Generator, st *store.Store, lg stlog.Logger) *seckill.Service {
	return seckill.NewService(seckill.ServiceConfig{
		Client:   rdb,
		IDs:      ids,
		Vouchers: st,
		Stream:   cfg.Seckill.Stream,
		Logger:   lg,
	})
}

func NewQueue(cfg config.Config, rdb redis.UniversalClient, lg stlog.Logger) *queue.Stream {
	return queue.New(rdb, queue.Config{
		Stream:   cfg.Seckill.Stream,
		Group:    cfg.Seckill.Group,
		Consumer: cfg.Seckill.Consumer,
	}, lg)
}

func NewFinalizer(cfg config.Config, st *store.Store, locker lock.Locker, lg stlog.Logger) *seckill.Finalizer {
	return seckill.NewFinalizer(st, locker, cfg.Seckill.LockTTL, lg)
}

func NewWorker(cfg config.Config, q *queue.Stream, fin *seckill.Finalizer, lg stlog.Logger) *seckill.Worker {
	return seckill.NewWorker(q, fin, seckill.WorkerConfig{
		Block:      cfg.Seckill.Block,
		Backoff:    cfg.Seckill.Backoff,
		MaxBackoff: cfg.Seckill.MaxBackoff,
		ClaimIdle:  cfg.Seckill.ClaimIdle,
	}, lg)
}

func runWorker(lc fx.Lifecycle, w *seckill.Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				_ = w.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func preheat(lc fx.Lifecycle, cfg config.Config, svc *shop.Service, lg *zap.Logger) {
	if len(cfg.Cache.PreheatIDs) == 0 {
		return
	}
	lc.Append(fx.Hook{OnStart: func(ctx context.Context) error {
		// a cold cache is not fatal; misses fall through to the database
		if err := svc.Preheat(ctx, cfg.Cache.LogicalTTL, cfg.Cache.PreheatIDs...); err != nil {
			lg.Warn("shop preheat incomplete", zap.Error(err))
		}
		return nil
	}})
}

func serveMetrics(lc fx.Lifecycle, cfg config.Config, reg *prometheus.Registry, lg *zap.Logger) {
	if cfg.Metrics.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			lg.Info("metrics listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					lg.Error("metrics server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	})
}
