package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kjannette/p2p-ledger/internal/cache"
	"github.com/kjannette/p2p-ledger/internal/config"
	"github.com/kjannette/p2p-ledger/internal/db"
	"github.com/kjannette/p2p-ledger/internal/external"
	"github.com/kjannette/p2p-ledger/internal/ledger"
	"github.com/kjannette/p2p-ledger/internal/logger"
	"github.com/kjannette/p2p-ledger/internal/rates"
	"github.com/kjannette/p2p-ledger/internal/repository"
)

func setup(needBot bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(needBot); err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}
	return cfg, log, nil
}

// openLedger connects the configured backend. The returned func releases it.
func openLedger(ctx context.Context, cfg *config.Config, log *zap.Logger) (ledger.Store, func(), error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		log.Info("connecting to postgres",
			zap.String("host", cfg.DBHost), zap.Int("port", cfg.DBPort), zap.String("db", cfg.DBName))
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := db.TestConnection(ctx, pool, log); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewPostgresLedger(pool), func() {
			pool.Close()
			log.Info("postgres pool closed")
		}, nil

	case config.BackendSQLite:
		l, err := repository.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("sqlite ledger opened", zap.String("path", cfg.SQLitePath))
		return l, func() { _ = l.Close() }, nil

	default:
		return repository.NewMemoryLedger(), func() {}, nil
	}
}

// openCache prefers Redis and falls back to process memory when it is
// missing or unreachable.
func openCache(ctx context.Context, cfg *config.Config, log *zap.Logger) (cache.Store, func()) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryStore(), func() {}
	}
	rs := cache.NewRedisStore(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rs.Ping(ctx); err != nil {
		log.Warn("redis unreachable, using in-memory rate cache", zap.Error(err))
		_ = rs.Close()
		return cache.NewMemoryStore(), func() {}
	}
	log.Info("redis rate cache connected", zap.String("addr", cfg.RedisAddr))
	return rs, func() { _ = rs.Close() }
}

func newResolver(cfg *config.Config, store cache.Store, log *zap.Logger) *rates.Resolver {
	p2p := external.NewP2PClient(external.P2POptions{
		Endpoint: cfg.RateP2PEndpoint,
		Asset:    cfg.RateAsset,
		Offers:   cfg.RateOffers,
	}, log)
	return rates.NewResolver(store, log, rates.Options{
		Timeout:       cfg.RateTimeout,
		CacheTTL:      cfg.RateCacheTTL,
		DefaultUSDRUB: cfg.RateDefaultUSDRUB,
	}, p2p, external.NewCoinGeckoClient(log))
}
