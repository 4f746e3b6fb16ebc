package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/formexport/internal/blob"
	"github.com/JonMunkholm/formexport/internal/config"
	"github.com/JonMunkholm/formexport/internal/core"
	"github.com/JonMunkholm/formexport/internal/events"
	"github.com/JonMunkholm/formexport/internal/store"
)

// closers runs cleanup functions in reverse order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return pool, nil
}

func openBlobs(ctx context.Context, cfg config.StorageConfig) (blob.Store, func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case "fs":
		fs, err := blob.NewFS(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	case "gridfs":
		g, err := blob.NewGridFS(ctx, blob.GridFSConfig{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
			Bucket:   cfg.Bucket,
		})
		if err != nil {
			return nil, nil, err
		}
		return g, func() {
			if err := g.Close(context.Background()); err != nil {
				slog.Warn("close gridfs", "error", err)
			}
		}, nil
	case "memory":
		slog.Warn("using in-memory blob storage; exports are lost on restart")
		return blob.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// openEvents publishes to Redis when configured and to the log otherwise.
func openEvents(ctx context.Context, cfg config.EventsConfig) (events.Publisher, func(), error) {
	if cfg.RedisAddr == "" {
		return events.NewLog(nil), func() {}, nil
	}
	r, err := events.NewRedis(ctx, events.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Stream:   cfg.Stream,
		MaxLen:   cfg.MaxLen,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, func() {
		if err := r.Close(); err != nil {
			slog.Warn("close redis", "error", err)
		}
	}, nil
}

// runtime is a service with its backing connections.
type runtime struct {
	pool    *pgxpool.Pool
	service *core.Service
	closers closers
}

// openRuntime connects everything the service needs. Close must be called
// even when an error is returned.
func openRuntime(ctx context.Context, cfg *config.Config, opts ...core.Option) (*runtime, error) {
	rt := &runtime{}

	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return rt, err
	}
	rt.pool = pool
	rt.closers.add(pool.Close)

	blobs, closeBlobs, err := openBlobs(ctx, cfg.Storage)
	if err != nil {
		return rt, err
	}
	rt.closers.add(closeBlobs)

	publisher, closeEvents, err := openEvents(ctx, cfg.Events)
	if err != nil {
		return rt, err
	}
	rt.closers.add(closeEvents)

	opts = append([]core.Option{core.WithEvents(publisher)}, opts...)
	rt.service = core.NewService(store.New(pool), blobs, opts...)
	return rt, nil
}

func (rt *runtime) Close() {
	rt.closers.close()
}
