package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/githuba42r/ImageTools-sub000/internal/api"
	"github.com/githuba42r/ImageTools-sub000/internal/codec"
	"github.com/githuba42r/ImageTools-sub000/internal/compress"
	"github.com/githuba42r/ImageTools-sub000/internal/config"
	"github.com/githuba42r/ImageTools-sub000/internal/engine"
	"github.com/githuba42r/ImageTools-sub000/internal/history"
	"github.com/githuba42r/ImageTools-sub000/internal/logging"
	"github.com/githuba42r/ImageTools-sub000/internal/ratelimit"
	"github.com/githuba42r/ImageTools-sub000/internal/storage"
	"github.com/githuba42r/ImageTools-sub000/internal/store"
	"github.com/githuba42r/ImageTools-sub000/internal/telemetry"
	"github.com/githuba42r/ImageTools-sub000/internal/thumbnail"
	"github.com/githuba42r/ImageTools-sub000/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  "imagetools-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		Insecure:     cfg.Tracing.Insecure,
	}, log)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer flushTracing(shutdownTracing, log)

	if err := codec.Startup(); err != nil {
		return fmt.Errorf("start codec: %w", err)
	}
	defer codec.Shutdown()
	cdc := codec.New()

	meta, err := openImageStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer meta.Close()

	blobs, err := openBlobStore(ctx, cfg.Blob)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()

	var (
		events   engine.EventSink
		notifier *webhook.Notifier
	)
	if cfg.Webhook.Endpoint != "" {
		notifier = webhook.NewNotifier(
			webhook.NewClient(webhook.Config{SigningSecret: cfg.Webhook.Secret}),
			cfg.Webhook.Endpoint,
			log,
		)
		events = notifier
	}

	eng, err := engine.New(engine.Config{
		History: history.New(meta, blobs, cfg.Engine.HistoryDepth, log),
		Codec:   cdc,
		Search: compress.New(cdc, compress.Options{
			QualityFloor:    cfg.Search.QualityFloor,
			QualityCeiling:  cfg.Search.QualityCeiling,
			MaxIterations:   cfg.Search.MaxIterations,
			DownscaleRounds: cfg.Search.DownscaleRounds,
			DownscaleFactor: cfg.Search.DownscaleFactor,
		}),
		Thumbnails:   thumbnail.New(cdc, cfg.Thumbnail.Size, cfg.Thumbnail.Quality),
		Presets:      cfg.Presets,
		LockWait:     cfg.Engine.LockWait,
		MaxDimension: cfg.Engine.MaxDimension,
		ImageTTL:     cfg.Engine.ImageTTL,
		OrphanGrace:  cfg.Worker.OrphanGrace,
		Metrics:      engine.NewMetrics(registry),
		Events:       events,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	pingers := map[string]func(context.Context) error{
		"meta":  meta.Ping,
		"blobs": blobs.Ping,
	}

	var limiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer rdb.Close()

		bucket, err := ratelimit.NewRedisTokenBucket(rdb, cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec, "")
		if err != nil {
			return fmt.Errorf("build rate limiter: %w", err)
		}
		limiter = bucket
		pingers["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	srv := api.NewServer(log, eng, api.Config{
		MaxUploadBytes: cfg.Engine.MaxUploadBytes,
		Registry:       registry,
		Limiter:        limiter,
		Pingers:        pingers,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening",
			"addr", cfg.API.Addr,
			"store", cfg.Store.Backend,
			"blobs", cfg.Blob.Backend,
		)
		errCh <- srv.Start(cfg.API.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
	}
	if notifier != nil {
		notifier.Drain(shutdownCtx)
	}
	return nil
}

func openImageStore(ctx context.Context, cfg config.StoreConfig) (store.ImageStore, error) {
	switch cfg.Backend {
	case config.StorePostgres:
		pg, err := store.NewPostgresImageStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return pg, nil
	default:
		return store.NewMemoryImageStore(), nil
	}
}

func openBlobStore(ctx context.Context, cfg config.BlobConfig) (storage.BlobStore, error) {
	switch cfg.Backend {
	case config.BlobsMinio:
		ms, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			UseSSL:   cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		if err := ms.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		return ms, nil
	default:
		return storage.NewLocalStore(cfg.DataDir)
	}
}

func flushTracing(shutdown func(context.Context) error, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn("tracing shutdown failed", "error", err)
	}
}
