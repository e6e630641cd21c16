package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/githuba42r/ImageTools-sub000/internal/codec"
	"github.com/githuba42r/ImageTools-sub000/internal/compress"
	"github.com/githuba42r/ImageTools-sub000/internal/config"
	"github.com/githuba42r/ImageTools-sub000/internal/engine"
	"github.com/githuba42r/ImageTools-sub000/internal/history"
	"github.com/githuba42r/ImageTools-sub000/internal/logging"
	"github.com/githuba42r/ImageTools-sub000/internal/queue"
	"github.com/githuba42r/ImageTools-sub000/internal/storage"
	"github.com/githuba42r/ImageTools-sub000/internal/store"
	"github.com/githuba42r/ImageTools-sub000/internal/telemetry"
	"github.com/githuba42r/ImageTools-sub000/internal/thumbnail"
	"github.com/githuba42r/ImageTools-sub000/internal/webhook"
	"github.com/githuba42r/ImageTools-sub000/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  "imagetools-worker",
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
		History:      history.New(meta, blobs, cfg.Engine.HistoryDepth, log),
		Codec:        cdc,
		Search:       compress.New(cdc, compress.Options{}),
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

	srv, err := worker.NewServer(log, cfg.Queue, cfg.Worker, eng, registry)
	if err != nil {
		return err
	}

	// A sweep right at boot reconciles blob storage with metadata after
	// any crash, instead of waiting out the first scheduled interval.
	client := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	if _, err := client.EnqueueSweepOrphans(ctx, queue.TriggerStartup); err != nil {
		log.Warn("could not enqueue startup sweep", "error", err)
	}
	if err := client.Close(); err != nil {
		log.Warn("queue client close failed", "error", err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", srv.MetricsHandler())
	metricsSrv := &http.Server{
		Addr:        cfg.Worker.MetricsAddr,
		Handler:     metricsMux,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener failed", "addr", cfg.Worker.MetricsAddr, "error", err)
		}
	}()
	defer metricsSrv.Close()

	log.Info("worker starting",
		"concurrency", cfg.Worker.Concurrency,
		"queue", cfg.Queue.Name,
		"redis", cfg.Queue.RedisAddr,
		"purge_cron", cfg.Worker.PurgeCron,
		"sweep_every", cfg.Worker.SweepEvery,
	)

	if err := srv.Run(); err != nil {
		return fmt.Errorf("run worker: %w", err)
	}
	if notifier != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		notifier.Drain(drainCtx)
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
