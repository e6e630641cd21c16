// Package worker runs the maintenance side of the system: an asynq
// consumer for the scheduled purge and sweep tasks, plus the scheduler
// that emits them. The actual per-image work stays in internal/engine;
// the worker only decides when it runs and reports how it went.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/githuba42r/ImageTools-sub000/internal/config"
	"github.com/githuba42r/ImageTools-sub000/internal/queue"
)

// maintenanceEngine is the slice of the engine the worker consumes.
type maintenanceEngine interface {
	PurgeExpired(ctx context.Context) ([]string, error)
	SweepOrphans(ctx context.Context) (int, error)
}

type Server struct {
	log       *slog.Logger
	server    *asynq.Server
	scheduler *asynq.Scheduler
	engine    maintenanceEngine
	metrics   *metrics
	tracer    trace.Tracer
}

func NewServer(
	log *slog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	eng maintenanceEngine,
	registry *prometheus.Registry,
) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("maintenance engine is required")
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	scheduler, err := queue.NewScheduler(
		queueCfg.RedisClientOpt(),
		queueCfg.Name,
		workerCfg.PurgeCron,
		workerCfg.SweepEvery,
	)
	if err != nil {
		return nil, fmt.Errorf("build maintenance scheduler: %w", err)
	}

	s := &Server{
		log: log,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				Logger:   asynqLogger{log: log},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					log.Error("maintenance task failed",
						"type", task.Type(),
						"retry", fmt.Sprintf("%d/%d", retried, maxRetry),
						"error", err,
					)
				}),
			},
		),
		scheduler: scheduler,
		engine:    eng,
		metrics:   newMetrics(registry),
		tracer:    otel.Tracer("imagetools-worker"),
	}
	return s, nil
}

// Run blocks consuming maintenance tasks until the process receives
// SIGTERM or SIGINT, which asynq translates into a graceful drain.
func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypePurgeExpired, s.handlePurgeExpired)
	mux.HandleFunc(queue.TypeSweepOrphans, s.handleSweepOrphans)

	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer s.scheduler.Shutdown()

	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handlePurgeExpired(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseMaintenancePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.purge_expired", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("task.trigger", payload.Trigger))
	defer span.End()

	start := time.Now()
	purged, err := s.engine.PurgeExpired(ctx)
	s.observe(queue.TypePurgeExpired, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purge failed")
		return fmt.Errorf("purge expired images: %w", err)
	}

	s.metrics.imagesPurged.Add(float64(len(purged)))
	s.log.Info("expired images purged",
		"count", len(purged),
		"trigger", payload.Trigger,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	span.SetStatus(codes.Ok, "purged")
	return nil
}

func (s *Server) handleSweepOrphans(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseMaintenancePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.sweep_orphans", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("task.trigger", payload.Trigger))
	defer span.End()

	start := time.Now()
	removed, err := s.engine.SweepOrphans(ctx)
	s.observe(queue.TypeSweepOrphans, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		return fmt.Errorf("sweep orphaned blobs: %w", err)
	}

	s.metrics.blobsSwept.Add(float64(removed))
	s.log.Info("orphaned blobs swept",
		"removed", removed,
		"trigger", payload.Trigger,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	span.SetStatus(codes.Ok, "swept")
	return nil
}

func (s *Server) observe(task string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.runsTotal.WithLabelValues(task, status).Inc()
	s.metrics.runDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
}

// asynqLogger adapts slog to asynq's logger interface so queue
// internals log in the same shape as everything else.
type asynqLogger struct {
	log *slog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) {
	l.log.Error(fmt.Sprint(args...))
}
