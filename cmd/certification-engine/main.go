// cmd/certification-engine/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gacp-engine/internal/audit"
	"gacp-engine/internal/batch"
	"gacp-engine/internal/common/aws"
	"gacp-engine/internal/common/config"
	"gacp-engine/internal/common/database"
	"gacp-engine/internal/common/logger"
	"gacp-engine/internal/common/observability"
	"gacp-engine/internal/idempotency"
	"gacp-engine/internal/notify"
	"gacp-engine/internal/payments"
	"gacp-engine/internal/server"
	"gacp-engine/internal/storage"
	"gacp-engine/internal/workflow"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting certification engine...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name, cfg.App.JaegerEndpoint)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch (optional, anomaly archive only) ---
	var anomalyRecorder payments.AnomalyRecorder = payments.NewLogAnomalyRecorder(log)
	if len(cfg.Database.Elasticsearch.Addresses) > 0 {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		anomalyRecorder = payments.NewESAnomalyRecorder(esClient, cfg.Database.Elasticsearch.AnomalyIndex, log)
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Init event publisher ---
	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.Events.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Events.SNS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		notifier = notify.NewSNSNotifier(snsClient, cfg.Events.SNS.TopicARN, log)
		zapLog.Info("SNS event publisher initialized")
	}

	// --- Load checklist templates ---
	registry, err := audit.NewRegistry(log)
	if err != nil {
		zapLog.Fatal("template registry failed", zap.Error(err))
	}
	if err := registry.LoadDir(cfg.Audit.TemplateDir); err != nil {
		zapLog.Fatal("loading checklist templates failed", zap.Error(err))
	}
	scorer := audit.NewScoringEngine(registry, log)

	// --- Assemble the engine ---
	store := storage.NewPostgresStore(pg.DB)
	gate := workflow.NewPhaseGate(cfg.Workflow)
	engine := workflow.NewEngine(store, gate, scorer, notifier, log,
		workflow.WithTracer(obs.Tracer()),
		workflow.WithRecorder(obs))
	splitter := batch.NewSplitter(store, engine, gate, log)

	idemStore := idempotency.NewRedisStore(rdb.Client)
	guard := idempotency.NewGuard(idemStore, cfg.Idempotency.TTL(), log)

	reconciler := payments.NewReconciler(store, engine, rdb.Client, anomalyRecorder,
		cfg.Payments.SignSecret, cfg.Payments.DedupTTL(), log)

	// --- Background sweep ---
	sweeper := workflow.NewSweeper(engine, store, idemStore, cfg.Workflow.SweepInterval(), log)
	go sweeper.Run(ctx)

	// --- API server ---
	api := server.New(engine, splitter, guard, reconciler, log)
	apiSrv := &http.Server{Addr: cfg.App.ListenAddr, Handler: api.Handler()}
	go func() {
		zapLog.Info("api server listening", zap.String("addr", cfg.App.ListenAddr))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("api server failed", zap.Error(err))
		}
	}()

	// --- Metrics and health endpoint ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		if err := pg.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["postgres"] = err.Error()
		}
		if err := rdb.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["redis"] = err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		if status["status"] != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})

	metricsSrv := &http.Server{Addr: cfg.App.MetricsAddr, Handler: mux}
	go func() {
		zapLog.Info("metrics server listening", zap.String("addr", cfg.App.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("metrics server failed", zap.Error(err))
		}
	}()

	zapLog.Info("Certification engine started")

	<-ctx.Done()
	zapLog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("api server shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("metrics server shutdown failed", zap.Error(err))
	}
	zapLog.Info("Shutdown complete")
}
