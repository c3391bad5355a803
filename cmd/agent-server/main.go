// cmd/agent-server/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"analytics-agent/internal/agents/planner"
	"analytics-agent/internal/agents/understanding"
	"analytics-agent/internal/chart"
	"analytics-agent/internal/common/audit"
	"analytics-agent/internal/common/config"
	"analytics-agent/internal/common/database"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/common/observability"
	"analytics-agent/internal/executor"
	"analytics-agent/internal/llm"
	"analytics-agent/internal/models"
	"analytics-agent/internal/processor"
	"analytics-agent/internal/repository"
	"analytics-agent/internal/security"
	"analytics-agent/internal/store"
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
			delay *= 2 // Exponential backoff
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

	zapLog.Info("Starting analytics agent server...")

	obs := observability.New("agent-server")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Redis with retry ---
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry ---
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
	zapLog.Info("Elasticsearch connected successfully",
		zap.String("url", cfg.Database.Elasticsearch.GetURL()))

	// --- Audit sink ---
	var sink audit.Sink = audit.NopSink{}
	if cfg.Audit.Enabled {
		snsSink, err := audit.NewSNSSink(ctx, cfg.Audit, log)
		if err != nil {
			zapLog.Fatal("audit sink initialization failed", zap.Error(err))
		}
		sink = snsSink
		zapLog.Info("SNS audit sink initialized")
	}

	// --- Security pipeline ---
	registry, err := security.NewRegistry(log)
	if err != nil {
		zapLog.Fatal("template registry failed integrity verification", zap.Error(err))
	}
	validator, err := security.NewOutputValidator()
	if err != nil {
		zapLog.Fatal("output validator initialization failed", zap.Error(err))
	}
	sanitizer := security.NewSanitizer(cfg.Security.MaxInputLength, log, sink)
	leakage := security.NewLeakageScanner(log, sink)

	// --- Collaborators ---
	model := llm.NewOpenAIClient(cfg, log)
	contexts := store.NewContextStore(redisClient, config.GetDuration(cfg.Database.Redis.TTL*1000), log)
	analytics := repository.NewAnalyticsRepository(
		esClient.Client,
		cfg.Database.Elasticsearch.Index,
		config.GetDuration(cfg.Processor.StepTimeout),
		log,
	)

	var charts chart.Renderer
	if cfg.APIs.ChartRenderer.BaseURL != "" {
		charts = chart.NewClient(cfg.APIs.ChartRenderer.BaseURL, config.GetDuration(cfg.APIs.ChartRenderer.Timeout), log)
	}

	// --- Pipeline ---
	proc := processor.New(
		understanding.NewAgent(model, sanitizer, registry, validator, leakage, log),
		planner.NewAgent(model, registry, validator, leakage, cfg.Processor.MaxPlanSteps, log),
		executor.NewSimpleExecutor(analytics, charts, log),
		executor.NewComplexExecutor(analytics, charts, config.GetDuration(cfg.Processor.StepTimeout), log),
		contexts,
		model,
		registry,
		leakage,
		sink,
		cfg.Processor,
		log,
	)

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", queryHandler(proc, obs, log))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      mux,
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Analytics agent server stopped gracefully")
}

// queryRequest is the inbound payload. Identity arrives already resolved by
// the fronting gateway.
type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId"`
	OrgID     string `json:"orgId"`
}

func queryHandler(proc *processor.Processor, obs *observability.Observability, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Query == "" || req.OrgID == "" {
			http.Error(w, "query and orgId are required", http.StatusBadRequest)
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.New().String()
		}

		start := time.Now()
		resp := proc.Process(r.Context(), models.Query{
			RawText:   req.Query,
			SessionID: req.SessionID,
			OrgID:     req.OrgID,
			Timestamp: start.UTC(),
		})
		obs.RecordRequest(r.Context(), string(resp.State))
		obs.RecordRequestDuration(r.Context(), time.Since(start), string(resp.State))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.WithError(err).Error("Failed to encode response", nil)
		}
	}
}
