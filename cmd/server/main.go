// Command server runs the hostscope HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/hostscope/internal/api"
	"github.com/jmerrifield20/hostscope/internal/config"
	"github.com/jmerrifield20/hostscope/internal/dataset"
	"github.com/jmerrifield20/hostscope/internal/loader"
	"github.com/jmerrifield20/hostscope/internal/prompt"
	"github.com/jmerrifield20/hostscope/internal/selection"
	"github.com/jmerrifield20/hostscope/internal/store"
	"github.com/jmerrifield20/hostscope/internal/summarize"
)

// bodyLimit leaves room for multipart framing around a maximum-size upload.
const bodyLimit = dataset.MaxUploadBytes + 1<<20

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, found, err := config.FromEnvironment()
	if err != nil {
		return err
	}
	if !found {
		logger.Warn("no config file found, using defaults and env vars")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Core ──────────────────────────────────────────────────────────────────
	sample := loader.New(cfg.SamplePath, loader.NewCache(), logger)
	if _, err := sample.State(ctx); err != nil {
		return fmt.Errorf("load sample dataset: %w", err)
	}

	datasets := store.New(store.Config{})
	datasets.SetSizeRecorder(api.SetDatasetsStored)

	engine := summarize.NewEngine(summarize.NewProvider(cfg.LLM, logger), cfg.LLM, logger)
	engine.SetMetricsRecorder(api.RecordSummary)
	if cfg.LLM.APIKey == "" {
		logger.Warn("LLM_API_KEY not set; summaries will use the deterministic fallback")
	}

	h := api.NewHandler(
		selection.NewAction(sample, datasets, logger),
		selection.NewResolver(sample, datasets),
		engine,
		logger,
	)
	h.SetConcurrency(cfg.Server.SummaryConcurrency)
	h.SetSummaryCacheTTL(cfg.Server.SummaryCacheTTL)
	h.SetPromptOptions(prompt.Options{MaxTokens: cfg.LLM.MaxTokens})

	// ── Router ────────────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := cfg.Server.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Location", "X-Summary-Cache"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(api.SecurityHeaders())
	router.Use(api.BodyLimit(bodyLimit))

	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(api.RateLimiter(ctx, rps, rps*2))
	}

	router.Use(api.PrometheusMiddleware())
	router.Use(api.RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "datasets": datasets.Len()})
	})
	router.GET("/metrics", api.MetricsHandler())

	v1 := router.Group("/api/v1")
	h.Register(v1)

	// ── Serve ─────────────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hostscope HTTP listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("model", cfg.LLM.Model),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down hostscope...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("hostscope stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
