package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/docroute/internal/cache"
	"github.com/connexus-ai/docroute/internal/config"
	"github.com/connexus-ai/docroute/internal/handler"
	"github.com/connexus-ai/docroute/internal/metrics"
	"github.com/connexus-ai/docroute/internal/middleware"
	"github.com/connexus-ai/docroute/internal/objectstore"
	"github.com/connexus-ai/docroute/internal/queue"
	"github.com/connexus-ai/docroute/internal/repository"
	"github.com/connexus-ai/docroute/internal/router"
	"github.com/connexus-ai/docroute/internal/service"
	"github.com/connexus-ai/docroute/internal/vectorprovider"
	"github.com/connexus-ai/docroute/internal/watchdog"
)

const Version = "0.1.0"

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	vertexEmbedder, err := vectorprovider.NewVertexAI(ctx, cfg.GCPProject, cfg.VertexAILocation, cfg.VertexAIModel)
	if err != nil {
		return fmt.Errorf("connect vertex ai: %w", err)
	}
	defer vertexEmbedder.Close()

	embeddingCache := cache.New(redisClient, cfg.CacheTTL)

	// Object storage is the out-of-scope document-admission collaborator
	// (spec.md §1 Non-goals): the routing engine only reads chunks/routes
	// already admitted elsewhere, but still constructs and health-manages
	// the client it shares with that collaborator's deployment.
	if cfg.DocumentBucket != "" {
		gcs, err := objectstore.NewGCS(ctx, cfg.DocumentBucket)
		if err != nil {
			return fmt.Errorf("connect object storage: %w", err)
		}
		defer gcs.Close()
	}

	psClient, err := pubsub.NewClient(ctx, cfg.GCPProject)
	if err != nil {
		return fmt.Errorf("connect pubsub: %w", err)
	}
	defer psClient.Close()

	investigationsTopicName := cfg.PubSubTopicPrefix + "investigations"
	deadLetterTopicName := cfg.PubSubTopicPrefix + "documents.failed"

	sub := psClient.Subscription(investigationsTopicName + "-sub")
	deadLetterTopic := psClient.Topic(deadLetterTopicName)
	defer deadLetterTopic.Stop()

	// Repositories
	chunkRepo := repository.NewChunkRepo(pool)
	documentRepo := repository.NewDocumentRepo(pool)
	routeRepo := repository.NewRouteRepo(pool)
	forwardedRepo := repository.NewForwardedRepo(pool)
	agentRepo := repository.NewAgentRepo(pool)

	// Investigation pipeline
	retriever := service.NewRetriever(chunkRepo, documentRepo).WithRevalidation(embeddingCache, vertexEmbedder)
	evaluator := service.NewCandidateEvaluator(forwardedRepo)
	investigatorCfg := service.InvestigatorConfig{
		Limit:                   cfg.RetrieverLimit,
		SoftLimitMultiplier:     cfg.RetrieverSoftLimitMultiplier,
		Metric:                  service.DistanceMetric(cfg.RetrieverDistanceMetric),
		Aggregation:             service.AggregationMethod(cfg.RetrieverAggregationMethod),
		ScoreThreshold:          cfg.RetrieverScoreThreshold,
		CandidateScoreThreshold: cfg.CandidateScoreThreshold,
		SecondPassDampening:     cfg.SecondPassDampening,
		TopKMeanK:               cfg.TopKMeanK,
	}
	investigator := service.NewInvestigator(routeRepo, forwardedRepo, agentRepo, retriever, evaluator, investigatorCfg)

	// Metrics
	reg := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics(reg)
	pipelineMetrics := metrics.NewPipeline(reg)

	// InvestigationConsumer
	consumer := queue.NewConsumer(sub, deadLetterTopic, investigator, cfg.InvestigationParallelism, pipelineMetrics)
	consumerErrCh := make(chan error, 1)
	go func() {
		if err := consumer.Run(ctx); err != nil {
			consumerErrCh <- fmt.Errorf("investigation consumer: %w", err)
			return
		}
		close(consumerErrCh)
	}()

	// StaleWatchdog
	sw := watchdog.New(routeRepo, cfg.WatchdogPeriod, cfg.InvestigationTimeout, pipelineMetrics)
	go sw.Run(ctx)

	// Admin/health HTTP surface
	deps := &router.Dependencies{
		DB:                 pool,
		Version:            Version,
		Metrics:            httpMetrics,
		MetricsReg:         reg,
		InternalAuthSecret: os.Getenv("INTERNAL_AUTH_SECRET"),
		AdminMigrateDeps: handler.AdminMigrateDeps{
			RunSQL: func(ctx context.Context, sql string) error {
				_, err := pool.Exec(ctx, sql)
				return err
			},
		},
		InvestigateDeps: handler.InvestigateDeps{Investigator: investigator},
		ForwardedDeps:   handler.ForwardedDeps{Forwarded: forwardedRepo},
	}
	r := router.New(deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	srvErrCh := make(chan error, 1)
	go func() {
		slog.Info("docroute starting", "version", Version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErrCh <- err
		}
		close(srvErrCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-srvErrCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case err := <-consumerErrCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("docroute stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
