package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns.
type Config struct {
	Port        int
	Environment string

	DatabaseURL      string
	DatabaseMaxConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GCPProject        string
	PubSubTopicPrefix string
	DocumentBucket    string

	EmbeddingDimensions int
	VertexAILocation    string
	VertexAIModel       string

	// Investigation pipeline tuning, per spec.md §6.
	InvestigationTimeout          time.Duration
	InvestigationParallelism      int
	RetrieverLimit                int
	RetrieverSoftLimitMultiplier  float64
	RetrieverScoreThreshold       *float64
	RetrieverDistanceMetric       string
	RetrieverAggregationMethod    string
	CandidateScoreThreshold       float64
	CacheTTL                      time.Duration
	SecondPassDampening           float64
	TopKMeanK                     int
	WatchdogPeriod                time.Duration
}

// Load reads configuration from environment variables. Required variables
// (DATABASE_URL, GOOGLE_CLOUD_PROJECT) cause an error if missing. Optional
// variables use sensible defaults drawn from spec.md §6/§9.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	gcpProject := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if gcpProject == "" {
		return nil, fmt.Errorf("config.Load: GOOGLE_CLOUD_PROJECT is required")
	}

	var scoreThreshold *float64
	if v := os.Getenv("RETRIEVER_SCORE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config.Load: RETRIEVER_SCORE_THRESHOLD: %w", err)
		}
		scoreThreshold = &f
	}

	cfg := &Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "development"),

		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		RedisAddr:     envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		GCPProject:        gcpProject,
		PubSubTopicPrefix: envStr("PUBSUB_TOPIC_PREFIX", ""),
		DocumentBucket:    envStr("DOCUMENT_BUCKET", ""),

		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 1024),
		VertexAILocation:    envStr("VERTEX_AI_LOCATION", "us-central1"),
		VertexAIModel:       envStr("VERTEX_AI_EMBEDDING_MODEL", "text-embedding-004"),

		InvestigationTimeout:         envSeconds("INVESTIGATION_TIMEOUT", 900*time.Second),
		InvestigationParallelism:     envInt("INVESTIGATION_PARALLELISM", 4),
		RetrieverLimit:               envInt("RETRIEVER_LIMIT", 10),
		RetrieverSoftLimitMultiplier: envFloat("RETRIEVER_SOFT_LIMIT_MULTIPLIER", 3.0),
		RetrieverScoreThreshold:      scoreThreshold,
		RetrieverDistanceMetric:      envStr("RETRIEVER_DISTANCE_METRIC", "cosine"),
		RetrieverAggregationMethod:   envStr("RETRIEVER_AGGREGATION_METHOD", "mean"),
		CandidateScoreThreshold:      envFloat("CANDIDATE_SCORE_THRESHOLD", 0.2),
		CacheTTL:                     envSeconds("CACHE_TTL", 3600*time.Second),
		SecondPassDampening:          envFloat("SECOND_PASS_DAMPENING", 0.55),
		TopKMeanK:                    envInt("TOP_K_MEAN_K", 3),
		WatchdogPeriod:               envSeconds("WATCHDOG_PERIOD", 60*time.Second),
	}

	if cfg.InvestigationParallelism < 1 {
		return nil, fmt.Errorf("config.Load: INVESTIGATION_PARALLELISM must be >= 1")
	}
	if cfg.RetrieverSoftLimitMultiplier < 1 {
		return nil, fmt.Errorf("config.Load: RETRIEVER_SOFT_LIMIT_MULTIPLIER must be >= 1")
	}
	if cfg.CandidateScoreThreshold < 0 || cfg.CandidateScoreThreshold >= 1 {
		return nil, fmt.Errorf("config.Load: CANDIDATE_SCORE_THRESHOLD must be in [0,1)")
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
