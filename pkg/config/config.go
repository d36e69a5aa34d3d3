// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Store, Index, Ingestion,
// Retrieval, Embedding, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "CRE_"

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Store     StoreConfig     `yaml:"store"`
	Index     IndexConfig     `yaml:"index"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables every Kafka integration.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// Enabled reports whether at least one broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ChunkIngest     string `yaml:"chunkIngest"`
	IndexComplete   string `yaml:"indexComplete"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// StoreConfig selects the chunk store backend.
type StoreConfig struct {
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlitePath"`
	AutoMigrate bool   `yaml:"autoMigrate"`
}

// IndexConfig selects the search index backend.
type IndexConfig struct {
	Backend        string `yaml:"backend"`
	SnippetChars   int    `yaml:"snippetChars"`
	RebuildOnStart bool   `yaml:"rebuildOnStart"`
	// BM25 parameters for the memory index.
	BM25K1 float64 `yaml:"bm25K1"`
	BM25B  float64 `yaml:"bm25B"`
}

// RetryConfig is the YAML form of resilience.RetryConfig.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// IngestionConfig controls chunking and write retries.
type IngestionConfig struct {
	MaxChunkChars int           `yaml:"maxChunkChars"`
	ChunkOverlap  int           `yaml:"chunkOverlap"`
	StoreRetry    RetryConfig   `yaml:"storeRetry"`
	IndexRetry    RetryConfig   `yaml:"indexRetry"`
	LockTTL       time.Duration `yaml:"lockTTL"`
	// RatePerMinute caps HTTP ingest calls per course; 0 disables the cap.
	RatePerMinute int           `yaml:"ratePerMinute"`
	RateBurst     int           `yaml:"rateBurst"`
}

// KindShare is one entry of the retrieval allocation policy. Order matters:
// the first entry is the primary kind and wins score ties.
type KindShare struct {
	Kind   string  `yaml:"kind" json:"kind"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// CircuitBreakerConfig is applied per kind in the retrieval fan-out.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// RetrievalConfig controls allocation, fan-out timeouts and the confidence
// heuristic.
type RetrievalConfig struct {
	DefaultLimit           int                  `yaml:"defaultLimit"`
	MaxLimit               int                  `yaml:"maxLimit"`
	Allocation             []KindShare          `yaml:"allocation"`
	LowConfidenceThreshold float64              `yaml:"lowConfidenceThreshold"`
	MinHits                int                  `yaml:"minHits"`
	SubQueryTimeout        time.Duration        `yaml:"subQueryTimeout"`
	Compensation           bool                 `yaml:"compensation"`
	CircuitBreaker         CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// EmbeddingConfig selects an optional embedding provider.
type EmbeddingConfig struct {
	Provider     string  `yaml:"provider"`
	Model        string  `yaml:"model"`
	APIKey       string  `yaml:"apiKey"`
	BaseURL      string  `yaml:"baseURL"`
	Dimension    int     `yaml:"dimension"`
	VectorWeight float64 `yaml:"vectorWeight"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "courseretrieval",
			User:            "courseretrieval",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "course-retrieval",
			Topics: KafkaTopics{
				ChunkIngest:     "chunk-ingest",
				IndexComplete:   "index.complete",
				AnalyticsEvents: "retrieval-analytics",
			},
		},
		Redis: RedisConfig{
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Store: StoreConfig{
			Backend:     "sqlite",
			SQLitePath:  "data/chunks.db",
			AutoMigrate: true,
		},
		Index: IndexConfig{
			Backend:        "memory",
			SnippetChars:   240,
			RebuildOnStart: true,
			BM25K1:         1.2,
			BM25B:          0.75,
		},
		Ingestion: IngestionConfig{
			MaxChunkChars: 1500,
			ChunkOverlap:  150,
			StoreRetry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     2 * time.Second,
			},
			IndexRetry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     2 * time.Second,
			},
			LockTTL:       2 * time.Minute,
			RatePerMinute: 120,
			RateBurst:     20,
		},
		Retrieval: RetrievalConfig{
			DefaultLimit: 8,
			MaxLimit:     50,
			Allocation: []KindShare{
				{Kind: "pdf", Weight: 0.7},
				{Kind: "platform", Weight: 0.3},
			},
			LowConfidenceThreshold: 0.3,
			MinHits:                2,
			SubQueryTimeout:        2 * time.Second,
			Compensation:           true,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:     "none",
			Model:        "text-embedding-3-small",
			Dimension:    256,
			VectorWeight: 0.3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("store.backend %q: must be postgres or sqlite", c.Store.Backend)
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		return fmt.Errorf("store.sqlitePath is required for the sqlite backend")
	}
	switch c.Index.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("index.backend %q: must be memory or postgres", c.Index.Backend)
	}
	if c.Index.BM25K1 < 0 || c.Index.BM25B < 0 || c.Index.BM25B > 1 {
		return fmt.Errorf("index.bm25K1 must be >= 0 and index.bm25B in [0,1]")
	}
	switch c.Embedding.Provider {
	case "", "none", "hash", "openai":
	default:
		return fmt.Errorf("embedding.provider %q: must be none, hash or openai", c.Embedding.Provider)
	}
	if len(c.Retrieval.Allocation) == 0 {
		return fmt.Errorf("retrieval.allocation must list at least one kind")
	}
	var total float64
	seen := make(map[string]struct{}, len(c.Retrieval.Allocation))
	for i, share := range c.Retrieval.Allocation {
		if share.Kind == "" {
			return fmt.Errorf("retrieval.allocation[%d].kind is required", i)
		}
		if _, dup := seen[share.Kind]; dup {
			return fmt.Errorf("retrieval.allocation lists kind %q twice", share.Kind)
		}
		seen[share.Kind] = struct{}{}
		if share.Weight < 0 {
			return fmt.Errorf("retrieval.allocation[%d].weight must not be negative", i)
		}
		total += share.Weight
	}
	if total <= 0 {
		return fmt.Errorf("retrieval.allocation weights must sum to more than zero")
	}
	if t := c.Retrieval.LowConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("retrieval.lowConfidenceThreshold %v: must be within [0,1]", t)
	}
	if c.Retrieval.DefaultLimit <= 0 || c.Retrieval.MaxLimit < c.Retrieval.DefaultLimit {
		return fmt.Errorf("retrieval limits invalid: default=%d max=%d", c.Retrieval.DefaultLimit, c.Retrieval.MaxLimit)
	}
	if c.Ingestion.MaxChunkChars <= 0 {
		return fmt.Errorf("ingestion.maxChunkChars must be positive")
	}
	if c.Ingestion.RatePerMinute < 0 || c.Ingestion.RateBurst < 0 {
		return fmt.Errorf("ingestion rate limits must not be negative")
	}
	if c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.MaxChunkChars {
		return fmt.Errorf("ingestion.chunkOverlap must be within [0, maxChunkChars)")
	}
	return nil
}

// applyEnvOverrides reads CRE_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(name string, dst *int) {
		if v := os.Getenv(envPrefix + name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	setInt("SERVER_PORT", &cfg.Server.Port)
	if v := os.Getenv(envPrefix + "SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	setString("POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("POSTGRES_PORT", &cfg.Postgres.Port)
	setString("POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("POSTGRES_USER", &cfg.Postgres.User)
	setString("POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv(envPrefix + "KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setString("STORE_BACKEND", &cfg.Store.Backend)
	setString("STORE_SQLITE_PATH", &cfg.Store.SQLitePath)
	setString("INDEX_BACKEND", &cfg.Index.Backend)
	setString("EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	setString("EMBEDDING_MODEL", &cfg.Embedding.Model)
	setString("EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = v
	}
	setString("EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	if v := os.Getenv(envPrefix + "RETRIEVAL_LOW_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retrieval.LowConfidenceThreshold = f
		}
	}
	setInt("RETRIEVAL_MIN_HITS", &cfg.Retrieval.MinHits)
	if v := os.Getenv(envPrefix + "RETRIEVAL_SUBQUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retrieval.SubQueryTimeout = d
		}
	}
	setString("LOGGING_LEVEL", &cfg.Logging.Level)
	setString("LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("METRICS_PORT", &cfg.Metrics.Port)
}
