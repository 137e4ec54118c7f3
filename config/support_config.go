package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateConsumerName creates a unique stream consumer name using hostname and PID
func generateConsumerName() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "support"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL    string
	MigrateOnStart bool
	MongoDBURL     string
	MongoDBName    string
	RedisURL       string

	// Neo4j
	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string

	// JWT
	JWTSecret string

	// OpenAI
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	LLMModel          string
	LLMMaxTokens      int
	LLMTemperature    float64
	LLMTimeoutSec     int
	EmbeddingProvider string
	EmbeddingModel    string

	// Knowledge base
	KnowledgeBackend   string
	QdrantURL          string
	QdrantAPIKey       string
	QdrantCollection   string
	QdrantTimeoutSec   int
	ChunkSize          int
	ChunkOverlap       int
	DefaultSearchLimit int

	// Ingestion
	PollEnabled   bool
	PollInterval  time.Duration
	PollBatchSize int
	PollTimeout   time.Duration
	ProcessedTTL  time.Duration

	// Gmail mailbox and notifier
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GmailRefreshToken  string
	GmailUser          string
	NotifyFrom         string
	NotifyTimeout      time.Duration

	// Streams
	StreamRequests     string
	StreamForms        string
	ConsumerGroup      string
	ConsumerName       string
	ConsumerBatchSize  int
	ConsumerBlockMS    int
	ConsumerMaxRetries int
	AnswerWorkers      int

	// Slack
	SlackBotToken string
	SlackChannel  string

	// S3
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	// Telemetry
	SentryDSN string

	// Analytics
	AnalyticsCacheTTL time.Duration

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", true),
		MongoDBURL:     getEnv("MONGODB_URL", ""),
		MongoDBName:    getEnv("MONGODB_DATABASE", "support"),
		RedisURL:       getEnv("REDIS_URL", ""),

		// Neo4j
		Neo4jURL:      getEnv("NEO4J_URL", ""),
		Neo4jUsername: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// OpenAI
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:      getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature:    getEnvFloat("LLM_TEMPERATURE", 0.3),
		LLMTimeoutSec:     getEnvInt("LLM_TIMEOUT_SEC", 60),
		EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "hash"),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),

		// Knowledge base
		KnowledgeBackend:   getEnv("KNOWLEDGE_BACKEND", "qdrant"),
		QdrantURL:          getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:       getEnv("QDRANT_API_KEY", ""),
		QdrantCollection:   getEnv("QDRANT_COLLECTION", "knowledge_base"),
		QdrantTimeoutSec:   getEnvInt("QDRANT_TIMEOUT_SEC", 30),
		ChunkSize:          getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:       getEnvInt("CHUNK_OVERLAP", 200),
		DefaultSearchLimit: getEnvInt("SEARCH_LIMIT", 5),

		// Ingestion
		PollEnabled:   getEnvBool("POLL_ENABLED", true),
		PollInterval:  getEnvDuration("POLL_INTERVAL", time.Minute),
		PollBatchSize: getEnvInt("POLL_BATCH_SIZE", 10),
		PollTimeout:   getEnvDuration("POLL_TIMEOUT", 2*time.Minute),
		ProcessedTTL:  getEnvDuration("PROCESSED_TTL", 7*24*time.Hour),

		// Gmail
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		GmailRefreshToken:  getEnv("GMAIL_REFRESH_TOKEN", ""),
		GmailUser:          getEnv("GMAIL_USER", "me"),
		NotifyFrom:         getEnv("NOTIFY_FROM", ""),
		NotifyTimeout:      getEnvDuration("NOTIFY_TIMEOUT", 30*time.Second),

		// Streams
		StreamRequests:     getEnv("STREAM_REQUESTS", "support:requests"),
		StreamForms:        getEnv("STREAM_FORMS", "support:forms"),
		ConsumerGroup:      getEnv("CONSUMER_GROUP", "support-workers"),
		ConsumerName:       getEnv("CONSUMER_NAME", generateConsumerName()),
		ConsumerBatchSize:  getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlockMS:    getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries: getEnvInt("CONSUMER_MAX_RETRIES", 3),
		AnswerWorkers:      getEnvInt("ANSWER_WORKERS", 4),

		// Slack
		SlackBotToken: getEnv("SLACK_BOT_TOKEN", ""),
		SlackChannel:  getEnv("SLACK_CHANNEL", ""),

		// S3
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),

		// Telemetry
		SentryDSN: getEnv("SENTRY_DSN", ""),

		// Analytics
		AnalyticsCacheTTL: getEnvDuration("ANALYTICS_CACHE_TTL", time.Minute),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.PollBatchSize <= 0 {
		return fmt.Errorf("POLL_BATCH_SIZE must be positive, got %d", c.PollBatchSize)
	}
	switch c.KnowledgeBackend {
	case "qdrant", "pgvector", "memory":
	default:
		return fmt.Errorf("unknown KNOWLEDGE_BACKEND %q", c.KnowledgeBackend)
	}
	switch c.EmbeddingProvider {
	case "hash", "openai":
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// GmailEnabled reports whether mailbox credentials are configured.
func (c *Config) GmailEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GmailRefreshToken != ""
}
