package bootstrap

import (
	"context"
	"fmt"
	"time"

	"support_server/adapter/out/document"
	"support_server/adapter/out/graph"
	"support_server/adapter/out/messaging"
	"support_server/adapter/out/mongodb"
	"support_server/adapter/out/persistence"
	"support_server/adapter/out/provider"
	"support_server/adapter/out/storage"
	"support_server/adapter/out/vectordb"
	"support_server/config"
	"support_server/core/agent/llm"
	"support_server/core/domain"
	"support_server/core/port/out"
	"support_server/core/service/answer"
	"support_server/core/service/extraction"
	"support_server/core/service/intake"
	"support_server/core/service/knowledge"
	"support_server/core/service/report"
	"support_server/core/service/triage"
	"support_server/infra/database"
	"support_server/pkg/cache"
	"support_server/pkg/logger"
	"support_server/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies holds every connection, adapter and service the processes share.
// Optional collaborators are nil when not configured.
type Dependencies struct {
	Config *config.Config

	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Neo4j   neo4j.DriverWithContext
	Pools   *metrics.PoolMonitor

	// Adapters
	Requests  out.RequestRepository
	Documents out.KnowledgeDocumentRepository
	Index     out.SimilarityIndex
	Embedder  out.Embedder
	Notifier  out.Notifier
	Cache     out.Cache
	Gmail     *provider.GmailAdapter
	Producer  *messaging.RedisProducer
	Forms     *messaging.FormSource
	Processed out.ProcessedStore
	Archive   out.RawMessageArchive
	Graph     out.CustomerGraph
	Alerter   out.OperatorAlerter
	Objects   out.ObjectStore
	LLM       *llm.Client

	// Services
	Engine    *triage.Engine
	Intake    *intake.Service
	Knowledge *knowledge.Service
	Answers   *answer.Service
	Reports   *report.Service
}

// NewDependencies connects everything cfg enables. Postgres and the similarity index are
// required outside development; the rest degrade to in-process or no-op fallbacks.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Pools: metrics.NewPoolMonitor()}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// Postgres
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := database.Migrate(cfg.DatabaseURL); err != nil {
				return fail(fmt.Errorf("migrate: %w", err))
			}
		}
		pool, err := database.NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return fail(fmt.Errorf("postgres: %w", err))
		}
		deps.DB = pool
		cleanups = append(cleanups, pool.Close)
		deps.Pools.RegisterPgx("pgx", pool)

		sqlDB, err := database.NewSQLX(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("sqlx: %w", err))
		}
		deps.SQLDB = sqlDB
		cleanups = append(cleanups, func() { _ = sqlDB.Close() })
		deps.Pools.RegisterSQL("sqlx", sqlDB.DB)

		deps.Requests = persistence.NewRequestAdapter(sqlDB)
		deps.Documents = persistence.NewDocumentAdapter(sqlDB)
		logger.Info("Postgres connected")
	} else {
		if cfg.IsProduction() {
			return fail(fmt.Errorf("DATABASE_URL is required in production"))
		}
		logger.Warn("DATABASE_URL not set, using in-memory repositories")
		deps.Requests = persistence.NewMemoryRequestRepository()
		deps.Documents = persistence.NewMemoryDocumentRepository()
	}

	// Redis
	if cfg.RedisURL != "" {
		client, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			logger.WithError(err).Warn("Redis connection failed, streams and dedupe disabled")
		} else {
			deps.Redis = client
			cleanups = append(cleanups, func() { _ = client.Close() })

			redisCache := cache.NewRedisCache(client, "support:")
			deps.Cache = redisCache
			deps.Processed = messaging.NewProcessedStore(redisCache, cfg.ProcessedTTL)
			deps.Producer = messaging.NewRedisProducer(client, cfg.StreamRequests, cfg.StreamForms)
			deps.Forms = messaging.NewFormSource(client, messaging.FormSourceConfig{
				Stream:     cfg.StreamForms,
				Group:      cfg.ConsumerGroup,
				Consumer:   cfg.ConsumerName,
				MaxRetries: cfg.ConsumerMaxRetries,
			})
			logger.Info("Redis connected")
		}
	}
	if deps.Cache == nil {
		memCache := cache.NewMemoryCache()
		deps.Cache = memCache
		deps.Processed = messaging.NewProcessedStore(memCache, cfg.ProcessedTTL)
	}

	// MongoDB raw message archive
	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.WithError(err).Warn("MongoDB connection failed, raw archive disabled")
		} else {
			deps.MongoDB = client
			cleanups = append(cleanups, func() { _ = client.Disconnect(context.Background()) })
			archive := mongodb.NewRawArchiveAdapter(client.Database(cfg.MongoDBName), 0)
			if err := archive.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("Raw archive index setup failed")
			}
			deps.Archive = archive
		}
	}

	// Neo4j customer graph
	if cfg.Neo4jURL != "" {
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			logger.WithError(err).Warn("Neo4j connection failed, customer graph disabled")
		} else {
			deps.Neo4j = driver
			cleanups = append(cleanups, func() { _ = driver.Close(context.Background()) })
			customers := graph.NewCustomerGraphAdapter(driver, "")
			if err := customers.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("Customer graph constraint setup failed")
			}
			deps.Graph = customers
		}
	}

	// OpenAI
	if cfg.OpenAIAPIKey != "" {
		deps.LLM = llm.NewClient(llm.ClientConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			Model:          cfg.LLMModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimension:      domain.EmbeddingDimension,
			MaxTokens:      cfg.LLMMaxTokens,
			Temperature:    cfg.LLMTemperature,
			Timeout:        time.Duration(cfg.LLMTimeoutSec) * time.Second,
		})
	}

	// Embedder
	switch {
	case cfg.EmbeddingProvider == "openai" && deps.LLM != nil:
		deps.Embedder = deps.LLM
	case cfg.EmbeddingProvider == "openai":
		logger.Warn("EMBEDDING_PROVIDER=openai without OPENAI_API_KEY, using hash embedder")
		deps.Embedder = knowledge.NewHashEmbedder()
	default:
		deps.Embedder = knowledge.NewHashEmbedder()
	}

	// Similarity index
	switch cfg.KnowledgeBackend {
	case "pgvector":
		if deps.DB == nil {
			return fail(fmt.Errorf("KNOWLEDGE_BACKEND=pgvector requires DATABASE_URL"))
		}
		deps.Index = vectordb.NewPgvectorIndex(deps.DB, domain.EmbeddingDimension)
	case "memory":
		deps.Index = vectordb.NewMemoryIndex(domain.EmbeddingDimension)
	default:
		deps.Index = vectordb.NewQdrantIndex(vectordb.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dimension:  domain.EmbeddingDimension,
			Timeout:    time.Duration(cfg.QdrantTimeoutSec) * time.Second,
		})
	}

	// Gmail mailbox + notifier
	if cfg.GmailEnabled() {
		gmail, err := provider.NewGmailAdapter(ctx, provider.GmailConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			RefreshToken: cfg.GmailRefreshToken,
			User:         cfg.GmailUser,
			From:         cfg.NotifyFrom,
		})
		if err != nil {
			return fail(fmt.Errorf("gmail: %w", err))
		}
		deps.Gmail = gmail
		deps.Notifier = gmail
	} else {
		deps.Notifier = fallbackNotifier(cfg)
	}

	// Slack
	if cfg.SlackBotToken != "" {
		alerter, err := provider.NewSlackAlerter(cfg.SlackBotToken, cfg.SlackChannel)
		if err != nil {
			logger.WithError(err).Warn("Slack alerter disabled")
		} else {
			deps.Alerter = alerter
		}
	}

	// S3 originals
	if cfg.S3Bucket != "" {
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    cfg.S3Endpoint != "",
		})
		if err != nil {
			logger.WithError(err).Warn("S3 store disabled")
		} else {
			deps.Objects = store
		}
	}

	deps.buildServices()
	return deps, cleanup, nil
}

// fallbackNotifier is used when no mailbox is configured. Development logs answers
// instead of mailing them. Production gets no notifier, so approve and send fail
// with a dependency error and requests stay open.
func fallbackNotifier(cfg *config.Config) out.Notifier {
	if cfg.IsProduction() {
		logger.Error("Gmail not configured, answers cannot be sent and requests will not close")
		return nil
	}
	return provider.NewLogNotifier()
}

func (d *Dependencies) buildServices() {
	cfg := d.Config

	d.Engine = triage.NewEngine(d.Requests, d.Notifier, triage.WithNotifyTimeout(cfg.NotifyTimeout))

	intakeOpts := []intake.Option{intake.WithProcessedStore(d.Processed)}
	if d.Producer != nil {
		intakeOpts = append(intakeOpts, intake.WithPublisher(d.Producer))
	}
	if d.Archive != nil {
		intakeOpts = append(intakeOpts, intake.WithArchive(d.Archive))
	}
	if d.Graph != nil {
		intakeOpts = append(intakeOpts, intake.WithGraph(d.Graph))
	}
	if d.Alerter != nil {
		intakeOpts = append(intakeOpts, intake.WithAlerter(d.Alerter))
	}
	d.Intake = intake.NewService(extraction.NewExtractor(), d.Engine, intakeOpts...)

	kbOpts := []knowledge.Option{
		knowledge.WithDocumentRepository(d.Documents),
		knowledge.WithDefaultLimit(cfg.DefaultSearchLimit),
	}
	if d.Objects != nil {
		kbOpts = append(kbOpts, knowledge.WithObjectStore(d.Objects))
	}
	d.Knowledge = knowledge.NewService(d.Index, d.Embedder,
		knowledge.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap), document.NewPDFExtractor(), kbOpts...)

	if d.LLM != nil {
		d.Answers = answer.NewService(d.Engine, d.Knowledge, d.LLM)
	}

	d.Reports = report.NewService(d.Requests, report.WithCache(d.Cache, cfg.AnalyticsCacheTTL))
}

// MessageSources lists the configured ingestion sources, mailbox first.
func (d *Dependencies) MessageSources() []out.MessageSource {
	var sources []out.MessageSource
	if d.Gmail != nil {
		sources = append(sources, d.Gmail)
	}
	if d.Forms != nil {
		sources = append(sources, d.Forms)
	}
	return sources
}
