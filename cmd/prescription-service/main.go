package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prescritto-ai/platform/pkg/audit"
	"github.com/prescritto-ai/platform/pkg/clinical"
	"github.com/prescritto-ai/platform/pkg/common/config"
	"github.com/prescritto-ai/platform/pkg/common/database"
	"github.com/prescritto-ai/platform/pkg/common/kafka"
	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/common/tracing"
	"github.com/prescritto-ai/platform/pkg/dlp"
	"github.com/prescritto-ai/platform/pkg/embedding"
	"github.com/prescritto-ai/platform/pkg/export"
	"github.com/prescritto-ai/platform/pkg/gateway/auth"
	"github.com/prescritto-ai/platform/pkg/gateway/httpclient"
	"github.com/prescritto-ai/platform/pkg/gateway/middleware"
	"github.com/prescritto-ai/platform/pkg/generator"
	"github.com/prescritto-ai/platform/pkg/identity"
	"github.com/prescritto-ai/platform/pkg/knowledge"
	"github.com/prescritto-ai/platform/pkg/observability/metrics"
	"github.com/prescritto-ai/platform/pkg/rag"
	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	logger.Init(cfg.LogLevel)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to read config file")
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.Init(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to initialise tracing")
	}

	db, err := database.OpenPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	detector, err := loadDetector(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load dlp rules")
	}

	outbound := outboundClient(ctx, cfg, cfg.GenerationTimeout)

	var cache *redis.Client
	if cfg.EmbeddingCacheEnabled {
		cache = database.OpenRedis(ctx, cfg)
	}
	var embedder embedding.Embedder = embedding.NewClient(embedding.Config{
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		Timeout:    cfg.EmbeddingTimeout,
	}, outboundClient(ctx, cfg, cfg.EmbeddingTimeout))
	if cache != nil {
		embedder = embedding.NewCachedEmbedder(embedder, cache, cfg.EmbeddingCacheTTL, cfg.EmbeddingModel)
	}

	store, err := openKnowledgeStore(ctx, cfg, db, embedder)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to open knowledge store")
	}
	retriever := knowledge.NewRetriever(store, cfg.EmbeddingDimensions, knowledge.Options{
		Policy:        cfg.RetrievalPolicy,
		Limit:         cfg.RetrievalLimit,
		MinSimilarity: cfg.RetrievalMinSimilarity,
	})

	completer := generator.NewOpenAICompleter(generator.OpenAIConfig{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Timeout: cfg.GenerationTimeout,
	}, outbound)
	gen := generator.New(completer, cfg.LLMModelName)

	identityRepo := identity.NewRepository(db)
	if err := identityRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate identity tables")
	}
	identityService := identity.NewService(identityRepo)

	auditRepo := audit.NewRepository(db)
	if err := auditRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate audit tables")
	}
	var producer *kafka.Producer
	var recorder *audit.Recorder
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(cfg, cfg.AuditTopic)
		recorder = audit.NewRecorder(auditRepo, detector, producer, cfg.ServiceName)
	} else {
		recorder = audit.NewRecorder(auditRepo, detector, nil, cfg.ServiceName)
	}

	clinicalRepo := clinical.NewRepository(db)
	if err := clinicalRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate clinical tables")
	}

	ragService := rag.NewService(detector, embedder, retriever, gen, identityService, rag.Options{
		DefaultModel:  cfg.LLMModelName,
		PromptVersion: cfg.PromptVersion,
	})
	clinicalService := clinical.NewService(clinicalRepo, recorder, detector, ragService)
	exportService := export.NewService(clinicalService, identityService, recorder)

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to configure token verification")
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Authenticate(verifier), middleware.RequireScope(identityService))

	rag.NewHandler(ragService, recorder).Register(api, middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	clinical.NewHandler(clinicalService).Register(api, middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	export.NewHandler(exportService).Register(api)
	identity.NewHandler(identityService).Register(api)
	audit.NewHandler(auditRepo).Register(api)

	// mux middleware only runs on matched routes, so CORS wraps the router to see preflights
	var handler http.Handler = router
	handler = middleware.BodyLimit(cfg.MaxRequestBody)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	handler = middleware.Logging(handler)
	handler = middleware.Recovery(handler)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Prescription service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start prescription service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down prescription service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Prescription service forced to shutdown")
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Log.WithError(err).Warn("failed to close audit producer")
		}
	}
	if err := database.CloseRedis(cache); err != nil {
		logger.Log.WithError(err).Warn("failed to close redis")
	}
	if err := database.ClosePostgres(db); err != nil {
		logger.Log.WithError(err).Warn("failed to close postgres")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Log.WithError(err).Warn("failed to flush traces")
	}
	logger.Log.Info("Prescription service stopped")
}

func loadDetector(cfg *config.Config) (*dlp.Detector, error) {
	if cfg.DLPRulesPath == "" {
		return dlp.NewDetector(dlp.DefaultRules())
	}
	rules, err := dlp.LoadRules(cfg.DLPRulesPath)
	if err != nil {
		return nil, err
	}
	return dlp.NewDetector(rules)
}

// outboundClient authenticates against the model gateway with client credentials when configured.
func outboundClient(ctx context.Context, cfg *config.Config, timeout time.Duration) *http.Client {
	if cfg.OIDCClientID == "" || cfg.OIDCTokenURL == "" {
		return httpclient.New(timeout)
	}
	return httpclient.NewAuthorized(ctx, timeout, httpclient.ClientCredentials{
		ClientID:     cfg.OIDCClientID,
		ClientSecret: cfg.OIDCClientSecret,
		TokenURL:     cfg.OIDCTokenURL,
	})
}

func openKnowledgeStore(ctx context.Context, cfg *config.Config, db *gorm.DB, embedder embedding.Embedder) (knowledge.Store, error) {
	if cfg.KnowledgeBackend != "memory" {
		store := knowledge.NewPostgresStore(db)
		if err := store.AutoMigrate(); err != nil {
			return nil, err
		}
		return store, nil
	}

	store := knowledge.NewMemoryStore(cfg.EmbeddingDimensions)
	ingester := knowledge.NewIngester(store, embedder, knowledge.IngestOptions{
		Workers:       cfg.IngestWorkers,
		RetryAttempts: cfg.IngestRetryAttempts,
	})
	report, err := ingester.Ingest(ctx, knowledge.SeedDocuments())
	if err != nil {
		return nil, err
	}
	logger.Log.WithField("inserted", len(report.Inserted)).
		WithField("failed", len(report.Failed)).
		Info("in-memory knowledge base seeded")
	return store, nil
}

func newVerifier(ctx context.Context, cfg *config.Config) (*auth.Verifier, error) {
	client := httpclient.New(10 * time.Second)
	jwksURL := cfg.OIDCJWKSURL
	if jwksURL == "" {
		if cfg.OIDCIssuer == "" {
			return nil, fmt.Errorf("oidc issuer or jwks url must be configured")
		}
		discovered, err := auth.DiscoverJWKSURL(ctx, cfg.OIDCIssuer, client)
		if err != nil {
			return nil, err
		}
		jwksURL = discovered
	}
	keys := auth.NewJWKSCache(jwksURL, cfg.OIDCJWKSCacheTTL, client)
	return auth.NewVerifier(keys, cfg.OIDCIssuer, cfg.OIDCAudience), nil
}
