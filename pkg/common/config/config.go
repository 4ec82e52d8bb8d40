package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string
	LogLevel    string

	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	CORSOrigins    []string

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost             string
	RedisPort             string
	RedisPassword         string
	RedisDB               int
	EmbeddingCacheEnabled bool
	EmbeddingCacheTTL     time.Duration

	// Kafka
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaGroupID string
	AuditTopic   string

	// OIDC
	OIDCIssuer       string
	OIDCAudience     string
	OIDCJWKSURL      string
	OIDCJWKSCacheTTL time.Duration

	// Outbound client credentials toward the AI gateway (optional)
	OIDCClientID     string
	OIDCClientSecret string
	OIDCTokenURL     string

	// LLM
	LLMAPIKey           string
	LLMBaseURL          string
	LLMModelName        string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingTimeout    time.Duration
	GenerationTimeout   time.Duration
	PromptVersion       string

	// Retrieval
	KnowledgeBackend       string
	RetrievalPolicy        string
	RetrievalLimit         int
	RetrievalMinSimilarity float64

	// DLP
	DLPRulesPath string

	// Tracing
	TracingEnabled bool
	OTLPEndpoint   string
	OTLPInsecure   bool

	// Rate limiting on AI routes
	RateLimitRPS   int
	RateLimitBurst int

	// Knowledge ingestion
	IngestWorkers       int
	IngestRetryAttempts int
}

// Load reads configuration from the environment only.
func Load() *Config {
	cfg, _ := LoadFile("")
	return cfg
}

// LoadFile reads an optional YAML/JSON config file and overlays environment variables on top.
// Keys in the file use the lower-case form of the environment names (postgres_host, ...).
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fromViper(v), err
		}
	}
	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "prescription-service")
	v.SetDefault("log_level", "info")

	v.SetDefault("server_port", "8080")
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("read_timeout", 30*time.Second)
	// generation can take most of a minute; the write deadline must cover it
	v.SetDefault("write_timeout", 120*time.Second)
	v.SetDefault("max_request_body_bytes", 1024*1024)
	v.SetDefault("cors_origins", "http://localhost:3000")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", "5432")
	v.SetDefault("postgres_user", "prescritto")
	v.SetDefault("postgres_password", "prescritto")
	v.SetDefault("postgres_db", "prescritto")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", "6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("embedding_cache_enabled", true)
	v.SetDefault("embedding_cache_ttl", 24*time.Hour)

	v.SetDefault("kafka_enabled", false)
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_group_id", "prescritto-platform")
	v.SetDefault("audit_topic", "prescritto.audit")

	v.SetDefault("oidc_issuer", "")
	v.SetDefault("oidc_audience", "authenticated")
	v.SetDefault("oidc_jwks_url", "")
	v.SetDefault("oidc_jwks_cache_ttl", 10*time.Minute)
	v.SetDefault("oidc_client_id", "")
	v.SetDefault("oidc_client_secret", "")
	v.SetDefault("oidc_token_url", "")

	v.SetDefault("llm_api_key", "")
	v.SetDefault("llm_base_url", "https://api.openai.com/v1")
	v.SetDefault("llm_model_name", "gpt-4o")
	v.SetDefault("embedding_model", "text-embedding-3-small")
	v.SetDefault("embedding_dimensions", 1536)
	v.SetDefault("embedding_timeout", 20*time.Second)
	v.SetDefault("generation_timeout", 60*time.Second)
	v.SetDefault("prompt_version", "prescricao-v2")

	v.SetDefault("knowledge_backend", "postgres")
	v.SetDefault("retrieval_policy", "strict")
	v.SetDefault("retrieval_limit", 5)
	v.SetDefault("retrieval_min_similarity", 0.7)

	v.SetDefault("dlp_rules_path", "")

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "localhost:4318")
	v.SetDefault("otlp_insecure", true)

	v.SetDefault("rate_limit_rps", 5)
	v.SetDefault("rate_limit_burst", 20)

	v.SetDefault("ingest_workers", 4)
	v.SetDefault("ingest_retry_attempts", 3)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		ServiceName: v.GetString("service_name"),
		LogLevel:    v.GetString("log_level"),

		ServerPort:     v.GetString("server_port"),
		ServerHost:     v.GetString("server_host"),
		ReadTimeout:    v.GetDuration("read_timeout"),
		WriteTimeout:   v.GetDuration("write_timeout"),
		MaxRequestBody: v.GetInt64("max_request_body_bytes"),
		CORSOrigins:    splitList(v.GetString("cors_origins")),

		PostgresHost:     v.GetString("postgres_host"),
		PostgresPort:     v.GetString("postgres_port"),
		PostgresUser:     v.GetString("postgres_user"),
		PostgresPassword: v.GetString("postgres_password"),
		PostgresDB:       v.GetString("postgres_db"),
		PostgresSSLMode:  v.GetString("postgres_sslmode"),

		RedisHost:             v.GetString("redis_host"),
		RedisPort:             v.GetString("redis_port"),
		RedisPassword:         v.GetString("redis_password"),
		RedisDB:               v.GetInt("redis_db"),
		EmbeddingCacheEnabled: v.GetBool("embedding_cache_enabled"),
		EmbeddingCacheTTL:     v.GetDuration("embedding_cache_ttl"),

		KafkaEnabled: v.GetBool("kafka_enabled"),
		KafkaBrokers: splitList(v.GetString("kafka_brokers")),
		KafkaGroupID: v.GetString("kafka_group_id"),
		AuditTopic:   v.GetString("audit_topic"),

		OIDCIssuer:       v.GetString("oidc_issuer"),
		OIDCAudience:     v.GetString("oidc_audience"),
		OIDCJWKSURL:      v.GetString("oidc_jwks_url"),
		OIDCJWKSCacheTTL: v.GetDuration("oidc_jwks_cache_ttl"),
		OIDCClientID:     v.GetString("oidc_client_id"),
		OIDCClientSecret: v.GetString("oidc_client_secret"),
		OIDCTokenURL:     v.GetString("oidc_token_url"),

		LLMAPIKey:           v.GetString("llm_api_key"),
		LLMBaseURL:          strings.TrimRight(v.GetString("llm_base_url"), "/"),
		LLMModelName:        v.GetString("llm_model_name"),
		EmbeddingModel:      v.GetString("embedding_model"),
		EmbeddingDimensions: v.GetInt("embedding_dimensions"),
		EmbeddingTimeout:    v.GetDuration("embedding_timeout"),
		GenerationTimeout:   v.GetDuration("generation_timeout"),
		PromptVersion:       v.GetString("prompt_version"),

		KnowledgeBackend:       strings.ToLower(v.GetString("knowledge_backend")),
		RetrievalPolicy:        strings.ToLower(v.GetString("retrieval_policy")),
		RetrievalLimit:         v.GetInt("retrieval_limit"),
		RetrievalMinSimilarity: v.GetFloat64("retrieval_min_similarity"),

		DLPRulesPath: v.GetString("dlp_rules_path"),

		TracingEnabled: v.GetBool("tracing_enabled"),
		OTLPEndpoint:   v.GetString("otlp_endpoint"),
		OTLPInsecure:   v.GetBool("otlp_insecure"),

		RateLimitRPS:   v.GetInt("rate_limit_rps"),
		RateLimitBurst: v.GetInt("rate_limit_burst"),

		IngestWorkers:       v.GetInt("ingest_workers"),
		IngestRetryAttempts: v.GetInt("ingest_retry_attempts"),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
