package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string   `mapstructure:"DB_SCHEMA"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	JWTSigningKey string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	JWTTTL        time.Duration `mapstructure:"JWT_TTL"`

	GenAIProvider string `mapstructure:"GENAI_PROVIDER"`
	GeminiAPIKey  string `mapstructure:"GEMINI_API_KEY"`
	GeminiModel   string `mapstructure:"GEMINI_MODEL"`
	OpenAIAPIKey  string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel   string `mapstructure:"OPENAI_MODEL"`

	AnalyzeMaxAttempts int           `mapstructure:"ANALYZE_MAX_ATTEMPTS"`
	AnalyzeBaseDelay   time.Duration `mapstructure:"ANALYZE_BASE_DELAY"`
	SuggestChunkSize   int           `mapstructure:"SUGGEST_CHUNK_SIZE"`
	SuggestCacheTTL    time.Duration `mapstructure:"SUGGEST_CACHE_TTL"`

	StorageBackend string `mapstructure:"STORAGE_BACKEND"`
	MinIOEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinIOAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinIOBucket    string `mapstructure:"MINIO_BUCKET"`
	MinIOUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`

	RedisURL     string   `mapstructure:"REDIS_URL"`
	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	MaxUploadBytes int64 `mapstructure:"MAX_UPLOAD_BYTES"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA", "CORS_ORIGINS",
	"JWT_SIGNING_KEY", "JWT_ISSUER", "JWT_TTL",
	"GENAI_PROVIDER", "GEMINI_API_KEY", "GEMINI_MODEL", "OPENAI_API_KEY", "OPENAI_MODEL",
	"ANALYZE_MAX_ATTEMPTS", "ANALYZE_BASE_DELAY", "SUGGEST_CHUNK_SIZE", "SUGGEST_CACHE_TTL",
	"STORAGE_BACKEND", "MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL",
	"REDIS_URL", "KAFKA_BROKERS", "KAFKA_TOPIC", "MAX_UPLOAD_BYTES",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_ISSUER", "claimdesk")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("GENAI_PROVIDER", "gemini")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("ANALYZE_MAX_ATTEMPTS", 3)
	v.SetDefault("ANALYZE_BASE_DELAY", "5s")
	v.SetDefault("SUGGEST_CHUNK_SIZE", 8000)
	v.SetDefault("SUGGEST_CACHE_TTL", "24h")
	v.SetDefault("STORAGE_BACKEND", "memory")
	v.SetDefault("MINIO_BUCKET", "claimdesk-documents")
	v.SetDefault("KAFKA_TOPIC", "claimdesk.claim-events")
	v.SetDefault("MAX_UPLOAD_BYTES", 20<<20)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests without a bearer token are authenticated from")
		log.Println("WARNING: X-Dev-Role / X-Dev-Hospital / X-Dev-Insurer headers.")
		log.Println("WARNING: Set ENV=production and JWT_SIGNING_KEY for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

// splitList normalises a list setting that may arrive either already split or
// as a single comma-separated value.
func splitList(current []string, raw string) []string {
	if len(current) > 0 {
		raw = strings.Join(current, ",")
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GenAIKey returns the credential of the selected generative provider. An
// empty string means analysis runs in degraded mode.
func (c *Config) GenAIKey() string {
	switch c.GenAIProvider {
	case "openai":
		return c.OpenAIAPIKey
	default:
		return c.GeminiAPIKey
	}
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.GenAIProvider != "gemini" && c.GenAIProvider != "openai" {
		return fmt.Errorf("GENAI_PROVIDER must be \"gemini\" or \"openai\", got %q", c.GenAIProvider)
	}
	if c.AnalyzeMaxAttempts < 1 {
		return fmt.Errorf("ANALYZE_MAX_ATTEMPTS must be at least 1, got %d", c.AnalyzeMaxAttempts)
	}
	if c.AnalyzeBaseDelay < 0 {
		return fmt.Errorf("ANALYZE_BASE_DELAY must not be negative")
	}
	if c.SuggestChunkSize <= 0 {
		return fmt.Errorf("SUGGEST_CHUNK_SIZE must be positive, got %d", c.SuggestChunkSize)
	}

	switch c.StorageBackend {
	case "memory":
	case "minio":
		if c.MinIOEndpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required when STORAGE_BACKEND is \"minio\"")
		}
		if c.MinIOBucket == "" {
			return fmt.Errorf("MINIO_BUCKET is required when STORAGE_BACKEND is \"minio\"")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be \"memory\" or \"minio\", got %q", c.StorageBackend)
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}
