package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":4000"`

	// HTTP surface
	CORSOrigins    string `envconfig:"CORS_ORIGINS" default:"*"`
	AuthMode       string `envconfig:"AUTH_MODE" default:"none"` // none | api-key | jwt
	APIKey         string `envconfig:"API_KEY"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"100"`
	MaxUploadBytes int    `envconfig:"MAX_UPLOAD_BYTES" default:"104857600"` // 100 MB

	// Blob storage: any gocloud.dev bucket URL (gs://, s3://, file://, mem://)
	BlobBucketURL     string `envconfig:"BLOB_BUCKET_URL" default:"file:///tmp/novuscode-blobs"`
	BlobPublicBaseURL string `envconfig:"BLOB_PUBLIC_BASE_URL" default:"https://storage.googleapis.com/novacode"`

	// Document store
	DocstoreDriver string `envconfig:"DOCSTORE_DRIVER" default:"sqlite"` // sqlite | mongo
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"novuscode.db"`
	MongoURI       string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase  string `envconfig:"MONGO_DATABASE" default:"novuscode"`

	// Completion service
	LLMProvider   string        `envconfig:"LLM_PROVIDER" default:"gemini"` // gemini | openai
	GeminiAPIKey  string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel   string        `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash-001"`
	GeminiBaseURL string        `envconfig:"GEMINI_BASE_URL"`
	OpenAIAPIKey  string        `envconfig:"OPENAI_API_KEY"`
	OpenAIModel   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	LLMTimeout    time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`
	LLMAttempts   int           `envconfig:"LLM_ATTEMPTS" default:"1"`
	PromptsFile   string        `envconfig:"PROMPTS_FILE"`

	// Remote fetches (GitHub archives, codebase context, file proxy)
	FetchTimeout  time.Duration `envconfig:"FETCH_TIMEOUT" default:"60s"`
	FetchMaxBytes int64         `envconfig:"FETCH_MAX_BYTES" default:"209715200"` // 200 MB
	FetchAttempts int           `envconfig:"FETCH_ATTEMPTS" default:"1"`
	GitHubToken   string        `envconfig:"GITHUB_TOKEN"`
	GitHubAPIURL  string        `envconfig:"GITHUB_API_URL"`

	// Codebase context cache
	ContextCacheSize int           `envconfig:"CONTEXT_CACHE_SIZE" default:"128"`
	ContextCacheTTL  time.Duration `envconfig:"CONTEXT_CACHE_TTL" default:"10m"`
}

// CORSOriginList returns the parsed list of allowed CORS origins.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case "none":
	case "api-key":
		if c.APIKey == "" {
			return fmt.Errorf("AUTH_MODE=api-key requires API_KEY")
		}
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("AUTH_MODE=jwt requires JWT_SECRET")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}

	switch c.DocstoreDriver {
	case "sqlite", "mongo":
	default:
		return fmt.Errorf("unknown DOCSTORE_DRIVER %q", c.DocstoreDriver)
	}

	switch c.LLMProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	if c.BlobBucketURL == "" {
		return fmt.Errorf("BLOB_BUCKET_URL is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}
