package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/novuscode/novuscode-api/internal/api"
	"github.com/novuscode/novuscode-api/internal/blob"
	"github.com/novuscode/novuscode-api/internal/chat"
	"github.com/novuscode/novuscode-api/internal/config"
	"github.com/novuscode/novuscode-api/internal/docstore"
	"github.com/novuscode/novuscode-api/internal/document"
	"github.com/novuscode/novuscode-api/internal/fetch"
	"github.com/novuscode/novuscode-api/internal/github"
	"github.com/novuscode/novuscode-api/internal/health"
	"github.com/novuscode/novuscode-api/internal/llm"
	"github.com/novuscode/novuscode-api/internal/metrics"
	"github.com/novuscode/novuscode-api/internal/project"
	"github.com/novuscode/novuscode-api/internal/prompt"
	"github.com/novuscode/novuscode-api/internal/retry"
)

func main() {
	// Optional .env for local runs.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("addr", cfg.HTTPAddr).
		Str("docstore", cfg.DocstoreDriver).
		Str("llm", cfg.LLMProvider).
		Str("auth_mode", cfg.AuthMode).
		Msg("starting novuscode api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	blobs, err := blob.Open(ctx, cfg.BlobBucketURL, cfg.BlobPublicBaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open blob bucket")
	}
	defer blobs.Close()

	ds, err := openDocstore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open document store")
	}
	defer ds.Close()

	provider, err := newProvider(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init completion provider")
	}

	prompts, err := prompt.Load(cfg.PromptsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.PromptsFile).Msg("failed to load prompt templates")
	}

	fetchRetry := retry.DefaultPolicy()
	fetchRetry.Attempts = cfg.FetchAttempts
	downloader := fetch.New(logger,
		fetch.WithTimeout(cfg.FetchTimeout),
		fetch.WithMaxBytes(cfg.FetchMaxBytes),
		fetch.WithRetry(fetchRetry),
	)
	resolver, err := github.NewResolver(downloader, cfg.GitHubToken, cfg.GitHubAPIURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init GitHub resolver")
	}

	m := metrics.New()
	contextCache := chat.NewContextCache(cfg.ContextCacheSize, cfg.ContextCacheTTL, m)

	projects := project.NewManager(project.NewStore(ds, logger), blobs, resolver, logger,
		project.WithInvalidator(contextCache),
		project.WithMetrics(m),
	)
	chats := chat.NewManager(ds, provider, downloader, prompts, logger,
		chat.WithBlobReader(blobs),
		chat.WithContextCache(contextCache),
		chat.WithCompletionTimeout(cfg.LLMTimeout),
		chat.WithMetrics(m),
	)
	documents := document.NewManager(ds, blobs, downloader, logger, document.WithMetrics(m))

	checker := health.NewChecker(logger)
	checker.Register("docstore", health.PingCheck(ds))
	checker.Register("blob", health.OptionalPingCheck(blobs))

	server := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.HTTPAddr,
		Auth: api.AuthConfig{
			Mode:      cfg.AuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins:    cfg.CORSOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, api.Deps{
		Projects:  projects,
		Chats:     chats,
		Documents: documents,
		Fetcher:   downloader,
		Checker:   checker,
		Metrics:   m,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}

	cancel()

	done := make(chan struct{})
	go func() {
		if err := server.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("API server shutdown error")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("novuscode api stopped")
}

func openDocstore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (docstore.Store, error) {
	if cfg.DocstoreDriver == "mongo" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return docstore.OpenMongo(connectCtx, cfg.MongoURI, cfg.MongoDatabase, logger)
	}
	return docstore.OpenSQLite(cfg.SQLitePath, logger)
}

func newProvider(cfg *config.Config, logger zerolog.Logger) (llm.Provider, error) {
	if cfg.LLMProvider == "openai" {
		return llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)
	}
	llmRetry := retry.DefaultPolicy()
	llmRetry.Attempts = cfg.LLMAttempts
	opts := []llm.GeminiOption{
		llm.WithModel(cfg.GeminiModel),
		llm.WithRetry(llmRetry),
		llm.WithLogger(logger),
	}
	if cfg.GeminiBaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.GeminiBaseURL))
	}
	return llm.NewGeminiProvider(cfg.GeminiAPIKey, opts...), nil
}
