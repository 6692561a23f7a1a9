package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	goredis "github.com/redis/go-redis/v9"

	"github.com/falaai/server/internal/agent/graph"
	"github.com/falaai/server/internal/agent/graph/conversations"
	"github.com/falaai/server/internal/agent/graph/memory"
	"github.com/falaai/server/internal/agent/graph/nodes"
	"github.com/falaai/server/internal/agent/model"
	"github.com/falaai/server/internal/agent/repo"
	"github.com/falaai/server/internal/auth"
	"github.com/falaai/server/internal/chat"
	"github.com/falaai/server/internal/core"
	"github.com/falaai/server/internal/mail"
	"github.com/falaai/server/internal/metrics"
	"github.com/falaai/server/internal/retention"
	"github.com/falaai/server/internal/server"
	"github.com/falaai/server/internal/session"
	"github.com/falaai/server/internal/store"
	"github.com/falaai/server/internal/store/migrations"
	logx "github.com/falaai/server/pkg/logger"
	pkgmysql "github.com/falaai/server/pkg/mysql"
	pkgredis "github.com/falaai/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the service,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	HTTP      server.Config
	RateLimit server.RateLimitConfig
	Session   session.Config
	DB        pkgmysql.Config
	Redis     pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Chat         model.ChatModelConfig
	Title        model.TitleModelConfig
	Prompt       model.ChatPromptConfig
	Memory       model.MemoryConfig
	Conversation model.ConversationConfig

	Mail      mail.Config
	Auth      auth.Config
	Retention retention.Config
}

func loadConfig() (*AppConfig, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		logx.Warn().Err(err).Msg("could not load .env file")
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to process environment config")
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal().Err(err).Msg("server stopped with error")
	}
	logx.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *AppConfig) error {
	m := metrics.New()

	db, err := cfg.DB.New(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db); err != nil {
		return err
	}
	st := store.New(db)
	logx.Info().Str("host", cfg.DB.Host).Str("database", cfg.DB.Name).Msg("connected to database")

	// Redis only mirrors anonymous transcripts; without it they live in memory.
	var mirror model.TranscriptMirror
	if cfg.Redis.Enabled() {
		var rdb *goredis.Client
		rdb, err = cfg.Redis.New(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close()
		mirror = repo.NewRedisTranscriptMirror(rdb, cfg.Conversation.AnonymousTTL)
		logx.Info().Msg("connected to redis")
	} else {
		logx.Warn().Msg("REDIS_URL not set, anonymous history will not survive restarts")
	}

	models, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		ChatConfig:  &cfg.Chat,
		TitleConfig: &cfg.Title,
	})
	if err != nil {
		return err
	}
	runner, err := graph.BuildChatGraph(ctx, &graph.GraphConfig{
		ChatModels:   models,
		PromptConfig: &cfg.Prompt,
		Metrics:      m,
	})
	if err != nil {
		return err
	}

	if !cfg.Mail.Configured() {
		logx.Warn().Msg("SENDGRID_API_KEY or EMAIL_USER not set, verification emails will fail")
	}
	mailer := mail.NewDispatcher(mail.NewSendGridSender(cfg.Mail), cfg.Mail.SendTimeout, m)

	cache := conversations.NewCache(conversations.CacheConfig{
		Store:      st,
		Mirror:     mirror,
		Summarizer: &memory.ModelSummarizer{Model: models.Chat},
		Memory:     cfg.Memory,
		Metrics:    m,
	})
	chatSvc := chat.NewService(cfg.Conversation, st, cache, runner, graph.NewTitleGenerator(models.Title))
	authSvc := auth.NewService(cfg.Auth, st, mailer)

	sessions, err := session.NewManager(cfg.Session)
	if err != nil {
		return err
	}
	srv, err := server.New(cfg.HTTP, cfg.RateLimit, server.Deps{
		Auth:     authSvc,
		Chat:     chatSvc,
		Sessions: sessions,
		Metrics:  m,
		Health:   st,
	})
	if err != nil {
		return err
	}

	job := retention.NewJob(cfg.Retention, st, m)
	if err := job.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logx.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logx.Error().Err(serr).Msg("http shutdown failed")
	}
	if serr := job.Stop(shutdownCtx); serr != nil {
		logx.Error().Err(serr).Msg("retention job did not stop in time")
	}
	chatSvc.Wait()
	return err
}
