package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"storyweave/internal/util"
	"storyweave/pkg/ai"
	"storyweave/services/api/internal/app"
	"storyweave/services/api/internal/authclient"
	"storyweave/services/api/internal/config"
	"storyweave/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var generator ai.TextGenerator
	switch cfg.LLMProvider {
	case "", "openai":
		generator = ai.NewOpenAICompatGenerator(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	case "ollama":
		generator = ai.NewOllamaGenerator(cfg.LLMBaseURL, cfg.LLMModel)
	default:
		log.Fatalf("unknown llmProvider %q (want openai or ollama)", cfg.LLMProvider)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Generator:   generator,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                     appCore,
		Auth:                    authclient.NewClient(cfg.AuthServiceURL),
		RedisAddr:               cfg.RedisAddr,
		RedisPassword:           cfg.RedisPassword,
		RegisterRateLimitPerMin: cfg.RegisterRateLimitPerMin,
		LoginRateLimitPerMin:    cfg.LoginRateLimitPerMin,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // story generation can be slow
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("api service listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
