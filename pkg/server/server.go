// Package server provides the public entry point for initializing the
// GemBridge service: configuration, telemetry, the Gemini transport, and
// the three adapter components behind one HTTP handler.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gembridge/gembridge/internal/api"
	"github.com/gembridge/gembridge/internal/api/handlers"
	"github.com/gembridge/gembridge/internal/config"
	"github.com/gembridge/gembridge/internal/embeddings"
	"github.com/gembridge/gembridge/internal/gemini"
	"github.com/gembridge/gembridge/internal/generate"
	"github.com/gembridge/gembridge/internal/limiter"
	"github.com/gembridge/gembridge/internal/moderation"
	"github.com/gembridge/gembridge/internal/telemetry"
	"github.com/gembridge/gembridge/internal/tokenizer"
)

// Server holds the initialized GemBridge service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Config is the loaded process configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New loads configuration and initializes all components. A missing API key
// fails here, before any model call can be attempted.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(_ context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	clientOpts := []gemini.Option{gemini.WithTimeout(cfg.Gemini.Timeout)}
	if cfg.Gemini.Endpoint != "" {
		clientOpts = append(clientOpts, gemini.WithEndpoint(cfg.Gemini.Endpoint))
	}
	client := gemini.NewClient(cfg.Gemini.APIKey, clientOpts...)

	// One limiter for every outbound call in the process, shared by the
	// generator and the embedder.
	lim := limiter.New(cfg.Gemini.MaxConcurrent)
	est := tokenizer.NewHeuristic()

	gen := generate.NewGenerator(client, est, lim,
		cfg.Gemini.Model,
		gemini.ContextWindow(cfg.Gemini.Model),
		generate.WithMaxAttempts(cfg.Gemini.MaxAttempts),
		generate.WithBackoff(cfg.Gemini.BaseDelay, cfg.Gemini.MaxDelay),
	)
	emb := embeddings.NewGeminiDriver(client, lim, cfg.Gemini.EmbedModel)
	mod := moderation.NewClassifier(gen)

	log.Info().
		Str("model", cfg.Gemini.Model).
		Str("embed_model", cfg.Gemini.EmbedModel).
		Int("max_concurrent", lim.Size()).
		Msg("GemBridge components initialized")

	h := handlers.New(gen, emb, mod)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
