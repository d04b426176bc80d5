// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/KrzysMak1/local-chat-companion/internal/config"
	"github.com/KrzysMak1/local-chat-companion/internal/events"
	"github.com/KrzysMak1/local-chat-companion/internal/handler"
	"github.com/KrzysMak1/local-chat-companion/internal/llm"
	"github.com/KrzysMak1/local-chat-companion/internal/middleware"
	"github.com/KrzysMak1/local-chat-companion/internal/model"
	"github.com/KrzysMak1/local-chat-companion/internal/session"
	"github.com/KrzysMak1/local-chat-companion/internal/store"
	"github.com/KrzysMak1/local-chat-companion/pkg/logger"
	"github.com/KrzysMak1/local-chat-companion/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "local-chat-companion", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Conversation store
	var st store.Store
	switch cfg.StoreBackend {
	case "memory":
		st = store.NewMemoryStore()
	default:
		sqliteStore, err := store.OpenSQLite(cfg.DBPath)
		if err != nil {
			log.Error("failed to open database", zap.Error(err))
			os.Exit(1)
		}
		defer sqliteStore.Close()
		st = sqliteStore
	}

	// Event publisher (optional)
	var publisher events.Publisher = events.NopPublisher{}
	var natsPublisher *events.NATSPublisher
	if cfg.NATSEnabled {
		natsPublisher, err = events.ConnectNATS(ctx, events.NATSConfig{
			URL:   cfg.NATSURL,
			Token: cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
	}

	// Completion client
	apiKey := ""
	switch llm.Provider(cfg.DefaultProvider) {
	case llm.ProviderOpenAI:
		apiKey = cfg.OpenAIAPIKey
	case llm.ProviderAnthropic:
		apiKey = cfg.AnthropicAPIKey
	}
	llmClient, err := llm.NewClient(llm.Provider(cfg.DefaultProvider), cfg.LlamaBaseURL, apiKey)
	if err != nil {
		log.Error("failed to create completion client", zap.Error(err))
		os.Exit(1)
	}

	defaults := model.ChatSettings{
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.DefaultTemperature,
		MaxTokens:    cfg.DefaultMaxTokens,
		Streaming:    cfg.StreamingEnabled,
	}

	manager := session.NewManager(st, llmClient, publisher, defaults, log)

	healthHandler := handler.NewHealthHandler(llmClient, natsPublisher)
	conversationHandler := handler.NewConversationHandler(manager, log)
	messageHandler := handler.NewMessageHandler(manager, defaults, log)
	importExportHandler := handler.NewImportExportHandler(manager, log)
	splitHandler := handler.NewSplitHandler(messageHandler, manager, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/models", healthHandler.Models)

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/", messageHandler.SendNew)
			r.Post("/import", importExportHandler.Import)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Patch("/", conversationHandler.Update)
				r.Delete("/", conversationHandler.Delete)

				r.Post("/pin", conversationHandler.TogglePin)
				r.Post("/archive", conversationHandler.ToggleArchive)
				r.Get("/state", conversationHandler.State)
				r.Get("/export", importExportHandler.Export)

				r.Get("/messages", conversationHandler.Messages)
				r.Post("/messages", messageHandler.Send)
				r.Post("/stop", messageHandler.Stop)
				r.Post("/regenerate", messageHandler.Regenerate)
				r.Post("/messages/{messageID}/edit", messageHandler.Edit)
				r.Delete("/messages/{messageID}", messageHandler.DeleteMessage)
			})
		})

		r.Route("/split", func(r chi.Router) {
			r.Get("/", splitHandler.Get)
			r.Put("/", splitHandler.SetEnabled)
			r.Put("/{pane}", splitHandler.Assign)
			r.Post("/{pane}/messages", splitHandler.Send)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
