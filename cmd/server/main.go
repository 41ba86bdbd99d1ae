// Command main is the entry point for the locbot moderation relay.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"locbot/internal/bootstrap"
	"locbot/internal/config"
	"locbot/internal/events"
	"locbot/internal/observability"
	"locbot/internal/server"
	"locbot/internal/telegram"
)

// @title locbot API
// @version 1.0
// @description Location proposal intake and moderation relay

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8375
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "locbot",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	bot, err := telegram.NewClient(telegram.Options{
		Token:    cfg.TelegramBotToken,
		Endpoint: cfg.TelegramAPIEndpoint,
		Timeout:  cfg.ExternalTimeout(),
	})
	if err != nil {
		log.Fatalf("Failed to connect to Telegram: %v", err)
	}
	log.Printf("Authorized as @%s", bot.Username())

	db, rdb, err := bootstrap.InitRuntime(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	store, err := bootstrap.NewStore(cfg)
	if err != nil {
		log.Fatalf("Failed to configure document store: %v", err)
	}

	svc := bootstrap.NewServices(cfg, db, store, bot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		source  events.Source
		webhook *events.Queue
	)
	if cfg.TelegramMode == config.ModeWebhook {
		webhook = events.NewQueue(256, 4)
		source = webhook
	} else {
		source = bot.Polling()
	}

	go func() {
		if err := source.Run(ctx, svc.Dispatcher); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("update source stopped: %v", err)
		}
	}()
	go svc.Reconciler.Run(ctx)

	srv := server.NewServer(cfg, server.Deps{
		DB:         db,
		Redis:      rdb,
		Registry:   svc.Registry,
		Intake:     svc.Intake,
		Approvals:  svc.Approvals,
		Ledger:     svc.Ledger,
		Reconciler: svc.Reconciler,
		Sync:       svc.Syncer,
		Webhook:    webhook,
		Flags:      svc.Flags,
	})

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()

		// In-flight moderator notifications finish before connections close.
		svc.Intake.Wait()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s (telegram mode: %s, store: %s)...",
		cfg.Port, cfg.TelegramMode, store.Name())
	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
	<-stopped
}
