package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/parley-voice/parley/internal/config"
	"github.com/parley-voice/parley/internal/dialog"
	"github.com/parley-voice/parley/internal/httpapi"
	"github.com/parley-voice/parley/internal/observability"
	"github.com/parley-voice/parley/internal/session"
	"github.com/parley-voice/parley/internal/speech"
	"github.com/parley-voice/parley/internal/transcript"
	"github.com/parley-voice/parley/internal/voice"
)

const version = "1.0.0"

func main() {
	// Optional local overrides; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	transcripts, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("transcript store init failed: %v", err)
	}
	defer transcripts.Close()

	models := dialog.DefaultCatalog()
	if cfg.ModelCatalogPath != "" {
		extra, err := dialog.LoadCatalogFile(cfg.ModelCatalogPath)
		if err != nil {
			log.Fatalf("model catalog load failed: %v", err)
		}
		models = append(models, extra...)
		log.Printf("loaded %d extra dialog models from %s", len(extra), cfg.ModelCatalogPath)
	}
	engine := dialog.NewRuleEngine(models...)

	provider := speech.NewMockProvider()
	log.Printf("speech provider: %s", cfg.SpeechProvider)

	sessions := session.NewManager(cfg.SessionIdleTimeout)

	orchestrator := voice.NewOrchestrator(
		sessions,
		engine,
		provider,
		provider,
		transcripts,
		metrics,
	)

	api := httpapi.New(cfg, version, orchestrator, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, cfg.JanitorInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
