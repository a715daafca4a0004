package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zaibshamsi/Brofessor/internal/api"
	"github.com/zaibshamsi/Brofessor/internal/blob"
	"github.com/zaibshamsi/Brofessor/internal/config"
	"github.com/zaibshamsi/Brofessor/internal/core"
	"github.com/zaibshamsi/Brofessor/internal/logger"
	"github.com/zaibshamsi/Brofessor/internal/mailer"
	"github.com/zaibshamsi/Brofessor/internal/metrics"
	"github.com/zaibshamsi/Brofessor/internal/realtime"
	"github.com/zaibshamsi/Brofessor/internal/store"
)

const (
	sessionIdleTTL     = 2 * time.Hour
	sessionPrunePeriod = 10 * time.Minute
)

func main() {
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	cfg := config.AppConfig

	appLog, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Sync()

	if err := run(cfg, appLog); err != nil {
		appLog.Fatal("Server failed", "error", err)
	}
	appLog.Info("Server exiting gracefully")
}

func run(cfg config.Config, appLog *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	blobs, files, closeBlobs, err := newBlobStore(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	defer closeBlobs()

	bus, err := newBus(cfg, appLog)
	if err != nil {
		return err
	}
	defer bus.Close()

	notifyMailer, err := newMailer(cfg, appLog)
	if err != nil {
		return err
	}

	llmService, err := core.NewLLMService(ctx, appLog, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return err
	}
	defer llmService.Close()

	knowledge := core.NewKnowledgeBaseController(appLog, dbStore, blobs)
	if err := knowledge.Refresh(ctx); err != nil {
		return err
	}
	timetables := core.NewTimetableController(appLog, dbStore, blobs, llmService)
	if err := timetables.Refresh(ctx); err != nil {
		return err
	}
	knowledge.AnnounceChanges(bus)
	timetables.AnnounceChanges(bus)
	if err := core.WatchSharedChanges(ctx, appLog, bus, knowledge, timetables); err != nil {
		return err
	}

	matchMode, err := core.ParseMatchMode(cfg.OfferMatchMode)
	if err != nil {
		return err
	}
	sessions := core.NewSessionRegistry(appLog, core.SessionDeps{
		Generator:  llmService,
		Classifier: llmService,
		Knowledge:  knowledge,
		Schedule:   timetables,
		Blobs:      blobs,
	}, core.SessionConfig{MatchMode: matchMode, HistoryLimit: cfg.HistoryLimit})
	hub := core.NewNotificationHub(appLog, dbStore, bus, notifyMailer)
	defer hub.Close()
	go pruneIdle(ctx, appLog, sessions, hub)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	apiHandler := api.NewAPIHandler(appLog, api.Deps{
		Users:         dbStore,
		Sessions:      sessions,
		Knowledge:     knowledge,
		Timetables:    timetables,
		Pipeline:      core.NewIngestionPipeline(appLog, blobs, llmService),
		Notifications: hub,
		IsAdminEmail:  cfg.IsAdminEmail,
	})
	router := api.NewRouter(apiHandler, files)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Streaming answers and notification streams stay open; no write timeout.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("Starting server", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func newBlobStore(ctx context.Context, cfg config.Config, appLog *logger.Logger) (blob.Store, http.Handler, func(), error) {
	switch cfg.BlobBackend {
	case "gcs":
		gcs, err := blob.NewGCSStore(ctx, appLog, cfg.GCSBucket)
		if err != nil {
			return nil, nil, nil, err
		}
		return gcs, nil, func() { _ = gcs.Close() }, nil
	default:
		local, err := blob.NewLocalStore(appLog, cfg.BlobDir, cfg.BlobPublicBaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return local, local.Handler(), func() {}, nil
	}
}

func newBus(cfg config.Config, appLog *logger.Logger) (realtime.Bus, error) {
	if cfg.RedisAddr == "" {
		appLog.Info("REDIS_ADDR not set, notification push is in-process only")
		return realtime.NewMemoryBus(), nil
	}
	return realtime.NewRedisBus(appLog, cfg.RedisAddr, cfg.RedisChannel)
}

func newMailer(cfg config.Config, appLog *logger.Logger) (mailer.Mailer, error) {
	if cfg.SendGridAPIKey == "" {
		appLog.Info("SENDGRID_API_KEY not set, notification emails are disabled")
		return mailer.Noop{}, nil
	}
	return mailer.NewSendGrid(appLog, mailer.Config{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	})
}

func pruneIdle(ctx context.Context, appLog *logger.Logger, sessions *core.SessionRegistry, hub *core.NotificationHub) {
	ticker := time.NewTicker(sessionPrunePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := sessions.Prune(now.Add(-sessionIdleTTL)); n > 0 {
				appLog.Info("Pruned idle sessions", "count", n, "remaining", sessions.Len())
			}
			if n := hub.Prune(now.Add(-sessionIdleTTL)); n > 0 {
				appLog.Info("Pruned idle notification viewers", "count", n, "remaining", hub.Len())
			}
		}
	}
}
