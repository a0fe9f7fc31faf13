package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"aiva/internal/ai"
	"aiva/internal/cache"
	"aiva/internal/config"
	"aiva/internal/gmail"
	"aiva/internal/handler"
	"aiva/internal/logger"
	"aiva/internal/model"
	"aiva/internal/repository"
	"aiva/internal/repository/memory"
	"aiva/internal/repository/postgres"
	"aiva/internal/router"
	"aiva/internal/scheduler"
	"aiva/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatal("Config validation failed:", err)
	}

	appLogger := logger.New()
	defer appLogger.Sync()

	// Postgres when DATABASE_URL is set, in-memory otherwise
	var repos service.Repositories
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		defer db.Close()

		if err := postgres.InitializeDatabase(db); err != nil {
			log.Fatal("Failed to initialize database:", err)
		}

		repos = service.Repositories{
			Workspaces:  postgres.NewPostgresWorkspaceRepository(db),
			Connections: postgres.NewPostgresConnectionRepository(db),
			Messages:    postgres.NewPostgresMessageRepository(db),
			Contacts:    postgres.NewPostgresContactRepository(db),
			Drafts:      postgres.NewPostgresDraftRepository(db),
			Queue:       postgres.NewPostgresQueueRepository(db),
			Audit:       postgres.NewPostgresAuditRepository(db),
		}
		appLogger.Info("Using PostgreSQL repositories")
	} else {
		repos = service.Repositories{
			Workspaces:  memory.NewInMemoryWorkspaceRepository(),
			Connections: memory.NewInMemoryConnectionRepository(),
			Messages:    memory.NewInMemoryMessageRepository(),
			Contacts:    memory.NewInMemoryContactRepository(),
			Drafts:      memory.NewInMemoryDraftRepository(),
			Queue:       memory.NewInMemoryQueueRepository(),
			Audit:       memory.NewInMemoryAuditRepository(),
		}
		appLogger.Info("Using in-memory repositories")
	}

	loadDefaultWorkspace(repos.Workspaces, cfg.WorkspaceFile, appLogger)

	// Redis dedup is optional; the unique index stays authoritative.
	var deduper service.Deduper
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatal("Failed to configure Redis:", err)
		}
		defer rdb.Close()
		deduper = cache.NewDeduper(rdb, cfg.DedupTTL(), appLogger)
		appLogger.Info("Using Redis ingestion dedup")
	}

	channels := service.ChannelRegistry{}
	var oauthScopes []string
	if cfg.GmailEnabled() {
		oauthConfig := gmail.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.BaseURL+"/auth/google/callback")
		oauthScopes = oauthConfig.Scopes
		channels[model.ProviderGmail] = gmail.NewChannelClient(oauthConfig, repos.Connections, cfg.GmailRequestsPerSecond, appLogger)
	} else {
		appLogger.Warn("Google OAuth credentials not configured, Gmail channel disabled")
	}

	aiClient := ai.NewAIClient(cfg.AIProvider, cfg.AIKey, appLogger)

	// Initialize services
	entitlements := service.NewPlanEntitlements(repos.Workspaces)
	auditService := service.NewAuditService(repos.Audit, appLogger)
	connectionService := service.NewConnectionService(repos.Workspaces, repos.Connections, appLogger)
	ingestService := service.NewIngestService(repos, channels, deduper, cfg.MaxSyncMessages, appLogger)
	classifyService := service.NewClassifyService(repos.Messages, aiClient, auditService, appLogger)
	draftService := service.NewDraftService(repos, aiClient, entitlements, auditService, appLogger)
	reviewService := service.NewReviewService(repos.Drafts, repos.Messages, auditService, appLogger)
	pipelineService := service.NewPipelineService(ingestService, classifyService, draftService, connectionService, repos.Workspaces, repos.Messages, appLogger)
	autoSendService := service.NewAutoSendService(repos, channels, entitlements, auditService, cfg.StaleProcessingAfter(), cfg.SendTimeout(), appLogger)

	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	cronHandler := handler.NewCronHandler(autoSendService, pipelineService, connectionService, cfg.AutoSendBatchLimit, e.Logger)
	messageHandler := handler.NewMessageHandler(classifyService, draftService, reviewService, auditService, e.Logger)
	var connectionHandler *handler.ConnectionHandler
	if cfg.GmailEnabled() {
		store := handler.NewSessionStore([]byte(cfg.SessionSecret), cfg.SecureCookies())
		connectionHandler = handler.NewConnectionHandler(connectionService, cfg, store, e.Logger, oauthScopes...)
	}

	router.SetupRoutes(e, cronHandler, messageHandler, connectionHandler, cfg.CronSecret)

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = newScheduler(cfg, autoSendService, pipelineService, appLogger)
		sched.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		appLogger.Info("Starting server on port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Failed to start server:", err)
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down")

	if sched != nil {
		sched.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Failed to shut down server:", err)
	}
}

// newScheduler registers the in-process triggers used when no external
// scheduler calls the cron endpoints.
func newScheduler(cfg *config.Config, autoSend service.AutoSendService, pipeline service.PipelineService, appLogger *logger.Logger) *scheduler.Scheduler {
	sched := scheduler.NewScheduler(appLogger)

	autoSendJob, err := scheduler.NewJob("autosend", cfg.AutoSendCron, cfg.BatchTimeout(), func(ctx context.Context) error {
		result, err := autoSend.ProcessBatch(ctx, cfg.AutoSendBatchLimit)
		if err != nil {
			return err
		}
		appLogger.Info("Auto-send batch processed:", result.Processed, "sent:", result.Sent, "failed:", result.Failed)
		return nil
	})
	if err != nil {
		log.Fatal("Failed to create auto-send job:", err)
	}
	sched.Add(autoSendJob)

	syncJob, err := scheduler.NewJob("sync", cfg.SyncCron, cfg.BatchTimeout(), func(ctx context.Context) error {
		results := pipeline.SyncAll(ctx, service.SyncOptions{Process: true})
		appLogger.Info("Synced connections:", len(results))
		return nil
	})
	if err != nil {
		log.Fatal("Failed to create sync job:", err)
	}
	sched.Add(syncJob)

	return sched
}

// loadDefaultWorkspace creates the workspace described by path (JSON) if it
// does not exist yet. Without the file a "default" workspace is created.
func loadDefaultWorkspace(workspaceRepo repository.WorkspaceRepository, path string, appLogger *logger.Logger) {
	ctx := context.Background()

	ws := model.NewWorkspace("Default", model.PlanBusiness)
	ws.ID = "default"

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, ws); err != nil {
			appLogger.Error("Failed to parse workspace file:", path, err)
			return
		}
	case errors.Is(err, os.ErrNotExist):
		appLogger.Debug("No workspace file at", path, "using defaults")
	default:
		appLogger.Error("Failed to read workspace file:", path, err)
		return
	}

	if _, err := workspaceRepo.FindByID(ctx, ws.ID); err == nil {
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		appLogger.Error("Failed to check for workspace:", ws.ID, err)
		return
	}

	if err := workspaceRepo.Create(ctx, ws); err != nil {
		appLogger.Error("Failed to create workspace:", ws.ID, err)
		return
	}
	appLogger.Info("Created workspace:", ws.ID, "plan:", ws.Plan)
}
