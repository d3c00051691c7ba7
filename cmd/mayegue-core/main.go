package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/mayegue-core/api/swagger"
	"github.com/noah-isme/mayegue-core/internal/handler"
	"github.com/noah-isme/mayegue-core/internal/identity"
	"github.com/noah-isme/mayegue-core/internal/migration"
	"github.com/noah-isme/mayegue-core/internal/remote"
	"github.com/noah-isme/mayegue-core/internal/repository"
	"github.com/noah-isme/mayegue-core/internal/service"
	"github.com/noah-isme/mayegue-core/internal/store"
	"github.com/noah-isme/mayegue-core/pkg/cache"
	"github.com/noah-isme/mayegue-core/pkg/config"
	"github.com/noah-isme/mayegue-core/pkg/database"
	"github.com/noah-isme/mayegue-core/pkg/logger"
	"github.com/noah-isme/mayegue-core/pkg/observability"
	"github.com/noah-isme/mayegue-core/pkg/storage"
)

// @title Mayegue Core API
// @version 1.0.0
// @description Local-first identity, progress and sync service
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type options struct {
	rollbackLast bool
	migrateOnly  bool
}

func main() {
	var opts options
	flag.BoolVar(&opts.rollbackLast, "rollback-last", false, "revert the newest applied migration and exit")
	flag.BoolVar(&opts.migrateOnly, "migrate-only", false, "apply pending migrations and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	flush, err := observability.InitSentry(cfg.Sentry.DSN, cfg.Env, cfg.Sentry.Release)
	if err != nil {
		logr.Warn("sentry disabled", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logr); err != nil {
		observability.CaptureErr(err)
		flush()
		logr.Fatal("server stopped", zap.Error(err))
	}
	flush()
}

func run(ctx context.Context, cfg *config.Config, opts options, logr *zap.Logger) error {
	db, err := database.NewSQLite(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	metrics := service.NewMetricsService()
	st := store.New(db)

	engine := migration.NewEngine(st, logr.Named("migration"), metrics)
	if err := engine.RegisterAll(migration.Definitions()); err != nil {
		return fmt.Errorf("register migrations: %w", err)
	}
	if opts.rollbackLast {
		rec, err := engine.RollbackLast(ctx)
		if err != nil {
			return err
		}
		logr.Info("rolled back migration", zap.String("version", rec.Version), zap.String("description", rec.Description))
		return nil
	}
	result := engine.RunPending(ctx)
	if !result.OK() {
		if !cfg.Migrations.AllowDegraded {
			return result.Err()
		}
		logr.Error("starting with failed migrations", zap.Strings("failures", result.Messages()))
	}
	logr.Info("migrations complete", zap.Int("applied", len(result.Applied)), zap.Int("skipped", result.Skipped))
	if opts.migrateOnly {
		return nil
	}

	cacheSvc, closeCache := newCache(ctx, cfg, metrics, logr)
	defer closeCache()
	validate := validator.New()

	users := repository.NewUserRepository(db)
	txManager := repository.NewTxManager(db)
	settings := repository.NewAppSettingRepository(db)
	queueRepo := repository.NewOfflineQueueRepository(db)

	provider, err := newProvider(cfg, logr)
	if err != nil {
		return err
	}
	roles := identity.NewRoleResolver(cfg.Identity.AdminEmails, cfg.Identity.TeacherEmails, cfg.Identity.TeacherDomains)
	identitySvc := service.NewIdentityService(provider, users, roles, cacheSvc, metrics, validate, logr.Named("identity"), service.IdentityConfig{
		SessionSecret: cfg.Session.Secret,
		SessionExpiry: cfg.Session.Expiration,
		Issuer:        cfg.Session.Issuer,
		CacheTTL:      cfg.Cache.TTL,
	})

	guestSvc := service.NewGuestService(repository.NewGuestUsageRepository(db), settings, service.GuestLimits{
		Lessons:  cfg.Guest.MaxLessons,
		Readings: cfg.Guest.MaxReadings,
		Quizzes:  cfg.Guest.MaxQuizzes,
	}, metrics, logr.Named("guest"))

	progressSvc := service.NewProgressService(txManager, users, repository.NewProgressRepository(db), repository.NewAchievementRepository(db), cacheSvc, metrics, validate, logr.Named("progress"), service.ProgressConfig{
		XPPerCompletion: cfg.Progress.XPPerCompletion,
		XPPerLevel:      cfg.Progress.XPPerLevel,
	})

	contentRepo := repository.NewTeacherContentRepository(db)
	contentSvc := service.NewContentService(txManager, users, contentRepo, metrics, validate, logr.Named("content"))

	files, err := storage.NewLocalStorage(cfg.Backups.StorageDir)
	if err != nil {
		return fmt.Errorf("backup storage: %w", err)
	}
	adminSvc := service.NewAdminService(service.AdminDeps{
		Tx:              txManager,
		Users:           users,
		Content:         contentRepo,
		Logs:            repository.NewAdminLogRepository(db),
		Settings:        settings,
		Snapshots:       st,
		Files:           files,
		BackupRetention: cfg.Backups.Retention,
		Signer:          storage.NewDownloadSigner(cfg.Backups.SignedURLSecret, cfg.Backups.SignedURLTTL),
		Migrations:      engine,
		Queue:           queueRepo,
		Cache:           cacheSvc,
		Metrics:         metrics,
		Validator:       validate,
		Logger:          logr.Named("admin"),
	})

	var documents remote.DocumentStore
	if cfg.Queue.DocumentStoreURL != "" {
		documents = remote.NewHTTPDocumentStore(cfg.Queue.DocumentStoreURL, cfg.Queue.DocumentStoreKey, cfg.Queue.RemoteTimeout, logr.Named("remote"))
	} else {
		logr.Warn("document store not configured; remote writes stay buffered")
	}
	queueSvc := service.NewOfflineQueueService(queueRepo, documents, metrics, validate, logr.Named("queue"), service.OfflineQueueConfig{
		MaxRetries: cfg.Queue.MaxRetries,
		BatchSize:  cfg.Queue.DrainBatchSize,
	})
	drains := service.NewDrainRunner(queueSvc, logr.Named("drain"))

	contactSvc := service.NewContactService(repository.NewContactRepository(db), users, validate, logr.Named("contact"))
	analyticsSvc := service.NewAnalyticsService(repository.NewAnalyticsRepository(db), users, cacheSvc, metrics, validate, logr.Named("analytics"))

	router := handler.NewRouter(handler.RouterDeps{
		Config:      cfg,
		Logger:      logr,
		Metrics:     metrics,
		Sessions:    identitySvc,
		Maintenance: adminSvc,
		Auth:        handler.NewAuthHandler(identitySvc),
		Guest:       handler.NewGuestHandler(guestSvc),
		Progress:    handler.NewProgressHandler(progressSvc),
		Content:     handler.NewContentHandler(contentSvc),
		Contact:     handler.NewContactHandler(contactSvc),
		Analytics:   handler.NewAnalyticsHandler(analyticsSvc),
		Sync:        handler.NewSyncHandler(queueSvc, drains),
		Admin:       handler.NewAdminHandler(adminSvc, service.MaxRestoreBytes),
		Health:      handler.NewMetricsHandler(metrics, db),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	drains.Start(ctx)
	defer drains.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return identitySvc.Watch(gctx)
	})
	g.Go(func() error {
		return drains.Run(gctx, cfg.Queue.DrainInterval)
	})
	return g.Wait()
}

func newProvider(cfg *config.Config, logr *zap.Logger) (identity.Provider, error) {
	switch cfg.Identity.Provider {
	case config.IdentityProviderHTTP:
		if cfg.Identity.BaseURL == "" {
			return nil, errors.New("IDENTITY_BASE_URL is required for the http provider")
		}
		return identity.NewHTTPProvider(identity.HTTPConfig{
			BaseURL: cfg.Identity.BaseURL,
			APIKey:  cfg.Identity.APIKey,
			Timeout: cfg.Identity.Timeout,
		}, nil, logr.Named("identity-http")), nil
	case config.IdentityProviderMemory, "":
		if cfg.Env == config.EnvProduction {
			logr.Warn("in-memory identity provider used in production")
		}
		return identity.NewMemoryProvider(), nil
	default:
		return nil, fmt.Errorf("unknown identity provider %q", cfg.Identity.Provider)
	}
}

func newCache(ctx context.Context, cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) (*service.CacheService, func()) {
	disabled := func() (*service.CacheService, func()) {
		return service.NewCacheService(nil, metrics, cfg.Cache.TTL, logr.Named("cache"), false), func() {}
	}
	if !cfg.Cache.Enabled {
		return disabled()
	}
	client, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable; identity cache disabled", zap.Error(err))
		return disabled()
	}
	repo := repository.NewCacheRepository(client, logr.Named("cache"))
	closeFn := func() {
		if err := repo.Close(); err != nil {
			logr.Warn("redis close failed", zap.Error(err))
		}
	}
	return service.NewCacheService(repo, metrics, cfg.Cache.TTL, logr.Named("cache"), true), closeFn
}
