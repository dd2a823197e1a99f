package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pedro17pedroo/tatucloudfile/internal/apikeys"
	"github.com/pedro17pedroo/tatucloudfile/internal/auth"
	"github.com/pedro17pedroo/tatucloudfile/internal/config"
	"github.com/pedro17pedroo/tatucloudfile/internal/database"
	"github.com/pedro17pedroo/tatucloudfile/internal/files"
	"github.com/pedro17pedroo/tatucloudfile/internal/folders"
	"github.com/pedro17pedroo/tatucloudfile/internal/logger"
	internalMiddleware "github.com/pedro17pedroo/tatucloudfile/internal/middleware"
	"github.com/pedro17pedroo/tatucloudfile/internal/quota"
	"github.com/pedro17pedroo/tatucloudfile/internal/remote"
	"github.com/pedro17pedroo/tatucloudfile/internal/routes"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Env)

	logger.Info("configuration loaded",
		"max_upload_mb", float64(cfg.MaxUploadSize)/(1024*1024),
		"remote_backend", cfg.RemoteBackend,
		"env", cfg.Env,
	)

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}

	if err := database.Migrate(db); err != nil {
		logger.Fatal("failed to run migrations", "error", err)
	}

	// The remote connection is lazy: the first file operation opens it, and
	// every concurrent caller shares that one attempt.
	manager := remote.NewManager(remoteFactory(cfg))

	sessionManager, err := auth.NewSessionManager(db, cfg)
	if err != nil {
		logger.Fatal("failed to initialize session manager", "error", err)
	}

	accountant := quota.NewAccountant(db)
	resolver := folders.NewResolver(db)
	fileSvc := files.NewService(db, manager, accountant, resolver)
	keySvc := apikeys.NewService(db, cfg.APIKeyPlaintextTTL, cfg.APIKeyTrialDuration, cfg.BcryptCost)

	reconciler := files.NewReconciler(db, manager, accountant, cfg.ReconcileInterval, cfg.ReconcileMinAge)
	reconciler.Start()
	defer reconciler.Shutdown()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(internalMiddleware.LoggingMiddleware)
	r.Use(internalMiddleware.RecoverMiddleware)
	r.Use(internalMiddleware.SecurityHeaders)

	versionInfo := fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	routes.Setup(r, db, cfg, manager, sessionManager, fileSvc, keySvc, versionInfo)

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	logger.Info("starting tatucloudfile server",
		"address", addr,
		"environment", cfg.Env,
		"version", versionInfo,
	)

	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Fatal("server failed", "error", err)
	}
}

func remoteFactory(cfg *config.Config) remote.Factory {
	switch cfg.RemoteBackend {
	case "memory":
		return func(ctx context.Context) (remote.Storage, error) {
			return remote.NewMemoryBackend(), nil
		}
	default:
		return func(ctx context.Context) (remote.Storage, error) {
			return remote.NewS3Backend(ctx, remote.S3Config{
				Endpoint:     cfg.S3Endpoint,
				Region:       cfg.S3Region,
				Bucket:       cfg.S3Bucket,
				AccessKey:    cfg.S3AccessKey,
				SecretKey:    cfg.S3SecretKey,
				UsePathStyle: cfg.S3UsePathStyle,
			})
		}
	}
}
