package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nexus/manuals/internal/app"
	"nexus/manuals/internal/auth"
	"nexus/manuals/internal/cache"
	"nexus/manuals/internal/config"
	"nexus/manuals/internal/content"
	"nexus/manuals/internal/exports"
	"nexus/manuals/internal/metrics"
	"nexus/manuals/internal/render"
	"nexus/manuals/internal/search"
	"nexus/manuals/internal/snapshots"
	"nexus/manuals/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		logger.WithError(err).Fatal("migrations failed")
	}
	if len(applied) > 0 {
		logger.WithField("migrations", applied).Info("applied migrations")
	}

	opts := app.Options{
		Repository: store.NewPostgresStore(db),
		Renderer:   render.NewRenderer(cfg.DiagramScriptURL),
		PDF:        render.NewPDFRenderer(cfg.PDFTimeout),
		Metrics:    metrics.NewDefault(),
		Logger:     logger,
	}
	if cfg.SanitizeContent {
		opts.Sanitizer = content.NewSanitizer()
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		tocCache, err := cache.NewTOCCache(cfg.RedisURL, cfg.TocCacheTTL)
		if err != nil {
			logger.WithError(err).Fatal("redis connection failed")
		}
		defer tocCache.Close()
		opts.TOCCache = tocCache
		logger.Info("table of contents cache enabled")
	}

	pgfts := search.NewPgFTS(db)
	var searchService *search.Service
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient, pgfts, logger)
		go searchService.ReindexFromPG(ctx, pgfts)
	} else {
		searchService = search.NewService(nil, pgfts, logger)
	}
	opts.Search = searchService

	if strings.TrimSpace(cfg.SnapshotsDir) != "" {
		if err := os.MkdirAll(cfg.SnapshotsDir, 0o755); err != nil {
			logger.WithError(err).Fatal("failed to create snapshots dir")
		}
		opts.Snapshots = snapshots.New(cfg.SnapshotsDir)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		exportStore, err := exports.New(ctx, exports.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			config.LogError(logger, "exports", "connect export storage", cfg.MinioEndpoint, err)
		} else {
			opts.Exports = exportStore
		}
	}

	service := app.New(opts)
	httpServer := app.NewHTTPServer(service, auth.NewVerifier(cfg.JWTSecret), cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.PDFTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Addr).Info("manuals api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	searchService.Wait()
}
