package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nexus/manuals/internal/app"
	"nexus/manuals/internal/config"
	"nexus/manuals/internal/content"
	"nexus/manuals/internal/render"
	"nexus/manuals/internal/store"
)

var (
	cfg    config.Config
	logger *logrus.Logger

	rootCmd = &cobra.Command{
		Use:           "manualctl",
		Short:         "Operate the manuals service: migrations, previews and tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			logger = config.NewLogger(cfg)
			logger.SetOutput(os.Stderr)
		},
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger == nil {
			logger = logrus.New()
		}
		logger.WithError(err).Error("manualctl failed")
		stop()
		os.Exit(1)
	}
}

func openDB(ctx context.Context) (*sql.DB, error) {
	return store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: 2, MaxIdleConns: 1})
}

// openService wires a read-mostly service against the configured database.
// Export storage, search and the cache are left out.
func openService(ctx context.Context) (*app.Service, func(), error) {
	db, err := openDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts := app.Options{
		Repository: store.NewPostgresStore(db),
		Renderer:   render.NewRenderer(cfg.DiagramScriptURL),
		PDF:        render.NewPDFRenderer(cfg.PDFTimeout),
		Logger:     logger,
	}
	if cfg.SanitizeContent {
		opts.Sanitizer = content.NewSanitizer()
	}
	return app.New(opts), func() { _ = db.Close() }, nil
}
