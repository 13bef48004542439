package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jewelry/api/internal/analytics"
	"jewelry/api/internal/app"
	"jewelry/api/internal/cart"
	"jewelry/api/internal/catalog"
	"jewelry/api/internal/config"
	"jewelry/api/internal/email"
	"jewelry/api/internal/export"
	"jewelry/api/internal/featured"
	"jewelry/api/internal/logging"
	"jewelry/api/internal/payment"
	"jewelry/api/internal/search"
	"jewelry/api/internal/session"
	"jewelry/api/internal/storage"
	"jewelry/api/internal/store"
	"jewelry/api/internal/web"
)

const siteName = "Aurelia Jewelry"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "api",
		Short:         "Jewelry storefront server and maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := newServeCmd()
	root.RunE = serve.RunE
	root.AddCommand(serve, newMigrateCmd(), newReindexCmd(), newAuditImagesCmd())
	return root
}

func newLogger(cfg config.Config) *zap.Logger {
	return logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})
}

// openDatabase connects to Postgres and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("database ready")
	return db, nil
}

// connectDatabase opens Postgres for serve. With the fallback catalog enabled
// an unreachable database is not fatal: the returned pool dials lazily, the
// catalog never queries it, and database-backed routes answer 503 until it
// comes up. Migrations then wait for the next start.
func connectDatabase(ctx context.Context, cfg config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := openDatabase(ctx, cfg, logger)
	if err == nil || !cfg.UseFallbackCatalog {
		return db, err
	}
	logger.Warn("database unavailable, continuing on the fallback catalog", zap.Error(err))
	return store.OpenDeferred(cfg.DatabaseURL)
}

// newSearchIndex returns nil when Meilisearch is not configured.
func newSearchIndex(cfg config.Config, logger *zap.Logger) *search.Meili {
	if strings.TrimSpace(cfg.MeiliURL) == "" {
		return nil
	}
	return search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("search"))
}

func newSearchService(meili *search.Meili, catalogSvc *catalog.Service, logger *zap.Logger) *search.Service {
	var index search.Index
	if meili != nil {
		index = meili
	}
	return search.NewService(index, search.NewCatalogSearcher(catalogSvc), logger.Named("search"))
}

func newAnalytics(cfg config.Config, logger *zap.Logger) *analytics.Batcher {
	var sink analytics.Sink
	if len(cfg.KafkaBrokers) > 0 {
		logger.Info("analytics events go to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaAnalyticsTopic))
		sink = analytics.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAnalyticsTopic)
	} else {
		sink = analytics.NewLogSink(logger.Named("analytics"))
	}
	return analytics.NewBatcher(sink, analytics.Options{
		BatchSize:     cfg.AnalyticsBatchSize,
		FlushInterval: cfg.AnalyticsFlushInterval,
		Logger:        logger.Named("analytics"),
	})
}

func newUploader(ctx context.Context, cfg config.Config, logger *zap.Logger) app.Uploader {
	uploader, err := storage.New(storage.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
		PublicURL: cfg.S3PublicURL,
	})
	if err != nil {
		if !errors.Is(err, storage.ErrNotConfigured) {
			logger.Warn("object storage disabled", zap.Error(err))
		}
		return nil
	}
	if err := uploader.EnsureBucket(ctx); err != nil {
		logger.Warn("ensure bucket failed, uploads may fail", zap.String("bucket", cfg.S3Bucket), zap.Error(err))
	}
	return uploader
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Load()
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	db, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer db.Close()
	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.Error("redis connection failed", zap.Error(err))
		return err
	}
	defer sessions.Close()

	catalogSvc := catalog.NewService(dataStore, cfg.UseFallbackCatalog, logger.Named("catalog"))
	if cfg.UseFallbackCatalog {
		logger.Info("serving the built-in fallback catalog")
	}
	meili := newSearchIndex(cfg, logger)
	if meili != nil {
		defer meili.Close()
	}

	batcher := newAnalytics(cfg, logger)
	var payments app.PaymentGateway
	stripe := payment.NewStripe(payment.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Currency:      cfg.Currency,
	})
	if stripe.Configured() {
		payments = stripe
	} else {
		logger.Warn("stripe not configured, checkout is disabled")
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Warn("smtp not configured, emails are disabled")
	}

	var invoices app.InvoiceExporter
	renderer := export.NewChromeRenderer()
	if renderer.Available() {
		invoices = export.NewService(renderer, siteName, cfg.SiteURL)
	} else {
		logger.Warn("chrome not found, invoice PDFs are disabled")
	}

	service, err := app.New(cfg, app.Deps{
		Store:     dataStore,
		Sessions:  sessions,
		Carts:     cart.NewStore(sessions.Client()),
		Featured:  featured.NewStore(sessions.Client()),
		Catalog:   catalogSvc,
		Search:    newSearchService(meili, catalogSvc, logger),
		Payments:  payments,
		Mailer:    mailer,
		Analytics: batcher,
		Uploads:   newUploader(ctx, cfg, logger),
		Invoices:  invoices,
		Redis:     sessions,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap error, will retry on next restart", zap.Error(err))
	}

	pages, err := web.NewRenderer(siteName)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, pages).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("storefront listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		_ = batcher.Close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := batcher.Close(); err != nil {
		logger.Warn("flush analytics on shutdown failed", zap.Error(err))
	}
	return nil
}
