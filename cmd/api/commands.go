package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jewelry/api/internal/catalog"
	"jewelry/api/internal/config"
	"jewelry/api/internal/imageaudit"
	"jewelry/api/internal/store"
)

var errAuditFailed = errors.New("image audit found broken images or failed pages")

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Apply, roll back or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := newLogger(cfg)
			defer func() { _ = logger.Sync() }()

			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			migrator, err := store.NewMigrator(db)
			if err != nil {
				return err
			}

			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			switch direction {
			case "down":
				err = migrator.Down()
			case "version":
				version, dirty, verr := migrator.Version()
				if verr != nil {
					return verr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			default:
				err = migrator.Up()
			}
			if err != nil {
				return err
			}
			logger.Info("migrations applied", zap.String("direction", direction))
			return nil
		},
	}
}

func newReindexCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Push every active product into the Meilisearch index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := newLogger(cfg)
			defer func() { _ = logger.Sync() }()

			meili := newSearchIndex(cfg, logger)
			if meili == nil {
				return errors.New("MEILI_URL is not set")
			}
			defer meili.Close()

			deadline := time.Now().Add(wait)
			for !meili.Healthy() && time.Now().Before(deadline) {
				time.Sleep(time.Second)
			}

			db, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			dataStore := store.NewPostgresStore(db)

			var products []store.Product
			for page := 1; ; page++ {
				items, total, err := dataStore.ListProducts(cmd.Context(), store.ProductFilter{Sort: store.SortName, Page: page, PageSize: store.MaxPageSize})
				if err != nil {
					return err
				}
				products = append(products, items...)
				if len(items) == 0 || len(products) >= total {
					break
				}
			}

			catalogSvc := catalog.NewService(dataStore, false, logger)
			indexed, err := newSearchService(meili, catalogSvc, logger).Reindex(products)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d products\n", indexed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for Meilisearch to become healthy")
	return cmd
}

func newAuditImagesCmd() *cobra.Command {
	var (
		baseURL  string
		paths    []string
		products []string
	)
	cmd := &cobra.Command{
		Use:   "audit-images",
		Short: "Load storefront pages in headless Chrome and report broken or unlabeled images",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := newLogger(cfg)
			defer func() { _ = logger.Sync() }()

			if baseURL == "" {
				baseURL = cfg.SiteURL
			}
			targets := append([]string{}, paths...)
			for _, slug := range products {
				if slug = strings.TrimSpace(slug); slug != "" {
					targets = append(targets, "/products/"+slug)
				}
			}

			auditor, shutdown, err := imageaudit.NewChromeAuditor(cmd.Context(), baseURL, logger)
			if err != nil {
				return err
			}
			defer shutdown()

			summary, err := auditor.Run(cmd.Context(), targets)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(summary); err != nil {
				return err
			}
			if summary.HasFailures() {
				return errAuditFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "storefront origin (defaults to SITE_URL)")
	cmd.Flags().StringSliceVar(&paths, "path", []string{"/", "/shop"}, "page paths to audit")
	cmd.Flags().StringSliceVar(&products, "products", nil, "product slugs whose pages are audited too")
	return cmd
}
