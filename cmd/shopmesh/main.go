// shopmesh is the storefront content API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shopmesh/shopmesh/internal/api"
	"github.com/shopmesh/shopmesh/internal/batch"
	"github.com/shopmesh/shopmesh/internal/cas"
	"github.com/shopmesh/shopmesh/internal/catalog"
	"github.com/shopmesh/shopmesh/internal/config"
	"github.com/shopmesh/shopmesh/internal/guard"
	"github.com/shopmesh/shopmesh/internal/registry"
	"github.com/shopmesh/shopmesh/internal/store"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shopmesh",
		Short: "Shopmesh - storefront content API over object storage",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE:  runValidate,
	}
	rootCmd.AddCommand(validateCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("shopmesh %s (commit %s, built %s, %s)\n",
				Version, Commit, BuildTime, runtime.Version())
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(config.ExpandPath(cfgFile))
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Println("configuration is valid")
	return nil
}

func newStoreClient(ctx context.Context, cfg *config.Config) (store.Client, error) {
	switch cfg.Store.Backend {
	case "memory":
		log.Warn().Msg("Using in-memory store, data will not survive a restart")
		return store.NewMemory(), nil
	case "s3":
		return store.NewS3(ctx, store.S3Options{
			Bucket:    cfg.Store.Bucket,
			Region:    cfg.Store.Region,
			Endpoint:  cfg.Store.Endpoint,
			AccessKey: cfg.Store.AccessKey,
			SecretKey: cfg.Store.SecretKey,
			PathStyle: cfg.Store.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	jwtSecret, err := cfg.JWTSecret()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := newStoreClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create store client: %w", err)
	}
	client := store.Instrument(backend)

	batchOpts := []batch.Option{
		batch.WithChunkSize(cfg.Batch.ChunkSize),
		batch.WithNotFoundClassifier(func(err error) bool {
			return errors.Is(err, store.ErrNotFound)
		}),
	}
	if cfg.InvalidateURL != "" {
		batchOpts = append(batchOpts, batch.WithInvalidator(batch.NewHTTPInvalidator(cfg.InvalidateURL)))
		log.Info().Str("url", cfg.InvalidateURL).Msg("Cache invalidation enabled")
	}
	processor := batch.New(batchOpts...)

	linker := guard.NewLinker(client, "links/orders/")
	reg := registry.New(client, "indexes/registry.json",
		registry.WithRetries(cfg.Retry.MaxRetries))
	indexes := registry.NewIndexes(client, reg, "indexes")
	svc := catalog.NewService(client, processor, linker, indexes)
	pages, err := catalog.NewPages(client)
	if err != nil {
		return fmt.Errorf("create page store: %w", err)
	}
	limiter := guard.NewLimiter(client, cfg.Login.AttemptCeiling, cfg.CounterTTL(),
		cas.WithMaxRetries(cfg.Retry.MaxRetries), cas.WithTimeout(cfg.RetryTimeout()))
	revoker := guard.NewRevoker(client, cfg.CodeTTL())

	server := api.NewServer(cfg, svc, pages, limiter, revoker, reg, indexes, jwtSecret)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("listen", cfg.Listen).
			Str("backend", cfg.Store.Backend).
			Str("version", Version).
			Msg("API server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
