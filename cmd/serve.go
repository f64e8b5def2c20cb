package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpak-dev/mpak-registry/internal/api"
	"github.com/mpak-dev/mpak-registry/internal/certify"
	"github.com/mpak-dev/mpak-registry/internal/config"
	"github.com/mpak-dev/mpak-registry/internal/github"
	"github.com/mpak-dev/mpak-registry/internal/infrastructure/sqlite"
	"github.com/mpak-dev/mpak-registry/internal/log"
	"github.com/mpak-dev/mpak-registry/internal/manifest"
	"github.com/mpak-dev/mpak-registry/internal/registry/application"
	"github.com/mpak-dev/mpak-registry/internal/storage"
	"github.com/mpak-dev/mpak-registry/internal/tasks"
	"github.com/mpak-dev/mpak-registry/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry server",
	Long: `Run the registry HTTP server: publishing, ownership claims, downloads,
and security certification callbacks.

Example:
  mpak-registry serve                  # Listen on the configured address
  mpak-registry serve --addr :9090     # Override the listen address`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cleanup, err := log.Init(cfg.Log.File)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer cleanup()
	log.SetMinLevel(log.ParseLevel(cfg.Log.Level))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	secret := cfg.Storage.SigningSecret
	if secret == "" {
		secret, err = generateSecret()
		if err != nil {
			return fmt.Errorf("generating signing secret: %w", err)
		}
		if err := config.SaveSigningSecret(configFilePath(), secret); err != nil {
			return fmt.Errorf("persisting signing secret: %w", err)
		}
		log.Info(log.CatConfig, "Generated signing secret", "config", configFilePath())
	}

	tracer, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(ctx)
	}()

	db, err := sqlite.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()
	store := db.Store()

	signer := storage.NewURLSigner(secret, "/v1/artifacts")
	artifacts, err := storage.NewLocalStore(cfg.Storage.Root, signer)
	if err != nil {
		return fmt.Errorf("opening artifact store: %w", err)
	}

	pool := tasks.NewPool(tasks.Config{
		MaxWorkers:    cfg.Tasks.MaxWorkers,
		QueueCapacity: cfg.Tasks.QueueCapacity,
	})
	defer pool.Close()

	var clientOpts []github.Option
	if cfg.GitHub.Token != "" {
		clientOpts = append(clientOpts, github.WithToken(cfg.GitHub.Token))
	}
	ghClient := github.NewClient(clientOpts...)
	verifier := github.NewOwnershipVerifier(ghClient)
	stats := github.NewStatsClient(ghClient, time.Duration(cfg.GitHub.StatsTTLMinutes)*time.Minute)

	scans := certify.NewService(store, pool, certify.Config{
		Enabled:         cfg.Scanner.Enabled,
		ScannerURL:      cfg.Scanner.URL,
		CallbackURL:     cfg.Scanner.CallbackURL,
		CallbackSecret:  cfg.Scanner.CallbackSecret,
		FreshnessWindow: time.Duration(cfg.Scanner.FreshnessMinutes) * time.Minute,
	})

	downloadTTL := time.Duration(cfg.Server.DownloadTTLMinutes) * time.Minute
	publisher := application.NewPublisher(application.PublisherDeps{
		Store:       store,
		Artifacts:   artifacts,
		Validator:   manifest.NewSchemaValidator(),
		Verifier:    verifier,
		Stats:       stats,
		Scanner:     scans,
		Pool:        pool,
		DownloadTTL: downloadTTL,
	})
	claimer := application.NewClaimer(store, verifier, stats, pool)
	resolver := application.NewDownloadResolver(store, artifacts, downloadTTL)

	handler := api.NewHandler(api.HandlerConfig{
		Publisher:      publisher,
		Claimer:        claimer,
		Resolver:       resolver,
		Scans:          scans,
		Store:          store,
		Artifacts:      artifacts,
		Signer:         signer,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	})

	server, err := api.NewServer(cfg.Server.Addr, handler)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info(log.CatHTTP, "Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	return <-errCh
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
