package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skyport0/skyport/internal/app"
	"github.com/skyport0/skyport/internal/config"
	"github.com/skyport0/skyport/internal/datastore"
	"github.com/skyport0/skyport/internal/retrieval"
)

var retrieveAddr string

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Run the travel retrieval service",
	Long: `Run the JSON API that fronts the travel database: airport and
flight lookups, vector search over amenities and policies, and
authenticated ticket booking. The assistant consumes this service
through its tools.`,
	Args: cobra.NoArgs,
	RunE: runRetrieve,
}

func init() {
	retrieveCmd.Flags().StringVar(&retrieveAddr, "addr", "127.0.0.1:8080", "listen address (host:port)")
	rootCmd.AddCommand(retrieveCmd)
}

func runRetrieve(*cobra.Command, []string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := validateAddr(retrieveAddr); err != nil {
		return fmt.Errorf("invalid address %q: %w", retrieveAddr, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	store, err := datastore.New(a.Pool, logger)
	if err != nil {
		return fmt.Errorf("creating datastore: %w", err)
	}

	server, err := retrieval.NewServer(retrieval.Config{
		Logger:     logger,
		Store:      store,
		Embedder:   a.Embedder,
		ClientID:   cfg.GoogleClientID,
		Pinger:     a.Pool,
		TrustProxy: cfg.TrustProxy,
		RateBurst:  parseRateBurst(),
	})
	if err != nil {
		return fmt.Errorf("creating retrieval server: %w", err)
	}

	logger.Info("retrieval service ready", "addr", retrieveAddr)
	return runHTTP(ctx, retrieveAddr, server.Handler(), logger)
}
