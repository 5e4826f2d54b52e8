package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skyport0/skyport/internal/app"
	"github.com/skyport0/skyport/internal/config"
	"github.com/skyport0/skyport/internal/dataset"
	"github.com/skyport0/skyport/internal/datastore"
)

var dbDataDir string

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Provision the travel database",
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database from CSV files",
	Long: `Run migrations and load the airport, amenity, policy, flight,
ticket, and seat CSV files into PostgreSQL. Amenity and policy rows
carry precomputed embeddings, so no model access is needed.`,
	Args: cobra.NoArgs,
	RunE: runDBInit,
}

var dbExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the database back to CSV files",
	Args:  cobra.NoArgs,
	RunE:  runDBExport,
}

func init() {
	dbCmd.PersistentFlags().StringVar(&dbDataDir, "data", "data", "directory holding the CSV files")
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbExportCmd)
	rootCmd.AddCommand(dbCmd)
}

func runDBInit(*cobra.Command, []string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loader, err := dataset.Open(dbDataDir)
	if err != nil {
		return fmt.Errorf("opening dataset: %w", err)
	}
	defer loader.Close()

	pool, err := app.SetupStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer pool.Close()

	store, err := datastore.New(pool, logger)
	if err != nil {
		return fmt.Errorf("creating datastore: %w", err)
	}

	if err := store.LoadDataset(ctx, loader.Source()); err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}

	logger.Info("database initialized", "dir", dbDataDir)
	return nil
}

func runDBExport(*cobra.Command, []string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := app.SetupStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer pool.Close()

	store, err := datastore.New(pool, logger)
	if err != nil {
		return fmt.Errorf("creating datastore: %w", err)
	}

	ds, err := store.Export(ctx)
	if err != nil {
		return fmt.Errorf("exporting dataset: %w", err)
	}

	if err := dataset.Write(dbDataDir, ds); err != nil {
		return fmt.Errorf("writing dataset: %w", err)
	}

	logger.Info("database exported", "dir", dbDataDir)
	return nil
}
