package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skyport0/skyport/internal/api"
	"github.com/skyport0/skyport/internal/app"
	"github.com/skyport0/skyport/internal/assistant"
	"github.com/skyport0/skyport/internal/client"
	"github.com/skyport0/skyport/internal/config"
	"github.com/skyport0/skyport/internal/session"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant web app",
	Long: `Run the Skyport Air assistant: the chat UI, session management,
Google sign-in, and the streaming chat API. The assistant answers
travel questions through the retrieval service's tools.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8081", "listen address (host:port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(*cobra.Command, []string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := validateAddr(serveAddr); err != nil {
		return fmt.Errorf("invalid address %q: %w", serveAddr, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	retrievalClient, err := client.New(ctx, cfg.RetrievalURL, logger)
	if err != nil {
		return fmt.Errorf("creating retrieval client: %w", err)
	}

	sessions := session.New(a.Pool, logger)
	tools := assistant.RegisterTools(a.Genkit, retrievalClient, logger)

	agent, err := assistant.New(assistant.Config{
		Genkit:    a.Genkit,
		Sessions:  sessions,
		Logger:    logger,
		Tools:     tools,
		ModelName: cfg.ModelName,
		MaxTurns:  cfg.MaxTurns,
	})
	if err != nil {
		return fmt.Errorf("creating assistant: %w", err)
	}

	flow := assistant.NewFlow(a.Genkit, agent)

	server, err := api.NewServer(api.Config{
		Logger:      logger,
		Sessions:    sessions,
		Agent:       agent,
		Flow:        flow,
		HMACSecret:  []byte(cfg.HMACSecret),
		ClientID:    cfg.GoogleClientID,
		Pinger:      a.Pool,
		CORSOrigins: cfg.CORSOrigins,
		IsDev:       cfg.PostgresSSLMode == "disable",
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   parseRateBurst(),
	})
	if err != nil {
		return fmt.Errorf("creating web app server: %w", err)
	}

	logger.Info("assistant web app ready",
		"addr", serveAddr,
		"retrieval", cfg.RetrievalURL,
		"health", "/health, /ready",
	)
	return runHTTP(ctx, serveAddr, server.Handler(), logger)
}
