package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/skyport0/skyport/db"
	"github.com/skyport0/skyport/internal/config"
	"github.com/skyport0/skyport/internal/datastore"
	"github.com/skyport0/skyport/internal/embedding"
	"github.com/skyport0/skyport/internal/log"
)

// Setup initializes the full application: trace export, database pool
// with migrations, Genkit with the Gemini plugin, and the query
// embedder. Call Close on the returned App to release everything.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	a.otelShutdown = provideTracing(ctx, cfg, logger)

	pool, err := SetupStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder, err := embedding.New(googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	a.Embedder = embedder

	return a, nil
}

// SetupStorage runs migrations and opens the connection pool. The db
// provisioning commands use this directly; they have no need for a
// model or an embedder.
func SetupStorage(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := datastore.NewPool(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the Gemini plugin. The API key
// comes from GEMINI_API_KEY, read by the plugin itself.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	logger.Info("initialized Genkit", "model", cfg.ModelName, "embedder", cfg.EmbedderModel)
	return g, nil
}

// provideTracing sets up OTLP trace export before Genkit initializes,
// so spans land in Genkit's TracerProvider. Returns a shutdown func;
// a no-op when tracing is disabled or the exporter cannot be built.
func provideTracing(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	tc := cfg.Trace
	if !tc.Enabled {
		return func() {}
	}

	agentHost := tc.AgentHost
	if agentHost == "" {
		agentHost = "localhost:4318"
	}

	// Genkit's TracerProvider reads these at init. Setup runs once,
	// before any goroutines, so the Setenv calls cannot race.
	if tc.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", tc.ServiceName)
	}
	if tc.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+tc.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(agentHost),
		otlptracehttp.WithInsecure(), // local collector, no TLS
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("trace export enabled",
		"collector", agentHost,
		"service", tc.ServiceName,
		"environment", tc.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}
