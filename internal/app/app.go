// Package app wires the application together: configuration, database
// pool, Genkit, the embedder, and trace export. Commands call Setup and
// pull the pieces they need off the App container.
package app

import (
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skyport0/skyport/internal/config"
	"github.com/skyport0/skyport/internal/embedding"
	"github.com/skyport0/skyport/internal/log"
)

// App is the application container.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Genkit   *genkit.Genkit
	Pool     *pgxpool.Pool
	Embedder *embedding.Embedder

	otelShutdown func()
}

// Close releases all resources. Safe to call on a partially
// initialized App.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}
	if a.otelShutdown != nil {
		a.otelShutdown()
	}
}
