// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.skyport/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: model selection, embedder, agent turn limits
//   - Storage: PostgreSQL connection (see storage.go)
//   - Retrieval: base URL of the travel retrieval service
//   - Observability: OTLP trace export (see observability.go)
//
// Sensitive data (passwords, secrets) is never logged; see MarshalJSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidMaxTurns indicates the agent turn limit is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidRetrievalURL indicates the retrieval service base URL is invalid.
	ErrInvalidRetrievalURL = errors.New("invalid retrieval service URL")

	// ErrMissingHMACSecret indicates the HMAC secret is not set.
	ErrMissingHMACSecret = errors.New("missing HMAC secret")

	// ErrInvalidHMACSecret indicates the HMAC secret is too short.
	ErrInvalidHMACSecret = errors.New("invalid HMAC secret")
)

const (
	// DefaultModelName is the default conversational model.
	DefaultModelName = "googleai/gemini-2.5-flash"

	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality. The pgvector schema uses
	// 768 dimensions; see embedding.VectorDimension.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultRetrievalURL is where the travel retrieval service listens.
	DefaultRetrievalURL = "http://127.0.0.1:8080"

	// DefaultMaxHistoryMessages is the default number of messages to load.
	DefaultMaxHistoryMessages int32 = 100

	// MaxAllowedHistoryMessages is the absolute maximum to prevent OOM.
	MaxAllowedHistoryMessages int32 = 10000
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// AI model configuration
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	MaxTurns      int    `mapstructure:"max_turns" json:"max_turns"`

	// Conversation history configuration
	MaxHistoryMessages int32 `mapstructure:"max_history_messages" json:"max_history_messages"`

	// Retrieval service configuration (frontend side)
	RetrievalURL string `mapstructure:"retrieval_url" json:"retrieval_url"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Retrieval service auth: OAuth client ID used as the expected audience
	// for verifying User-Id-Token headers. Empty disables end-user auth.
	GoogleClientID string `mapstructure:"google_client_id" json:"google_client_id"`

	// Observability configuration (see observability.go)
	Trace TraceConfig `mapstructure:"trace" json:"trace"`

	// Security configuration (serve mode only)
	HMACSecret  string   `mapstructure:"hmac_secret" json:"hmac_secret"` // SENSITIVE: masked in MarshalJSON
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".skyport")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("model_name", DefaultModelName)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("max_turns", 5)
	viper.SetDefault("max_history_messages", DefaultMaxHistoryMessages)

	viper.SetDefault("retrieval_url", DefaultRetrievalURL)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "skyport")
	viper.SetDefault("postgres_password", "skyport_dev_password")
	viper.SetDefault("postgres_db_name", "skyport")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("cors_origins", []string{"http://localhost:8081"})
	viper.SetDefault("trust_proxy", false)

	viper.SetDefault("trace.agent_host", "localhost:4318")
	viper.SetDefault("trace.environment", "dev")
	viper.SetDefault("trace.service_name", "skyport")
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("hmac_secret", "HMAC_SECRET")
	mustBind("cors_origins", "SKYPORT_CORS_ORIGINS")
	mustBind("trust_proxy", "SKYPORT_TRUST_PROXY")

	mustBind("model_name", "SKYPORT_MODEL_NAME")
	mustBind("embedder_model", "SKYPORT_EMBEDDER_MODEL")
	mustBind("retrieval_url", "BASE_URL")
	mustBind("google_client_id", "GOOGLE_CLIENT_ID")

	// Individual PostgreSQL settings; DATABASE_URL overrides all of them.
	mustBind("postgres_host", "SKYPORT_POSTGRES_HOST")
	mustBind("postgres_port", "SKYPORT_POSTGRES_PORT")
	mustBind("postgres_user", "SKYPORT_POSTGRES_USER")
	mustBind("postgres_password", "SKYPORT_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "SKYPORT_POSTGRES_DB_NAME")
	mustBind("postgres_ssl_mode", "SKYPORT_POSTGRES_SSL_MODE")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid accidental substring matches against
// real secret characters.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
//
// This defends against accidental logging of real secrets. It is NOT
// cryptographically secure — if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked: PostgresPassword, HMACSecret.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.HMACSecret = maskSecret(a.HMACSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
