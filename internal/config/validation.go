package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validSSLModes are the sslmode values libpq and pgx accept.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks configuration that every command needs.
// Serve-only requirements (HMAC secret) are checked by ValidateServe.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name cannot be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.MaxTurns < 1 || c.MaxTurns > 50 {
		return fmt.Errorf("%w: got %d, want 1-50", ErrInvalidMaxTurns, c.MaxTurns)
	}
	if c.MaxHistoryMessages < 1 || c.MaxHistoryMessages > MaxAllowedHistoryMessages {
		return fmt.Errorf("invalid max history messages: got %d, want 1-%d",
			c.MaxHistoryMessages, MaxAllowedHistoryMessages)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: got %d, want 1-65535", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: got %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if err := validateRetrievalURL(c.RetrievalURL); err != nil {
		return err
	}

	return nil
}

// ValidateServe checks configuration required only when running the
// assistant web frontend, which signs session cookies and CSRF tokens.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.HMACSecret == "" {
		return fmt.Errorf("%w: set HMAC_SECRET", ErrMissingHMACSecret)
	}
	if len(c.HMACSecret) < 32 {
		return fmt.Errorf("%w: got %d bytes, want at least 32", ErrInvalidHMACSecret, len(c.HMACSecret))
	}
	return nil
}

func validateRetrievalURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidRetrievalURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRetrievalURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidRetrievalURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidRetrievalURL)
	}
	return nil
}
