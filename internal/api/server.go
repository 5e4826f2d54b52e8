// Package api serves the assistant web app: the embedded chat page,
// session management, Google sign-in, and the chat endpoints backed by
// the Genkit flow.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/skyport0/skyport/internal/assistant"
	"github.com/skyport0/skyport/internal/session"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config contains configuration for creating the web app server.
type Config struct {
	Logger   *slog.Logger
	Sessions *session.Store // Required
	Agent    *assistant.Agent
	Flow     *assistant.Flow

	// HMACSecret signs uid cookies and CSRF tokens. At least 32 bytes.
	HMACSecret []byte

	// ClientID is the Google OAuth client ID for sign-in. Empty disables
	// the sign-in button; the assistant then runs guest-only.
	ClientID string

	// Verifier validates sign-in credentials. When nil, a Google
	// verifier is built from ClientID.
	Verifier CredentialVerifier

	Pinger      Pinger // Optional: nil disables DB check in /ready
	CORSOrigins []string
	IsDev       bool
	TrustProxy  bool
	RateBurst   int // Rate limiter burst size per IP (0 = default 60)
}

// Server is the assistant web app server.
type Server struct {
	mux      *http.ServeMux
	sessions *sessionManager
	chat     *Chat
	verifier CredentialVerifier
	clientID string
	logger   *slog.Logger
}

// NewServer creates a web app server with all routes configured.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if len(cfg.HMACSecret) < 32 {
		return nil, errors.New("HMAC secret must be at least 32 bytes")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	verifier := cfg.Verifier
	if verifier == nil {
		verifier = NewGoogleCredentialVerifier(cfg.ClientID)
	}

	sm := &sessionManager{
		store:      cfg.Sessions,
		hmacSecret: cfg.HMACSecret,
		isDev:      cfg.IsDev,
		logger:     logger,
	}

	s := &Server{
		sessions: sm,
		chat:     NewChat(cfg.Flow, cfg.Agent, cfg.Sessions, logger),
		verifier: verifier,
		clientID: cfg.ClientID,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.index)
	mux.HandleFunc("GET /api/v1/csrf-token", sm.csrfToken)
	mux.HandleFunc("GET /api/v1/me", s.me)
	mux.HandleFunc("GET /api/v1/sessions", sm.listSessions)
	mux.HandleFunc("POST /api/v1/sessions", sm.createSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sm.getSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sm.getSessionMessages)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sm.deleteSession)
	mux.HandleFunc("POST /api/v1/reset", sm.reset)
	mux.HandleFunc("POST "+loginPath, s.login)
	mux.HandleFunc("POST "+logoutPath, s.logout)

	// Chat routes carry the full assistant identity; resolving it can
	// hit Google's token endpoint, so only these routes pay for it.
	mux.Handle("POST /api/v1/chat", s.identityMiddleware(s.chat.Handler()))
	// The stream endpoint also answers GET so EventSource clients, which
	// cannot POST, can subscribe with query parameters.
	mux.Handle("GET /api/v1/chat/stream", s.identityMiddleware(http.HandlerFunc(s.chat.Stream)))
	mux.Handle("POST /api/v1/chat/stream", s.identityMiddleware(http.HandlerFunc(s.chat.Stream)))

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → Logging → CORS → RateLimit → User → Session → CSRF → Routes
	var handler http.Handler = mux
	handler = csrfMiddleware(sm, logger)(handler)
	handler = sessionMiddleware(sm)(handler)
	handler = userMiddleware(sm)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	secured := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cfg.IsDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pinger))
	topMux.Handle("/", secured)

	s.mux = topMux
	return s, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// health is a liveness probe. Returns 200 OK with {"status":"ok"}.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether the database is reachable.
func readiness(p Pinger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"reason": "database unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}
