// Package retrieval implements the travel retrieval HTTP service.
//
// The service fronts the travel datastore for the assistant: structured
// lookups for airports and flights, vector search over amenities and
// policies, and authenticated ticket booking. It listens on loopback by
// default and is consumed through the typed client in internal/client.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/skyport0/skyport/internal/datastore"
)

// Similarity thresholds for vector search, expressed as maximum cosine
// distance. Amenity search casts a wider net than policy search.
const (
	amenityThreshold = 0.5
	policyThreshold  = 0.7
)

// Datastore is the slice of datastore.Store the handlers consume.
type Datastore interface {
	GetAirport(ctx context.Context, id int32) (*datastore.Airport, error)
	GetAirportByIATA(ctx context.Context, iata string) (*datastore.Airport, error)
	SearchAirports(ctx context.Context, country, city, name *string) ([]datastore.Airport, error)
	GetAmenity(ctx context.Context, id int32) (*datastore.Amenity, error)
	SearchAmenities(ctx context.Context, p datastore.AmenitySearch) ([]datastore.Amenity, error)
	GetFlight(ctx context.Context, id int32) (*datastore.Flight, error)
	SearchFlightsByNumber(ctx context.Context, airline, number string) ([]datastore.Flight, error)
	SearchFlightsByAirports(ctx context.Context, date time.Time, departureAirport, arrivalAirport *string) ([]datastore.Flight, error)
	SearchFlightSeats(ctx context.Context, p datastore.SeatSearch) ([]datastore.Seat, error)
	InsertTicket(ctx context.Context, p datastore.TicketParams) (*datastore.Ticket, error)
	ListTickets(ctx context.Context, userID string) ([]datastore.Ticket, error)
	SearchPolicies(ctx context.Context, embedding pgvector.Vector, similarityThreshold float64, topK int) ([]string, error)
}

// Embedder turns query text into the vector geometry the datastore indexes.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config contains configuration for creating the retrieval server.
type Config struct {
	Logger   *slog.Logger
	Store    Datastore // Required
	Embedder Embedder  // Required

	// Verifier validates User-Id-Token headers. When nil, a Google
	// verifier is built from ClientID; if ClientID is also empty, ticket
	// endpoints reject every request.
	Verifier TokenVerifier
	ClientID string

	Pinger     Pinger // Optional: nil disables DB check in /ready
	TrustProxy bool
	RateBurst  int // Rate limiter burst size per IP (0 = default 120)
}

// Server is the retrieval JSON API server.
type Server struct {
	mux      *http.ServeMux
	store    Datastore
	embedder Embedder
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewServer creates a retrieval server with all routes configured.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("datastore is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	verifier := cfg.Verifier
	if verifier == nil {
		if cfg.ClientID == "" {
			// idtoken.Validate skips the audience check when it is empty,
			// which would accept any Google-issued token. Deny instead.
			verifier = denyAllVerifier{}
		} else {
			verifier = NewGoogleVerifier(cfg.ClientID)
		}
	}

	s := &Server{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		verifier: verifier,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.root)
	mux.HandleFunc("GET /airports", s.getAirport)
	mux.HandleFunc("GET /airports/search", s.searchAirports)
	mux.HandleFunc("GET /amenities", s.getAmenity)
	mux.HandleFunc("GET /amenities/search", s.searchAmenities)
	mux.HandleFunc("GET /flights", s.getFlight)
	mux.HandleFunc("GET /flights/search", s.searchFlights)
	mux.HandleFunc("GET /flights/seats", s.searchFlightSeats)
	mux.HandleFunc("POST /tickets/insert", s.insertTicket)
	mux.HandleFunc("GET /tickets/list", s.listTickets)
	mux.HandleFunc("GET /policies/search", s.searchPolicies)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 120
	}
	rl := newRateLimiter(10.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → RateLimit → Routes
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pinger))
	topMux.Handle("/", handler)

	s.mux = topMux
	return s, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// health is a liveness probe. Returns 200 OK with {"status":"ok"}.
func health(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether the database is reachable.
func readiness(p Pinger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"reason": "database unreachable",
				})
				return
			}
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}
