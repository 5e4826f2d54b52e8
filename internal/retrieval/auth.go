package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/idtoken"
)

// userIDTokenHeader carries the end user's Google ID token, set by the
// assistant frontend on ticket operations.
const userIDTokenHeader = "User-Id-Token"

// User is the verified identity of the end user making a request.
type User struct {
	ID    string
	Name  string
	Email string
}

// TokenVerifier validates a raw ID token and returns the user it asserts.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*User, error)
}

// googleVerifier validates Google-issued ID tokens against an OAuth client
// ID audience.
type googleVerifier struct {
	audience string
}

// NewGoogleVerifier returns a TokenVerifier backed by Google's public keys.
// audience is the OAuth client ID the tokens must be minted for.
func NewGoogleVerifier(audience string) TokenVerifier {
	return &googleVerifier{audience: audience}
}

// denyAllVerifier rejects every token. Installed when no OAuth client ID
// is configured, so ticket endpoints fail closed instead of accepting
// tokens minted for arbitrary audiences.
type denyAllVerifier struct{}

func (denyAllVerifier) Verify(context.Context, string) (*User, error) {
	return nil, errors.New("no OAuth client ID configured")
}

func (v *googleVerifier) Verify(ctx context.Context, token string) (*User, error) {
	payload, err := idtoken.Validate(ctx, token, v.audience)
	if err != nil {
		return nil, fmt.Errorf("validating ID token: %w", err)
	}

	name, _ := payload.Claims["name"].(string)
	email, _ := payload.Claims["email"].(string)
	return &User{ID: payload.Subject, Name: name, Email: email}, nil
}

// parseUserIDToken extracts the bearer token from the User-Id-Token header.
// Returns "" when the header is absent or malformed.
func parseUserIDToken(r *http.Request) string {
	header := r.Header.Get(userIDTokenHeader)
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" {
		return ""
	}
	return token
}

// currentUser verifies the request's ID token. Returns nil when no valid
// identity is present; ticket handlers then reject with 401.
func (s *Server) currentUser(r *http.Request) *User {
	token := parseUserIDToken(r)
	if token == "" {
		return nil
	}
	user, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		s.logger.Warn("ID token verification failed", "error", err)
		return nil
	}
	return user
}
