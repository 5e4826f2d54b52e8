package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/api/idtoken"

	"github.com/skyport0/skyport/internal/assistant"
)

// Sign-in endpoints. loginPath is exempt from header CSRF because
// Google Identity Services posts the credential cross-site; the handler
// validates the g_csrf_token double-submit pair instead.
const (
	loginPath  = "/login/google"
	logoutPath = "/logout/google"
)

// UserInfo is the identity asserted by a verified Google ID token.
type UserInfo struct {
	Sub     string
	Name    string
	Email   string
	Picture string
}

// CredentialVerifier validates a Google sign-in credential and returns
// the user it asserts.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential string) (*UserInfo, error)
}

// googleCredentialVerifier validates ID tokens against an OAuth client
// ID audience using Google's public keys.
type googleCredentialVerifier struct {
	clientID string
}

// NewGoogleCredentialVerifier returns a CredentialVerifier for tokens
// minted for the given OAuth client ID.
func NewGoogleCredentialVerifier(clientID string) CredentialVerifier {
	return &googleCredentialVerifier{clientID: clientID}
}

func (v *googleCredentialVerifier) Verify(ctx context.Context, credential string) (*UserInfo, error) {
	payload, err := idtoken.Validate(ctx, credential, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("validating ID token: %w", err)
	}

	name, _ := payload.Claims["name"].(string)
	email, _ := payload.Claims["email"].(string)
	picture, _ := payload.Claims["picture"].(string)
	return &UserInfo{Sub: payload.Subject, Name: name, Email: email, Picture: picture}, nil
}

// currentIdentity builds the assistant identity for a request: the uid
// cookie supplies the stable user ID, and a valid gtoken cookie upgrades
// the caller from guest to signed-in. An expired or invalid token
// silently downgrades to guest; the original demo revalidates the token
// on every page load the same way.
func (s *Server) currentIdentity(r *http.Request) assistant.Identity {
	userID, _ := userIDFromContext(r.Context())
	identity := assistant.Identity{UserID: userID}

	cookie, err := r.Cookie(idTokenCookieName)
	if err != nil || cookie.Value == "" {
		return identity
	}

	info, err := s.verifier.Verify(r.Context(), cookie.Value)
	if err != nil {
		s.logger.Debug("stored ID token no longer valid", "error", err)
		return identity
	}

	identity.Name = info.Name
	identity.Email = info.Email
	identity.IDToken = cookie.Value
	return identity
}

// identityMiddleware attaches the assistant identity to the request
// context so chat flows and tools can read it.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := assistant.ContextWithIdentity(r.Context(), s.currentIdentity(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// login handles POST /login/google: the Google Identity Services
// callback. Verifies the posted credential, stores it in an HttpOnly
// cookie, and redirects back to the page that initiated sign-in.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", "invalid form body", s.logger)
		return
	}

	// Double-submit check: GIS sets g_csrf_token both as a cookie and a
	// form field.
	csrfCookie, err := r.Cookie("g_csrf_token")
	if err != nil || csrfCookie.Value == "" || csrfCookie.Value != r.PostFormValue("g_csrf_token") {
		writeError(w, http.StatusForbidden, "csrf_invalid", "CSRF validation failed", s.logger)
		return
	}

	credential := r.PostFormValue("credential")
	if credential == "" {
		writeError(w, http.StatusUnauthorized, "no_credential", "no user credentials found", s.logger)
		return
	}

	info, err := s.verifier.Verify(r.Context(), credential)
	if err != nil {
		s.logger.Warn("sign-in credential rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid_credential", "credential verification failed", s.logger)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     idTokenCookieName,
		Value:    credential,
		Path:     "/",
		Secure:   !s.sessions.isDev,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   3600, // Google ID tokens expire after an hour anyway
	})

	s.logger.Info("user signed in", "name", info.Name)
	s.welcomeUser(r, info.Name)

	// Redirect back to the page that hosted the sign-in button.
	target := r.Referer()
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// welcomeUser appends a greeting to the active conversation, best
// effort. A missing session just means the greeting shows up when the
// page reloads with its baseline history.
func (s *Server) welcomeUser(r *http.Request, name string) {
	sessionID, ok := sessionIDFromContext(r.Context())
	if !ok {
		return
	}
	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		return
	}

	greeting := fmt.Sprintf("Welcome to Skyport Air, %s! How may I assist you?", name)
	msgs := []*ai.Message{ai.NewModelMessage(ai.NewTextPart(greeting))}
	if err := s.sessions.store.AppendMessages(r.Context(), userID, sessionID, msgs); err != nil {
		s.logger.Debug("appending welcome message", "error", err)
	}
}

// logout handles POST /logout/google: drops the stored credential and
// the active session cookie.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     idTokenCookieName,
		Value:    "",
		Path:     "/",
		Secure:   !s.sessions.isDev,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	s.sessions.clearSessionCookie(w)

	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// me handles GET /api/v1/me: reports the caller's sign-in state so the
// UI can render the account chip.
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(idTokenCookieName)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusOK, map[string]any{"signedIn": false})
		return
	}

	info, err := s.verifier.Verify(r.Context(), cookie.Value)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"signedIn": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"signedIn": true,
		"name":     info.Name,
		"email":    info.Email,
		"picture":  info.Picture,
	})
}
