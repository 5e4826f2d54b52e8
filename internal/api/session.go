package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skyport0/skyport/internal/session"
)

// Sentinel errors for session and CSRF operations.
var (
	ErrSessionCookieNotFound = errors.New("session cookie not found")
	ErrSessionInvalid        = errors.New("session ID invalid")
	ErrCSRFRequired          = errors.New("csrf token required")
	ErrCSRFInvalid           = errors.New("csrf token invalid")
	ErrCSRFExpired           = errors.New("csrf token expired")
	ErrCSRFMalformed         = errors.New("csrf token malformed")
)

// Pre-session CSRF token prefix to distinguish from user-bound tokens.
const preSessionPrefix = "pre:"

// Cookie and CSRF configuration.
const (
	sessionCookieName    = "sid"
	userCookieName       = "uid"
	idTokenCookieName    = "gtoken"
	csrfTokenTTL         = 1 * time.Hour
	cookieMaxAge         = 30 * 24 * 3600 // 30 days in seconds
	csrfClockSkew        = 5 * time.Minute
	messagesDefaultLimit = 100
	sessionsDefaultLimit = 50
)

// sessionManager handles session cookies, user identity, and CSRF tokens.
type sessionManager struct {
	store      *session.Store
	hmacSecret []byte
	isDev      bool
	logger     *slog.Logger
}

// SessionID extracts the active session ID from the sid cookie.
func (*sessionManager) SessionID(r *http.Request) (uuid.UUID, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return uuid.Nil, ErrSessionCookieNotFound
	}

	sessionID, err := uuid.Parse(cookie.Value)
	if err != nil {
		return uuid.Nil, ErrSessionInvalid
	}

	return sessionID, nil
}

// UserID extracts the user identity from the uid cookie. Returns empty
// string if the cookie is absent, the HMAC signature is invalid, or the
// value is not a valid UUID. The signature makes the cookie
// tamper-evident; the UUID check keeps malformed owner IDs out of SQL
// queries.
func (sm *sessionManager) UserID(r *http.Request) string {
	cookie, err := r.Cookie(userCookieName)
	if err != nil {
		return ""
	}
	uid, ok := verifySignedUID(cookie.Value, sm.hmacSecret)
	if !ok {
		return ""
	}
	if _, err := uuid.Parse(uid); err != nil {
		return ""
	}
	return uid
}

// NewCSRFToken creates an HMAC-based token bound to the user ID.
// Format: "timestamp:signature"
func (sm *sessionManager) NewCSRFToken(userID string) string {
	timestamp := time.Now().Unix()
	message := fmt.Sprintf("%s:%d", userID, timestamp)

	h := hmac.New(sha256.New, sm.hmacSecret)
	h.Write([]byte(message))
	signature := base64.URLEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf("%d:%s", timestamp, signature)
}

// CheckCSRF verifies a user-bound CSRF token.
func (sm *sessionManager) CheckCSRF(userID, token string) error {
	if token == "" {
		return ErrCSRFRequired
	}

	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return ErrCSRFMalformed
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrCSRFMalformed
	}

	// Verify the HMAC before the timestamp checks; checking the
	// timestamp first would leak which timestamps are valid through
	// response timing.
	message := fmt.Sprintf("%s:%d", userID, timestamp)
	h := hmac.New(sha256.New, sm.hmacSecret)
	h.Write([]byte(message))
	expectedSig := h.Sum(nil)

	actualSig, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return ErrCSRFMalformed
	}

	if subtle.ConstantTimeCompare(actualSig, expectedSig) != 1 {
		return ErrCSRFInvalid
	}

	age := time.Since(time.Unix(timestamp, 0))
	if age > csrfTokenTTL {
		return ErrCSRFExpired
	}
	if age < -csrfClockSkew {
		return ErrCSRFInvalid
	}

	return nil
}

// NewPreSessionCSRFToken creates an HMAC-based token for pre-session
// state. Format: "pre:nonce:timestamp:signature"
func (sm *sessionManager) NewPreSessionCSRFToken() string {
	nonce := uuid.New().String()
	timestamp := time.Now().Unix()
	message := fmt.Sprintf("%s:%d", nonce, timestamp)

	h := hmac.New(sha256.New, sm.hmacSecret)
	h.Write([]byte(message))
	signature := base64.URLEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf("%s%s:%d:%s", preSessionPrefix, nonce, timestamp, signature)
}

// CheckPreSessionCSRF verifies a pre-session CSRF token.
func (sm *sessionManager) CheckPreSessionCSRF(token string) error {
	if token == "" {
		return ErrCSRFRequired
	}

	if !strings.HasPrefix(token, preSessionPrefix) {
		return ErrCSRFMalformed
	}

	tokenBody := strings.TrimPrefix(token, preSessionPrefix)
	parts := strings.SplitN(tokenBody, ":", 3)
	if len(parts) != 3 {
		return ErrCSRFMalformed
	}

	nonce := parts[0]
	timestamp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ErrCSRFMalformed
	}

	// HMAC before timestamp checks, same as CheckCSRF.
	message := fmt.Sprintf("%s:%d", nonce, timestamp)
	h := hmac.New(sha256.New, sm.hmacSecret)
	h.Write([]byte(message))
	expectedSig := h.Sum(nil)

	actualSig, err := base64.URLEncoding.DecodeString(parts[2])
	if err != nil {
		return ErrCSRFMalformed
	}

	if subtle.ConstantTimeCompare(actualSig, expectedSig) != 1 {
		return ErrCSRFInvalid
	}

	age := time.Since(time.Unix(timestamp, 0))
	if age > csrfTokenTTL {
		return ErrCSRFExpired
	}
	if age < -csrfClockSkew {
		return ErrCSRFInvalid
	}

	return nil
}

// requireSession parses the {id} path value and the caller's identity.
// Ownership is enforced by the store itself: every query is scoped to
// the user ID, and a foreign session reads as not found.
func (sm *sessionManager) requireSession(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		writeError(w, http.StatusBadRequest, "missing_id", "session ID required", sm.logger)
		return uuid.Nil, "", false
	}

	targetID, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid session ID", sm.logger)
		return uuid.Nil, "", false
	}

	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusForbidden, "forbidden", "user identity required", sm.logger)
		return uuid.Nil, "", false
	}

	return targetID, userID, true
}

func (sm *sessionManager) setSessionCookie(w http.ResponseWriter, sessionID uuid.UUID) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID.String(),
		Path:     "/",
		Secure:   !sm.isDev,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   cookieMaxAge,
	})
}

func (sm *sessionManager) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Secure:   !sm.isDev,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (sm *sessionManager) setUserCookie(w http.ResponseWriter, userID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     userCookieName,
		Value:    signUID(userID, sm.hmacSecret),
		Path:     "/",
		Secure:   !sm.isDev,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   cookieMaxAge,
	})
}

// signUID creates an HMAC-signed cookie value:
// "uid.base64url(HMAC-SHA256(secret, uid))".
func signUID(uid string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(uid))
	sig := base64.URLEncoding.EncodeToString(h.Sum(nil))
	return uid + "." + sig
}

// verifySignedUID splits a signed cookie value and verifies the HMAC.
// Returns the extracted UID and true on success.
func verifySignedUID(value string, secret []byte) (string, bool) {
	idx := strings.LastIndex(value, ".")
	if idx < 1 {
		return "", false
	}

	uid := value[:idx]
	sig, err := base64.URLEncoding.DecodeString(value[idx+1:])
	if err != nil {
		return "", false
	}

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(uid))
	expected := h.Sum(nil)

	if subtle.ConstantTimeCompare(sig, expected) != 1 {
		return "", false
	}

	return uid, true
}

// csrfToken handles GET /api/v1/csrf-token. Returns a user-bound token
// if the uid cookie exists, otherwise a pre-session token.
func (sm *sessionManager) csrfToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if ok && userID != "" {
		writeJSON(w, http.StatusOK, map[string]string{
			"csrfToken": sm.NewCSRFToken(userID),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"csrfToken": sm.NewPreSessionCSRFToken(),
	})
}

// sessionItem is the JSON representation of a session in list responses.
type sessionItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// messageItem is the JSON representation of a message in list responses.
type messageItem struct {
	ID        int64  `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// listSessions handles GET /api/v1/sessions.
func (sm *sessionManager) listSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"items": []sessionItem{}})
		return
	}

	limit := min(parseIntParam(r, "limit", sessionsDefaultLimit), 200)

	sessions, err := sm.store.List(r.Context(), userID, int32(limit))
	if err != nil {
		sm.logger.Error("listing sessions", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list sessions", sm.logger)
		return
	}

	items := make([]sessionItem, len(sessions))
	for i, sess := range sessions {
		items[i] = sessionItem{
			ID:        sess.ID.String(),
			Title:     sess.Title,
			CreatedAt: sess.CreatedAt.Format(time.RFC3339),
			UpdatedAt: sess.UpdatedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// createSession handles POST /api/v1/sessions. The new session becomes
// the active one via the sid cookie.
func (sm *sessionManager) createSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusBadRequest, "user_required", "user identity required", sm.logger)
		return
	}

	var body struct {
		Title string `json:"title"`
	}
	if r.Body != nil {
		// Title is optional; an empty or invalid body means untitled.
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body)
	}

	sess, err := sm.store.Create(r.Context(), userID, body.Title)
	if err != nil {
		sm.logger.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create session", sm.logger)
		return
	}

	sm.setSessionCookie(w, sess.ID)

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":        sess.ID.String(),
		"csrfToken": sm.NewCSRFToken(userID),
	})
}

// getSession handles GET /api/v1/sessions/{id}.
func (sm *sessionManager) getSession(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := sm.requireSession(w, r)
	if !ok {
		return
	}

	sess, err := sm.store.Get(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", sm.logger)
			return
		}
		sm.logger.Error("getting session", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get session", sm.logger)
		return
	}

	writeJSON(w, http.StatusOK, sessionItem{
		ID:        sess.ID.String(),
		Title:     sess.Title,
		CreatedAt: sess.CreatedAt.Format(time.RFC3339),
		UpdatedAt: sess.UpdatedAt.Format(time.RFC3339),
	})
}

// getSessionMessages handles GET /api/v1/sessions/{id}/messages.
func (sm *sessionManager) getSessionMessages(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := sm.requireSession(w, r)
	if !ok {
		return
	}

	limit := min(parseIntParam(r, "limit", messagesDefaultLimit), 1000)

	messages, err := sm.store.Messages(r.Context(), userID, id, int32(limit))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", sm.logger)
			return
		}
		sm.logger.Error("getting messages", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get messages", sm.logger)
		return
	}

	items := make([]messageItem, len(messages))
	for i, msg := range messages {
		items[i] = messageItem{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Text(),
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// deleteSession handles DELETE /api/v1/sessions/{id}.
func (sm *sessionManager) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := sm.requireSession(w, r)
	if !ok {
		return
	}

	if err := sm.store.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", sm.logger)
			return
		}
		sm.logger.Error("deleting session", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete session", sm.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// reset handles POST /api/v1/reset: drop the active conversation's
// messages and clear the sid cookie so the next chat starts fresh.
func (sm *sessionManager) reset(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "no_session", "no session to reset", sm.logger)
		return
	}

	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusForbidden, "forbidden", "user identity required", sm.logger)
		return
	}

	if err := sm.store.ClearMessages(r.Context(), userID, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// Stale cookie pointing at a deleted session; clear it anyway.
			sm.clearSessionCookie(w)
			writeError(w, http.StatusNotFound, "not_found", "session not found", sm.logger)
			return
		}
		sm.logger.Error("resetting session", "error", err, "session_id", sessionID)
		writeError(w, http.StatusInternalServerError, "reset_failed", "failed to reset session", sm.logger)
		return
	}

	sm.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
