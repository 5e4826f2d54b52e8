package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyport0/skyport/internal/log"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestSessionManager() *sessionManager {
	return &sessionManager{
		hmacSecret: testSecret,
		isDev:      true,
		logger:     log.NewNop(),
	}
}

func TestCSRFTokenRoundTrip(t *testing.T) {
	sm := newTestSessionManager()

	token := sm.NewCSRFToken("user-1")
	require.NoError(t, sm.CheckCSRF("user-1", token))

	assert.ErrorIs(t, sm.CheckCSRF("user-2", token), ErrCSRFInvalid)
	assert.ErrorIs(t, sm.CheckCSRF("user-1", ""), ErrCSRFRequired)
}

// signedToken builds a token with an arbitrary timestamp but a valid
// signature, for exercising the TTL checks.
func signedToken(userID string, timestamp int64) string {
	message := fmt.Sprintf("%s:%d", userID, timestamp)
	h := hmac.New(sha256.New, testSecret)
	h.Write([]byte(message))
	sig := base64.URLEncoding.EncodeToString(h.Sum(nil))
	return fmt.Sprintf("%d:%s", timestamp, sig)
}

func TestCSRFTokenExpiry(t *testing.T) {
	sm := newTestSessionManager()

	expired := signedToken("user-1", time.Now().Add(-2*time.Hour).Unix())
	assert.ErrorIs(t, sm.CheckCSRF("user-1", expired), ErrCSRFExpired)

	future := signedToken("user-1", time.Now().Add(time.Hour).Unix())
	assert.ErrorIs(t, sm.CheckCSRF("user-1", future), ErrCSRFInvalid)

	recent := signedToken("user-1", time.Now().Add(-time.Minute).Unix())
	assert.NoError(t, sm.CheckCSRF("user-1", recent))
}

func TestCSRFTokenMalformed(t *testing.T) {
	sm := newTestSessionManager()

	for _, token := range []string{
		"not-a-token",
		"abc:def",
		"12345",
		"12345:%%%not-base64%%%",
	} {
		assert.ErrorIs(t, sm.CheckCSRF("user-1", token), ErrCSRFMalformed, "token %q", token)
	}

	// Valid base64 but wrong signature.
	forged := fmt.Sprintf("%d:%s", time.Now().Unix(), base64.URLEncoding.EncodeToString([]byte("forged")))
	assert.ErrorIs(t, sm.CheckCSRF("user-1", forged), ErrCSRFInvalid)
}

func TestPreSessionCSRFToken(t *testing.T) {
	sm := newTestSessionManager()

	token := sm.NewPreSessionCSRFToken()
	require.NoError(t, sm.CheckPreSessionCSRF(token))

	assert.ErrorIs(t, sm.CheckPreSessionCSRF(""), ErrCSRFRequired)
	assert.ErrorIs(t, sm.CheckPreSessionCSRF("no-prefix"), ErrCSRFMalformed)
	assert.ErrorIs(t, sm.CheckPreSessionCSRF("pre:one:two"), ErrCSRFMalformed)

	// A user-bound token is not a pre-session token.
	assert.ErrorIs(t, sm.CheckPreSessionCSRF(sm.NewCSRFToken("user-1")), ErrCSRFMalformed)
}

func TestSignedUID(t *testing.T) {
	uid := uuid.New().String()
	signed := signUID(uid, testSecret)

	got, ok := verifySignedUID(signed, testSecret)
	require.True(t, ok)
	assert.Equal(t, uid, got)

	_, ok = verifySignedUID(signed+"x", testSecret)
	assert.False(t, ok, "tampered signature should not verify")

	_, ok = verifySignedUID("other-uid."+signed[len(uid)+1:], testSecret)
	assert.False(t, ok, "swapped uid should not verify")

	_, ok = verifySignedUID("no-dot", testSecret)
	assert.False(t, ok)

	_, ok = verifySignedUID(signed, []byte("another-secret-another-secret-32"))
	assert.False(t, ok, "wrong secret should not verify")
}

func TestSessionManagerUserID(t *testing.T) {
	sm := newTestSessionManager()
	uid := uuid.New().String()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, sm.UserID(r), "no cookie")

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: userCookieName, Value: signUID(uid, testSecret)})
	assert.Equal(t, uid, sm.UserID(r))

	// Signed but not a UUID.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: userCookieName, Value: signUID("not-a-uuid", testSecret)})
	assert.Empty(t, sm.UserID(r))

	// Unsigned value.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: userCookieName, Value: uid})
	assert.Empty(t, sm.UserID(r))
}

func TestSessionManagerSessionID(t *testing.T) {
	sm := newTestSessionManager()
	id := uuid.New()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := sm.SessionID(r)
	assert.ErrorIs(t, err, ErrSessionCookieNotFound)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "garbage"})
	_, err = sm.SessionID(r)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: id.String()})
	got, err := sm.SessionID(r)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}
