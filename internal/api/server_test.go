package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyport0/skyport/internal/log"
	"github.com/skyport0/skyport/internal/session"
)

// fakeCredentialVerifier accepts the single credential "good".
type fakeCredentialVerifier struct{}

func (fakeCredentialVerifier) Verify(_ context.Context, credential string) (*UserInfo, error) {
	if credential != "good" {
		return nil, errors.New("invalid credential")
	}
	return &UserInfo{
		Sub:     "sub-1",
		Name:    "Trail Blazer",
		Email:   "t@example.com",
		Picture: "https://example.com/t.png",
	}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

// newTestServer builds a server whose session store is never reached by
// the routes under test. Chat flow and agent stay nil.
func newTestServer(t *testing.T, mutate func(*Config)) *httptest.Server {
	t.Helper()

	cfg := Config{
		Logger:     log.NewNop(),
		Sessions:   session.New(nil, log.NewNop()),
		HMACSecret: testSecret,
		ClientID:   "client-id",
		Verifier:   fakeCredentialVerifier{},
		IsDev:      true,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// newClientWithJar returns an http.Client that keeps cookies and does
// not follow redirects, so login redirects stay observable.
func newClientWithJar(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// fetchCSRFToken primes the uid cookie and returns a user-bound token.
func fetchCSRFToken(t *testing.T, ts *httptest.Server, client *http.Client) string {
	t.Helper()

	resp, err := client.Get(ts.URL + "/api/v1/csrf-token")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.CSRFToken)
	return body.CSRFToken
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{HMACSecret: testSecret})
	assert.Error(t, err, "missing session store")

	_, err = NewServer(Config{
		Sessions:   session.New(nil, log.NewNop()),
		HMACSecret: []byte("too-short"),
	})
	assert.Error(t, err, "short HMAC secret")
}

func TestIndexPage(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), "Skyport Air")
	assert.Contains(t, string(page), "client-id")
	assert.Contains(t, string(page), "How may I assist you?")

	// First visit provisions the uid cookie.
	var uidCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == userCookieName {
			uidCookie = c
		}
	}
	require.NotNil(t, uidCookie, "uid cookie should be set on first visit")
	_, ok := verifySignedUID(uidCookie.Value, testSecret)
	assert.True(t, ok, "uid cookie should be signed")
}

func TestIndexPageWithoutClientID(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) { cfg.ClientID = "" })

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(page), "g_id_onload")
}

func TestCSRFEnforcedOnStateChanges(t *testing.T) {
	ts := newTestServer(t, nil)
	client := newClientWithJar(t)

	// No token at all.
	resp, err := client.Post(ts.URL+"/api/v1/reset", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var envelope errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "csrf_invalid", envelope.Error.Code)
}

func TestPreSessionCSRFAccepted(t *testing.T) {
	ts := newTestServer(t, nil)

	sm := newTestSessionManager()
	token := sm.NewPreSessionCSRFToken()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/reset", nil)
	require.NoError(t, err)
	req.Header.Set("X-CSRF-Token", token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// CSRF passes; reset then fails because there is no session cookie.
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var envelope errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "no_session", envelope.Error.Code)
}

func TestUserBoundCSRFAccepted(t *testing.T) {
	ts := newTestServer(t, nil)
	client := newClientWithJar(t)
	token := fetchCSRFToken(t, ts, client)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/reset", nil)
	require.NoError(t, err)
	req.Header.Set("X-CSRF-Token", token)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no sid cookie means nothing to reset")
}

func loginForm(credential, csrf string) (string, []*http.Cookie) {
	form := url.Values{}
	if credential != "" {
		form.Set("credential", credential)
	}
	if csrf != "" {
		form.Set("g_csrf_token", csrf)
	}
	return form.Encode(), []*http.Cookie{{Name: "g_csrf_token", Value: csrf}}
}

func postLogin(t *testing.T, ts *httptest.Server, client *http.Client, body string, cookies []*http.Cookie, referer string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, ts.URL+loginPath, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t, nil)
	client := newClientWithJar(t)

	body, cookies := loginForm("good", "gcsrf")
	resp := postLogin(t, ts, client, body, cookies, ts.URL+"/")
	defer resp.Body.Close()

	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, ts.URL+"/", resp.Header.Get("Location"))

	var tokenCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == idTokenCookieName {
			tokenCookie = c
		}
	}
	require.NotNil(t, tokenCookie, "credential cookie should be set")
	assert.Equal(t, "good", tokenCookie.Value)
	assert.True(t, tokenCookie.HttpOnly)
}

func TestLoginErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	client := newClientWithJar(t)

	t.Run("missing credential", func(t *testing.T) {
		body, cookies := loginForm("", "gcsrf")
		resp := postLogin(t, ts, client, body, cookies, "")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejected credential", func(t *testing.T) {
		body, cookies := loginForm("forged", "gcsrf")
		resp := postLogin(t, ts, client, body, cookies, "")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("double-submit mismatch", func(t *testing.T) {
		body, _ := loginForm("good", "gcsrf")
		cookies := []*http.Cookie{{Name: "g_csrf_token", Value: "different"}}
		resp := postLogin(t, ts, client, body, cookies, "")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("missing double-submit cookie", func(t *testing.T) {
		body, _ := loginForm("good", "gcsrf")
		resp := postLogin(t, ts, client, body, nil, "")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestMe(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("guest", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/me")
		require.NoError(t, err)
		defer resp.Body.Close()

		var me map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
		assert.Equal(t, false, me["signedIn"])
	})

	t.Run("signed in", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/me", nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: idTokenCookieName, Value: "good"})

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		var me map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
		assert.Equal(t, true, me["signedIn"])
		assert.Equal(t, "Trail Blazer", me["name"])
	})

	t.Run("stale token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/me", nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: idTokenCookieName, Value: "expired"})

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		var me map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
		assert.Equal(t, false, me["signedIn"])
	})
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t, nil)
	client := newClientWithJar(t)
	token := fetchCSRFToken(t, ts, client)

	req, err := http.NewRequest(http.MethodPost, ts.URL+logoutPath, nil)
	require.NoError(t, err)
	req.Header.Set("X-CSRF-Token", token)
	req.AddCookie(&http.Cookie{Name: idTokenCookieName, Value: "good"})

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	cleared := false
	for _, c := range resp.Cookies() {
		if c.Name == idTokenCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "credential cookie should be expired")
}

// sseEvents parses a full SSE response body into event/data pairs.
func sseEvents(t *testing.T, body io.Reader) []string {
	t.Helper()
	raw, err := io.ReadAll(body)
	require.NoError(t, err)

	var events []string
	for _, block := range strings.Split(strings.TrimSpace(string(raw)), "\n\n") {
		events = append(events, block)
	}
	return events
}

func TestChatStreamValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	client := newClientWithJar(t)
	token := fetchCSRFToken(t, ts, client)

	post := func(body string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/chat/stream", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-CSRF-Token", token)
		resp, err := client.Do(req)
		require.NoError(t, err)
		return resp
	}

	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", "{not json", "INVALID_REQUEST"},
		{"missing session", `{"query":"hi"}`, "MISSING_SESSION_ID"},
		{"missing query", `{"sessionId":"11111111-1111-1111-1111-111111111111"}`, "MISSING_QUERY"},
		{"no flow configured", `{"query":"hi","sessionId":"11111111-1111-1111-1111-111111111111"}`, "FLOW_NOT_CONFIGURED"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := post(tc.body)
			defer resp.Body.Close()

			assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
			events := sseEvents(t, resp.Body)
			require.NotEmpty(t, events)
			assert.Contains(t, events[0], "event: error")
			assert.Contains(t, events[0], tc.code)
		})
	}
}

func TestChatStreamGet(t *testing.T) {
	ts := newTestServer(t, nil)
	client := newClientWithJar(t)

	get := func(params string) *http.Response {
		resp, err := client.Get(ts.URL + "/api/v1/chat/stream?" + params)
		require.NoError(t, err)
		return resp
	}

	tests := []struct {
		name   string
		params string
		code   string
	}{
		{"missing session", "query=hi", "MISSING_SESSION_ID"},
		{"missing query", "sessionId=11111111-1111-1111-1111-111111111111", "MISSING_QUERY"},
		{"reaches the flow", "query=hi&sessionId=11111111-1111-1111-1111-111111111111", "FLOW_NOT_CONFIGURED"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := get(tc.params)
			defer resp.Body.Close()

			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
			events := sseEvents(t, resp.Body)
			require.NotEmpty(t, events)
			assert.Contains(t, events[0], tc.code)
		})
	}
}

func TestWriteEventFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	err := writeEvent(rec, noopFlusher{}, EventChunk, ChunkPayload{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "event: chunk\ndata: {\"text\":\"hello\"}\n\n", rec.Body.String())
}

type noopFlusher struct{}

func (noopFlusher) Flush() {}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "nil pinger means ready")

	down := newTestServer(t, func(cfg *Config) { cfg.Pinger = failingPinger{} })
	resp, err = http.Get(down.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) { cfg.RateBurst = 2 })
	client := newClientWithJar(t)

	var lastStatus int
	for i := 0; i < 5; i++ {
		resp, err := client.Get(fmt.Sprintf("%s/api/v1/me", ts.URL))
		require.NoError(t, err)
		resp.Body.Close()
		lastStatus = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, lastStatus)
}
