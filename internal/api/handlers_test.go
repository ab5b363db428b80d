package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"pulseboard/internal/auth"
	"pulseboard/internal/config"
	"pulseboard/internal/oauth"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}} }

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	return nil
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", errors.New("miss")
	}
	return v, nil
}

func (f *fakeKV) GetDel(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", errors.New("miss")
	}
	delete(f.data, key)
	return v, nil
}

type fakeSink struct {
	mu     sync.Mutex
	tokens []oauth.Token
}

func (f *fakeSink) Upsert(_ context.Context, t oauth.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, t)
	return nil
}

type testEnv struct {
	server   *Server
	sessions *auth.TokenEngine
	sink     *fakeSink
}

func newTestEnv(t *testing.T, slackTokenURL string) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		AppOrigin:   "http://localhost:3000",
		CORSOrigins: []string{"http://localhost:3000"},
	}

	providers := map[string]*oauth.Provider{
		oauth.ProviderSlack: {
			Name: oauth.ProviderSlack,
			Config: oauth2.Config{
				ClientID:     "client-id",
				ClientSecret: "client-secret",
				RedirectURL:  "http://localhost:8080/oauth/callback/slack",
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://slack.com/oauth/v2/authorize",
					TokenURL: slackTokenURL,
				},
			},
			SlackEnvelope: true,
		},
	}

	sink := &fakeSink{}
	states := oauth.NewStateStore(newFakeKV())
	mgr := oauth.NewManager(providers, states, sink, &http.Client{}, log)
	sessions := auth.NewTokenEngine("test-secret", time.Hour)

	srv := NewServer(log, nil, nil, cfg, sessions, mgr, nil, nil, nil)
	return &testEnv{server: srv, sessions: sessions, sink: sink}
}

func (e *testEnv) bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.sessions.Generate(userID, "jane.doe@example.com", "Jane Doe")
	require.NoError(t, err)
	return "Bearer " + tok
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "https://slack.example/token")

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, "https://slack.example/token")

	w := env.do(httptest.NewRequest(http.MethodPost, "/api/v1/connect/slack", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "unauthorized")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/connect/slack", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = env.do(req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConnectIssuesState(t *testing.T) {
	env := newTestEnv(t, "https://slack.example/token")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/connect/slack", nil)
	req.Header.Set("Authorization", env.bearer(t, "user-1"))
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var info oauth.ConnectInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.NotEmpty(t, info.State)
	require.Contains(t, info.AuthorizeURL, "state="+info.State)
	require.Contains(t, info.AuthorizeURL, "slack.com/oauth/v2/authorize")
}

func TestConnectUnknownProvider(t *testing.T) {
	env := newTestEnv(t, "https://slack.example/token")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/connect/linear", nil)
	req.Header.Set("Authorization", env.bearer(t, "user-1"))
	w := env.do(req)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "unknown_provider")
}

func TestCallbackPageSuccess(t *testing.T) {
	env := newTestEnv(t, "https://slack.example/token")

	// issue a real state through connect first
	req := httptest.NewRequest(http.MethodPost, "/api/v1/connect/slack", nil)
	req.Header.Set("Authorization", env.bearer(t, "user-1"))
	w := env.do(req)
	var info oauth.ConnectInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))

	w = env.do(httptest.NewRequest(http.MethodGet,
		"/oauth/callback/slack?code=code-123&state="+info.State, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")

	body := w.Body.String()
	require.Contains(t, body, "oauth_success")
	require.Contains(t, body, "code-123")
	require.Contains(t, body, info.State)
	require.Contains(t, body, "http://localhost:3000")
	require.Contains(t, body, "window.opener.postMessage")
}

func TestCallbackPageDenied(t *testing.T) {
	env := newTestEnv(t, "https://slack.example/token")

	w := env.do(httptest.NewRequest(http.MethodGet,
		"/oauth/callback/slack?error=access_denied", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	require.Contains(t, body, "oauth_error")
	require.Contains(t, body, "provider_denied")
	require.NotContains(t, body, "oauth_success")
}

func TestCallbackPageForgedState(t *testing.T) {
	env := newTestEnv(t, "https://slack.example/token")

	w := env.do(httptest.NewRequest(http.MethodGet,
		"/oauth/callback/slack?code=code-123&state=forged", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "state_mismatch")
}

func TestExchangeHappyPath(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":           true,
			"access_token": "xoxb-test",
			"team":         map[string]string{"id": "T1", "name": "Acme"},
		})
	}))
	defer tokenSrv.Close()

	env := newTestEnv(t, tokenSrv.URL)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/connect/slack", nil)
	req.Header.Set("Authorization", env.bearer(t, "user-1"))
	w := env.do(req)
	var info oauth.ConnectInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))

	body := strings.NewReader(`{"code":"code-123","state":"` + info.State + `"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/oauth/slack/exchange", body)
	req.Header.Set("Authorization", env.bearer(t, "user-1"))
	req.Header.Set("Content-Type", "application/json")
	w = env.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"provider":"slack"`)

	require.Len(t, env.sink.tokens, 1)
	require.Equal(t, "user-1", env.sink.tokens[0].UserID)
}

func TestExchangeForgedState(t *testing.T) {
	var hits int
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer tokenSrv.Close()

	env := newTestEnv(t, tokenSrv.URL)

	body := strings.NewReader(`{"code":"code-123","state":"forged"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/oauth/slack/exchange", body)
	req.Header.Set("Authorization", env.bearer(t, "user-1"))
	req.Header.Set("Content-Type", "application/json")
	w := env.do(req)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "state_mismatch")
	require.Zero(t, hits)
	require.Empty(t, env.sink.tokens)
}

func TestExchangeStateFromAnotherUser(t *testing.T) {
	env := newTestEnv(t, "https://slack.example/token")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/connect/slack", nil)
	req.Header.Set("Authorization", env.bearer(t, "user-1"))
	w := env.do(req)
	var info oauth.ConnectInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))

	body := strings.NewReader(`{"code":"code-123","state":"` + info.State + `"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/oauth/slack/exchange", body)
	req.Header.Set("Authorization", env.bearer(t, "user-2"))
	req.Header.Set("Content-Type", "application/json")
	w = env.do(req)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Empty(t, env.sink.tokens)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, "https://slack.example/token")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := env.do(req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	env := newTestEnv(t, "https://slack.example/token")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := env.do(req)

	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
