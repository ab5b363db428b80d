package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"pulseboard/internal/logging"
)

const jiraResourcesURL = "https://api.atlassian.com/oauth/token/accessible-resources"

// TokenSink is where completed exchanges land. Satisfied by *Store.
type TokenSink interface {
	Upsert(ctx context.Context, t Token) error
}

// ConnectInfo is handed to the frontend to open the popup.
type ConnectInfo struct {
	AuthorizeURL string `json:"authorize_url"`
	State        string `json:"state"`
}

// CallbackMessage is the cross-window payload the callback page posts to its
// opener. Type is oauth_success or oauth_error.
type CallbackMessage struct {
	Type  string `json:"type"`
	Code  string `json:"code,omitempty"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// Connection describes a finished exchange, minus anything secret.
type Connection struct {
	Provider  string `json:"provider"`
	AccountID string `json:"account_id,omitempty"`
	TeamName  string `json:"team_name,omitempty"`
	SiteURL   string `json:"site_url,omitempty"`
}

// Manager runs the authorization-code flow end to end: state issue, callback
// verdict, code-for-token exchange, token persistence. One attempt either
// completes fully or fails terminally; there is no retry inside.
type Manager struct {
	providers map[string]*Provider
	states    *StateStore
	tokens    TokenSink
	client    *http.Client
	log       *slog.Logger

	// overridable in tests
	resourcesURL string
}

func NewManager(providers map[string]*Provider, states *StateStore, tokens TokenSink, client *http.Client, log *slog.Logger) *Manager {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Manager{
		providers:    providers,
		states:       states,
		tokens:       tokens,
		client:       client,
		log:          log,
		resourcesURL: jiraResourcesURL,
	}
}

func (m *Manager) provider(name string) (*Provider, error) {
	p, ok := m.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

// BeginConnect starts an attempt: fresh one-shot state, provider authorize
// URL. Returns immediately; the popup lifecycle is the caller's problem.
func (m *Manager) BeginConnect(ctx context.Context, userID, providerName string) (ConnectInfo, error) {
	p, err := m.provider(providerName)
	if err != nil {
		return ConnectInfo{}, err
	}

	state, err := m.states.Create(ctx, userID, p.Name)
	if err != nil {
		return ConnectInfo{}, err
	}

	m.log.Info("oauth_connect_started", "provider", p.Name, "user_id", userID)

	return ConnectInfo{
		AuthorizeURL: p.AuthorizeURL(state),
		State:        state,
	}, nil
}

// HandleCallback turns the provider redirect into the message the popup page
// posts to its opener. On any failure verdict no exchange happens and the
// attempt is dead.
func (m *Manager) HandleCallback(ctx context.Context, providerName, code, state, providerErr string) (CallbackMessage, error) {
	if _, err := m.provider(providerName); err != nil {
		return CallbackMessage{Type: "oauth_error", Error: "unknown_provider"}, err
	}

	if providerErr != "" {
		m.log.Info("oauth_callback_denied", "provider", providerName, "provider_error", providerErr)
		return CallbackMessage{Type: "oauth_error", Error: "provider_denied"}, ErrProviderDenied
	}

	// state is checked before the code: a forged redirect reads as a
	// mismatch even when it also forgot the code
	attempt, err := m.states.Peek(ctx, state)
	if err != nil || attempt.Provider != strings.ToLower(providerName) {
		m.log.Warn("oauth_callback_state_mismatch", "provider", providerName)
		return CallbackMessage{Type: "oauth_error", Error: "state_mismatch"}, ErrStateMismatch
	}

	if code == "" {
		m.log.Info("oauth_callback_missing_code", "provider", providerName)
		return CallbackMessage{Type: "oauth_error", Error: "missing_code"}, ErrMissingCode
	}

	return CallbackMessage{Type: "oauth_success", Code: code, State: state}, nil
}

// Exchange finishes the attempt: the opener hands back code+state, the state
// is consumed (one use ever) and checked against the caller's identity, then
// the code is traded for a token and the credential upserted for that user.
// Association with the authenticated user happens inside the same upsert, so
// a half-finished exchange never reads as connected.
func (m *Manager) Exchange(ctx context.Context, userID, providerName, code, state string) (Connection, error) {
	p, err := m.provider(providerName)
	if err != nil {
		return Connection{}, err
	}

	// the state dies with the attempt either way, so it is consumed before
	// the code is even looked at
	attempt, err := m.states.Consume(ctx, state)
	if err != nil {
		return Connection{}, ErrStateMismatch
	}
	if attempt.UserID != userID || attempt.Provider != p.Name {
		m.log.Warn("oauth_exchange_state_mismatch", "provider", p.Name, "user_id", userID)
		return Connection{}, ErrStateMismatch
	}
	if code == "" {
		return Connection{}, ErrMissingCode
	}

	var (
		tok  Token
		conn Connection
	)
	if p.SlackEnvelope {
		tok, conn, err = m.exchangeSlack(ctx, p, code)
	} else {
		tok, conn, err = m.exchangeStandard(ctx, p, code)
	}
	if err != nil {
		m.log.Warn("oauth_exchange_failed", "provider", p.Name, "user_id", userID, "error", err)
		return Connection{}, err
	}

	tok.UserID = userID
	tok.Provider = p.Name
	if err := m.tokens.Upsert(ctx, tok); err != nil {
		return Connection{}, fmt.Errorf("persist token: %w", err)
	}

	m.log.Info("oauth_connected",
		"provider", p.Name,
		"user_id", userID,
		"account_id", conn.AccountID,
		"token", logging.MaskToken(tok.AccessToken),
	)

	conn.Provider = p.Name
	return conn, nil
}

// exchangeStandard uses the plain OAuth2 token endpoint (jira, google).
func (m *Manager) exchangeStandard(ctx context.Context, p *Provider, code string) (Token, Connection, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)

	t, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return Token{}, Connection{}, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}

	tok := Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Scope:        strings.Join(p.Config.Scopes, " "),
	}
	if !t.Expiry.IsZero() {
		exp := t.Expiry
		tok.ExpiresAt = &exp
	}

	conn := Connection{}
	if p.Name == ProviderJira {
		site, err := m.firstAccessibleResource(ctx, t.AccessToken)
		if err != nil {
			return Token{}, Connection{}, err
		}
		tok.ProviderAccountID = site.ID
		tok.SiteURL = site.URL
		conn.AccountID = site.ID
		conn.TeamName = site.Name
		conn.SiteURL = site.URL
	}

	return tok, conn, nil
}

type slackAccessResponse struct {
	OK          bool   `json:"ok"`
	Err         string `json:"error"`
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
	Team        struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"team"`
	AuthedUser struct {
		ID          string `json:"id"`
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
	} `json:"authed_user"`
}

// exchangeSlack handles slack's oauth.v2.access envelope, which reports
// failure via an ok=false body on HTTP 200.
func (m *Manager) exchangeSlack(ctx context.Context, p *Provider, code string) (Token, Connection, error) {
	form := url.Values{
		"client_id":     {p.Config.ClientID},
		"client_secret": {p.Config.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {p.Config.RedirectURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Config.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, Connection{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return Token{}, Connection{}, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Token{}, Connection{}, fmt.Errorf("%w: status %d: %s", ErrTokenExchange, resp.StatusCode, string(body))
	}

	var access slackAccessResponse
	if err := json.NewDecoder(resp.Body).Decode(&access); err != nil {
		return Token{}, Connection{}, fmt.Errorf("%w: decode: %v", ErrTokenExchange, err)
	}
	if !access.OK {
		return Token{}, Connection{}, fmt.Errorf("%w: %s", ErrTokenExchange, access.Err)
	}

	tok := Token{
		AccessToken:       access.AccessToken,
		Scope:             access.Scope,
		ProviderAccountID: access.Team.ID,
	}
	if tok.AccessToken == "" {
		tok.AccessToken = access.AuthedUser.AccessToken
		tok.Scope = access.AuthedUser.Scope
	}
	if tok.AccessToken == "" {
		return Token{}, Connection{}, fmt.Errorf("%w: empty access token", ErrTokenExchange)
	}

	return tok, Connection{AccountID: access.Team.ID, TeamName: access.Team.Name}, nil
}

type jiraResource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// firstAccessibleResource resolves the jira cloud site the new token can
// reach. The first site wins, matching the dashboard's single-site model.
func (m *Manager) firstAccessibleResource(ctx context.Context, accessToken string) (jiraResource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.resourcesURL, nil)
	if err != nil {
		return jiraResource{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return jiraResource{}, fmt.Errorf("%w: accessible-resources: %v", ErrTokenExchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return jiraResource{}, fmt.Errorf("%w: accessible-resources status %d", ErrTokenExchange, resp.StatusCode)
	}

	var resources []jiraResource
	if err := json.NewDecoder(resp.Body).Decode(&resources); err != nil {
		return jiraResource{}, fmt.Errorf("%w: accessible-resources decode: %v", ErrTokenExchange, err)
	}
	if len(resources) == 0 {
		return jiraResource{}, fmt.Errorf("%w: no accessible jira sites", ErrTokenExchange)
	}

	return resources[0], nil
}
