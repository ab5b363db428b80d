package oauth

import (
	"net/url"

	"golang.org/x/oauth2"

	"pulseboard/internal/config"
)

const (
	ProviderSlack  = "slack"
	ProviderJira   = "jira"
	ProviderGoogle = "google"
)

// Provider holds everything needed to run the authorization-code flow for
// one third party. One table entry per provider instead of one code path per
// provider.
type Provider struct {
	Name   string
	Config oauth2.Config

	// extra query params some providers require on the authorize URL
	// (jira: audience/prompt, google: access_type)
	AuthParams url.Values

	// slack wraps its token response in an {ok, error} envelope instead of
	// the standard OAuth2 shape
	SlackEnvelope bool
}

// AuthorizeURL builds the provider authorize URL for one connect attempt.
func (p *Provider) AuthorizeURL(state string) string {
	var opts []oauth2.AuthCodeOption
	for k, vs := range p.AuthParams {
		for _, v := range vs {
			opts = append(opts, oauth2.SetAuthURLParam(k, v))
		}
	}
	return p.Config.AuthCodeURL(state, opts...)
}

// Providers builds the provider table from configuration. The redirect URI
// is the service's own callback page, which must match byte for byte at
// exchange time.
func Providers(cfg config.Config) map[string]*Provider {
	redirect := func(name string) string {
		return cfg.PublicBaseURL + "/oauth/callback/" + name
	}

	return map[string]*Provider{
		ProviderSlack: {
			Name: ProviderSlack,
			Config: oauth2.Config{
				ClientID:     cfg.Slack.ClientID,
				ClientSecret: cfg.Slack.ClientSecret,
				RedirectURL:  redirect(ProviderSlack),
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://slack.com/oauth/v2/authorize",
					TokenURL: "https://slack.com/api/oauth.v2.access",
				},
				Scopes: []string{
					"channels:read",
					"channels:history",
					"im:read",
					"im:history",
					"mpim:read",
					"mpim:history",
					"users:read",
				},
			},
			SlackEnvelope: true,
		},
		ProviderJira: {
			Name: ProviderJira,
			Config: oauth2.Config{
				ClientID:     cfg.Jira.ClientID,
				ClientSecret: cfg.Jira.ClientSecret,
				RedirectURL:  redirect(ProviderJira),
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://auth.atlassian.com/authorize",
					TokenURL: "https://auth.atlassian.com/oauth/token",
				},
				Scopes: []string{"read:jira-user", "read:jira-work", "offline_access"},
			},
			AuthParams: url.Values{
				"audience": {"api.atlassian.com"},
				"prompt":   {"consent"},
			},
		},
		ProviderGoogle: {
			Name: ProviderGoogle,
			Config: oauth2.Config{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				RedirectURL:  redirect(ProviderGoogle),
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
					TokenURL: "https://oauth2.googleapis.com/token",
				},
				Scopes: []string{"https://www.googleapis.com/auth/calendar.readonly"},
			},
			AuthParams: url.Values{
				"access_type": {"offline"},
			},
		},
	}
}
