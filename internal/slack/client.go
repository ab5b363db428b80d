package slack

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pulseboard/internal/models"
	"pulseboard/internal/provider"
)

const defaultBaseURL = "https://slack.com/api"

// Client is a thin wrapper over the slack Web API. Every call goes through
// the shared provider caller, which owns throttling and retries.
type Client struct {
	baseURL string
	token   string
	caller  *provider.Caller
}

func NewClient(token string, caller *provider.Caller) *Client {
	return &Client{baseURL: defaultBaseURL, token: token, caller: caller}
}

// WithBaseURL points the client at a different API root. Tests use this.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

// envelope is the {ok, error} wrapper slack puts around every response.
type envelope struct {
	OK  bool   `json:"ok"`
	Err string `json:"error"`
}

func (e envelope) check(method string) error {
	if !e.OK {
		return fmt.Errorf("slack %s: %s", method, e.Err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out interface{}) error {
	return c.caller.DoJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		u := c.baseURL + "/" + method
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		return req, nil
	}, out)
}

// Identity is who the token belongs to inside the workspace.
type Identity struct {
	UserID string
	TeamID string
	Team   string
}

// AuthTest resolves the token's own user and workspace.
func (c *Client) AuthTest(ctx context.Context) (Identity, error) {
	var resp struct {
		envelope
		UserID string `json:"user_id"`
		TeamID string `json:"team_id"`
		Team   string `json:"team"`
	}
	if err := c.get(ctx, "auth.test", nil, &resp); err != nil {
		return Identity{}, err
	}
	if err := resp.check("auth.test"); err != nil {
		return Identity{}, err
	}
	return Identity{UserID: resp.UserID, TeamID: resp.TeamID, Team: resp.Team}, nil
}

// ListConversations returns every unarchived conversation the token can see,
// following cursor pagination to the end.
func (c *Client) ListConversations(ctx context.Context) ([]models.Channel, error) {
	var channels []models.Channel
	cursor := ""

	for {
		params := url.Values{
			"types":            {"public_channel,private_channel,im,mpim"},
			"exclude_archived": {"true"},
			"limit":            {"200"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp struct {
			envelope
			Channels []struct {
				ID         string                 `json:"id"`
				Name       string                 `json:"name"`
				IsIM       bool                   `json:"is_im"`
				IsMpim     bool                   `json:"is_mpim"`
				IsPriv     bool                   `json:"is_private"`
				IsArchived bool                   `json:"is_archived"`
				Topic      struct{ Value string } `json:"topic"`
				Purpose    struct{ Value string } `json:"purpose"`
				NumMembers int                    `json:"num_members"`
			} `json:"channels"`
			Meta struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.get(ctx, "conversations.list", params, &resp); err != nil {
			return nil, err
		}
		if err := resp.check("conversations.list"); err != nil {
			return nil, err
		}

		for _, ch := range resp.Channels {
			channels = append(channels, models.Channel{
				ID:       ch.ID,
				Name:     ch.Name,
				Type:     conversationType(ch.IsIM, ch.IsMpim, ch.IsPriv),
				Topic:    ch.Topic.Value,
				Purpose:  ch.Purpose.Value,
				Members:  ch.NumMembers,
				Archived: ch.IsArchived,
			})
		}

		cursor = resp.Meta.NextCursor
		if cursor == "" {
			return channels, nil
		}
	}
}

func conversationType(im, mpim, private bool) string {
	switch {
	case im:
		return "im"
	case mpim:
		return "mpim"
	case private:
		return "private_channel"
	default:
		return "public_channel"
	}
}

// History returns conversation messages newer than oldest (a slack ts, empty
// means from the beginning), most recent first as the API delivers them.
// Only plain user messages come back; joins, topic changes and bot noise are
// filtered out.
func (c *Client) History(ctx context.Context, conversationID, oldest string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	params := url.Values{
		"channel": {conversationID},
		"limit":   {strconv.Itoa(limit)},
	}
	if oldest != "" {
		params.Set("oldest", oldest)
	}

	var resp struct {
		envelope
		Messages []struct {
			Type    string `json:"type"`
			Subtype string `json:"subtype"`
			User    string `json:"user"`
			BotID   string `json:"bot_id"`
			Text    string `json:"text"`
			TS      string `json:"ts"`
		} `json:"messages"`
	}
	if err := c.get(ctx, "conversations.history", params, &resp); err != nil {
		return nil, err
	}
	if err := resp.check("conversations.history"); err != nil {
		return nil, err
	}

	var out []models.Message
	for _, m := range resp.Messages {
		if m.Type != "message" || m.Subtype != "" || m.BotID != "" || m.User == "" {
			continue
		}
		out = append(out, models.Message{
			ConversationID: conversationID,
			TS:             m.TS,
			AuthorID:       m.User,
			Text:           m.Text,
			CreatedAt:      tsTime(m.TS),
		})
	}
	return out, nil
}

// tsTime converts a slack ts ("1724800000.000100") to wall time.
func tsTime(ts string) time.Time {
	secs, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

// User is the slice of a workspace member the dashboard shows.
type User struct {
	ID     string
	Name   string
	Avatar string
}

// Users returns workspace members keyed by id, for joining author names and
// avatars onto messages.
func (c *Client) Users(ctx context.Context) (map[string]User, error) {
	users := map[string]User{}
	cursor := ""

	for {
		params := url.Values{"limit": {"200"}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp struct {
			envelope
			Members []struct {
				ID      string `json:"id"`
				Deleted bool   `json:"deleted"`
				IsBot   bool   `json:"is_bot"`
				Profile struct {
					RealName    string `json:"real_name"`
					DisplayName string `json:"display_name"`
					Image       string `json:"image_192"`
				} `json:"profile"`
			} `json:"members"`
			Meta struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.get(ctx, "users.list", params, &resp); err != nil {
			return nil, err
		}
		if err := resp.check("users.list"); err != nil {
			return nil, err
		}

		for _, m := range resp.Members {
			if m.Deleted || m.IsBot {
				continue
			}
			name := m.Profile.DisplayName
			if name == "" {
				name = m.Profile.RealName
			}
			users[m.ID] = User{ID: m.ID, Name: name, Avatar: m.Profile.Image}
		}

		cursor = resp.Meta.NextCursor
		if cursor == "" {
			return users, nil
		}
	}
}

// Permalink resolves the canonical link for one message.
func (c *Client) Permalink(ctx context.Context, conversationID, ts string) (string, error) {
	var resp struct {
		envelope
		Permalink string `json:"permalink"`
	}
	params := url.Values{
		"channel":    {conversationID},
		"message_ts": {ts},
	}
	if err := c.get(ctx, "chat.getPermalink", params, &resp); err != nil {
		return "", err
	}
	if err := resp.check("chat.getPermalink"); err != nil {
		return "", err
	}
	return resp.Permalink, nil
}
