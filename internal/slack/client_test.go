package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"pulseboard/internal/provider"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	caller := provider.NewCaller("slack", srv.Client(), log, 100, 10)
	return NewClient("xoxb-test", caller).WithBaseURL(srv.URL)
}

func TestAuthTest(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth.test", r.URL.Path)
		require.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true, "user_id": "U1", "team_id": "T1", "team": "Acme",
		})
	}))

	id, err := c.AuthTest(context.Background())
	require.NoError(t, err)
	require.Equal(t, "U1", id.UserID)
	require.Equal(t, "T1", id.TeamID)
	require.Equal(t, "Acme", id.Team)
}

func TestAuthTestEnvelopeError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": "invalid_auth"})
	}))

	_, err := c.AuthTest(context.Background())
	require.ErrorContains(t, err, "invalid_auth")
}

func TestListConversationsPaginates(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations.list", r.URL.Path)
		if r.URL.Query().Get("cursor") == "" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"ok": true,
				"channels": []map[string]interface{}{
					{"id": "C1", "name": "general"},
					{"id": "D1", "is_im": true},
				},
				"response_metadata": map[string]string{"next_cursor": "page2"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true,
			"channels": []map[string]interface{}{
				{"id": "G1", "name": "leads", "is_private": true, "is_archived": true},
			},
			"response_metadata": map[string]string{"next_cursor": ""},
		})
	}))

	channels, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 3)
	require.Equal(t, "public_channel", channels[0].Type)
	require.Equal(t, "im", channels[1].Type)
	require.Equal(t, "private_channel", channels[2].Type)
	require.False(t, channels[0].Archived)
	require.True(t, channels[2].Archived)
}

func TestHistoryFiltersNonUserMessages(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations.history", r.URL.Path)
		require.Equal(t, "C1", r.URL.Query().Get("channel"))
		require.Equal(t, "1000.00", r.URL.Query().Get("oldest"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true,
			"messages": []map[string]interface{}{
				{"type": "message", "user": "U2", "text": "hello", "ts": "1724800000.000100"},
				{"type": "message", "subtype": "channel_join", "user": "U3", "ts": "1724800001.000200"},
				{"type": "message", "bot_id": "B1", "text": "bot noise", "ts": "1724800002.000300"},
			},
		})
	}))

	msgs, err := c.History(context.Background(), "C1", "1000.00", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "U2", msgs[0].AuthorID)
	require.Equal(t, "C1", msgs[0].ConversationID)
	require.Equal(t, 2024, msgs[0].CreatedAt.Year())
}

func TestUsersSkipsBotsAndDeleted(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true,
			"members": []map[string]interface{}{
				{"id": "U1", "profile": map[string]string{"real_name": "Jane Doe", "display_name": "jane"}},
				{"id": "U2", "deleted": true, "profile": map[string]string{"real_name": "Gone"}},
				{"id": "U3", "is_bot": true, "profile": map[string]string{"real_name": "Robo"}},
			},
		})
	}))

	users, err := c.Users(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "jane", users["U1"].Name)
}

func TestPermalink(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat.getPermalink", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true, "permalink": "https://acme.slack.com/archives/C1/p1724800000000100",
		})
	}))

	link, err := c.Permalink(context.Background(), "C1", "1724800000.000100")
	require.NoError(t, err)
	require.Contains(t, link, "/archives/C1/")
}
