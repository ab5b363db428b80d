package assistant

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"pulseboard/internal/models"
	"pulseboard/internal/provider"
)

func testAssistant(t *testing.T, handler http.Handler) *Assistant {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	caller := provider.NewCaller("openai", srv.Client(), log, 100, 10)
	return New("sk-test", caller).WithBaseURL(srv.URL)
}

func TestChatInjectsSnapshotSystemPrompt(t *testing.T) {
	var got chatRequest
	a := testAssistant(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "You have one mention from Bob."}},
			},
		})
	}))

	snap := Snapshot{
		Mentions: []models.Mention{{ConversationName: "general", MentionedByName: "Bob", MessageText: "@Jane ping"}},
		Issues:   []models.JiraIssue{{Key: "PROJ-42", Priority: "High", Status: "In Progress", Summary: "Fix login"}},
	}
	reply, err := a.Chat(context.Background(), snap, []Message{{Role: "user", Content: "what's up?"}})
	require.NoError(t, err)
	require.Equal(t, "You have one mention from Bob.", reply)

	require.Equal(t, model, got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Contains(t, got.Messages[0].Content, "@Jane ping")
	require.Contains(t, got.Messages[0].Content, "PROJ-42")
	require.Equal(t, "what's up?", got.Messages[1].Content)
}

func TestChatAPIError(t *testing.T) {
	a := testAssistant(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "rate limit hit"},
		})
	}))

	_, err := a.Chat(context.Background(), Snapshot{}, nil)
	require.ErrorContains(t, err, "rate limit hit")
}

func TestChatEmptyChoices(t *testing.T) {
	a := testAssistant(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))

	_, err := a.Chat(context.Background(), Snapshot{}, nil)
	require.ErrorContains(t, err, "empty response")
}
