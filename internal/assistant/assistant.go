package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"pulseboard/internal/models"
	"pulseboard/internal/provider"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	model          = "gpt-4o-mini"
	maxTokens      = 600
)

// Snapshot is the dashboard state handed to the model as context. The
// assistant only ever reads it; there are no tool calls back into the data.
type Snapshot struct {
	Mentions []models.Mention       `json:"mentions,omitempty"`
	Issues   []models.JiraIssue     `json:"issues,omitempty"`
	Events   []models.CalendarEvent `json:"events,omitempty"`
	Tasks    []models.Task          `json:"tasks,omitempty"`
}

// Assistant proxies chat turns to the OpenAI API with a system prompt built
// from the user's current dashboard snapshot.
type Assistant struct {
	baseURL string
	apiKey  string
	caller  *provider.Caller
}

func New(apiKey string, caller *provider.Caller) *Assistant {
	return &Assistant{baseURL: defaultBaseURL, apiKey: apiKey, caller: caller}
}

// WithBaseURL points the assistant at a different API root. Tests use this.
func (a *Assistant) WithBaseURL(base string) *Assistant {
	a.baseURL = base
	return a
}

// Message is one chat turn in OpenAI wire shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends the conversation plus a snapshot-derived system prompt and
// returns the model's reply.
func (a *Assistant) Chat(ctx context.Context, snap Snapshot, history []Message) (string, error) {
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, Message{Role: "system", Content: systemPrompt(snap)})
	msgs = append(msgs, history...)

	body, err := json.Marshal(chatRequest{Model: model, Messages: msgs, MaxTokens: maxTokens})
	if err != nil {
		return "", err
	}

	var resp chatResponse
	err = a.caller.DoJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		return "", err
	}

	if resp.Error != nil {
		return "", fmt.Errorf("assistant api: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("assistant api: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// systemPrompt renders the snapshot into a compact briefing the model can
// answer questions against.
func systemPrompt(snap Snapshot) string {
	var b strings.Builder
	b.WriteString("You are a personal productivity assistant. Answer using only the workspace snapshot below. Be concise. You cannot modify anything.\n")

	if len(snap.Mentions) > 0 {
		b.WriteString("\nRecent mentions:\n")
		for _, m := range snap.Mentions {
			fmt.Fprintf(&b, "- #%s %s: %s\n", m.ConversationName, m.MentionedByName, m.MessageText)
		}
	}
	if len(snap.Issues) > 0 {
		b.WriteString("\nOpen issues:\n")
		for _, is := range snap.Issues {
			fmt.Fprintf(&b, "- %s [%s/%s] %s\n", is.Key, is.Priority, is.Status, is.Summary)
		}
	}
	if len(snap.Events) > 0 {
		b.WriteString("\nToday's calendar:\n")
		for _, ev := range snap.Events {
			fmt.Fprintf(&b, "- %s to %s: %s\n", ev.StartTime, ev.EndTime, ev.Title)
		}
	}
	if len(snap.Tasks) > 0 {
		b.WriteString("\nTasks:\n")
		for _, t := range snap.Tasks {
			status := "open"
			if t.Done {
				status = "done"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", status, t.Title)
		}
	}

	return b.String()
}
