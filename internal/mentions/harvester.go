package mentions

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"pulseboard/internal/models"
)

// Source is the slice of the chat provider the harvester needs. Satisfied by
// the slack client; tests plug fakes.
type Source interface {
	ListConversations(ctx context.Context) ([]models.Channel, error)
	History(ctx context.Context, conversationID, oldest string, limit int) ([]models.Message, error)
}

// ResolveDisplayName derives the name a teammate would type when mentioning
// this user. Priority order: full name split on whitespace, explicit
// first/last fields, a first.last email local part, then the bare local part.
func ResolveDisplayName(p models.Profile) (first, last string) {
	if full := strings.TrimSpace(p.FullName); full != "" {
		parts := strings.Fields(full)
		if len(parts) > 1 {
			return parts[0], parts[len(parts)-1]
		}
		return parts[0], ""
	}

	if strings.TrimSpace(p.FirstName) != "" {
		return strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName)
	}

	local, _, found := strings.Cut(p.Email, "@")
	if !found || local == "" {
		return "", ""
	}
	if f, l, ok := strings.Cut(local, "."); ok && f != "" && l != "" {
		return capitalize(f), capitalize(l)
	}
	return capitalize(local), ""
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Matcher decides whether a message text mentions the user. Matching is
// case-insensitive and accepts "@First Last", "@FirstLast" and a word-bounded
// "@First"; "@Firstsomething" does not count.
type Matcher struct {
	patterns []*regexp.Regexp
}

func NewMatcher(first, last string) *Matcher {
	m := &Matcher{}
	if first == "" {
		return m
	}

	f := regexp.QuoteMeta(first)
	if last != "" {
		l := regexp.QuoteMeta(last)
		m.patterns = append(m.patterns, regexp.MustCompile(`(?i)@`+f+` ?`+l+`\b`))
	}
	m.patterns = append(m.patterns, regexp.MustCompile(`(?i)@`+f+`\b`))
	return m
}

func (m *Matcher) Match(text string) bool {
	for _, p := range m.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Harvester scans conversation history for messages that mention a user and
// turns them into mention records. Output is deterministic for a given input,
// so re-running over the same history is a no-op after the upsert.
type Harvester struct {
	source   Source
	log      *slog.Logger
	throttle time.Duration
	limit    int
}

func NewHarvester(source Source, log *slog.Logger) *Harvester {
	return &Harvester{
		source:   source,
		log:      log,
		throttle: 200 * time.Millisecond,
		limit:    200,
	}
}

// FetchResult carries everything one sweep produced, including which
// conversations could not be read.
type FetchResult struct {
	Messages []models.Message
	Failed   []string // conversation ids that errored and were skipped
}

// FetchAll pulls recent history from every visible conversation. A failing
// conversation is logged and skipped; one bad channel must not sink the
// sweep. oldest narrows history to messages after that watermark when the
// source supports it.
func (h *Harvester) FetchAll(ctx context.Context, oldest map[string]string) (FetchResult, error) {
	channels, err := h.source.ListConversations(ctx)
	if err != nil {
		return FetchResult{}, fmt.Errorf("list conversations: %w", err)
	}

	var res FetchResult
	for i, ch := range channels {
		if i > 0 && h.throttle > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(h.throttle):
			}
		}

		msgs, err := h.source.History(ctx, ch.ID, oldest[ch.ID], h.limit)
		if err != nil {
			h.log.Warn("conversation_fetch_failed", "conversation_id", ch.ID, "error", err)
			res.Failed = append(res.Failed, ch.ID)
			continue
		}

		for j := range msgs {
			if msgs[j].ConversationName == "" {
				msgs[j].ConversationName = ch.Name
			}
			if msgs[j].ConversationType == "" {
				msgs[j].ConversationType = ch.Type
			}
		}
		res.Messages = append(res.Messages, msgs...)
	}

	h.log.Info("conversations_fetched",
		"conversations", len(channels),
		"messages", len(res.Messages),
		"failed", len(res.Failed),
	)
	return res, nil
}

// Harvest filters messages down to ones that mention the user and were not
// written by the user. The mention id is conversation id joined to the
// message timestamp, which is stable across runs; duplicates within one
// batch collapse.
func (h *Harvester) Harvest(userID, selfAuthorID string, matcher *Matcher, messages []models.Message) []models.Mention {
	seen := map[string]bool{}
	var out []models.Mention

	for _, msg := range messages {
		if selfAuthorID != "" && msg.AuthorID == selfAuthorID {
			continue
		}
		if !matcher.Match(msg.Text) {
			continue
		}

		id := msg.ConversationID + "-" + msg.TS
		if seen[id] {
			continue
		}
		seen[id] = true

		out = append(out, models.Mention{
			ID:                id,
			ConversationID:    msg.ConversationID,
			ConversationName:  msg.ConversationName,
			MessageText:       msg.Text,
			MentionedByUserID: msg.AuthorID,
			MentionedByName:   msg.AuthorName,
			Permalink:         msg.Permalink,
			CreatedAt:         msg.CreatedAt,
		})
	}

	h.log.Info("mentions_harvested", "user_id", userID, "scanned", len(messages), "mentions", len(out))
	return out
}
