package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulseboard/internal/models"
	"pulseboard/internal/oauth"
	"pulseboard/internal/slack"
)

// fakeWorkspace is a canned slack workspace implementing SlackAPI.
type fakeWorkspace struct {
	identity     slack.Identity
	users        map[string]slack.User
	channels     []models.Channel
	history      map[string][]models.Message
	historyErr   map[string]error
	permalinkErr error

	oldestSeen map[string]string
}

func (f *fakeWorkspace) AuthTest(context.Context) (slack.Identity, error) {
	return f.identity, nil
}

func (f *fakeWorkspace) ListConversations(context.Context) ([]models.Channel, error) {
	return f.channels, nil
}

func (f *fakeWorkspace) History(_ context.Context, conversationID, oldest string, _ int) ([]models.Message, error) {
	if f.oldestSeen == nil {
		f.oldestSeen = map[string]string{}
	}
	f.oldestSeen[conversationID] = oldest
	if err := f.historyErr[conversationID]; err != nil {
		return nil, err
	}
	return f.history[conversationID], nil
}

func (f *fakeWorkspace) Users(context.Context) (map[string]slack.User, error) {
	return f.users, nil
}

func (f *fakeWorkspace) Permalink(_ context.Context, conversationID, ts string) (string, error) {
	if f.permalinkErr != nil {
		return "", f.permalinkErr
	}
	return fmt.Sprintf("https://acme.slack.com/archives/%s/p%s", conversationID, strings.ReplaceAll(ts, ".", "")), nil
}

type fakeTokens struct {
	userIDs []string
}

func (f *fakeTokens) Get(_ context.Context, userID, provider string) (oauth.Token, error) {
	return oauth.Token{UserID: userID, Provider: provider, AccessToken: "xoxp-test"}, nil
}

func (f *fakeTokens) ListUserIDs(context.Context, string) ([]string, error) {
	return f.userIDs, nil
}

// memSyncStore keeps sweep output in maps keyed the way the tables are.
type memSyncStore struct {
	watermarks map[string]string
	messages   map[string]models.Message
	mentions   map[string]models.Mention
	avatars    []AvatarSource
	advanced   map[string]string
}

func newMemSyncStore() *memSyncStore {
	return &memSyncStore{
		watermarks: map[string]string{},
		messages:   map[string]models.Message{},
		mentions:   map[string]models.Mention{},
		advanced:   map[string]string{},
	}
}

func (m *memSyncStore) Watermarks(context.Context, string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range m.watermarks {
		out[k] = v
	}
	return out, nil
}

func (m *memSyncStore) SaveMessages(_ context.Context, userID string, msgs []models.Message) error {
	for _, msg := range msgs {
		m.messages[userID+"/"+msg.ConversationID+"-"+msg.TS] = msg
	}
	return nil
}

func (m *memSyncStore) SaveMentions(_ context.Context, userID string, found []models.Mention) error {
	for _, mn := range found {
		m.mentions[userID+"/"+mn.ID] = mn
	}
	return nil
}

func (m *memSyncStore) SaveAvatarSources(_ context.Context, sources []AvatarSource) error {
	m.avatars = append(m.avatars, sources...)
	return nil
}

func (m *memSyncStore) AdvanceWatermarks(_ context.Context, _ string, latest map[string]string) error {
	for conv, ts := range latest {
		m.advanced[conv] = ts
		m.watermarks[conv] = ts
	}
	return nil
}

func testSyncer(store Store, ws *fakeWorkspace) *Syncer {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(store, &fakeTokens{userIDs: []string{"user-1"}}, func(string) SlackAPI { return ws }, log)
	s.userDelay = 0
	return s
}

func testWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		identity: slack.Identity{UserID: "UJANE", TeamID: "T0123", Team: "Acme"},
		users: map[string]slack.User{
			"UJANE": {ID: "UJANE", Name: "Jane Smith"},
			"UBOB":  {ID: "UBOB", Name: "Bob Lee", Avatar: "https://cdn.example/bob.png"},
		},
		channels: []models.Channel{
			{ID: "general", Name: "general", Type: "public_channel"},
			{ID: "random", Name: "random", Type: "public_channel"},
		},
		history: map[string][]models.Message{
			"general": {
				{ConversationID: "general", TS: "1724800000.000100", AuthorID: "UBOB",
					Text: "@Jane can you review the rollout?", CreatedAt: time.Unix(1724800000, 0).UTC()},
			},
			"random": {
				{ConversationID: "random", TS: "1724800050.000200", AuthorID: "UBOB",
					Text: "lunch anyone", CreatedAt: time.Unix(1724800050, 0).UTC()},
			},
		},
	}
}

func TestSyncUserStoresMentionsWithPermalinks(t *testing.T) {
	ws := testWorkspace()
	store := newMemSyncStore()
	s := testSyncer(store, ws)

	require.NoError(t, s.SyncUser(context.Background(), "user-1"))

	mn, ok := store.mentions["user-1/general-1724800000.000100"]
	require.True(t, ok)
	require.Equal(t, "https://acme.slack.com/archives/general/p1724800000000100", mn.Permalink)
	require.Equal(t, "UBOB", mn.MentionedByUserID)
	require.Equal(t, "Bob Lee", mn.MentionedByName)
	require.Equal(t, "@Jane can you review the rollout?", mn.MessageText)

	// the random channel message is cached but produced no mention
	require.Len(t, store.mentions, 1)
	require.Len(t, store.messages, 2)
	require.Equal(t, "Bob Lee", store.messages["user-1/random-1724800050.000200"].AuthorName)

	// both conversations succeeded, both watermarks move
	require.Equal(t, "1724800000.000100", store.advanced["general"])
	require.Equal(t, "1724800050.000200", store.advanced["random"])

	require.Len(t, store.avatars, 1)
	require.Equal(t, "UBOB", store.avatars[0].AuthorID)
}

func TestSyncUserPermalinkFailureStillStoresMention(t *testing.T) {
	ws := testWorkspace()
	ws.permalinkErr = errors.New("slack chat.getPermalink: message_not_found")
	store := newMemSyncStore()
	s := testSyncer(store, ws)

	require.NoError(t, s.SyncUser(context.Background(), "user-1"))

	mn, ok := store.mentions["user-1/general-1724800000.000100"]
	require.True(t, ok)
	require.Empty(t, mn.Permalink)
}

func TestSyncUserFailedConversationKeepsWatermark(t *testing.T) {
	ws := testWorkspace()
	ws.historyErr = map[string]error{"random": errors.New("slack conversations.history: channel_not_found")}
	store := newMemSyncStore()
	store.watermarks["random"] = "1724790000.000000"
	s := testSyncer(store, ws)

	require.NoError(t, s.SyncUser(context.Background(), "user-1"))

	// the failed conversation's watermark never advances
	_, moved := store.advanced["random"]
	require.False(t, moved)
	require.Equal(t, "1724790000.000000", store.watermarks["random"])
	require.Equal(t, "1724800000.000100", store.advanced["general"])

	// the good channel's mention still landed
	require.Len(t, store.mentions, 1)
}

func TestSyncUserRerunUpsertsInPlace(t *testing.T) {
	ws := testWorkspace()
	store := newMemSyncStore()
	s := testSyncer(store, ws)
	ctx := context.Background()

	require.NoError(t, s.SyncUser(ctx, "user-1"))
	require.NoError(t, s.SyncUser(ctx, "user-1"))

	require.Len(t, store.mentions, 1)
	require.Len(t, store.messages, 2)

	// the second run resumes from the advanced watermark
	require.Equal(t, "1724800000.000100", ws.oldestSeen["general"])
}
