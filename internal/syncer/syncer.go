package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pulseboard/internal/mentions"
	"pulseboard/internal/models"
	"pulseboard/internal/oauth"
	"pulseboard/internal/slack"
)

// SlackAPI is the slice of the slack client the syncer uses. Tests plug a
// fake workspace.
type SlackAPI interface {
	AuthTest(ctx context.Context) (slack.Identity, error)
	ListConversations(ctx context.Context) ([]models.Channel, error)
	History(ctx context.Context, conversationID, oldest string, limit int) ([]models.Message, error)
	Users(ctx context.Context) (map[string]slack.User, error)
	Permalink(ctx context.Context, conversationID, ts string) (string, error)
}

// TokenSource hands out provider credentials. Satisfied by *oauth.Store.
type TokenSource interface {
	Get(ctx context.Context, userID, provider string) (oauth.Token, error)
	ListUserIDs(ctx context.Context, provider string) ([]string, error)
}

// Syncer refreshes each connected user's slack cache: messages since the
// per-conversation watermark, derived mentions, author avatars. A run is
// idempotent; everything it writes is keyed so re-running upserts in place.
type Syncer struct {
	store     Store
	tokens    TokenSource
	log       *slog.Logger
	userDelay time.Duration

	// newClient builds a slack client for one user's token
	newClient func(token string) SlackAPI
}

func New(store Store, tokens TokenSource, newClient func(token string) SlackAPI, log *slog.Logger) *Syncer {
	return &Syncer{
		store:     store,
		tokens:    tokens,
		log:       log,
		userDelay: 2 * time.Second,
		newClient: newClient,
	}
}

// Run blocks, syncing every connected user each interval until ctx is done.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.SyncAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncAll(ctx)
		}
	}
}

// SyncAll sweeps every user with a live slack connection. One user failing
// is logged and skipped; the sweep continues.
func (s *Syncer) SyncAll(ctx context.Context) {
	userIDs, err := s.tokens.ListUserIDs(ctx, oauth.ProviderSlack)
	if err != nil {
		s.log.Error("sync_list_users_failed", "error", err)
		return
	}

	s.log.Info("sync_sweep_started", "users", len(userIDs))

	for i, userID := range userIDs {
		if i > 0 && s.userDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.userDelay):
			}
		}

		if err := s.SyncUser(ctx, userID); err != nil {
			s.log.Warn("sync_user_failed", "user_id", userID, "error", err)
		}
	}

	s.log.Info("sync_sweep_completed", "users", len(userIDs))
}

// SyncUser refreshes one user's cache end to end.
func (s *Syncer) SyncUser(ctx context.Context, userID string) error {
	tok, err := s.tokens.Get(ctx, userID, oauth.ProviderSlack)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if tok.Expired() {
		return fmt.Errorf("token expired")
	}

	client := s.newClient(tok.AccessToken)

	identity, err := client.AuthTest(ctx)
	if err != nil {
		return fmt.Errorf("auth.test: %w", err)
	}

	users, err := client.Users(ctx)
	if err != nil {
		return fmt.Errorf("users.list: %w", err)
	}

	watermarks, err := s.store.Watermarks(ctx, userID)
	if err != nil {
		return fmt.Errorf("load watermarks: %w", err)
	}

	harvester := mentions.NewHarvester(client, s.log)
	res, err := harvester.FetchAll(ctx, watermarks)
	if err != nil {
		return err
	}

	// join author names onto raw messages
	for i := range res.Messages {
		if u, ok := users[res.Messages[i].AuthorID]; ok {
			res.Messages[i].AuthorName = u.Name
		}
	}

	if err := s.store.SaveMessages(ctx, userID, res.Messages); err != nil {
		return err
	}
	if err := s.store.SaveAvatarSources(ctx, avatarSources(res.Messages, users)); err != nil {
		s.log.Warn("avatar_source_record_failed", "user_id", userID, "error", err)
	}

	self := users[identity.UserID]
	first, last := mentions.ResolveDisplayName(models.Profile{FullName: self.Name})
	matcher := mentions.NewMatcher(first, last)

	found := harvester.Harvest(userID, identity.UserID, matcher, res.Messages)
	s.resolvePermalinks(ctx, client, found)
	if err := s.store.SaveMentions(ctx, userID, found); err != nil {
		return err
	}

	failed := map[string]bool{}
	for _, id := range res.Failed {
		failed[id] = true
	}
	if err := s.store.AdvanceWatermarks(ctx, userID, latestTimestamps(res.Messages, failed)); err != nil {
		return err
	}

	s.log.Info("sync_user_completed",
		"user_id", userID,
		"messages", len(res.Messages),
		"mentions", len(found),
		"failed_conversations", len(res.Failed),
	)
	return nil
}

// resolvePermalinks fills the canonical message link on each harvested
// mention. A failed lookup leaves the link empty and the row still lands;
// the next sweep's upsert fills it in.
func (s *Syncer) resolvePermalinks(ctx context.Context, client SlackAPI, found []models.Mention) {
	for i := range found {
		if found[i].Permalink != "" {
			continue
		}
		ts := strings.TrimPrefix(found[i].ID, found[i].ConversationID+"-")
		link, err := client.Permalink(ctx, found[i].ConversationID, ts)
		if err != nil {
			s.log.Warn("permalink_resolve_failed",
				"conversation_id", found[i].ConversationID, "ts", ts, "error", err)
			continue
		}
		found[i].Permalink = link
	}
}

// avatarSources collects one source URL per author seen this sweep. The
// retry job does the actual mirroring.
func avatarSources(msgs []models.Message, users map[string]slack.User) []AvatarSource {
	seen := map[string]bool{}
	var out []AvatarSource
	for _, m := range msgs {
		if seen[m.AuthorID] {
			continue
		}
		seen[m.AuthorID] = true
		u, ok := users[m.AuthorID]
		if !ok || u.Avatar == "" {
			continue
		}
		out = append(out, AvatarSource{Provider: oauth.ProviderSlack, AuthorID: m.AuthorID, SourceURL: u.Avatar})
	}
	return out
}

// latestTimestamps picks the newest message ts per conversation. Failed
// conversations are left out so their old watermark survives and the next
// sweep retries the same window.
func latestTimestamps(msgs []models.Message, failed map[string]bool) map[string]string {
	latest := map[string]string{}
	for _, m := range msgs {
		if failed[m.ConversationID] {
			continue
		}
		if m.TS > latest[m.ConversationID] {
			latest[m.ConversationID] = m.TS
		}
	}
	return latest
}
