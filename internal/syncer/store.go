package syncer

import (
	"context"
	"time"

	"pulseboard/internal/db"
	"pulseboard/internal/models"
)

// AvatarSource is one author's avatar URL waiting to be mirrored.
type AvatarSource struct {
	Provider  string
	AuthorID  string
	SourceURL string
}

// Store persists what a sweep produces. Satisfied by *PGStore; tests plug an
// in-memory fake.
type Store interface {
	Watermarks(ctx context.Context, userID string) (map[string]string, error)
	SaveMessages(ctx context.Context, userID string, msgs []models.Message) error
	SaveMentions(ctx context.Context, userID string, found []models.Mention) error
	SaveAvatarSources(ctx context.Context, sources []AvatarSource) error
	AdvanceWatermarks(ctx context.Context, userID string, latest map[string]string) error
}

// PGStore writes sweep output to postgres through the shared batch writer.
type PGStore struct {
	db     *db.DB
	writer *db.BatchWriter
}

func NewPGStore(dbConn *db.DB, writer *db.BatchWriter) *PGStore {
	return &PGStore{db: dbConn, writer: writer}
}

func (p *PGStore) Watermarks(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := p.db.Pool.Query(ctx,
		`SELECT conversation_id, last_sync_ts FROM slack_sync_status WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var conv, ts string
		if err := rows.Scan(&conv, &ts); err != nil {
			return nil, err
		}
		out[conv] = ts
	}
	return out, rows.Err()
}

func (p *PGStore) SaveMessages(ctx context.Context, userID string, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, []interface{}{
			userID, m.ConversationID, m.TS,
			m.ConversationName, m.ConversationType,
			m.AuthorID, m.AuthorName, m.Text, m.Permalink, m.CreatedAt,
		})
	}
	return p.writer.UpsertRows(ctx, "slack_messages",
		[]string{"user_id", "conversation_id", "message_ts", "conversation_name", "conversation_type", "author_id", "author_name", "text", "permalink", "created_at"},
		[]string{"user_id", "conversation_id", "message_ts"},
		rows,
	)
}

func (p *PGStore) SaveMentions(ctx context.Context, userID string, found []models.Mention) error {
	if len(found) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(found))
	for _, m := range found {
		rows = append(rows, []interface{}{
			m.ID, userID, m.ConversationID, m.ConversationName,
			m.MessageText, m.MentionedByUserID, m.MentionedByName,
			m.Permalink, m.CreatedAt,
		})
	}
	return p.writer.UpsertRows(ctx, "slack_mentions",
		[]string{"id", "user_id", "conversation_id", "conversation_name", "message_text", "mentioned_by_id", "mentioned_by_name", "permalink", "message_created_at"},
		[]string{"user_id", "id"},
		rows,
	)
}

func (p *PGStore) SaveAvatarSources(ctx context.Context, sources []AvatarSource) error {
	if len(sources) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(sources))
	for _, src := range sources {
		rows = append(rows, []interface{}{src.Provider, src.AuthorID, src.SourceURL})
	}
	return p.writer.UpsertRows(ctx, "avatar_cache",
		[]string{"provider", "author_id", "source_url"},
		[]string{"provider", "author_id"},
		rows,
	)
}

func (p *PGStore) AdvanceWatermarks(ctx context.Context, userID string, latest map[string]string) error {
	if len(latest) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(latest))
	for conv, ts := range latest {
		rows = append(rows, []interface{}{userID, conv, ts, time.Now().UTC()})
	}
	return p.writer.UpsertRows(ctx, "slack_sync_status",
		[]string{"user_id", "conversation_id", "last_sync_ts", "last_sync_at"},
		[]string{"user_id", "conversation_id"},
		rows,
	)
}
