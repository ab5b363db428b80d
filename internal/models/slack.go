package models

import "time"

type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"` // public_channel, private_channel, im, mpim
	Topic    string `json:"topic,omitempty"`
	Purpose  string `json:"purpose,omitempty"`
	Members  int    `json:"member_count,omitempty"`
	Archived bool   `json:"is_archived,omitempty"`
}

// Message is a provider message normalized for the dashboard. Cacheable and
// never mutated; a resync replaces the cached copy wholesale.
type Message struct {
	ConversationID   string    `json:"conversation_id"`
	ConversationName string    `json:"conversation_name"`
	ConversationType string    `json:"conversation_type"`
	TS               string    `json:"ts"`
	AuthorID         string    `json:"author_id"`
	AuthorName       string    `json:"author_name"`
	Text             string    `json:"text"`
	Permalink        string    `json:"permalink,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Mention is derived from a Message whose text mentions the current user.
// It is always recomputable from Messages plus the user's identity; the ID
// is conversation_id-message_ts so refreshes dedup naturally.
type Mention struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	ConversationName  string    `json:"conversation_name"`
	MessageText       string    `json:"message_text"`
	MentionedByUserID string    `json:"mentioned_by_user_id"`
	MentionedByName   string    `json:"mentioned_by_username"`
	Permalink         string    `json:"permalink,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
