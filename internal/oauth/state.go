package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// AttemptTTL bounds how long a connect attempt may sit in AwaitingRedirect.
// When the state key expires the attempt is terminally failed; the callback
// then sees a state mismatch.
const AttemptTTL = 5 * time.Minute

const stateKeyPrefix = "oauth:state:"

// KV is the small slice of the cache the state store needs. Satisfied by
// internal/redis.Client; tests plug an in-memory map.
type KV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	GetDel(ctx context.Context, key string) (string, error)
}

// Attempt is what the state parameter points at server-side: which user
// started connecting which provider, and when.
type Attempt struct {
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// StateStore issues and redeems one-shot state tokens. A state is created per
// connect attempt and consumed exactly once, success or failure.
type StateStore struct {
	kv KV
}

func NewStateStore(kv KV) *StateStore {
	return &StateStore{kv: kv}
}

// Create generates a fresh opaque state (24 random bytes, base64url) and
// records the attempt under it with the attempt TTL.
func (s *StateStore) Create(ctx context.Context, userID, provider string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	payload, err := json.Marshal(Attempt{
		UserID:    userID,
		Provider:  provider,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}

	if err := s.kv.Set(ctx, stateKeyPrefix+state, string(payload), AttemptTTL); err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}

	return state, nil
}

// Peek checks that a state belongs to a live attempt without consuming it.
// The callback page uses this so the opener can still redeem the state.
func (s *StateStore) Peek(ctx context.Context, state string) (Attempt, error) {
	if state == "" {
		return Attempt{}, ErrStateMismatch
	}
	raw, err := s.kv.Get(ctx, stateKeyPrefix+state)
	if err != nil {
		return Attempt{}, ErrStateMismatch
	}
	return decodeAttempt(raw)
}

// Consume redeems a state, removing it atomically. Only the token exchange
// calls this; a second redeem of the same state always mismatches.
func (s *StateStore) Consume(ctx context.Context, state string) (Attempt, error) {
	if state == "" {
		return Attempt{}, ErrStateMismatch
	}
	raw, err := s.kv.GetDel(ctx, stateKeyPrefix+state)
	if err != nil {
		return Attempt{}, ErrStateMismatch
	}
	return decodeAttempt(raw)
}

func decodeAttempt(raw string) (Attempt, error) {
	var a Attempt
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return Attempt{}, ErrStateMismatch
	}
	return a, nil
}
