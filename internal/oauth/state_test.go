package oauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memKV is an in-memory stand-in for the redis client.
type memKV struct {
	mu   sync.Mutex
	data map[string]string
	exp  map[string]time.Time
}

func newMemKV() *memKV {
	return &memKV{data: map[string]string{}, exp: map[string]time.Time{}}
}

var errKVMiss = errors.New("kv: miss")

func (m *memKV) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	if expiration > 0 {
		m.exp[key] = time.Now().Add(expiration)
	}
	return nil
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok || m.expired(key) {
		return "", errKVMiss
	}
	return v, nil
}

func (m *memKV) GetDel(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok || m.expired(key) {
		return "", errKVMiss
	}
	delete(m.data, key)
	delete(m.exp, key)
	return v, nil
}

func (m *memKV) expired(key string) bool {
	exp, ok := m.exp[key]
	return ok && time.Now().After(exp)
}

func TestStateStoreCreateUnique(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore(newMemKV())

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		state, err := store.Create(ctx, "user-1", ProviderSlack)
		require.NoError(t, err)
		require.NotEmpty(t, state)
		require.False(t, seen[state], "state %q issued twice", state)
		seen[state] = true
	}
}

func TestStateStorePeekDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore(newMemKV())

	state, err := store.Create(ctx, "user-1", ProviderJira)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		attempt, err := store.Peek(ctx, state)
		require.NoError(t, err)
		require.Equal(t, "user-1", attempt.UserID)
		require.Equal(t, ProviderJira, attempt.Provider)
	}

	_, err = store.Consume(ctx, state)
	require.NoError(t, err)
}

func TestStateStoreConsumeIsOneShot(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore(newMemKV())

	state, err := store.Create(ctx, "user-1", ProviderSlack)
	require.NoError(t, err)

	attempt, err := store.Consume(ctx, state)
	require.NoError(t, err)
	require.Equal(t, "user-1", attempt.UserID)

	_, err = store.Consume(ctx, state)
	require.ErrorIs(t, err, ErrStateMismatch)

	_, err = store.Peek(ctx, state)
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestStateStoreUnknownState(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore(newMemKV())

	_, err := store.Peek(ctx, "never-issued")
	require.ErrorIs(t, err, ErrStateMismatch)

	_, err = store.Consume(ctx, "never-issued")
	require.ErrorIs(t, err, ErrStateMismatch)

	_, err = store.Consume(ctx, "")
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestStateStoreExpiredAttempt(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	store := NewStateStore(kv)

	state, err := store.Create(ctx, "user-1", ProviderGoogle)
	require.NoError(t, err)

	// force the attempt past its TTL
	kv.mu.Lock()
	kv.exp[stateKeyPrefix+state] = time.Now().Add(-time.Second)
	kv.mu.Unlock()

	_, err = store.Consume(ctx, state)
	require.ErrorIs(t, err, ErrStateMismatch)
}
