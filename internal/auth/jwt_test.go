package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	engine := NewTokenEngine("secret", time.Minute)

	tok, err := engine.Generate("user-1", "jane.doe@example.com", "Jane Doe")
	require.NoError(t, err)

	claims, err := engine.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "jane.doe@example.com", claims.Email)
	require.Equal(t, "Jane Doe", claims.FullName)
}

func TestTokenExpiration(t *testing.T) {
	engine := NewTokenEngine("secret", time.Nanosecond)

	tok, err := engine.Generate("user-1", "", "")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = engine.Verify(tok)
	require.Error(t, err)
}

func TestTokenWrongSecret(t *testing.T) {
	engine := NewTokenEngine("secret", time.Minute)
	other := NewTokenEngine("other", time.Minute)

	tok, err := engine.Generate("user-1", "", "")
	require.NoError(t, err)

	_, err = other.Verify(tok)
	require.Error(t, err)
}
