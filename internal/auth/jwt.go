package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims carried by dashboard session tokens. The profile fields feed the
// mention harvester, so they travel with the session instead of requiring a
// profile lookup per request.
type Claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

type TokenEngine struct {
	secret     []byte
	expiration time.Duration
}

func NewTokenEngine(secret string, expiration time.Duration) *TokenEngine {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &TokenEngine{secret: []byte(secret), expiration: expiration}
}

// Generate mints an HS256 session token for a user id.
func (e *TokenEngine) Generate(userID, email, fullName string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.expiration)),
		},
		Email:    email,
		FullName: fullName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(e.secret)
}

// Verify parses and validates a session token, returning its claims.
func (e *TokenEngine) Verify(tokenString string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(
		tokenString, &claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return e.secret, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token_missing_subject")
	}
	return &claims, nil
}
