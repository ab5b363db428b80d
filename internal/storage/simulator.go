package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Simulator is the local-dev stand-in for S3. URLs are deterministic for a
// given provider/author pair, so the rest of the pipeline behaves exactly as
// it would with a real bucket.
type Simulator struct {
	bucket   string
	endpoint string
}

func NewSimulator(bucket, endpoint string) *Simulator {
	return &Simulator{
		bucket:   strings.TrimSpace(bucket),
		endpoint: strings.TrimSpace(endpoint),
	}
}

func (s *Simulator) Mirror(_ context.Context, provider, authorID, sourceURL string) (string, error) {
	if sourceURL == "" {
		return "", fmt.Errorf("empty source url")
	}
	return s.simulatedURL(provider, authorID), nil
}

func (s *Simulator) simulatedURL(provider, authorID string) string {
	sum := sha256.Sum256([]byte(provider + ":" + authorID))
	key := hex.EncodeToString(sum[:])

	ep := s.endpoint
	if ep == "" {
		ep = "https://storage.example.invalid"
	}
	bucket := s.bucket
	if bucket == "" {
		bucket = "pulseboard"
	}

	return fmt.Sprintf("%s/%s/avatars/%s.png", strings.TrimRight(ep, "/"), bucket, key)
}
