package storage

import "context"

// AvatarStore mirrors provider avatar images into storage we control, so the
// dashboard never hotlinks a third-party CDN.
type AvatarStore interface {
	Mirror(ctx context.Context, provider, authorID, sourceURL string) (string, error)
}
