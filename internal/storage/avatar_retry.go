package storage

import (
	"context"
	"log/slog"
	"time"

	"pulseboard/internal/db"
)

// AvatarRetryJob sweeps avatar_cache rows whose mirror upload has not
// succeeded yet and retries them. Sync only records source URLs; this job is
// the only writer of mirror_url.
type AvatarRetryJob struct {
	db      *db.DB
	storage AvatarStore
	logger  *slog.Logger
}

func NewAvatarRetryJob(logger *slog.Logger, dbConn *db.DB, store AvatarStore) *AvatarRetryJob {
	return &AvatarRetryJob{
		db:      dbConn,
		storage: store,
		logger:  logger,
	}
}

// Start blocks, running a retry cycle every 6 hours until ctx is done.
func (aj *AvatarRetryJob) Start(ctx context.Context) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	aj.runRetryCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycleCtx, cancel := context.WithTimeout(ctx, time.Hour)
			aj.runRetryCycle(cycleCtx)
			cancel()
		}
	}
}

func (aj *AvatarRetryJob) runRetryCycle(ctx context.Context) {
	aj.logger.Info("avatar_retry_cycle_started")

	rows, err := aj.db.Pool.Query(ctx,
		`SELECT provider, author_id, source_url
		 FROM avatar_cache
		 WHERE mirror_url IS NULL
		   AND source_url != ''
		 LIMIT 100`,
	)
	if err != nil {
		aj.logger.Warn("failed_to_fetch_avatars", "error", err)
		return
	}
	defer rows.Close()

	type pending struct{ provider, authorID, sourceURL string }
	var work []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.provider, &p.authorID, &p.sourceURL); err != nil {
			continue
		}
		work = append(work, p)
	}
	rows.Close()

	count := 0
	for _, p := range work {
		select {
		case <-ctx.Done():
			return
		default:
		}

		url, err := aj.storage.Mirror(ctx, p.provider, p.authorID, p.sourceURL)
		if err != nil {
			aj.logger.Warn("avatar_retry_failed",
				"provider", p.provider,
				"author_id", p.authorID,
				"error", err,
			)
			continue
		}

		_, err = aj.db.Pool.Exec(ctx,
			`UPDATE avatar_cache
			 SET mirror_url = $1, updated_at = NOW()
			 WHERE provider = $2 AND author_id = $3`,
			url, p.provider, p.authorID,
		)
		if err != nil {
			aj.logger.Warn("failed_to_update_avatar_url",
				"provider", p.provider,
				"author_id", p.authorID,
				"error", err,
			)
			continue
		}

		count++
		aj.logger.Info("avatar_retry_success", "provider", p.provider, "author_id", p.authorID)

		// provider CDN friendliness
		time.Sleep(time.Second)
	}

	aj.logger.Info("avatar_retry_cycle_completed", "processed", count)
}
