package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// BatchConfig holds configuration for batched upsert operations.
type BatchConfig struct {
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
	OnProgress func(processed, total int)
}

// DefaultBatchConfig returns sensible defaults for cache resyncs.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:  100,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		OnProgress: nil,
	}
}

// BatchUpsert writes rows in chunks using multi-row INSERT ... ON CONFLICT DO
// UPDATE. conflictCols name the unique key; every non-key column is updated
// from EXCLUDED on conflict. Returns the total number of rows written.
func (d *DB) BatchUpsert(ctx context.Context, tableName string, columns, conflictCols []string, values [][]interface{}, cfg BatchConfig) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}

	total := 0
	for i := 0; i < len(values); i += cfg.BatchSize {
		end := i + cfg.BatchSize
		if end > len(values) {
			end = len(values)
		}

		written, err := d.upsertChunk(ctx, tableName, columns, conflictCols, values[i:end], cfg.MaxRetries, cfg.RetryDelay)
		if err != nil {
			return total, fmt.Errorf("batch upsert failed at offset %d: %w", i, err)
		}
		total += written

		if cfg.OnProgress != nil {
			cfg.OnProgress(total, len(values))
		}
	}

	return total, nil
}

func (d *DB) upsertChunk(ctx context.Context, tableName string, columns, conflictCols []string, chunk [][]interface{}, maxRetries int, retryDelay time.Duration) (int, error) {
	sql := buildUpsertSQL(tableName, columns, conflictCols, len(chunk))

	args := make([]interface{}, 0, len(chunk)*len(columns))
	for _, row := range chunk {
		args = append(args, row...)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		tag, err := d.Pool.Exec(ctx, sql, args...)
		if err == nil {
			return int(tag.RowsAffected()), nil
		}

		lastErr = err
		if attempt < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return 0, lastErr
}

func buildUpsertSQL(tableName string, columns, conflictCols []string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tableName)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	arg := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", arg)
			arg++
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(strings.Join(conflictCols, ", "))
	b.WriteString(") DO UPDATE SET ")

	conflict := make(map[string]bool, len(conflictCols))
	for _, c := range conflictCols {
		conflict[c] = true
	}

	first := true
	for _, col := range columns {
		if conflict[col] {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", col, col)
	}

	return b.String()
}

// BatchWriter provides a high-level API for cache resyncs with logging.
type BatchWriter struct {
	db     *DB
	logger *slog.Logger
}

func NewBatchWriter(db *DB, logger *slog.Logger) *BatchWriter {
	return &BatchWriter{db: db, logger: logger}
}

// UpsertRows writes cache rows in batches and logs throughput.
func (bw *BatchWriter) UpsertRows(ctx context.Context, tableName string, columns, conflictCols []string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}

	cfg := DefaultBatchConfig()
	cfg.OnProgress = func(processed, total int) {
		bw.logger.Debug("batch_progress",
			"table", tableName,
			"processed", processed,
			"total", total,
		)
	}

	startTime := time.Now()
	written, err := bw.db.BatchUpsert(ctx, tableName, columns, conflictCols, rows, cfg)
	elapsed := time.Since(startTime)

	if err != nil {
		bw.logger.Error("batch_upsert_failed",
			"table", tableName,
			"error", err,
			"written", written,
			"elapsed", elapsed.String(),
		)
		return err
	}

	bw.logger.Info("batch_upsert_complete",
		"table", tableName,
		"rows", written,
		"elapsed", elapsed.String(),
	)

	return nil
}
