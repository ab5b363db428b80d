package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"pulseboard/internal/db"
	"pulseboard/internal/models"
)

var ErrNotFound = errors.New("task not found")

// Repo persists dashboard tasks. All queries are scoped to one user; a task
// id from another user reads as not found.
type Repo struct {
	db *db.DB
}

func NewRepo(dbConn *db.DB) *Repo {
	return &Repo{db: dbConn}
}

// Create inserts a new task and returns it with server-set fields filled.
func (r *Repo) Create(ctx context.Context, userID, title, notes string, dueAt *time.Time) (models.Task, error) {
	t := models.Task{
		ID:     uuid.New(),
		UserID: userID,
		Title:  title,
		Notes:  notes,
		DueAt:  dueAt,
	}

	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO tasks (id, user_id, title, notes, due_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		t.ID, t.UserID, t.Title, t.Notes, t.DueAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// List returns the user's tasks, open ones first, newest first within each
// group.
func (r *Repo) List(ctx context.Context, userID string) ([]models.Task, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, user_id, title, notes, done, due_at, created_at, updated_at
		 FROM tasks
		 WHERE user_id = $1
		 ORDER BY done ASC, created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Notes, &t.Done, &t.DueAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update patches a task. Nil fields are left as they are.
func (r *Repo) Update(ctx context.Context, userID string, id uuid.UUID, title, notes *string, done *bool, dueAt *time.Time) (models.Task, error) {
	var t models.Task
	err := r.db.Pool.QueryRow(ctx,
		`UPDATE tasks SET
		    title      = COALESCE($3, title),
		    notes      = COALESCE($4, notes),
		    done       = COALESCE($5, done),
		    due_at     = COALESCE($6, due_at),
		    updated_at = NOW()
		 WHERE user_id = $1 AND id = $2
		 RETURNING id, user_id, title, notes, done, due_at, created_at, updated_at`,
		userID, id, title, notes, done, dueAt,
	).Scan(&t.ID, &t.UserID, &t.Title, &t.Notes, &t.Done, &t.DueAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("update task: %w", err)
	}
	return t, nil
}

// Delete removes a task owned by the user.
func (r *Repo) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM tasks WHERE user_id = $1 AND id = $2`,
		userID, id,
	)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
