package models

import (
	"time"

	"github.com/google/uuid"
)

type Task struct {
	ID        uuid.UUID  `json:"id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes,omitempty"`
	Done      bool       `json:"done"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CalendarEvent struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Link      string `json:"link,omitempty"`
}

type JiraIssue struct {
	Key        string `json:"key"`
	Summary    string `json:"summary"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	Project    string `json:"project"`
	ProjectKey string `json:"project_key"`
	Assignee   string `json:"assignee"`
	Reporter   string `json:"reporter"`
	DueDate    string `json:"due_date,omitempty"`
	Updated    string `json:"updated"`
	URL        string `json:"url"`
}

// Profile is what the mention harvester resolves a display name from.
// Fields are filled from whatever the identity provider knows about the user.
type Profile struct {
	FullName  string `json:"full_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
}
