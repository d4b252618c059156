package models

import "time"

// TaskEvent records a task status transition for auditing.
type TaskEvent struct {
	ID       int64      `json:"id" db:"doc_id"`
	TaskID   string     `json:"task_id" db:"task_id"`
	Status   TaskStatus `json:"status" db:"status"`
	Message  string     `json:"message,omitempty" db:"message"` // Details (e.g., result excerpt or error note)
	LoggedAt time.Time  `json:"logged_at" db:"logged_at"`
}
