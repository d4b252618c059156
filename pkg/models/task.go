package models

import "time"

type TaskStatus string

const (
	PendingTaskStatus   TaskStatus = "pending"
	QueuedTaskStatus    TaskStatus = "queued"
	RunningTaskStatus   TaskStatus = "running"
	CompletedTaskStatus TaskStatus = "completed"
	FailedTaskStatus    TaskStatus = "failed"
)

// ValidTaskStatus reports whether s is one of the enumerated task statuses.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case PendingTaskStatus, QueuedTaskStatus, RunningTaskStatus,
		CompletedTaskStatus, FailedTaskStatus:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s TaskStatus) Terminal() bool {
	return s == CompletedTaskStatus || s == FailedTaskStatus
}

// Task represents a unit of scheduled or immediate work for an agent team.
type Task struct {
	ID                 string         `json:"id" db:"id"`                                             // Caller-visible business id (UUID), distinct from doc_id
	UserID             string         `json:"user_id" db:"user_id"`                                   // Owning user
	AgentID            string         `json:"agent_id,omitempty" db:"agent_id"`                       // Agent team the work is directed to
	Description        string         `json:"description" db:"description"`                           // Human-readable description
	ThreadID           string         `json:"thread_id,omitempty" db:"thread_id"`                     // Conversation correlation key
	Status             TaskStatus     `json:"status" db:"status"`                                     // "pending", "queued", "running", "completed", "failed"
	ScheduledTime      time.Time      `json:"scheduled_time" db:"scheduled_time"`                     // When the engine should run the task
	RecurrenceInterval *time.Duration `json:"recurrence_interval,omitempty" db:"-"`                   // Nullable recurrence interval
	RecurrenceEndTime  *time.Time     `json:"recurrence_end_time,omitempty" db:"recurrence_end_time"` // Nullable recurrence cutoff
	Result             *string        `json:"result,omitempty" db:"result"`                           // Set on completion/failure
	ProcessingStart    *time.Time     `json:"processing_start,omitempty" db:"processing_start"`       // Nullable start of processing
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// TaskScheduleUpdate carries the caller-editable fields of a scheduled task.
// Nil fields are left untouched.
type TaskScheduleUpdate struct {
	Description        *string        `json:"description,omitempty"`
	ScheduledTime      *time.Time     `json:"scheduled_time,omitempty"`
	RecurrenceInterval *time.Duration `json:"recurrence_interval,omitempty"`
	RecurrenceEndTime  *time.Time     `json:"recurrence_end_time,omitempty"`
}

// TaskSummary aggregates a user's tasks.
// AverageProcessingMS is nil when no task carries both timestamps; callers
// must treat the absent value as "no data", never as zero.
type TaskSummary struct {
	TotalTasks          int      `json:"total_tasks"`
	TotalCompleted      int      `json:"total_completed"`
	TotalFailed         int      `json:"total_failed"`
	AverageProcessingMS *float64 `json:"average_processing_ms,omitempty"`
}

// TaskProcessingTime is the per-task detail returned by the per-agent summary.
type TaskProcessingTime struct {
	TaskID       string `json:"task_id"`
	ProcessingMS int64  `json:"processing_ms"`
}

// AgentTaskSummary aggregates a user's tasks for one agent team, with
// per-task processing times instead of an average.
type AgentTaskSummary struct {
	TotalTasks      int                  `json:"total_tasks"`
	TotalCompleted  int                  `json:"total_completed"`
	TotalFailed     int                  `json:"total_failed"`
	ProcessingTimes []TaskProcessingTime `json:"processing_times"`
}
