package storage

import (
	"github.com/GlyderLabs/api/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a task, message, chat, team, or pagination
// cursor cannot be resolved.
var ErrNotFound = errors.New("record not found")

// Store defines the persistence operations for tasks, task messages, chats,
// and the agent-team directory. Record lookups are keyed by the
// caller-assigned business id, which is distinct from the storage-internal
// doc id.
type Store interface {
	// Transaction control. Begin returns a Store whose operations run in a
	// single transaction; Commit and Rollback only apply to such a Store.
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Task operations
	SaveTask(t models.Task) (models.Task, error)
	GetTask(taskID string) (models.Task, error)
	UpdateTaskStatus(taskID string, status models.TaskStatus) (models.Task, error)
	UpdateTask(taskID string, status models.TaskStatus, result *string) (models.Task, error)
	UpdateTaskSchedule(taskID string, upd models.TaskScheduleUpdate) (models.Task, error)
	DeleteTask(taskID string) error

	// ListUserTasks returns a user's tasks ordered by creation time
	// descending. When afterTaskID is non-empty the page starts strictly
	// after that record; an unresolvable cursor yields ErrNotFound.
	// pageSize <= 0 returns all of the user's tasks.
	ListUserTasks(userID string, pageSize int, afterTaskID string) ([]models.Task, error)

	// Task message operations. Messages are listed per thread: a thread's
	// exchanges may span several tasks.
	SaveTaskMessage(m models.TaskMessage) (models.TaskMessage, error)
	UpdateTaskMessage(threadID, response string) (models.TaskMessage, error)
	ListTaskMessages(threadID string) ([]models.TaskMessage, error)

	// Chat operations. SaveChatMessage finds or creates the thread's chat;
	// uniqueness of thread_id is enforced by the store, and a lost create
	// race is recovered as an append.
	SaveChatMessage(teamID, threadID, sender, message string) (models.ChatUpdate, error)
	GetChat(threadID string) (models.Chat, error)

	// Task event operations
	AppendTaskEvent(e models.TaskEvent) error
	ListTaskEvents(taskID string) ([]models.TaskEvent, error)

	// Agent-team directory
	GetAgentTeam(agentID string) (models.AgentTeam, error)
	SaveAgentTeam(t models.AgentTeam) (models.AgentTeam, error)
}
