package models

import "time"

// TaskMessage is one exchange (user prompt, optional agent response) tied to
// a task and a thread. The response is filled in asynchronously when the
// engine replies; the update locates the message by thread id alone.
type TaskMessage struct {
	ID        int64     `json:"id" db:"doc_id"`
	TaskID    string    `json:"task_id" db:"task_id"`
	ThreadID  string    `json:"thread_id" db:"thread_id"`
	Message   string    `json:"message" db:"message"`
	Response  *string   `json:"response,omitempty" db:"response"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ChatMessage is a single transcript entry within a chat.
type ChatMessage struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat is the per-thread running transcript used for UI display.
// Exactly one chat exists per thread id.
type Chat struct {
	ID            int64         `json:"id" db:"doc_id"`
	ThreadID      string        `json:"thread_id" db:"thread_id"`
	TeamID        string        `json:"team_id" db:"team_id"`
	Title         string        `json:"title" db:"title"`
	Messages      []ChatMessage `json:"messages" db:"-"`
	LastMessage   string        `json:"last_message" db:"last_message"`
	LastMessageAt time.Time     `json:"last_message_at" db:"last_message_at"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// ChatUpdate is the result of appending a message to a thread's chat.
type ChatUpdate struct {
	ChatID    int64 `json:"chat_id"`
	IsNewChat bool  `json:"is_new_chat"`
}

// ChatTitle derives a chat title from the thread's first message,
// truncated to 30 characters with an ellipsis. Truncation counts runes so a
// multi-byte character is never split.
func ChatTitle(message string) string {
	const max = 30
	runes := []rune(message)
	if len(runes) <= max {
		return message
	}
	return string(runes[:max]) + "..."
}
