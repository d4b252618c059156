package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/GlyderLabs/api/pkg/models"
)

// mockStore implements Store with in-memory storage. A single mutex guards
// every operation so the find-or-create chat semantics hold under
// concurrent callers, matching the unique-constraint behavior of the
// Postgres store.
type mockStore struct {
	mu       sync.Mutex
	tasks    []models.Task
	messages []models.TaskMessage
	chats    []models.Chat
	events   []models.TaskEvent
	teams    []models.AgentTeam
	nextDoc  int64
}

// NewMockStore returns an empty in-memory Store for tests and local runs.
func NewMockStore() Store {
	return &mockStore{}
}

func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) SaveTask(t models.Task) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m.tasks = append(m.tasks, t)
	return t, nil
}

func (m *mockStore) taskIndexLocked(taskID string) int {
	for i, t := range m.tasks {
		if t.ID == taskID {
			return i
		}
	}
	return -1
}

func (m *mockStore) GetTask(taskID string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.taskIndexLocked(taskID)
	if i < 0 {
		return models.Task{}, ErrNotFound
	}
	return m.tasks[i], nil
}

func (m *mockStore) UpdateTaskStatus(taskID string, status models.TaskStatus) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.taskIndexLocked(taskID)
	if i < 0 {
		return models.Task{}, ErrNotFound
	}
	m.tasks[i].Status = status
	m.tasks[i].UpdatedAt = time.Now()
	return m.tasks[i], nil
}

func (m *mockStore) UpdateTask(taskID string, status models.TaskStatus, result *string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.taskIndexLocked(taskID)
	if i < 0 {
		return models.Task{}, ErrNotFound
	}
	m.tasks[i].Status = status
	m.tasks[i].Result = result
	m.tasks[i].UpdatedAt = time.Now()
	return m.tasks[i], nil
}

func (m *mockStore) UpdateTaskSchedule(taskID string, upd models.TaskScheduleUpdate) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.taskIndexLocked(taskID)
	if i < 0 {
		return models.Task{}, ErrNotFound
	}
	if upd.Description != nil {
		m.tasks[i].Description = *upd.Description
	}
	if upd.ScheduledTime != nil {
		m.tasks[i].ScheduledTime = *upd.ScheduledTime
	}
	if upd.RecurrenceInterval != nil {
		m.tasks[i].RecurrenceInterval = upd.RecurrenceInterval
	}
	if upd.RecurrenceEndTime != nil {
		m.tasks[i].RecurrenceEndTime = upd.RecurrenceEndTime
	}
	m.tasks[i].UpdatedAt = time.Now()
	return m.tasks[i], nil
}

func (m *mockStore) DeleteTask(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.taskIndexLocked(taskID)
	if i < 0 {
		return ErrNotFound
	}
	m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
	return nil
}

func (m *mockStore) ListUserTasks(userID string, pageSize int, afterTaskID string) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Newest first; later insertion wins creation-time ties, mirroring the
	// doc-id tiebreak of the Postgres store.
	var idx []int
	for i, t := range m.tasks {
		if t.UserID == userID {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ta, tb := m.tasks[idx[a]], m.tasks[idx[b]]
		if ta.CreatedAt.Equal(tb.CreatedAt) {
			return idx[a] > idx[b]
		}
		return ta.CreatedAt.After(tb.CreatedAt)
	})
	tasks := make([]models.Task, 0, len(idx))
	for _, i := range idx {
		tasks = append(tasks, m.tasks[i])
	}

	start := 0
	if afterTaskID != "" {
		found := -1
		for i, t := range tasks {
			if t.ID == afterTaskID {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, ErrNotFound
		}
		start = found + 1
	}
	if start >= len(tasks) {
		return []models.Task{}, nil
	}
	tasks = tasks[start:]
	if pageSize > 0 && len(tasks) > pageSize {
		tasks = tasks[:pageSize]
	}
	out := make([]models.Task, len(tasks))
	copy(out, tasks)
	return out, nil
}

func (m *mockStore) SaveTaskMessage(msg models.TaskMessage) (models.TaskMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDoc++
	msg.ID = m.nextDoc
	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *mockStore) UpdateTaskMessage(threadID, response string) (models.TaskMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.messages {
		if msg.ThreadID == threadID && msg.Response == nil {
			m.messages[i].Response = &response
			m.messages[i].UpdatedAt = time.Now()
			return m.messages[i], nil
		}
	}
	return models.TaskMessage{}, ErrNotFound
}

func (m *mockStore) ListTaskMessages(threadID string) ([]models.TaskMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var msgs []models.TaskMessage
	for _, msg := range m.messages {
		if msg.ThreadID == threadID {
			msgs = append(msgs, msg)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID > msgs[j].ID
		}
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (m *mockStore) SaveChatMessage(teamID, threadID, sender, message string) (models.ChatUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	entry := models.ChatMessage{Sender: sender, Message: message, Timestamp: now}

	for i, c := range m.chats {
		if c.ThreadID == threadID {
			m.chats[i].Messages = append(m.chats[i].Messages, entry)
			m.chats[i].LastMessage = message
			m.chats[i].LastMessageAt = now
			m.chats[i].UpdatedAt = now
			return models.ChatUpdate{ChatID: c.ID, IsNewChat: false}, nil
		}
	}

	m.nextDoc++
	m.chats = append(m.chats, models.Chat{
		ID:            m.nextDoc,
		ThreadID:      threadID,
		TeamID:        teamID,
		Title:         models.ChatTitle(message),
		Messages:      []models.ChatMessage{entry},
		LastMessage:   message,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	return models.ChatUpdate{ChatID: m.nextDoc, IsNewChat: true}, nil
}

func (m *mockStore) GetChat(threadID string) (models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chats {
		if c.ThreadID == threadID {
			return c, nil
		}
	}
	return models.Chat{}, ErrNotFound
}

func (m *mockStore) AppendTaskEvent(e models.TaskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDoc++
	e.ID = m.nextDoc
	if e.LoggedAt.IsZero() {
		e.LoggedAt = time.Now()
	}
	m.events = append(m.events, e)
	return nil
}

func (m *mockStore) ListTaskEvents(taskID string) ([]models.TaskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []models.TaskEvent
	for _, e := range m.events {
		if e.TaskID == taskID {
			events = append(events, e)
		}
	}
	return events, nil
}

func (m *mockStore) GetAgentTeam(agentID string) (models.AgentTeam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.teams {
		if t.ID == agentID {
			return t, nil
		}
	}
	return models.AgentTeam{}, ErrNotFound
}

func (m *mockStore) SaveAgentTeam(t models.AgentTeam) (models.AgentTeam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	for i, existing := range m.teams {
		if existing.ID == t.ID {
			m.teams[i] = t
			return t, nil
		}
	}
	m.teams = append(m.teams, t)
	return t, nil
}
