package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GlyderLabs/api/pkg/models"
	"github.com/GlyderLabs/api/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore implements storage.Store on PostgreSQL. Records carry a
// storage-internal doc_id (serial) distinct from the caller-assigned
// business id; business-id lookups resolve the doc_id first.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func InitStore(dbConnStr string) (*PostgresStore, error) {
	return NewPostgresStore(dbConnStr)
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// taskRow mirrors the tasks table; recurrence is stored in milliseconds.
type taskRow struct {
	DocID                int64          `db:"doc_id"`
	ID                   string         `db:"id"`
	UserID               string         `db:"user_id"`
	AgentID              string         `db:"agent_id"`
	Description          string         `db:"description"`
	ThreadID             string         `db:"thread_id"`
	Status               string         `db:"status"`
	ScheduledTime        time.Time      `db:"scheduled_time"`
	RecurrenceIntervalMS sql.NullInt64  `db:"recurrence_interval_ms"`
	RecurrenceEndTime    sql.NullTime   `db:"recurrence_end_time"`
	Result               sql.NullString `db:"result"`
	ProcessingStart      sql.NullTime   `db:"processing_start"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r taskRow) toModel() models.Task {
	t := models.Task{
		ID:            r.ID,
		UserID:        r.UserID,
		AgentID:       r.AgentID,
		Description:   r.Description,
		ThreadID:      r.ThreadID,
		Status:        models.TaskStatus(r.Status),
		ScheduledTime: r.ScheduledTime,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.RecurrenceIntervalMS.Valid {
		d := time.Duration(r.RecurrenceIntervalMS.Int64) * time.Millisecond
		t.RecurrenceInterval = &d
	}
	if r.RecurrenceEndTime.Valid {
		end := r.RecurrenceEndTime.Time
		t.RecurrenceEndTime = &end
	}
	if r.Result.Valid {
		res := r.Result.String
		t.Result = &res
	}
	if r.ProcessingStart.Valid {
		ps := r.ProcessingStart.Time
		t.ProcessingStart = &ps
	}
	return t
}

// resolveTaskDocID maps a business task id to its storage doc id.
func (s *PostgresStore) resolveTaskDocID(taskID string) (int64, error) {
	var docID int64
	err := s.db.Get(&docID, "SELECT doc_id FROM tasks WHERE id = $1", taskID)
	if err == sql.ErrNoRows {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve task %s: %w", taskID, err)
	}
	return docID, nil
}

func (s *PostgresStore) getTaskByDocID(docID int64) (models.Task, error) {
	var row taskRow
	err := s.db.Get(&row, "SELECT * FROM tasks WHERE doc_id = $1", docID)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return row.toModel(), nil
}

func (s *PostgresStore) SaveTask(t models.Task) (models.Task, error) {
	var recurrenceMS interface{}
	if t.RecurrenceInterval != nil {
		recurrenceMS = t.RecurrenceInterval.Milliseconds()
	}
	var docID int64
	err := s.db.QueryRowx(`
		INSERT INTO tasks
			(id, user_id, agent_id, description, thread_id, status, scheduled_time,
			 recurrence_interval_ms, recurrence_end_time, result, processing_start)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING doc_id`,
		t.ID, t.UserID, t.AgentID, t.Description, t.ThreadID, t.Status, t.ScheduledTime,
		recurrenceMS, t.RecurrenceEndTime, t.Result, t.ProcessingStart).Scan(&docID)
	if err != nil {
		return models.Task{}, fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return s.getTaskByDocID(docID)
}

func (s *PostgresStore) GetTask(taskID string) (models.Task, error) {
	docID, err := s.resolveTaskDocID(taskID)
	if err != nil {
		return models.Task{}, err
	}
	return s.getTaskByDocID(docID)
}

func (s *PostgresStore) UpdateTaskStatus(taskID string, status models.TaskStatus) (models.Task, error) {
	docID, err := s.resolveTaskDocID(taskID)
	if err != nil {
		return models.Task{}, err
	}
	_, err = s.db.Exec(`
		UPDATE tasks
		SET status = $1,
		processing_start = CASE WHEN $2 = 'running' AND processing_start IS NULL THEN CURRENT_TIMESTAMP ELSE processing_start END,
		updated_at = CURRENT_TIMESTAMP
		WHERE doc_id = $3`,
		// The CASE parameter counts separately, so the status is bound twice.
		status, status, docID)
	if err != nil {
		return models.Task{}, fmt.Errorf("update task %s status: %w", taskID, err)
	}
	return s.getTaskByDocID(docID)
}

func (s *PostgresStore) UpdateTask(taskID string, status models.TaskStatus, result *string) (models.Task, error) {
	docID, err := s.resolveTaskDocID(taskID)
	if err != nil {
		return models.Task{}, err
	}
	_, err = s.db.Exec(`
		UPDATE tasks
		SET status = $1, result = $2, updated_at = CURRENT_TIMESTAMP
		WHERE doc_id = $3`,
		status, result, docID)
	if err != nil {
		return models.Task{}, fmt.Errorf("update task %s: %w", taskID, err)
	}
	return s.getTaskByDocID(docID)
}

func (s *PostgresStore) UpdateTaskSchedule(taskID string, upd models.TaskScheduleUpdate) (models.Task, error) {
	docID, err := s.resolveTaskDocID(taskID)
	if err != nil {
		return models.Task{}, err
	}
	var recurrenceMS interface{}
	if upd.RecurrenceInterval != nil {
		recurrenceMS = upd.RecurrenceInterval.Milliseconds()
	}
	_, err = s.db.Exec(`
		UPDATE tasks
		SET description = COALESCE($1, description),
		scheduled_time = COALESCE($2, scheduled_time),
		recurrence_interval_ms = COALESCE($3, recurrence_interval_ms),
		recurrence_end_time = COALESCE($4, recurrence_end_time),
		updated_at = CURRENT_TIMESTAMP
		WHERE doc_id = $5`,
		upd.Description, upd.ScheduledTime, recurrenceMS, upd.RecurrenceEndTime, docID)
	if err != nil {
		return models.Task{}, fmt.Errorf("update task %s schedule: %w", taskID, err)
	}
	return s.getTaskByDocID(docID)
}

func (s *PostgresStore) DeleteTask(taskID string) error {
	docID, err := s.resolveTaskDocID(taskID)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM tasks WHERE doc_id = $1", docID); err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

func (s *PostgresStore) ListUserTasks(userID string, pageSize int, afterTaskID string) ([]models.Task, error) {
	var rows []taskRow
	var err error
	switch {
	case afterTaskID != "":
		// Cursor pagination: resolve the cursor record's position and return
		// records strictly after it, stable under concurrent inserts.
		cursorDocID, resolveErr := s.resolveTaskDocID(afterTaskID)
		if resolveErr != nil {
			return nil, resolveErr
		}
		var cursor taskRow
		if err := s.db.Get(&cursor, "SELECT * FROM tasks WHERE doc_id = $1", cursorDocID); err != nil {
			return nil, fmt.Errorf("fetch pagination cursor %s: %w", afterTaskID, err)
		}
		if pageSize < 0 {
			pageSize = 0
		}
		err = s.db.Select(&rows, `
			SELECT * FROM tasks
			WHERE user_id = $1 AND (created_at, doc_id) < ($2, $3)
			ORDER BY created_at DESC, doc_id DESC
			LIMIT NULLIF($4, 0)`,
			userID, cursor.CreatedAt, cursor.DocID, pageSize)
	case pageSize > 0:
		err = s.db.Select(&rows, `
			SELECT * FROM tasks
			WHERE user_id = $1
			ORDER BY created_at DESC, doc_id DESC
			LIMIT $2`,
			userID, pageSize)
	default:
		err = s.db.Select(&rows, `
			SELECT * FROM tasks
			WHERE user_id = $1
			ORDER BY created_at DESC, doc_id DESC`,
			userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks for user %s: %w", userID, err)
	}
	tasks := make([]models.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.toModel())
	}
	return tasks, nil
}

type taskMessageRow struct {
	DocID     int64          `db:"doc_id"`
	TaskID    string         `db:"task_id"`
	ThreadID  string         `db:"thread_id"`
	Message   string         `db:"message"`
	Response  sql.NullString `db:"response"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r taskMessageRow) toModel() models.TaskMessage {
	m := models.TaskMessage{
		ID:        r.DocID,
		TaskID:    r.TaskID,
		ThreadID:  r.ThreadID,
		Message:   r.Message,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Response.Valid {
		resp := r.Response.String
		m.Response = &resp
	}
	return m
}

func (s *PostgresStore) SaveTaskMessage(m models.TaskMessage) (models.TaskMessage, error) {
	var row taskMessageRow
	err := s.db.Get(&row, `
		INSERT INTO task_messages (task_id, thread_id, message)
		VALUES ($1, $2, $3)
		RETURNING *`,
		m.TaskID, m.ThreadID, m.Message)
	if err != nil {
		return models.TaskMessage{}, fmt.Errorf("save task message for thread %s: %w", m.ThreadID, err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) UpdateTaskMessage(threadID, response string) (models.TaskMessage, error) {
	// A thread may carry several exchanges; responses attach to the oldest
	// message still waiting for one.
	var docID int64
	err := s.db.Get(&docID, `
		SELECT doc_id FROM task_messages
		WHERE thread_id = $1 AND response IS NULL
		ORDER BY created_at ASC, doc_id ASC
		LIMIT 1`, threadID)
	if err == sql.ErrNoRows {
		return models.TaskMessage{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskMessage{}, fmt.Errorf("resolve task message for thread %s: %w", threadID, err)
	}
	var row taskMessageRow
	err = s.db.Get(&row, `
		UPDATE task_messages
		SET response = $1, updated_at = CURRENT_TIMESTAMP
		WHERE doc_id = $2
		RETURNING *`,
		response, docID)
	if err != nil {
		return models.TaskMessage{}, fmt.Errorf("update task message for thread %s: %w", threadID, err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) ListTaskMessages(threadID string) ([]models.TaskMessage, error) {
	var rows []taskMessageRow
	err := s.db.Select(&rows, `
		SELECT * FROM task_messages
		WHERE thread_id = $1
		ORDER BY created_at DESC, doc_id DESC`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("list task messages for thread %s: %w", threadID, err)
	}
	msgs := make([]models.TaskMessage, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.toModel())
	}
	return msgs, nil
}

func (s *PostgresStore) SaveChatMessage(teamID, threadID, sender, message string) (models.ChatUpdate, error) {
	entry, err := json.Marshal(models.ChatMessage{
		Sender:    sender,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return models.ChatUpdate{}, fmt.Errorf("marshal chat entry: %w", err)
	}

	// thread_id is UNIQUE: a lost create race surfaces as a conflict and is
	// recovered by falling through to the append path.
	var docID int64
	err = s.db.QueryRowx(`
		INSERT INTO chats (thread_id, team_id, title, messages, last_message, last_message_at)
		VALUES ($1, $2, $3, jsonb_build_array($4::jsonb), $5, CURRENT_TIMESTAMP)
		ON CONFLICT (thread_id) DO NOTHING
		RETURNING doc_id`,
		threadID, teamID, models.ChatTitle(message), string(entry), message).Scan(&docID)
	if err == nil {
		return models.ChatUpdate{ChatID: docID, IsNewChat: true}, nil
	}
	if err != sql.ErrNoRows {
		return models.ChatUpdate{}, fmt.Errorf("create chat for thread %s: %w", threadID, err)
	}

	err = s.db.QueryRowx(`
		UPDATE chats
		SET messages = messages || $1::jsonb,
		last_message = $2,
		last_message_at = CURRENT_TIMESTAMP,
		updated_at = CURRENT_TIMESTAMP
		WHERE thread_id = $3
		RETURNING doc_id`,
		string(entry), message, threadID).Scan(&docID)
	if err != nil {
		return models.ChatUpdate{}, fmt.Errorf("append chat for thread %s: %w", threadID, err)
	}
	return models.ChatUpdate{ChatID: docID, IsNewChat: false}, nil
}

type chatRow struct {
	DocID         int64     `db:"doc_id"`
	ThreadID      string    `db:"thread_id"`
	TeamID        string    `db:"team_id"`
	Title         string    `db:"title"`
	Messages      []byte    `db:"messages"`
	LastMessage   string    `db:"last_message"`
	LastMessageAt time.Time `db:"last_message_at"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (s *PostgresStore) GetChat(threadID string) (models.Chat, error) {
	var row chatRow
	err := s.db.Get(&row, "SELECT * FROM chats WHERE thread_id = $1", threadID)
	if err == sql.ErrNoRows {
		return models.Chat{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Chat{}, fmt.Errorf("get chat for thread %s: %w", threadID, err)
	}
	chat := models.Chat{
		ID:            row.DocID,
		ThreadID:      row.ThreadID,
		TeamID:        row.TeamID,
		Title:         row.Title,
		LastMessage:   row.LastMessage,
		LastMessageAt: row.LastMessageAt,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Messages, &chat.Messages); err != nil {
		return models.Chat{}, fmt.Errorf("decode chat transcript for thread %s: %w", threadID, err)
	}
	return chat, nil
}

func (s *PostgresStore) AppendTaskEvent(e models.TaskEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO task_events (task_id, status, message)
		VALUES ($1, $2, $3)`,
		e.TaskID, e.Status, e.Message)
	if err != nil {
		return fmt.Errorf("append event for task %s: %w", e.TaskID, err)
	}
	return nil
}

func (s *PostgresStore) ListTaskEvents(taskID string) ([]models.TaskEvent, error) {
	var events []models.TaskEvent
	err := s.db.Select(&events, `
		SELECT doc_id, task_id, status, message, logged_at FROM task_events
		WHERE task_id = $1
		ORDER BY logged_at ASC, doc_id ASC`,
		taskID)
	if err != nil {
		return nil, fmt.Errorf("list events for task %s: %w", taskID, err)
	}
	return events, nil
}

type agentTeamRow struct {
	DocID         int64     `db:"doc_id"`
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	Name          string    `db:"name"`
	Description   string    `db:"description"`
	ProvisionType int       `db:"provision_type"`
	Teams         []byte    `db:"teams"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (s *PostgresStore) GetAgentTeam(agentID string) (models.AgentTeam, error) {
	var row agentTeamRow
	err := s.db.Get(&row, "SELECT * FROM agent_teams WHERE id = $1", agentID)
	if err == sql.ErrNoRows {
		return models.AgentTeam{}, storage.ErrNotFound
	}
	if err != nil {
		return models.AgentTeam{}, fmt.Errorf("get agent team %s: %w", agentID, err)
	}
	team := models.AgentTeam{
		ID:            row.ID,
		UserID:        row.UserID,
		Name:          row.Name,
		Description:   row.Description,
		ProvisionType: row.ProvisionType,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Teams, &team.Teams); err != nil {
		return models.AgentTeam{}, fmt.Errorf("decode sub-teams for agent team %s: %w", agentID, err)
	}
	return team, nil
}

func (s *PostgresStore) SaveAgentTeam(t models.AgentTeam) (models.AgentTeam, error) {
	teams, err := json.Marshal(t.Teams)
	if err != nil {
		return models.AgentTeam{}, fmt.Errorf("marshal sub-teams: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO agent_teams (id, user_id, name, description, provision_type, teams)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			provision_type = EXCLUDED.provision_type,
			teams = EXCLUDED.teams,
			updated_at = CURRENT_TIMESTAMP`,
		t.ID, t.UserID, t.Name, t.Description, t.ProvisionType, string(teams))
	if err != nil {
		return models.AgentTeam{}, fmt.Errorf("save agent team %s: %w", t.ID, err)
	}
	return s.GetAgentTeam(t.ID)
}
