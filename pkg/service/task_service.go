package service

import (
	"fmt"

	"github.com/GlyderLabs/api/pkg/models"
	"github.com/GlyderLabs/api/pkg/storage"
)

// defaultTaskDescription is used when a task is created with an empty
// description.
const defaultTaskDescription = "No description provided"

// TaskService owns durable task state: creation, status transitions with
// audit events, message and chat history, and read-side aggregation.
type TaskService struct {
	store  storage.Store
	logger Logger
}

func NewTaskService(store storage.Store, logger Logger) *TaskService {
	return &TaskService{
		store:  store,
		logger: logger,
	}
}

// CreateTask persists a new task with status "pending", the only legal
// initial state. The task id is the caller-assigned business id.
func (ts *TaskService) CreateTask(task models.Task) (created models.Task, err error) {
	if task.ID == "" {
		return models.Task{}, fmt.Errorf("%w: task id is required", ErrValidation)
	}
	if task.UserID == "" {
		return models.Task{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if task.RecurrenceEndTime != nil && task.RecurrenceEndTime.Before(task.ScheduledTime) {
		return models.Task{}, fmt.Errorf("%w: recurrence end time precedes scheduled time", ErrValidation)
	}
	if task.Description == "" {
		task.Description = defaultTaskDescription
	}
	task.Status = models.PendingTaskStatus

	txStore, err := ts.store.Begin()
	if err != nil {
		ts.logger.Errorf("Failed to begin transaction for CreateTask: %v", err)
		return models.Task{}, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ts.logger.Errorf("Failed to rollback: %v", rollbackErr)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ts.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	created, err = txStore.SaveTask(task)
	if err != nil {
		ts.logger.Errorf("Failed to save task %s: %v", task.ID, err)
		return models.Task{}, fmt.Errorf("failed to save task %s: %v", task.ID, err)
	}
	if err = txStore.AppendTaskEvent(models.TaskEvent{
		TaskID: created.ID,
		Status: created.Status,
	}); err != nil {
		ts.logger.Errorf("Failed to record creation event for task %s: %v", created.ID, err)
		return models.Task{}, fmt.Errorf("failed to record creation event for task %s: %v", created.ID, err)
	}
	ts.logger.Infof("Created task %s for user %s", created.ID, created.UserID)
	return created, nil
}

// UpdateTaskStatus sets the status of an existing task and refreshes its
// updated_at timestamp. Invalid status values are rejected before any store
// access.
func (ts *TaskService) UpdateTaskStatus(taskID string, status models.TaskStatus) (updated models.Task, err error) {
	if !models.ValidTaskStatus(status) {
		return models.Task{}, fmt.Errorf("%w: must be one of 'pending', 'queued', 'running', 'completed', 'failed'", ErrInvalidStatus)
	}

	txStore, err := ts.store.Begin()
	if err != nil {
		ts.logger.Errorf("Failed to begin transaction for UpdateTaskStatus: %v", err)
		return models.Task{}, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ts.logger.Errorf("Failed to rollback: %v", rollbackErr)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ts.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	updated, err = txStore.UpdateTaskStatus(taskID, status)
	if err != nil {
		return models.Task{}, err
	}
	if err = txStore.AppendTaskEvent(models.TaskEvent{
		TaskID: taskID,
		Status: status,
	}); err != nil {
		ts.logger.Errorf("Failed to record status event for task %s: %v", taskID, err)
		return models.Task{}, fmt.Errorf("failed to record status event for task %s: %v", taskID, err)
	}
	ts.logger.Infof("Updated task %s to status '%s'", taskID, status)
	return updated, nil
}

// UpdateTask sets both status and result; used by the execution engine to
// report completion or failure payloads.
func (ts *TaskService) UpdateTask(taskID string, status models.TaskStatus, result *string) (updated models.Task, err error) {
	if !models.ValidTaskStatus(status) {
		return models.Task{}, fmt.Errorf("%w: must be one of 'pending', 'queued', 'running', 'completed', 'failed'", ErrInvalidStatus)
	}

	txStore, err := ts.store.Begin()
	if err != nil {
		ts.logger.Errorf("Failed to begin transaction for UpdateTask: %v", err)
		return models.Task{}, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ts.logger.Errorf("Failed to rollback: %v", rollbackErr)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ts.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	updated, err = txStore.UpdateTask(taskID, status, result)
	if err != nil {
		return models.Task{}, err
	}
	event := models.TaskEvent{TaskID: taskID, Status: status}
	if result != nil {
		event.Message = *result
	}
	if err = txStore.AppendTaskEvent(event); err != nil {
		ts.logger.Errorf("Failed to record status event for task %s: %v", taskID, err)
		return models.Task{}, fmt.Errorf("failed to record status event for task %s: %v", taskID, err)
	}
	ts.logger.Infof("Updated task %s to status '%s' with result", taskID, status)
	return updated, nil
}

// UpdateTaskSchedule edits the caller-editable fields of a scheduled task.
func (ts *TaskService) UpdateTaskSchedule(taskID string, upd models.TaskScheduleUpdate) (models.Task, error) {
	if upd.ScheduledTime != nil && upd.RecurrenceEndTime != nil && upd.RecurrenceEndTime.Before(*upd.ScheduledTime) {
		return models.Task{}, fmt.Errorf("%w: recurrence end time precedes scheduled time", ErrValidation)
	}
	return ts.store.UpdateTaskSchedule(taskID, upd)
}

func (ts *TaskService) GetTask(taskID string) (models.Task, error) {
	return ts.store.GetTask(taskID)
}

func (ts *TaskService) DeleteTask(taskID string) error {
	if err := ts.store.DeleteTask(taskID); err != nil {
		return err
	}
	ts.logger.Infof("Deleted task %s", taskID)
	return nil
}

// GetUserTasks returns a page of the user's tasks, newest first. When
// afterTaskID is set the page starts strictly after that record.
func (ts *TaskService) GetUserTasks(userID string, pageSize int, afterTaskID string) ([]models.Task, error) {
	if pageSize <= 0 {
		pageSize = 10
	}
	return ts.store.ListUserTasks(userID, pageSize, afterTaskID)
}

// GetUserTaskSummary scans all of a user's tasks and aggregates counts and
// the mean processing time. The average is absent (nil), not zero, when no
// task carries both timestamps.
func (ts *TaskService) GetUserTaskSummary(userID string) (models.TaskSummary, error) {
	tasks, err := ts.store.ListUserTasks(userID, 0, "")
	if err != nil {
		return models.TaskSummary{}, err
	}

	summary := models.TaskSummary{TotalTasks: len(tasks)}
	var totalMS int64
	var samples int
	for _, t := range tasks {
		switch t.Status {
		case models.CompletedTaskStatus:
			summary.TotalCompleted++
		case models.FailedTaskStatus:
			summary.TotalFailed++
		}
		if !t.CreatedAt.IsZero() && !t.UpdatedAt.IsZero() {
			totalMS += t.UpdatedAt.Sub(t.CreatedAt).Milliseconds()
			samples++
		}
	}
	if samples > 0 {
		avg := float64(totalMS) / float64(samples)
		summary.AverageProcessingMS = &avg
	}
	return summary, nil
}

// GetUserTaskSummaryByAgent is the per-agent variant, returning per-task
// processing times instead of an average.
func (ts *TaskService) GetUserTaskSummaryByAgent(userID, agentID string) (models.AgentTaskSummary, error) {
	tasks, err := ts.store.ListUserTasks(userID, 0, "")
	if err != nil {
		return models.AgentTaskSummary{}, err
	}

	summary := models.AgentTaskSummary{ProcessingTimes: []models.TaskProcessingTime{}}
	for _, t := range tasks {
		if t.AgentID != agentID {
			continue
		}
		summary.TotalTasks++
		switch t.Status {
		case models.CompletedTaskStatus:
			summary.TotalCompleted++
		case models.FailedTaskStatus:
			summary.TotalFailed++
		}
		if !t.CreatedAt.IsZero() && !t.UpdatedAt.IsZero() {
			summary.ProcessingTimes = append(summary.ProcessingTimes, models.TaskProcessingTime{
				TaskID:       t.ID,
				ProcessingMS: t.UpdatedAt.Sub(t.CreatedAt).Milliseconds(),
			})
		}
	}
	return summary, nil
}

// CreateTaskMessage records the user's side of one exchange on a thread.
func (ts *TaskService) CreateTaskMessage(taskID, message, threadID string) (models.TaskMessage, error) {
	if message == "" {
		return models.TaskMessage{}, fmt.Errorf("%w: message is required", ErrValidation)
	}
	return ts.store.SaveTaskMessage(models.TaskMessage{
		TaskID:   taskID,
		ThreadID: threadID,
		Message:  message,
	})
}

// UpdateTaskMessage fills in the agent's response for the thread's
// outstanding message.
func (ts *TaskService) UpdateTaskMessage(threadID, response string) (models.TaskMessage, error) {
	return ts.store.UpdateTaskMessage(threadID, response)
}

// GetTaskMessages lists a thread's exchanges, newest first. A thread may
// span several tasks when messages are sent on an existing thread.
func (ts *TaskService) GetTaskMessages(threadID string) ([]models.TaskMessage, error) {
	return ts.store.ListTaskMessages(threadID)
}

// SaveChatHistory appends a message to the thread's chat, creating the chat
// on the thread's first message.
func (ts *TaskService) SaveChatHistory(teamID, threadID, message, sender string) (models.ChatUpdate, error) {
	upd, err := ts.store.SaveChatMessage(teamID, threadID, sender, message)
	if err != nil {
		return models.ChatUpdate{}, err
	}
	if upd.IsNewChat {
		ts.logger.Infof("Created chat %d for thread %s", upd.ChatID, threadID)
	}
	return upd, nil
}

func (ts *TaskService) GetChat(threadID string) (models.Chat, error) {
	return ts.store.GetChat(threadID)
}

func (ts *TaskService) GetTaskEvents(taskID string) ([]models.TaskEvent, error) {
	return ts.store.ListTaskEvents(taskID)
}
