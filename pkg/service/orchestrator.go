package service

import (
	"context"
	"fmt"
	"time"

	"github.com/GlyderLabs/api/pkg/models"
	"github.com/google/uuid"
)

const messageSenderUser = "User"
const messageSenderAgent = "Agent"

// CreateScheduledTaskRequest carries the caller-facing fields of the
// "create scheduled task" verb. Times arrive as RFC 3339 strings from the
// transport layer.
type CreateScheduledTaskRequest struct {
	UserID             string
	AgentID            string
	Message            string
	Description        string
	ScheduledTime      string
	RecurrenceInterval *time.Duration
	RecurrenceEndTime  string
}

// SendMessageRequest carries the caller-facing fields of the "send message"
// verb. ThreadID is optional; a fresh thread is derived when absent.
type SendMessageRequest struct {
	UserID   string
	AgentID  string
	Message  string
	ThreadID string
}

// SendMessageResult is returned by SendMessage.
type SendMessageResult struct {
	TaskID    string `json:"task_id"`
	ThreadID  string `json:"thread_id"`
	ChatID    int64  `json:"chat_id"`
	IsNewChat bool   `json:"is_new_chat"`
}

// Orchestrator is the entry point used by request handlers: it composes the
// task query, submits work through the scheduling gateway, and maintains the
// associated message and chat history.
type Orchestrator struct {
	scheduler *Scheduler
	tasks     *TaskService
	teams     TeamDirectory
	logger    Logger
}

func NewOrchestrator(scheduler *Scheduler, tasks *TaskService, teams TeamDirectory, logger Logger) *Orchestrator {
	return &Orchestrator{
		scheduler: scheduler,
		tasks:     tasks,
		teams:     teams,
		logger:    logger,
	}
}

// newThreadID derives a thread id from the caller identity and the
// submission time.
func newThreadID(userID, agentID string) string {
	return fmt.Sprintf("%s-%s-%d", userID, agentID, time.Now().UnixMilli())
}

// CreateScheduledTask validates the request, composes the task query, and
// schedules the work for the requested time with optional recurrence.
func (o *Orchestrator) CreateScheduledTask(ctx context.Context, req CreateScheduledTaskRequest) (ScheduleResult, error) {
	if req.AgentID == "" || req.Message == "" {
		return ScheduleResult{}, fmt.Errorf("%w: agentId and message are required", ErrValidation)
	}

	scheduledTime, err := time.Parse(time.RFC3339, req.ScheduledTime)
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("%w: invalid scheduledTime format: %v", ErrValidation, err)
	}
	var recurrenceEnd *time.Time
	if req.RecurrenceEndTime != "" {
		end, err := time.Parse(time.RFC3339, req.RecurrenceEndTime)
		if err != nil {
			return ScheduleResult{}, fmt.Errorf("%w: invalid recurrenceEndTime format: %v", ErrValidation, err)
		}
		if end.Before(scheduledTime) {
			return ScheduleResult{}, fmt.Errorf("%w: recurrence end time precedes scheduled time", ErrValidation)
		}
		recurrenceEnd = &end
	}

	threadID := newThreadID(req.UserID, req.AgentID)
	query, err := ComposeTaskQuery(o.teams, req.UserID, req.AgentID, req.Message, threadID)
	if err != nil {
		return ScheduleResult{}, err
	}

	task := models.Task{
		ID:                 uuid.NewString(),
		UserID:             req.UserID,
		AgentID:            req.AgentID,
		Description:        req.Description,
		ThreadID:           threadID,
		Status:             models.PendingTaskStatus,
		ScheduledTime:      scheduledTime,
		RecurrenceInterval: req.RecurrenceInterval,
		RecurrenceEndTime:  recurrenceEnd,
	}

	result, err := o.scheduler.ScheduleTask(ctx, task, query)
	if err != nil {
		return ScheduleResult{}, err
	}
	o.logger.Infof("Scheduled task %s for user %s at %s", result.TaskID, req.UserID, scheduledTime.Format(time.RFC3339))
	return result, nil
}

// SendMessage schedules a direct message for immediate execution and records
// the exchange in the thread's message and chat history.
func (o *Orchestrator) SendMessage(ctx context.Context, req SendMessageRequest) (SendMessageResult, error) {
	if req.AgentID == "" || req.Message == "" {
		return SendMessageResult{}, fmt.Errorf("%w: agentId and message are required", ErrValidation)
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = newThreadID(req.UserID, req.AgentID)
	}

	query, err := ComposeTaskQuery(o.teams, req.UserID, req.AgentID, req.Message, threadID)
	if err != nil {
		return SendMessageResult{}, err
	}

	task := models.Task{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		AgentID:       req.AgentID,
		Description:   "Direct message",
		ThreadID:      threadID,
		Status:        models.PendingTaskStatus,
		ScheduledTime: time.Now(),
	}

	result, err := o.scheduler.ScheduleTask(ctx, task, query)
	if err != nil {
		return SendMessageResult{}, err
	}

	if _, err := o.tasks.CreateTaskMessage(result.TaskID, req.Message, threadID); err != nil {
		return SendMessageResult{}, err
	}
	chat, err := o.tasks.SaveChatHistory(req.AgentID, threadID, req.Message, messageSenderUser)
	if err != nil {
		return SendMessageResult{}, err
	}

	return SendMessageResult{
		TaskID:    result.TaskID,
		ThreadID:  threadID,
		ChatID:    chat.ChatID,
		IsNewChat: chat.IsNewChat,
	}, nil
}

// RecordResponse handles the engine's completion callback for a message-style
// task: it stores the result on the task, fills in the thread's outstanding
// message, and appends the agent's reply to the chat.
func (o *Orchestrator) RecordResponse(taskID, threadID, response string, failed bool) error {
	status := models.CompletedTaskStatus
	if failed {
		status = models.FailedTaskStatus
	}
	task, err := o.tasks.UpdateTask(taskID, status, &response)
	if err != nil {
		return err
	}
	if threadID == "" {
		threadID = task.ThreadID
	}
	if threadID == "" {
		return nil
	}
	if _, err := o.tasks.UpdateTaskMessage(threadID, response); err != nil {
		// Scheduled tasks have no outstanding message; only a missing record
		// is tolerated.
		if !IsNotFound(err) {
			return err
		}
	}
	if _, err := o.tasks.SaveChatHistory(task.AgentID, threadID, response, messageSenderAgent); err != nil {
		return err
	}
	return nil
}
