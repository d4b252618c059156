package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/GlyderLabs/api/pkg/models"
	"github.com/GlyderLabs/api/pkg/service"
	"github.com/GlyderLabs/api/pkg/storage"
	"github.com/stretchr/testify/assert"
)

type fixture struct {
	orc   *service.Orchestrator
	tasks *service.TaskService
	store storage.Store
	disp  *fakeDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMockStore()
	seedTeam(t, store)
	tasks := service.NewTaskService(store, logger{})
	disp := &fakeDispatcher{workID: "work-1"}
	scheduler := service.NewScheduler(disp, tasks, logger{})
	assert.NoError(t, scheduler.Init(context.Background()))
	return &fixture{
		orc:   service.NewOrchestrator(scheduler, tasks, store, logger{}),
		tasks: tasks,
		store: store,
		disp:  disp,
	}
}

func TestCreateScheduledTask(t *testing.T) {
	scheduled := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	t.Run("RequiresAgentAndMessage", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orc.CreateScheduledTask(context.Background(), service.CreateScheduledTaskRequest{
			UserID: "user-1", AgentID: "agent-1", ScheduledTime: scheduled,
		})
		assert.True(t, service.IsValidation(err))
	})

	t.Run("RejectsMalformedTime", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orc.CreateScheduledTask(context.Background(), service.CreateScheduledTaskRequest{
			UserID: "user-1", AgentID: "agent-1", Message: "do it",
			ScheduledTime: "tomorrow at noon",
		})
		assert.True(t, service.IsValidation(err))
	})

	t.Run("RejectsRecurrenceEndBeforeStart", func(t *testing.T) {
		f := newFixture(t)
		end := time.Now().Add(30 * time.Minute).UTC().Format(time.RFC3339)
		_, err := f.orc.CreateScheduledTask(context.Background(), service.CreateScheduledTaskRequest{
			UserID: "user-1", AgentID: "agent-1", Message: "do it",
			ScheduledTime: scheduled, RecurrenceEndTime: end,
		})
		assert.True(t, service.IsValidation(err))
	})

	t.Run("UnknownAgentTeam", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orc.CreateScheduledTask(context.Background(), service.CreateScheduledTaskRequest{
			UserID: "user-1", AgentID: "missing", Message: "do it",
			ScheduledTime: scheduled,
		})
		assert.True(t, service.IsNotFound(err))
		assert.Empty(t, f.disp.submitted)
	})

	t.Run("SchedulesPendingTaskWithComposedQuery", func(t *testing.T) {
		f := newFixture(t)
		interval := time.Hour
		result, err := f.orc.CreateScheduledTask(context.Background(), service.CreateScheduledTaskRequest{
			UserID:             "user-1",
			AgentID:            "agent-1",
			Message:            "summarize q3",
			Description:        "weekly summary",
			ScheduledTime:      scheduled,
			RecurrenceInterval: &interval,
		})
		assert.NoError(t, err)
		assert.Equal(t, "work-1", result.TaskID)
		assert.Equal(t, models.PendingTaskStatus, result.Task.Status)
		assert.Equal(t, "weekly summary", result.Task.Description)
		assert.True(t, strings.HasPrefix(result.Task.ThreadID, "user-1-agent-1-"))

		assert.Len(t, f.disp.submitted, 1)
		submitted := f.disp.submitted[0]
		assert.Equal(t, "summarize q3", submitted.Query.TaskMessage)
		assert.Equal(t, "agent-1", submitted.Query.StateOption.AgentID)
		if assert.NotNil(t, submitted.RecurrenceInterval) {
			assert.Equal(t, time.Hour, *submitted.RecurrenceInterval)
		}

		// No conversation exists until the task actually runs.
		_, err = f.tasks.GetChat(result.Task.ThreadID)
		assert.True(t, service.IsNotFound(err))
		msgs, err := f.tasks.GetTaskMessages(result.Task.ThreadID)
		assert.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestSendMessage(t *testing.T) {
	t.Run("RequiresAgentAndMessage", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orc.SendMessage(context.Background(), service.SendMessageRequest{
			UserID: "user-1", AgentID: "agent-1",
		})
		assert.True(t, service.IsValidation(err))
	})

	t.Run("FreshThreadOpensChat", func(t *testing.T) {
		f := newFixture(t)
		result, err := f.orc.SendMessage(context.Background(), service.SendMessageRequest{
			UserID: "user-1", AgentID: "agent-1", Message: "hello",
		})
		assert.NoError(t, err)
		assert.Equal(t, "work-1", result.TaskID)
		assert.True(t, result.IsNewChat)
		assert.True(t, strings.HasPrefix(result.ThreadID, "user-1-agent-1-"))

		task, err := f.tasks.GetTask(result.TaskID)
		assert.NoError(t, err)
		assert.Equal(t, "Direct message", task.Description)

		msgs, err := f.tasks.GetTaskMessages(result.ThreadID)
		assert.NoError(t, err)
		assert.Len(t, msgs, 1)
		assert.Equal(t, "hello", msgs[0].Message)
		assert.Nil(t, msgs[0].Response)

		chat, err := f.tasks.GetChat(result.ThreadID)
		assert.NoError(t, err)
		assert.Len(t, chat.Messages, 1)
		assert.Equal(t, "User", chat.Messages[0].Sender)
	})

	t.Run("ExistingThreadAppends", func(t *testing.T) {
		f := newFixture(t)
		first, err := f.orc.SendMessage(context.Background(), service.SendMessageRequest{
			UserID: "user-1", AgentID: "agent-1", Message: "hello",
		})
		assert.NoError(t, err)

		f.disp.workID = "work-2"
		second, err := f.orc.SendMessage(context.Background(), service.SendMessageRequest{
			UserID: "user-1", AgentID: "agent-1", Message: "one more thing",
			ThreadID: first.ThreadID,
		})
		assert.NoError(t, err)
		assert.False(t, second.IsNewChat)
		assert.Equal(t, first.ChatID, second.ChatID)
		assert.Equal(t, first.ThreadID, second.ThreadID)

		chat, err := f.tasks.GetChat(first.ThreadID)
		assert.NoError(t, err)
		assert.Len(t, chat.Messages, 2)
		assert.Equal(t, "one more thing", chat.LastMessage)

		// Each send creates its own task, but the thread collects both.
		msgs, err := f.tasks.GetTaskMessages(first.ThreadID)
		assert.NoError(t, err)
		if assert.Len(t, msgs, 2) {
			assert.Equal(t, "one more thing", msgs[0].Message)
			assert.Equal(t, "hello", msgs[1].Message)
			assert.NotEqual(t, msgs[0].TaskID, msgs[1].TaskID)
		}
	})
}

func TestRecordResponse(t *testing.T) {
	t.Run("CompletesMessageTask", func(t *testing.T) {
		f := newFixture(t)
		sent, err := f.orc.SendMessage(context.Background(), service.SendMessageRequest{
			UserID: "user-1", AgentID: "agent-1", Message: "hello",
		})
		assert.NoError(t, err)

		assert.NoError(t, f.orc.RecordResponse(sent.TaskID, sent.ThreadID, "hi back", false))

		task, err := f.tasks.GetTask(sent.TaskID)
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedTaskStatus, task.Status)
		if assert.NotNil(t, task.Result) {
			assert.Equal(t, "hi back", *task.Result)
		}

		msgs, err := f.tasks.GetTaskMessages(sent.ThreadID)
		assert.NoError(t, err)
		if assert.Len(t, msgs, 1) && assert.NotNil(t, msgs[0].Response) {
			assert.Equal(t, "hi back", *msgs[0].Response)
		}

		chat, err := f.tasks.GetChat(sent.ThreadID)
		assert.NoError(t, err)
		assert.Len(t, chat.Messages, 2)
		assert.Equal(t, "Agent", chat.Messages[1].Sender)
	})

	t.Run("FailureMarksTaskFailed", func(t *testing.T) {
		f := newFixture(t)
		sent, err := f.orc.SendMessage(context.Background(), service.SendMessageRequest{
			UserID: "user-1", AgentID: "agent-1", Message: "hello",
		})
		assert.NoError(t, err)

		assert.NoError(t, f.orc.RecordResponse(sent.TaskID, sent.ThreadID, "agent crashed", true))
		task, err := f.tasks.GetTask(sent.TaskID)
		assert.NoError(t, err)
		assert.Equal(t, models.FailedTaskStatus, task.Status)
	})

	t.Run("ScheduledTaskHasNoOutstandingMessage", func(t *testing.T) {
		f := newFixture(t)
		result, err := f.orc.CreateScheduledTask(context.Background(), service.CreateScheduledTaskRequest{
			UserID: "user-1", AgentID: "agent-1", Message: "summarize",
			ScheduledTime: time.Now().Add(time.Minute).UTC().Format(time.RFC3339),
		})
		assert.NoError(t, err)

		// No task message exists for the thread; the response still lands on
		// the task and the chat.
		assert.NoError(t, f.orc.RecordResponse(result.TaskID, "", "summary text", false))
		task, err := f.tasks.GetTask(result.TaskID)
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedTaskStatus, task.Status)

		chat, err := f.tasks.GetChat(task.ThreadID)
		assert.NoError(t, err)
		assert.Len(t, chat.Messages, 1)
		assert.Equal(t, "Agent", chat.Messages[0].Sender)
	})

	t.Run("UnknownTask", func(t *testing.T) {
		f := newFixture(t)
		err := f.orc.RecordResponse("missing", "", "x", false)
		assert.True(t, service.IsNotFound(err))
	})
}
