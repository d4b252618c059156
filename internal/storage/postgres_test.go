package storage_test

import (
	"testing"
	"time"

	internal_storage "github.com/GlyderLabs/api/internal/storage"
	"github.com/GlyderLabs/api/internal/testutil"
	"github.com/GlyderLabs/api/pkg/models"
	"github.com/GlyderLabs/api/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	// Helper to create a transactional store
	newTxStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		assert.NoError(t, err)
		txStore, err := store.Begin()
		assert.NoError(t, err)
		t.Cleanup(func() { txStore.Rollback() })
		return txStore.(*internal_storage.PostgresStore)
	}

	newTask := func(id, userID string) models.Task {
		return models.Task{
			ID:            id,
			UserID:        userID,
			AgentID:       "agent-1",
			Description:   "run report",
			ThreadID:      userID + "-agent-1-1",
			Status:        models.PendingTaskStatus,
			ScheduledTime: time.Now().Add(time.Hour),
		}
	}

	t.Run("SaveAndGetTask", func(t *testing.T) {
		store := newTxStore(t)
		interval := 2 * time.Hour
		task := newTask("t1", "user-1")
		task.RecurrenceInterval = &interval

		saved, err := store.SaveTask(task)
		assert.NoError(t, err)
		assert.False(t, saved.CreatedAt.IsZero())

		got, err := store.GetTask("t1")
		assert.NoError(t, err)
		assert.Equal(t, "t1", got.ID)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, models.PendingTaskStatus, got.Status)
		if assert.NotNil(t, got.RecurrenceInterval) {
			assert.Equal(t, interval, *got.RecurrenceInterval)
		}
		assert.Nil(t, got.Result)
		assert.Nil(t, got.ProcessingStart)
	})

	t.Run("GetNonExistingTask", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.GetTask("missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateTaskStatusSetsProcessingStart", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.SaveTask(newTask("t1", "user-1"))
		assert.NoError(t, err)

		queued, err := store.UpdateTaskStatus("t1", models.QueuedTaskStatus)
		assert.NoError(t, err)
		assert.Equal(t, models.QueuedTaskStatus, queued.Status)
		assert.Nil(t, queued.ProcessingStart)

		running, err := store.UpdateTaskStatus("t1", models.RunningTaskStatus)
		assert.NoError(t, err)
		assert.NotNil(t, running.ProcessingStart)
	})

	t.Run("UpdateTaskStoresResult", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.SaveTask(newTask("t1", "user-1"))
		assert.NoError(t, err)

		result := "all done"
		updated, err := store.UpdateTask("t1", models.CompletedTaskStatus, &result)
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedTaskStatus, updated.Status)
		if assert.NotNil(t, updated.Result) {
			assert.Equal(t, "all done", *updated.Result)
		}
	})

	t.Run("UpdateTaskSchedulePreservesUnsetFields", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.SaveTask(newTask("t1", "user-1"))
		assert.NoError(t, err)

		newTime := time.Now().Add(4 * time.Hour).Truncate(time.Microsecond)
		updated, err := store.UpdateTaskSchedule("t1", models.TaskScheduleUpdate{
			ScheduledTime: &newTime,
		})
		assert.NoError(t, err)
		assert.True(t, updated.ScheduledTime.Equal(newTime))
		assert.Equal(t, "run report", updated.Description)
	})

	t.Run("DeleteTask", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.SaveTask(newTask("t1", "user-1"))
		assert.NoError(t, err)
		assert.NoError(t, store.DeleteTask("t1"))
		_, err = store.GetTask("t1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, store.DeleteTask("t1"), storage.ErrNotFound)
	})

	t.Run("ListUserTasksPaginates", func(t *testing.T) {
		store := newTxStore(t)
		// Inside one transaction every insert shares the same created_at, so
		// ordering falls to the doc_id tiebreak.
		for i := 0; i < 7; i++ {
			_, err := store.SaveTask(newTask(string(rune('a'+i)), "user-1"))
			assert.NoError(t, err)
		}
		_, err := store.SaveTask(newTask("other", "user-2"))
		assert.NoError(t, err)

		first, err := store.ListUserTasks("user-1", 3, "")
		assert.NoError(t, err)
		assert.Len(t, first, 3)
		assert.Equal(t, "g", first[0].ID)

		second, err := store.ListUserTasks("user-1", 3, first[2].ID)
		assert.NoError(t, err)
		assert.Len(t, second, 3)
		assert.Equal(t, "d", second[0].ID)

		last, err := store.ListUserTasks("user-1", 3, second[2].ID)
		assert.NoError(t, err)
		assert.Len(t, last, 1)
		assert.Equal(t, "a", last[0].ID)

		all, err := store.ListUserTasks("user-1", 0, "")
		assert.NoError(t, err)
		assert.Len(t, all, 7)

		_, err = store.ListUserTasks("user-1", 3, "bogus")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("TaskMessagesRoundTrip", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.SaveTask(newTask("t1", "user-1"))
		assert.NoError(t, err)

		saved, err := store.SaveTaskMessage(models.TaskMessage{
			TaskID:   "t1",
			ThreadID: "thread-1",
			Message:  "hello",
		})
		assert.NoError(t, err)
		assert.Greater(t, saved.ID, int64(0))
		assert.Nil(t, saved.Response)

		updated, err := store.UpdateTaskMessage("thread-1", "hi back")
		assert.NoError(t, err)
		if assert.NotNil(t, updated.Response) {
			assert.Equal(t, "hi back", *updated.Response)
		}

		msgs, err := store.ListTaskMessages("thread-1")
		assert.NoError(t, err)
		assert.Len(t, msgs, 1)

		_, err = store.UpdateTaskMessage("missing", "x")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ChatFindOrCreate", func(t *testing.T) {
		store := newTxStore(t)

		first, err := store.SaveChatMessage("agent-1", "thread-1", "User", "opening message")
		assert.NoError(t, err)
		assert.True(t, first.IsNewChat)

		second, err := store.SaveChatMessage("agent-1", "thread-1", "Agent", "reply")
		assert.NoError(t, err)
		assert.False(t, second.IsNewChat)
		assert.Equal(t, first.ChatID, second.ChatID)

		chat, err := store.GetChat("thread-1")
		assert.NoError(t, err)
		assert.Equal(t, "agent-1", chat.TeamID)
		assert.Equal(t, "opening message", chat.Title)
		assert.Equal(t, "reply", chat.LastMessage)
		if assert.Len(t, chat.Messages, 2) {
			assert.Equal(t, "User", chat.Messages[0].Sender)
			assert.Equal(t, "reply", chat.Messages[1].Message)
		}

		_, err = store.GetChat("missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("TaskEvents", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.SaveTask(newTask("t1", "user-1"))
		assert.NoError(t, err)

		assert.NoError(t, store.AppendTaskEvent(models.TaskEvent{TaskID: "t1", Status: models.PendingTaskStatus}))
		assert.NoError(t, store.AppendTaskEvent(models.TaskEvent{TaskID: "t1", Status: models.RunningTaskStatus, Message: "picked up"}))

		events, err := store.ListTaskEvents("t1")
		assert.NoError(t, err)
		assert.Len(t, events, 2)
		assert.Equal(t, models.PendingTaskStatus, events[0].Status)
		assert.Equal(t, "picked up", events[1].Message)
	})

	t.Run("AgentTeamsRoundTrip", func(t *testing.T) {
		store := newTxStore(t)
		team := models.AgentTeam{
			ID:     "agent-1",
			UserID: "user-1",
			Name:   "research",
			Teams: []models.SubTeam{
				{ID: "sub-1", Name: "analysts", AgentIDs: []string{"a1", "a2"}, SupervisorPrompt: "coordinate"},
			},
		}
		_, err := store.SaveAgentTeam(team)
		assert.NoError(t, err)

		got, err := store.GetAgentTeam("agent-1")
		assert.NoError(t, err)
		assert.Equal(t, "research", got.Name)
		if assert.Len(t, got.Teams, 1) {
			assert.Equal(t, []string{"a1", "a2"}, got.Teams[0].AgentIDs)
		}

		team.Name = "research v2"
		_, err = store.SaveAgentTeam(team)
		assert.NoError(t, err)
		got, err = store.GetAgentTeam("agent-1")
		assert.NoError(t, err)
		assert.Equal(t, "research v2", got.Name)

		_, err = store.GetAgentTeam("missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
