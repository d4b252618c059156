package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/GlyderLabs/api/pkg/dispatch"
	"github.com/GlyderLabs/api/pkg/models"
	"github.com/GlyderLabs/api/pkg/service"
	"github.com/GlyderLabs/api/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// passthroughDispatcher accepts submissions without arming anything; tests
// drive the runner by hand.
type passthroughDispatcher struct{ workID string }

func (d *passthroughDispatcher) Init(ctx context.Context) error { return nil }
func (d *passthroughDispatcher) Submit(ctx context.Context, req service.SubmitRequest) (string, error) {
	return d.workID, nil
}

type runnerFixture struct {
	runner *dispatch.Runner
	tasks  *service.TaskService
	orc    *service.Orchestrator
	store  storage.Store
}

func newRunnerFixture(t *testing.T, respond dispatch.Responder) *runnerFixture {
	t.Helper()
	store := storage.NewMockStore()
	_, err := store.SaveAgentTeam(models.AgentTeam{
		ID:     "agent-1",
		UserID: "user-1",
		Teams:  []models.SubTeam{{ID: "sub-1", AgentIDs: []string{"a1"}}},
	})
	assert.NoError(t, err)

	tasks := service.NewTaskService(store, logger{})
	scheduler := service.NewScheduler(&passthroughDispatcher{workID: "work-1"}, tasks, logger{})
	assert.NoError(t, scheduler.Init(context.Background()))
	orc := service.NewOrchestrator(scheduler, tasks, store, logger{})
	return &runnerFixture{
		runner: dispatch.NewRunner(tasks, orc, respond, logger{}),
		tasks:  tasks,
		orc:    orc,
		store:  store,
	}
}

func workItemFor(taskID, threadID, message string) dispatch.WorkItem {
	return dispatch.WorkItem{
		WorkID: taskID,
		Request: service.SubmitRequest{
			UserID:  "user-1",
			AgentID: "agent-1",
			Query: models.TaskQuery{
				UserID:      "user-1",
				TaskMessage: message,
				ThreadID:    threadID,
			},
		},
	}
}

func TestRunnerExecute(t *testing.T) {
	t.Run("DrivesTaskThroughLifecycle", func(t *testing.T) {
		f := newRunnerFixture(t, func(ctx context.Context, query models.TaskQuery) (string, error) {
			return "the answer", nil
		})
		sent, err := f.orc.SendMessage(context.Background(), service.SendMessageRequest{
			UserID: "user-1", AgentID: "agent-1", Message: "question",
		})
		assert.NoError(t, err)

		response, err := f.runner.Execute(context.Background(), workItemFor(sent.TaskID, sent.ThreadID, "question"))
		assert.NoError(t, err)
		assert.Equal(t, "the answer", response)

		task, err := f.tasks.GetTask(sent.TaskID)
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedTaskStatus, task.Status)

		events, err := f.tasks.GetTaskEvents(sent.TaskID)
		assert.NoError(t, err)
		statuses := make([]models.TaskStatus, 0, len(events))
		for _, e := range events {
			statuses = append(statuses, e.Status)
		}
		assert.Equal(t, []models.TaskStatus{
			models.PendingTaskStatus,
			models.QueuedTaskStatus,
			models.RunningTaskStatus,
			models.CompletedTaskStatus,
		}, statuses)

		msgs, err := f.tasks.GetTaskMessages(sent.ThreadID)
		assert.NoError(t, err)
		if assert.Len(t, msgs, 1) && assert.NotNil(t, msgs[0].Response) {
			assert.Equal(t, "the answer", *msgs[0].Response)
		}
	})

	t.Run("ResponderFailureMarksTaskFailed", func(t *testing.T) {
		f := newRunnerFixture(t, func(ctx context.Context, query models.TaskQuery) (string, error) {
			return "", errors.New("agent unreachable")
		})
		sent, err := f.orc.SendMessage(context.Background(), service.SendMessageRequest{
			UserID: "user-1", AgentID: "agent-1", Message: "question",
		})
		assert.NoError(t, err)

		_, err = f.runner.Execute(context.Background(), workItemFor(sent.TaskID, sent.ThreadID, "question"))
		assert.Error(t, err)

		task, err := f.tasks.GetTask(sent.TaskID)
		assert.NoError(t, err)
		assert.Equal(t, models.FailedTaskStatus, task.Status)
		if assert.NotNil(t, task.Result) {
			assert.Equal(t, "agent unreachable", *task.Result)
		}
	})

	t.Run("WaitsForRecordCreatedAfterFiring", func(t *testing.T) {
		f := newRunnerFixture(t, func(ctx context.Context, query models.TaskQuery) (string, error) {
			return "late but fine", nil
		})

		done := make(chan error, 1)
		go func() {
			_, err := f.runner.Execute(context.Background(), workItemFor("work-1", "thread-1", "question"))
			done <- err
		}()

		// The record lands shortly after the work item fires.
		time.Sleep(80 * time.Millisecond)
		_, err := f.tasks.CreateTask(models.Task{
			ID:            "work-1",
			UserID:        "user-1",
			AgentID:       "agent-1",
			ThreadID:      "thread-1",
			ScheduledTime: time.Now(),
		})
		assert.NoError(t, err)

		assert.NoError(t, <-done)
		task, err := f.tasks.GetTask("work-1")
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedTaskStatus, task.Status)
	})

	t.Run("MissingRecordFailsAfterRetries", func(t *testing.T) {
		f := newRunnerFixture(t, func(ctx context.Context, query models.TaskQuery) (string, error) {
			return "never reached", nil
		})
		_, err := f.runner.Execute(context.Background(), workItemFor("ghost", "thread-1", "question"))
		assert.Error(t, err)
		assert.True(t, service.IsNotFound(err))
	})
}
