package dispatch

import (
	"context"
	"time"

	"github.com/GlyderLabs/api/pkg/models"
	"github.com/GlyderLabs/api/pkg/service"
)

// Responder produces the agent team's answer for a composed task query.
type Responder func(ctx context.Context, query models.TaskQuery) (string, error)

// Runner drives the canonical task lifecycle for locally dispatched work:
// queued when the engine picks the item up, running while the responder
// works, then completed or failed with the response recorded on the task,
// its message, and the thread's chat.
type Runner struct {
	tasks   *service.TaskService
	orc     *service.Orchestrator
	respond Responder
	logger  service.Logger
}

func NewRunner(tasks *service.TaskService, orc *service.Orchestrator, respond Responder, logger service.Logger) *Runner {
	return &Runner{
		tasks:   tasks,
		orc:     orc,
		respond: respond,
		logger:  logger,
	}
}

// Execute implements Executor.
func (r *Runner) Execute(ctx context.Context, item WorkItem) (string, error) {
	// The durable record is created after submission; a fired immediate task
	// can briefly precede it.
	if err := r.awaitRecord(ctx, item.WorkID); err != nil {
		r.logger.Errorf("Work %s fired with no task record: %v", item.WorkID, err)
		return "", err
	}

	if _, err := r.tasks.UpdateTaskStatus(item.WorkID, models.QueuedTaskStatus); err != nil {
		return "", err
	}
	if _, err := r.tasks.UpdateTaskStatus(item.WorkID, models.RunningTaskStatus); err != nil {
		return "", err
	}

	response, err := r.respond(ctx, item.Request.Query)
	if err != nil {
		failure := err.Error()
		if recordErr := r.orc.RecordResponse(item.WorkID, item.Request.Query.ThreadID, failure, true); recordErr != nil {
			r.logger.Errorf("Failed to record failure for work %s: %v", item.WorkID, recordErr)
		}
		return "", err
	}
	if err := r.orc.RecordResponse(item.WorkID, item.Request.Query.ThreadID, response, false); err != nil {
		return "", err
	}
	return response, nil
}

func (r *Runner) awaitRecord(ctx context.Context, taskID string) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if _, err = r.tasks.GetTask(taskID); err == nil {
			return nil
		}
		if !service.IsNotFound(err) {
			return err
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
