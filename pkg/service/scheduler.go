package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GlyderLabs/api/pkg/models"
)

// SubmitRequest is the payload handed to the dispatch capability.
type SubmitRequest struct {
	AgentID            string
	UserID             string
	Query              models.TaskQuery
	Description        string
	ScheduledTime      time.Time
	RecurrenceInterval *time.Duration
	RecurrenceEndTime  *time.Time
}

// Dispatcher is the external dispatch capability the gateway owns: submit
// work, get an engine-assigned work id. Init may fail and be called again
// until it succeeds.
type Dispatcher interface {
	Init(ctx context.Context) error
	Submit(ctx context.Context, req SubmitRequest) (string, error)
}

// ScheduleResult pairs the engine-assigned work id with the durable record
// created for it.
type ScheduleResult struct {
	TaskID string      `json:"task_id"`
	Task   models.Task `json:"task"`
}

const (
	// defaultSubmitTimeout bounds a submission when the caller's context
	// carries no deadline.
	defaultSubmitTimeout = 15 * time.Second

	persistAttempts = 3
	persistBackoff  = 100 * time.Millisecond
)

// Scheduler is the gateway to the dispatch capability. It is shared
// process-wide through explicit constructor injection; readiness flips once
// an Init attempt succeeds and stays set.
type Scheduler struct {
	dispatcher Dispatcher
	tasks      *TaskService
	logger     Logger

	ready  atomic.Bool
	initMu sync.Mutex
}

func NewScheduler(dispatcher Dispatcher, tasks *TaskService, logger Logger) *Scheduler {
	return &Scheduler{
		dispatcher: dispatcher,
		tasks:      tasks,
		logger:     logger,
	}
}

// Init initializes the dispatch connection synchronously. It is safe to call
// more than once: a ready gateway returns immediately, and a failed attempt
// leaves the gateway retryable.
func (s *Scheduler) Init(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.ready.Load() {
		return nil
	}
	if err := s.dispatcher.Init(ctx); err != nil {
		return err
	}
	s.ready.Store(true)
	s.logger.Infof("Scheduler initialized")
	return nil
}

// Start launches initialization in the background. A failure is logged and
// leaves the gateway not ready; submissions fail with ErrNotInitialized
// until a later Init succeeds.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		if err := s.Init(ctx); err != nil {
			s.logger.Errorf("Failed to initialize scheduler: %v", err)
		}
	}()
}

// Ready reports whether the gateway has completed initialization.
func (s *Scheduler) Ready() bool {
	return s.ready.Load()
}

// ScheduleTask submits the task to the dispatch engine and creates the
// durable record keyed by the engine-assigned work id. The two steps form a
// saga: the work id is the idempotency key for record creation, which is
// retried; if it still fails the error carries the work id so the record can
// be reconciled out of band.
func (s *Scheduler) ScheduleTask(ctx context.Context, task models.Task, query models.TaskQuery) (ScheduleResult, error) {
	if !s.Ready() {
		return ScheduleResult{}, ErrNotInitialized
	}

	submitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, defaultSubmitTimeout)
		defer cancel()
	}

	workID, err := s.dispatcher.Submit(submitCtx, SubmitRequest{
		AgentID:            task.AgentID,
		UserID:             task.UserID,
		Query:              query,
		Description:        task.Description,
		ScheduledTime:      task.ScheduledTime,
		RecurrenceInterval: task.RecurrenceInterval,
		RecurrenceEndTime:  task.RecurrenceEndTime,
	})
	if err != nil {
		// A deadline is not a rejection: the engine may have accepted the
		// work without confirming it.
		if submitCtx.Err() != nil {
			return ScheduleResult{}, fmt.Errorf("%w: %v", ErrSubmitUnconfirmed, err)
		}
		return ScheduleResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	record := task
	record.ID = workID

	var created models.Task
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		created, err = s.tasks.CreateTask(record)
		if err == nil {
			return ScheduleResult{TaskID: workID, Task: created}, nil
		}
		s.logger.Warnf("Attempt %d to persist task record %s failed: %v", attempt, workID, err)
		if attempt < persistAttempts {
			select {
			case <-time.After(time.Duration(attempt) * persistBackoff):
			case <-ctx.Done():
				attempt = persistAttempts
			}
		}
	}

	// The engine holds live scheduled work with no local record; surface the
	// work id for out-of-band recovery.
	s.logger.Errorf("Reconciliation required: engine accepted work %s but record creation failed: %v", workID, err)
	return ScheduleResult{}, fmt.Errorf("%w: engine work id %s: %v", ErrPersistence, workID, err)
}
