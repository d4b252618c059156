// Package dispatch provides the in-process implementation of the dispatch
// capability consumed by the scheduling gateway: submitted work items are
// armed as one-shot timers or recurring cron entries and handed to an
// executor when they fire.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GlyderLabs/api/pkg/service"
	"github.com/google/uuid"
	robfigcron "github.com/robfig/cron/v3"
)

// WorkItem is the unit handed to the executor when a submission fires.
type WorkItem struct {
	WorkID    string
	Request   service.SubmitRequest
	Recurring bool
}

// Executor runs a fired work item and returns the engine's response text.
type Executor func(ctx context.Context, item WorkItem) (string, error)

// everySchedule fires at a fixed interval, independent of cron field
// boundaries.
type everySchedule struct {
	interval time.Duration
}

func (s everySchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval)
}

// Engine schedules submitted work in-process. One-shot items are armed as
// timers at their scheduled time; recurring items become cron entries
// bounded by their recurrence end time.
type Engine struct {
	executor Executor
	logger   service.Logger

	mu      sync.Mutex
	started bool
	cron    *robfigcron.Cron
	timers  map[string]*time.Timer
	entries map[string]robfigcron.EntryID
	ctx     context.Context
}

func NewEngine(executor Executor, logger service.Logger) *Engine {
	return &Engine{
		executor: executor,
		logger:   logger,
		cron:     robfigcron.New(),
		timers:   make(map[string]*time.Timer),
		entries:  make(map[string]robfigcron.EntryID),
	}
}

// Init starts the cron runner. ctx bounds the lifetime of every fired
// execution; cancelling it stops the engine.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if e.executor == nil {
		return fmt.Errorf("dispatch engine requires an executor")
	}
	e.ctx = ctx
	e.cron.Start()
	e.started = true
	go func() {
		<-ctx.Done()
		e.Stop()
	}()
	return nil
}

// Stop disarms all pending work and stops the cron runner.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	for id, entry := range e.entries {
		e.cron.Remove(entry)
		delete(e.entries, id)
	}
	e.cron.Stop()
	e.started = false
}

// Submit accepts a work request and returns the engine-assigned work id.
func (e *Engine) Submit(ctx context.Context, req service.SubmitRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return "", fmt.Errorf("dispatch engine not started")
	}

	workID := uuid.NewString()
	if req.RecurrenceInterval != nil {
		if *req.RecurrenceInterval <= 0 {
			return "", fmt.Errorf("recurrence interval must be positive")
		}
		e.armRecurringLocked(workID, req)
	} else {
		e.armOneShotLocked(workID, req)
	}
	return workID, nil
}

func (e *Engine) armOneShotLocked(workID string, req service.SubmitRequest) {
	delay := time.Until(req.ScheduledTime)
	if delay < 0 {
		delay = 0
	}
	e.timers[workID] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, workID)
		e.mu.Unlock()
		e.fire(WorkItem{WorkID: workID, Request: req})
	})
	e.logger.Infof("Armed work %s for %s", workID, req.ScheduledTime.Format(time.RFC3339))
}

func (e *Engine) armRecurringLocked(workID string, req service.SubmitRequest) {
	interval := *req.RecurrenceInterval
	// The first run waits for the scheduled time; the cron entry takes over
	// from there.
	e.timers[workID] = time.AfterFunc(maxDuration(time.Until(req.ScheduledTime), 0), func() {
		e.mu.Lock()
		delete(e.timers, workID)
		if e.started {
			entry := e.cron.Schedule(everySchedule{interval: interval}, robfigcron.FuncJob(func() {
				if req.RecurrenceEndTime != nil && time.Now().After(*req.RecurrenceEndTime) {
					e.remove(workID)
					return
				}
				e.fire(WorkItem{WorkID: workID, Request: req, Recurring: true})
			}))
			e.entries[workID] = entry
		}
		e.mu.Unlock()
		e.fire(WorkItem{WorkID: workID, Request: req, Recurring: true})
	})
	e.logger.Infof("Armed recurring work %s every %s starting %s", workID, interval, req.ScheduledTime.Format(time.RFC3339))
}

func (e *Engine) remove(workID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.entries[workID]; ok {
		e.cron.Remove(entry)
		delete(e.entries, workID)
	}
	if timer, ok := e.timers[workID]; ok {
		timer.Stop()
		delete(e.timers, workID)
	}
}

// Cancel disarms a pending work item. Unknown ids are a no-op: the item may
// already have fired.
func (e *Engine) Cancel(workID string) {
	e.remove(workID)
}

func (e *Engine) fire(item WorkItem) {
	ctx := e.ctx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := e.executor(ctx, item); err != nil {
		e.logger.Errorf("Execution of work %s failed: %v", item.WorkID, err)
	}
}

func maxDuration(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}
