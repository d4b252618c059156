// Package service implements the task lifecycle core: the task store
// service, the query composer, the scheduling gateway, and the
// orchestration facade used by request handlers.
package service

import (
	stderrors "errors"

	"github.com/GlyderLabs/api/pkg/storage"
	"github.com/pkg/errors"
)

// Logger defines the logging interface the services depend on.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

var (
	// ErrValidation marks malformed input: bad timestamps, missing required
	// fields, invalid status values.
	ErrValidation = errors.New("invalid input")

	// ErrInvalidStatus marks a status value outside the task vocabulary.
	ErrInvalidStatus = errors.Wrap(ErrValidation, "invalid task status")

	// ErrNotInitialized is returned by the scheduling gateway before its
	// background initialization has completed.
	ErrNotInitialized = errors.New("scheduler not initialized")

	// ErrUpstream marks a dispatch-engine submission failure: the engine
	// rejected the work and nothing was scheduled.
	ErrUpstream = errors.New("dispatch submission failed")

	// ErrSubmitUnconfirmed marks a submission that timed out without a
	// definitive answer: the work may or may not be scheduled upstream.
	// Callers must not treat this as equivalent to ErrUpstream.
	ErrSubmitUnconfirmed = errors.New("dispatch submission unconfirmed")

	// ErrPersistence marks a store write failure after the engine accepted
	// the work; the wrapped error carries the engine work id needed for
	// reconciliation.
	ErrPersistence = errors.New("task record persistence failed")
)

// IsNotFound reports whether err denotes a missing task, message, chat,
// team, or pagination cursor.
func IsNotFound(err error) bool {
	return stderrors.Is(err, storage.ErrNotFound)
}

// IsValidation reports whether err denotes malformed input.
func IsValidation(err error) bool {
	return stderrors.Is(err, ErrValidation)
}
