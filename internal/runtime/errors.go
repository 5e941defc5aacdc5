package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInterrupted is the cancellation cause of an intentional interrupt.
// Teardown still runs but the interrupt is not reported as an error.
var ErrInterrupted = errors.New("interrupted")

// ConfigurationError is a fatal problem with the scene or project detected
// before any object is constructed. Err is the underlying cause, if any.
type ConfigurationError struct {
	Reason   string
	ObjectID string
	Type     string
	Err      error
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Error() string {
	switch {
	case e.ObjectID != "" && e.Type != "":
		return fmt.Sprintf("configuration error: %s (object=%s, type=%s)", e.Reason, e.ObjectID, e.Type)
	case e.ObjectID != "":
		return fmt.Sprintf("configuration error: %s (object=%s)", e.Reason, e.ObjectID)
	case e.Type != "":
		return fmt.Sprintf("configuration error: %s (type=%s)", e.Reason, e.Type)
	}
	return "configuration error: " + e.Reason
}

// UnknownTypeError means no registered object type matches a name.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown object type: %s", e.Type)
}

// DuplicateTypeError means a type name is provided both as a built-in and
// as a user-defined type.
type DuplicateTypeError struct {
	Type string
}

func (e *DuplicateTypeError) Error() string {
	return fmt.Sprintf("object type %s is defined both as built-in and user type", e.Type)
}

// ObjectFailure is the construction failure of one scene object.
type ObjectFailure struct {
	ObjectID string
	Type     string
	Err      error
}

func (f ObjectFailure) Error() string {
	return fmt.Sprintf("object %s (%s): %v", f.ObjectID, f.Type, f.Err)
}

func (f ObjectFailure) Unwrap() error { return f.Err }

// ConstructionError aggregates the failed constructions of one build.
type ConstructionError struct {
	Failures []ObjectFailure
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("failed to initialize %d object(s)", len(e.Failures))
}

func (e *ConstructionError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// CleanupError collects object cleanup failures during teardown.
type CleanupError struct {
	Errors []error
}

func (e *CleanupError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("failed to clean up %d object(s): %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *CleanupError) Unwrap() []error { return e.Errors }

// IsInterrupt reports whether err is an intentional interrupt.
func IsInterrupt(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}

// ErrorType names the kind of err for ProjectException events.
func ErrorType(err error) string {
	var (
		cfg  *ConfigurationError
		unk  *UnknownTypeError
		dup  *DuplicateTypeError
		cons *ConstructionError
		cln  *CleanupError
		of   ObjectFailure
	)
	switch {
	case errors.As(err, &cons):
		return "ConstructionError"
	case errors.As(err, &cln):
		return "CleanupError"
	case errors.As(err, &unk):
		return "UnknownTypeError"
	case errors.As(err, &dup):
		return "DuplicateTypeError"
	case errors.As(err, &cfg):
		return "ConfigurationError"
	case errors.As(err, &of):
		return "ConstructionError"
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError"
	}
	return "Error"
}
