package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired    = sterrors.New("datumflow: configuration is required")
	ErrLoggerRequired    = sterrors.New("datumflow: logger is required")
	ErrQueueRequired     = sterrors.New("datumflow: datum queue is required")
	ErrStoreRequired     = sterrors.New("datumflow: datum store is required")
	ErrPublisherRequired = sterrors.New("datumflow: publisher is required")
	ErrTopicRequired     = sterrors.New("datumflow: topic is required")
	ErrDatumRequired     = sterrors.New("datumflow: datum is required")
	ErrSourceIDRequired  = sterrors.New("datumflow: datum source ID is required")
	ErrQueueStopped      = sterrors.New("datumflow: datum queue is stopped")
)

// ConfigValidationError reports an invalid Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "datumflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// Stage names the pipeline step a ProcessingError came from.
type Stage string

const (
	StageTransform Stage = "transform"
	StagePersist   Stage = "persist"
)

// ProcessingError is returned when the transform or persistence step fails
// for a datum. It terminates the worker that raised it.
type ProcessingError struct {
	Stage    Stage
	SourceID string
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("datumflow: %s failed for source %q: %v", e.Stage, e.SourceID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// PanicError carries a recovered panic value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("datumflow: panic: %v", e.Value)
}

// Recover runs fn and converts a panic into a *PanicError.
func Recover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if asErr, ok := r.(error); ok {
				err = &PanicError{Value: asErr}
				return
			}
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}
