package core

import (
	"errors"
	"fmt"
)

// ErrObjectNotFound is returned by ObjectStore implementations for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// Sentinel kinds for engine failures. Match them with errors.Is.
var (
	ErrTransient        = errors.New("transient engine failure")
	ErrAuth             = errors.New("engine authentication failed")
	ErrQuota            = errors.New("engine quota exhausted")
	ErrUnsupportedVoice = errors.New("voice not supported by engine")
	ErrResource         = errors.New("engine resources unavailable")
	ErrRejected         = errors.New("engine rejected request")
)

// EngineError records which engine failed and how.
type EngineError struct {
	Engine string
	Kind   error
	Err    error
}

// NewEngineError wraps err with an engine id and failure kind.
func NewEngineError(engine string, kind, err error) *EngineError {
	return &EngineError{Engine: engine, Kind: kind, Err: err}
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine %s: %v", e.Engine, e.Kind)
	}

	return fmt.Sprintf("engine %s: %v: %v", e.Engine, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *EngineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsTerminal reports whether err must not be retried on the same engine.
func IsTerminal(err error) bool {
	return err != nil && !IsTransient(err)
}
