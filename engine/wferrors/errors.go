// Package wferrors defines the error taxonomy shared by the scheduler, the
// action runner, and component implementations. The scheduler does not retry;
// it only classifies. Retryable errors are surfaced to the outer harness.
package wferrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValidationError reports inputs or outputs that failed schema validation,
// or resolver warnings elevated to a hard failure. Never retryable.
type ValidationError struct {
	Message     string
	FieldErrors map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.FieldErrors) == 0 {
		return e.Message
	}
	fields := make([]string, 0, len(e.FieldErrors))
	for f := range e.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fmt.Sprintf("%s (fields: %s)", e.Message, strings.Join(fields, ", "))
}

// NewValidationError creates a validation error with per-field detail
func NewValidationError(message string, fieldErrors map[string]string) *ValidationError {
	return &ValidationError{Message: message, FieldErrors: fieldErrors}
}

// NotFoundError reports a missing action, component, file, or artifact.
// Never retryable.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFoundError creates a not-found error for a resource kind and id
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConfigurationError reports required wiring missing at startup. Fatal to
// the worker process.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(message string) *ConfigurationError {
	return &ConfigurationError{Message: message}
}

// TimeoutError reports a run, action, or human-input timeout. Not retryable
// by default.
type TimeoutError struct {
	Message string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s after %s", e.Message, e.Timeout)
	}
	return e.Message
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{Message: message, Timeout: timeout}
}

// ServiceError reports a failure in an external integration. Transient
// service errors are retryable by the outer harness.
type ServiceError struct {
	Service   string
	Message   string
	Transient bool
	Err       error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the outer harness may retry this error
func (e *ServiceError) Retryable() bool {
	return e.Transient
}

// NewServiceError creates a retryable service error wrapping err
func NewServiceError(service, message string, err error) *ServiceError {
	return &ServiceError{Service: service, Message: message, Transient: true, Err: err}
}

// DeadlockError reports a scheduler invariant violated by a malformed DAG:
// nothing is ready, nothing is running, yet nodes remain pending. Fatal to
// the run.
type DeadlockError struct {
	RunID string
	Stuck []string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("scheduler deadlock in run %s: %d nodes stuck pending (%s)",
		e.RunID, len(e.Stuck), strings.Join(e.Stuck, ", "))
}

// NewDeadlockError creates a deadlock error citing the stuck refs
func NewDeadlockError(runID string, stuck []string) *DeadlockError {
	sorted := make([]string, len(stuck))
	copy(sorted, stuck)
	sort.Strings(sorted)
	return &DeadlockError{RunID: runID, Stuck: sorted}
}

// IsRetryable reports whether any error in the chain declares itself
// retryable. Errors without the classification default to non-retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// Name returns the error kind used in trace payloads and failure metadata
func Name(err error) string {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		configErr  *ConfigurationError
		timeout    *TimeoutError
		service    *ServiceError
		deadlock   *DeadlockError
	)
	switch {
	case errors.As(err, &validation):
		return "ValidationError"
	case errors.As(err, &notFound):
		return "NotFoundError"
	case errors.As(err, &configErr):
		return "ConfigurationError"
	case errors.As(err, &timeout):
		return "TimeoutError"
	case errors.As(err, &service):
		return "ServiceError"
	case errors.As(err, &deadlock):
		return "DeadlockError"
	default:
		return "Error"
	}
}

// Describe converts an error into the wire shape carried by trace events and
// downstream failure metadata: {name, message, fieldErrors?}
func Describe(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	desc := map[string]interface{}{
		"name":    Name(err),
		"message": err.Error(),
	}
	var validation *ValidationError
	if errors.As(err, &validation) && len(validation.FieldErrors) > 0 {
		desc["fieldErrors"] = validation.FieldErrors
	}
	return desc
}
