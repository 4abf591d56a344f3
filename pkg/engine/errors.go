package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: engine binary unreachable, source API returning 5xx, deploy deadline.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates another operation holds the project or stack.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid configuration, revoked credentials, failed apply.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes are stable and machine-readable. Callers surface them as-is.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeSourceAuth        = "SOURCE_AUTH"
	ErrCodeSourceNotFound    = "SOURCE_NOT_FOUND"
	ErrCodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	ErrCodeStage             = "STAGE_FAILED"
	ErrCodeEngineUnavailable = "ENGINE_UNAVAILABLE"
	ErrCodeProvision         = "PROVISION_FAILED"
	ErrCodeImageBuild        = "IMAGE_BUILD_FAILED"
)

// Detail keys attached to provisioning errors.
const (
	DetailStack  = "stack"
	DetailConfig = "config"
	DetailRawLog = "raw_log"
)

// Sentinels for errors.Is. EngineError.Is compares class and code only.
var (
	ErrSourceAuth        = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeSourceAuth}
	ErrSourceNotFound    = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeSourceNotFound}
	ErrStage             = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeStage}
	ErrConfigValidation  = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeValidation}
	ErrEngineUnavailable = &EngineError{Class: ErrorClassTransient, Code: ErrCodeEngineUnavailable}
	ErrProvision         = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeProvision}
	ErrConflict          = &EngineError{Class: ErrorClassConflict, Code: ErrCodeConflict}
	ErrTimeout           = &EngineError{Class: ErrorClassTransient, Code: ErrCodeTimeout}
	ErrNotFound          = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeNotFound}
	ErrPermissionDenied  = &EngineError{Class: ErrorClassPermanent, Code: ErrCodePermissionDenied}
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the stable error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the project name or stack id that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	// Values placed here must already be redacted.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)%s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s)%s",
			e.Class, e.Message, e.Resource, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns ": <cause>" for the underlying error, or nothing.
func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Code:    ErrCodeRateLimited,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Code:    ErrCodeConflict,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewSourceAuthError reports a rejected source-hosting credential.
// The caller must reconnect the source account.
func NewSourceAuthError(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeSourceAuth)
}

// NewSourceNotFoundError reports a missing repository or branch.
func NewSourceNotFoundError(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeSourceNotFound)
}

// NewStageError reports a workspace or archive failure.
func NewStageError(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeStage)
}

// NewConfigValidationError reports configuration rejected before any side effect.
func NewConfigValidationError(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeValidation)
}

// NewEngineUnavailableError reports that the automation engine could not be reached.
func NewEngineUnavailableError(message string, err error) *EngineError {
	return NewTransientError(message, err).WithCode(ErrCodeEngineUnavailable)
}

// NewTimeoutError reports a deploy that exceeded its wall-clock budget.
func NewTimeoutError(message string, err error) *EngineError {
	return NewTransientError(message, err).WithCode(ErrCodeTimeout)
}

// NewProvisionError reports a failed apply or destroy. config and rawLog must be
// redacted by the caller; they are stored verbatim in Details.
func NewProvisionError(stack string, config map[string]string, rawLog string, err error) *EngineError {
	return NewPermanentError("provisioning failed", err).
		WithCode(ErrCodeProvision).
		WithResource(stack).
		WithDetail(DetailStack, stack).
		WithDetail(DetailConfig, config).
		WithDetail(DetailRawLog, rawLog)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried by the caller.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// CodeOf returns the code of the outermost EngineError in the chain.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ClassOf returns the class of the outermost EngineError in the chain.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// HasCode reports whether any EngineError in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *EngineError
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// ProvisionDetails extracts the redacted config and raw log from a provisioning error.
func ProvisionDetails(err error) (config map[string]string, rawLog string, ok bool) {
	var e *EngineError
	if !errors.As(err, &e) || e.Code != ErrCodeProvision {
		return nil, "", false
	}
	config, _ = e.Details[DetailConfig].(map[string]string)
	rawLog, _ = e.Details[DetailRawLog].(string)
	return config, rawLog, true
}

// Redact returns err with redact applied to every message in its chain and
// to the string details of EngineErrors. EngineErrors are copied with their
// class and code intact, so errors.Is, CodeOf and HasCode answer as they did
// for err. A leaf whose text changed is dropped from the chain.
func Redact(err error, redact func(string) string) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*EngineError); ok {
		c := *e
		c.Message = redact(e.Message)
		c.Err = Redact(e.Err, redact)
		if e.Details != nil {
			c.Details = make(map[string]interface{}, len(e.Details))
			for k, v := range e.Details {
				switch d := v.(type) {
				case string:
					v = redact(d)
				case map[string]string:
					m := make(map[string]string, len(d))
					for dk, dv := range d {
						m[dk] = redact(dv)
					}
					v = m
				}
				c.Details[k] = v
			}
		}
		return &c
	}
	msg := redact(err.Error())
	var inChain *EngineError
	if msg == err.Error() && !errors.As(err, &inChain) {
		return err
	}
	r := &redactedError{msg: msg}
	if inner := errors.Unwrap(err); inner != nil {
		r.err = Redact(inner, redact)
	}
	return r
}

// redactedError replaces the message of a foreign error and keeps its chain
// reachable for errors.Is.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }
