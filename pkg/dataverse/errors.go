package dataverse

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error for the caller-facing boundary.
type ErrorKind string

const (
	// KindSchemaNotFound indicates an unknown logical name, attribute or action.
	KindSchemaNotFound ErrorKind = "schema_not_found"

	// KindValidation indicates a caller-supplied value does not match the
	// declared attribute or parameter shape. It is raised before any network call.
	KindValidation ErrorKind = "validation"

	// KindDeserialization indicates a wire value that cannot satisfy its declared type.
	KindDeserialization ErrorKind = "deserialization"

	// KindService indicates the remote call failed.
	KindService ErrorKind = "service"
)

// Error is a classified error with context.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// LogicalName is the entity or action the error relates to, if any.
	LogicalName string `json:"logical_name,omitempty"`

	// Attribute is the attribute or parameter the error relates to, if any.
	Attribute string `json:"attribute,omitempty"`

	// Operation is the client operation being performed.
	Operation string `json:"operation,omitempty"`

	// StatusCode is the remote status code for service errors.
	StatusCode int `json:"status_code,omitempty"`

	// Code is the remote error code for service errors.
	Code string `json:"code,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	switch {
	case e.LogicalName != "" && e.Attribute != "":
		msg += fmt.Sprintf(" (%s.%s)", e.LogicalName, e.Attribute)
	case e.LogicalName != "":
		msg += fmt.Sprintf(" (%s)", e.LogicalName)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so that errors.Is(err, ErrValidation) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrSchemaNotFound  = &Error{Kind: KindSchemaNotFound, Message: "schema not found"}
	ErrValidation      = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrDeserialization = &Error{Kind: KindDeserialization, Message: "deserialization failed"}
	ErrService         = &Error{Kind: KindService, Message: "service call failed"}
)

// NewSchemaNotFoundError creates a new schema-not-found error.
func NewSchemaNotFoundError(message string) *Error {
	return &Error{Kind: KindSchemaNotFound, Message: message}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Kind: KindValidation, Message: message, Err: err}
}

// NewDeserializationError creates a new deserialization error.
func NewDeserializationError(message string, err error) *Error {
	return &Error{Kind: KindDeserialization, Message: message, Err: err}
}

// NewServiceError creates a new service error carrying the remote status code.
func NewServiceError(statusCode int, message string, err error) *Error {
	return &Error{Kind: KindService, StatusCode: statusCode, Message: message, Err: err}
}

// Clone returns a copy of the error with its own details map.
func (e *Error) Clone() *Error {
	out := *e
	if e.Details != nil {
		out.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return &out
}

// WithLogicalName adds the entity or action name to the error.
func (e *Error) WithLogicalName(name string) *Error {
	e.LogicalName = name
	return e
}

// WithAttribute adds the attribute or parameter name to the error.
func (e *Error) WithAttribute(attribute string) *Error {
	e.Attribute = attribute
	return e
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds a remote error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsSchemaNotFound returns true if the error is classified as schema-not-found.
func IsSchemaNotFound(err error) bool {
	return KindOf(err) == KindSchemaNotFound
}

// IsValidation returns true if the error is classified as a validation failure.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsDeserialization returns true if the error is classified as a deserialization failure.
func IsDeserialization(err error) bool {
	return KindOf(err) == KindDeserialization
}

// IsService returns true if the error is classified as a remote service failure.
func IsService(err error) bool {
	return KindOf(err) == KindService
}
