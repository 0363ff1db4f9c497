// Package errors provides the unified error taxonomy for the core engine.
package errors

import (
	"fmt"
	"net/http"
)

// Code is one of the engine's error taxonomy codes (see spec §7).
type Code string

const (
	CodeInvalidParams     Code = "invalid_params"
	CodeNotFound          Code = "not_found"
	CodeForbidden         Code = "forbidden"
	CodeValidationFailed  Code = "validation_failed"
	CodeUnique            Code = "unique"
	CodeInvalidRelation   Code = "invalid_relation"
	CodeStorageError      Code = "storage_error"
)

// FieldError is a single per-property validation failure.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ServiceError is a structured error carrying a taxonomy code, an HTTP
// status, optional field errors, and an optional wrapped cause.
type ServiceError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"error"`
	HTTPStatus int                    `json:"-"`
	Errors     []FieldError           `json:"errors,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithContext attaches diagnostic context (operation, class, id, cause).
func (e *ServiceError) WithContext(key string, value interface{}) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithFieldErrors attaches the accumulated per-property error list.
func (e *ServiceError) WithFieldErrors(fe []FieldError) *ServiceError {
	e.Errors = fe
	return e
}

func httpStatusFor(code Code) int {
	switch code {
	case CodeInvalidParams, CodeValidationFailed, CodeInvalidRelation, CodeUnique:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeStorageError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New creates a ServiceError with the status implied by code.
func New(code Code, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatusFor(code)}
}

// Wrap wraps an underlying error (typically a storage failure) as a ServiceError.
func Wrap(code Code, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatusFor(code), Err: err}
}

func InvalidParams(message string) *ServiceError { return New(CodeInvalidParams, message) }
func NotFound(message string) *ServiceError       { return New(CodeNotFound, message) }
func Forbidden(message string) *ServiceError      { return New(CodeForbidden, message) }
func Unique(message string) *ServiceError         { return New(CodeUnique, message) }
func InvalidRelation(message string) *ServiceError { return New(CodeInvalidRelation, message) }

func ValidationFailed(fe []FieldError) *ServiceError {
	return New(CodeValidationFailed, "one or more properties failed validation").WithFieldErrors(fe)
}

// StorageError wraps a backend failure with operation/class/id context, per
// the §4.1 failure semantics ({operation, class, id, cause}).
func StorageError(operation, class string, id interface{}, cause error) *ServiceError {
	return Wrap(CodeStorageError, fmt.Sprintf("storage backend failed: %s", operation), cause).
		WithContext("operation", operation).
		WithContext("class", class).
		WithContext("id", id)
}

// As reports whether err (or any error it wraps) is a *ServiceError, and
// returns it if so.
func As(err error) (*ServiceError, bool) {
	for err != nil {
		if se, ok := err.(*ServiceError); ok {
			return se, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil, false
}
