package services

import (
	"errors"
	"fmt"

	"BillingApp/app/remotedb"
)

// ValidationError reports caller input that breaks a required-field or
// positivity rule. It is raised before any remote call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an absent entity
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// ConflictCodeDuplicateBillNumber marks a bill number that is already used
const ConflictCodeDuplicateBillNumber = "DuplicateBillNumber"

// ConflictError reports a write that collides with existing data
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ErrorKind classifies err for API payloads and logs
func ErrorKind(err error) string {
	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		conflictErr   *ConflictError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &notFoundErr):
		return "not_found"
	case errors.As(err, &conflictErr):
		return "conflict"
	}
	if kind := remotedb.Kind(err); kind != "" {
		return kind
	}
	return "internal"
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}
