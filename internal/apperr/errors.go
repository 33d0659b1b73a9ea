// Package apperr defines the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrSignature    = errors.New("invalid webhook signature")
	ErrGateway      = errors.New("payment gateway error")
)

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries one or more field errors and unwraps to ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return e.Fields[0].Message
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid returns a ValidationError for one field.
func Invalid(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Join merges the field errors of several validation results. Nil and
// non-validation errors are skipped.
func Join(errs ...error) error {
	var fields []FieldError
	for _, err := range errs {
		var ve *ValidationError
		if errors.As(err, &ve) {
			fields = append(fields, ve.Fields...)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// Conflict wraps ErrConflict with a caller-facing message.
func Conflict(message string) error {
	return fmt.Errorf("%s: %w", message, ErrConflict)
}

// Forbidden wraps ErrForbidden with a caller-facing message.
func Forbidden(message string) error {
	return fmt.Errorf("%s: %w", message, ErrForbidden)
}

// Message returns the caller-facing part of a wrapped taxonomy error.
func Message(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	msg := err.Error()
	for _, base := range []error{ErrConflict, ErrForbidden, ErrUnauthorized, ErrNotFound} {
		if errors.Is(err, base) {
			if trimmed, ok := strings.CutSuffix(msg, ": "+base.Error()); ok {
				return trimmed
			}
		}
	}
	return msg
}
