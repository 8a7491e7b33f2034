package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes errors raised by the attribute runtime.
type ErrorCode string

const (
	// ErrCodeConfig indicates a malformed declaration, conflicting merge or
	// missing inverse. Raised at setup, never recovered.
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeAccess indicates an authorization failure.
	ErrCodeAccess ErrorCode = "ACCESS_DENIED"

	// ErrCodeMissing indicates a record that does not exist in storage.
	ErrCodeMissing ErrorCode = "MISSING_RECORD"

	// ErrCodeValue indicates a value that cannot be converted for its attribute.
	ErrCodeValue ErrorCode = "INVALID_VALUE"

	// ErrCodeRestricted indicates a deletion blocked by a restrict policy.
	ErrCodeRestricted ErrorCode = "DELETE_RESTRICTED"

	// ErrCodeQuota indicates recomputation that did not settle within its pass limit.
	ErrCodeQuota ErrorCode = "QUOTA_EXCEEDED"
)

// Error is the structured error raised by the attribute runtime.
//
// Value and configuration errors name the attribute and the offending value.
// Access and missing-record errors name the record and the session.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Model and Field locate the attribute, when relevant.
	Model string
	Field string

	// Record identifies the affected record, when relevant.
	Record ID

	// Value is the offending value for value errors.
	Value any

	// Session and User identify the session that hit the error.
	Session string
	User    string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)

	var details []string
	if e.Model != "" && e.Field != "" {
		details = append(details, "field="+e.Model+"."+e.Field)
	} else if e.Model != "" {
		details = append(details, "model="+e.Model)
	}
	if !e.Record.IsZero() {
		details = append(details, "record="+e.Record.String())
	}
	if e.Code == ErrCodeValue && e.Value != nil {
		details = append(details, fmt.Sprintf("value=%#v", e.Value))
	}
	if e.Session != "" {
		details = append(details, "session="+e.Session)
	}
	if e.User != "" {
		details = append(details, "user="+e.User)
	}
	if len(details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(details, ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// ConfigError creates a configuration error for model.field.
func ConfigError(model, field, format string, args ...any) *Error {
	return &Error{Code: ErrCodeConfig, Message: fmt.Sprintf(format, args...), Model: model, Field: field}
}

// ValueError creates a value-format error for model.field and the offending value.
func ValueError(model, field string, value any, format string, args ...any) *Error {
	return &Error{Code: ErrCodeValue, Message: fmt.Sprintf(format, args...), Model: model, Field: field, Value: value}
}

// AccessError creates an authorization failure for a record.
func AccessError(model string, record ID, format string, args ...any) *Error {
	return &Error{Code: ErrCodeAccess, Message: fmt.Sprintf(format, args...), Model: model, Record: record}
}

// MissingError creates a missing-record error.
func MissingError(model string, record ID) *Error {
	return &Error{Code: ErrCodeMissing, Message: "record does not exist or has been deleted", Model: model, Record: record}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfigError returns true if the error is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigError(err error) bool {
	return CodeOf(err) == ErrCodeConfig
}

// IsAccessError returns true if the error is an authorization failure.
func IsAccessError(err error) bool {
	return CodeOf(err) == ErrCodeAccess
}

// IsMissingError returns true if the error is a missing-record error.
func IsMissingError(err error) bool {
	return CodeOf(err) == ErrCodeMissing
}

// IsValueError returns true if the error is a value-format error.
func IsValueError(err error) bool {
	return CodeOf(err) == ErrCodeValue
}

// IsQuotaError returns true if the error is a recompute quota error.
func IsQuotaError(err error) bool {
	return CodeOf(err) == ErrCodeQuota
}

// IsRetryable reports whether err is recovered by retrying a single record:
// authorization failures and missing records.
func IsRetryable(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeAccess || code == ErrCodeMissing
}
