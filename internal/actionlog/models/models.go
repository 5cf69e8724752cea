// Package models defines the audit record of an unsubscribe attempt.
package models

import (
	"time"

	dErrors "dncproxy/pkg/domain-errors"
)

// Result is the closed set of audited unsubscribe outcomes.
type Result string

const (
	ResultOK                Result = "ok"
	ResultNotFound          Result = "not_found"
	ResultError             Result = "error"
	ResultMauticUnreachable Result = "mautic_unreachable"
)

// IsValid checks if the result is one of the supported enum values.
func (r Result) IsValid() bool {
	switch r {
	case ResultOK, ResultNotFound, ResultError, ResultMauticUnreachable:
		return true
	}
	return false
}

// ParseResult validates a result filter value.
func ParseResult(s string) (Result, error) {
	r := Result(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "result must be one of ok, not_found, error, mautic_unreachable")
	}
	return r, nil
}

// ActionRecord is one audited unsubscribe attempt. It is immutable once
// appended; ID is assigned by the store.
type ActionRecord struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Email        string    `json:"email"`
	SourceOrigin string    `json:"source_origin"`
	SourceIP     string    `json:"source_ip"`
	Result       Result    `json:"result"`
	ContactID    *string   `json:"contact_id"`
	ErrorDetail  *string   `json:"error_detail"`
}

// Validate enforces the record shape: contact_id only for ok, error_detail
// only for error.
func (r *ActionRecord) Validate() error {
	if !r.Result.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid result")
	}
	if r.Timestamp.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "timestamp is required")
	}
	if (r.ContactID != nil) != (r.Result == ResultOK) {
		return dErrors.New(dErrors.CodeValidation, "contact_id must be set exactly when result is ok")
	}
	if r.ErrorDetail != nil && r.Result != ResultError {
		return dErrors.New(dErrors.CodeValidation, "error_detail is only allowed when result is error")
	}
	return nil
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Filter narrows a query. Zero values match everything.
type Filter struct {
	Email  string
	Result Result
}

// Page bounds a query window over records ordered by ID descending.
type Page struct {
	Limit  int
	Offset int
}

// Validate checks limit is within [1, MaxLimit] and offset is non-negative.
func (p Page) Validate() error {
	if p.Limit < 1 || p.Limit > MaxLimit {
		return dErrors.New(dErrors.CodeValidation, "limit must be between 1 and 500")
	}
	if p.Offset < 0 {
		return dErrors.New(dErrors.CodeValidation, "offset must be zero or greater")
	}
	return nil
}
