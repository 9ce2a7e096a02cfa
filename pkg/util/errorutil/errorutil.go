package util

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

const (
	CodeValidation      = "VALIDATION_FAILED"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeForbidden       = "FORBIDDEN"
	CodeNotActivated    = "EMAIL_NOT_ACTIVATED"
	CodeWrongCredential = "WRONG_CREDENTIAL"
	CodeDuplicateEmail  = "DUPLICATE_EMAIL"
	CodeConflict        = "CONFLICT"
	CodeInternal        = "INTERNAL_ERROR"
)

// Sentinels usable with errors.Is; matching is by code only.
var (
	ErrValidation      = &DomainError{Code: CodeValidation}
	ErrNotFound        = &DomainError{Code: CodeNotFound}
	ErrUnauthenticated = &DomainError{Code: CodeUnauthenticated}
	ErrInvalidToken    = &DomainError{Code: CodeInvalidToken}
	ErrForbidden       = &DomainError{Code: CodeForbidden}
	ErrNotActivated    = &DomainError{Code: CodeNotActivated}
	ErrWrongCredential = &DomainError{Code: CodeWrongCredential}
	ErrDuplicateEmail  = &DomainError{Code: CodeDuplicateEmail}
	ErrInternal        = &DomainError{Code: CodeInternal}
)

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

// NewUnauthenticated covers missing, malformed or rejected bearer tokens.
func NewUnauthenticated(message string) error {
	return NewDomainError(CodeUnauthenticated, message, http.StatusUnauthorized, nil)
}

func NewInvalidToken(err error) error {
	return &DomainError{
		Code:       CodeInvalidToken,
		Message:    "invalid token",
		HTTPStatus: http.StatusUnauthorized,
		Err:        err,
	}
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewNotActivated() error {
	return NewDomainError(CodeNotActivated,
		"your account is not activated, please confirm your email address",
		http.StatusForbidden, nil)
}

// NewWrongCredential does not say which of email or password was wrong.
func NewWrongCredential() error {
	return NewDomainError(CodeWrongCredential, "email/password is invalid", http.StatusForbidden, nil)
}

func NewDuplicateEmail() error {
	return NewDomainError(CodeDuplicateEmail,
		"there is an account connected to this email address",
		http.StatusConflict, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		if domainErr.HTTPStatus == 0 {
			cp := *domainErr
			cp.HTTPStatus = http.StatusInternalServerError
			return &cp
		}
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

// MapError converts generic errors to DomainError.
func MapError(err error) error {
	return ToDomainError(err)
}
