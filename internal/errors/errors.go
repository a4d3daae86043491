package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// DomainError represents a domain-specific error with a code and message
type DomainError struct {
	Code    string
	Message string
	Err     error // underlying error for wrapping
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is and errors.As
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches on code so wrapped copies compare equal to their sentinel
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with domain error context
func WrapError(domainErr *DomainError, err error) *DomainError {
	return &DomainError{
		Code:    domainErr.Code,
		Message: domainErr.Message,
		Err:     err,
	}
}

// Predefined domain errors
var (
	// Credential and token errors. InvalidToken deliberately covers bad
	// signature, expiry, wrong type and version mismatch: callers must not
	// be able to tell these apart.
	ErrInvalidCredentials = NewDomainError("INVALID_CREDENTIALS", "Incorrect username or password")
	ErrInvalidToken       = NewDomainError("INVALID_TOKEN", "Could not validate credentials")
	ErrUnauthorized       = NewDomainError("UNAUTHORIZED", "unauthorized")
	ErrInactiveUser       = NewDomainError("INACTIVE_USER", "Inactive user")
	ErrForbidden          = NewDomainError("FORBIDDEN", "insufficient role")

	// Entity errors
	ErrUserNotFound     = NewDomainError("USER_NOT_FOUND", "user not found")
	ErrChatNotFound     = NewDomainError("CHAT_NOT_FOUND", "Chat not found")
	ErrMessageNotFound  = NewDomainError("MESSAGE_NOT_FOUND", "Message not found")
	ErrSettingsNotFound = NewDomainError("SETTINGS_NOT_FOUND", "Settings not found")
	ErrUsernameExists   = NewDomainError("USERNAME_EXISTS", "Username already registered")
	ErrEmailExists      = NewDomainError("EMAIL_EXISTS", "Email already registered")

	// Validation errors
	ErrInvalidInput      = NewDomainError("INVALID_INPUT", "invalid input")
	ErrPasswordMismatch  = NewDomainError("PASSWORD_MISMATCH", "new password and confirmation do not match")
	ErrIncorrectPassword = NewDomainError("INCORRECT_PASSWORD", "current password is incorrect")
	ErrSelfDeactivation  = NewDomainError("SELF_DEACTIVATION", "admins cannot deactivate themselves")
	ErrSelfDeletion      = NewDomainError("SELF_DELETION", "admins cannot delete themselves")

	// Upstream gateway errors
	ErrGatewayUnreachable = NewDomainError("GATEWAY_UNREACHABLE", "model gateway unreachable")
	ErrGatewayError       = NewDomainError("GATEWAY_ERROR", "model gateway returned an error")

	// System errors
	ErrInternal           = NewDomainError("INTERNAL_ERROR", "internal server error")
	ErrServiceUnavailable = NewDomainError("SERVICE_UNAVAILABLE", "service unavailable")
)

// IsDomainError checks if an error is a domain error
func IsDomainError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr)
}

// GetDomainError extracts the domain error from an error
func GetDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// ToHTTPStatus maps domain errors to HTTP status codes.
// This should only be used in the handler/presentation layer.
func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErrorToHTTPStatus(domainErr)
	}

	return http.StatusInternalServerError
}

func domainErrorToHTTPStatus(err *DomainError) int {
	switch err.Code {
	// 400 Bad Request
	case "INVALID_INPUT", "PASSWORD_MISMATCH", "INACTIVE_USER", "SELF_DEACTIVATION", "SELF_DELETION":
		return http.StatusBadRequest

	// 401 Unauthorized
	case "UNAUTHORIZED", "INVALID_CREDENTIALS", "INVALID_TOKEN", "INCORRECT_PASSWORD":
		return http.StatusUnauthorized

	// 403 Forbidden
	case "FORBIDDEN":
		return http.StatusForbidden

	// 404 Not Found
	case "USER_NOT_FOUND", "CHAT_NOT_FOUND", "MESSAGE_NOT_FOUND", "SETTINGS_NOT_FOUND":
		return http.StatusNotFound

	// 409 Conflict
	case "USERNAME_EXISTS", "EMAIL_EXISTS":
		return http.StatusConflict

	// 502 Bad Gateway
	case "GATEWAY_UNREACHABLE", "GATEWAY_ERROR":
		return http.StatusBadGateway

	// 503 Service Unavailable
	case "SERVICE_UNAVAILABLE":
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetErrorMessage safely extracts error message
func GetErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}

	return err.Error()
}
