package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable, machine-readable error identifier returned to clients.
type ErrorCode string

// Error codes reported in error responses.
const (
	CodeInvalidOpHost                   ErrorCode = "invalid_op_host"
	CodeInvalidAuthorizationRedirectURI ErrorCode = "invalid_authorization_redirect_uri"
	CodeInvalidScope                    ErrorCode = "invalid_scope"
	CodeInvalidOxdID                    ErrorCode = "invalid_oxd_id"
	CodeBadRequest                      ErrorCode = "bad_request"
	CodeUnsupportedOperation            ErrorCode = "unsupported_operation"
	CodeNoClientRegistrationEndpoint    ErrorCode = "no_client_registration_endpoint"
	CodeRegistrationFailed              ErrorCode = "registration_failed"
	CodeBlankProtectionAccessToken      ErrorCode = "blank_protection_access_token"
	CodeProtectionDenied                ErrorCode = "protection_denied"
	CodeAuthorizationFailed             ErrorCode = "authorization_failed"
	CodeInternalError                   ErrorCode = "internal_error"
)

var descriptions = map[ErrorCode]string{
	CodeInvalidOpHost:                   "Invalid op_host. Specify a valid OP host or configure a default one.",
	CodeInvalidAuthorizationRedirectURI: "Invalid authorization_redirect_uri. It must be a valid absolute URL.",
	CodeInvalidScope:                    "Invalid scope. Specify at least one scope or configure a default one.",
	CodeInvalidOxdID:                    "Invalid oxd_id. No site is registered under this identifier.",
	CodeBadRequest:                      "Bad request.",
	CodeUnsupportedOperation:            "Unsupported operation.",
	CodeNoClientRegistrationEndpoint:    "OP does not provide registration_endpoint. Register the client manually and pass client_id and client_secret.",
	CodeRegistrationFailed:              "Failed to register client at the OP.",
	CodeBlankProtectionAccessToken:      "protection_access_token is blank.",
	CodeProtectionDenied:                "Protection access token is invalid or inactive.",
	CodeAuthorizationFailed:             "Failed to obtain authorization code from the OP.",
	CodeInternalError:                   "Internal error.",
}

// Description returns the default human readable description of a code.
func (c ErrorCode) Description() string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return string(c)
}

// Error is an expected failure that is reported to the client with its code.
type Error struct {
	Code        ErrorCode `json:"error"`
	Description string    `json:"error_description"`
}

// NewError creates an Error. An empty description falls back to the code's default.
func NewError(code ErrorCode, description string) *Error {
	if description == "" {
		description = code.Description()
	}
	return &Error{Code: code, Description: description}
}

// Errorf creates an Error with a formatted description.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the error code carried by err, or CodeInternalError.
func CodeOf(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return CodeInternalError
}
