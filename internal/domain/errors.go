// Package domain contains the core business entities for Alexander Gateway.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// Credential Mapping Errors
	// ===========================================

	// ErrMappingNotFound indicates the requested credential mapping does not exist.
	ErrMappingNotFound = errors.New("credential mapping not found")

	// ErrMappingAlreadyExists indicates a mapping for the access key exists.
	ErrMappingAlreadyExists = errors.New("credential mapping already exists")

	// ErrMappingInactive indicates the credential mapping is disabled.
	ErrMappingInactive = errors.New("credential mapping is inactive")

	// ErrMappingExpired indicates the credential mapping has expired.
	ErrMappingExpired = errors.New("credential mapping has expired")

	// ErrSessionTokenMismatch indicates the presented security token does
	// not match the token bound to the mapping.
	ErrSessionTokenMismatch = errors.New("security token does not match")

	// ErrInvalidAccessKeyID indicates the access key ID format is invalid.
	ErrInvalidAccessKeyID = errors.New("invalid access key ID")

	// ErrInvalidSecretKey indicates the secret key format is invalid.
	ErrInvalidSecretKey = errors.New("invalid secret key")

	// ===========================================
	// Authentication/Authorization Errors
	// ===========================================

	// ErrAccessDenied indicates the caller does not have permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrSignatureDoesNotMatch indicates the request signature is invalid.
	ErrSignatureDoesNotMatch = errors.New("signature does not match")

	// ErrRequestExpired indicates the request has expired.
	ErrRequestExpired = errors.New("request has expired")

	// ErrMissingSecurityHeader indicates a required security header is missing.
	ErrMissingSecurityHeader = errors.New("missing required security header")

	// ===========================================
	// Upstream Errors
	// ===========================================

	// ErrUpstreamUnavailable indicates the backing store could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamTimeout indicates the backing store did not respond in time.
	ErrUpstreamTimeout = errors.New("upstream timed out")

	// ErrPayloadTooLarge indicates the request body exceeds the configured quota.
	ErrPayloadTooLarge = errors.New("request payload exceeds configured quota")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., bucket name, object key).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}
