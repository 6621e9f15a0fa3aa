// Package service provides business logic services for Alexander Gateway.
package service

import "errors"

// Common service errors.
var (
	// Mapping errors
	ErrMappingNotFound      = errors.New("credential mapping not found")
	ErrMappingInactive      = errors.New("credential mapping is inactive")
	ErrMappingExpired       = errors.New("credential mapping has expired")
	ErrMappingAlreadyExists = errors.New("credential mapping already exists")
	ErrSessionTokenMismatch = errors.New("session token does not match")

	// STS errors
	ErrInvalidDuration = errors.New("invalid duration: must be between 15 minutes and 12 hours")

	// General errors
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInternalError    = errors.New("internal server error")
)
