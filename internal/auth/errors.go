package auth

import (
	"errors"
	"net/http"
)

// Authentication and signature errors.
var (
	// ErrInvalidAuthorizationHeader indicates the Authorization header is malformed.
	ErrInvalidAuthorizationHeader = errors.New("invalid authorization header")

	// ErrSignatureDoesNotMatch indicates the calculated signature doesn't match.
	ErrSignatureDoesNotMatch = errors.New("the request signature we calculated does not match the signature you provided")

	// ErrMissingSecurityHeader indicates a required security header is missing.
	ErrMissingSecurityHeader = errors.New("missing required security header")

	// ErrRequestExpired indicates the request timestamp is outside the
	// allowed clock-drift window, in either direction.
	ErrRequestExpired = errors.New("the difference between the request time and the server time is too large")

	// ErrAccessDenied indicates the request is not authorized.
	ErrAccessDenied = errors.New("access denied")

	// ErrUnknownAccessKey indicates the access key ID resolves to no credential.
	ErrUnknownAccessKey = errors.New("the access key ID you provided does not exist in our records")

	// ErrServiceScopeMismatch indicates the credential scope names a
	// different signing service than the one this surface requires.
	ErrServiceScopeMismatch = errors.New("credential scope is for a different service")

	// ErrInvalidPresignedURL indicates the presigned URL is malformed or invalid.
	ErrInvalidPresignedURL = errors.New("invalid presigned URL")

	// ErrPresignedURLExpired indicates the presigned URL window has elapsed.
	ErrPresignedURLExpired = errors.New("request has expired")
)

// Body-integrity errors. Signature and hash failures are authentication
// failures; framing and length-accounting failures are protocol corruption
// and deliberately map to a different status class.
var (
	// ErrChunkSignatureInvalid indicates a chunk's presented signature does
	// not match the recomputed chain signature.
	ErrChunkSignatureInvalid = errors.New("chunk signature does not match")

	// ErrContentHashMismatch indicates the realized body does not match the
	// declared x-amz-content-sha256.
	ErrContentHashMismatch = errors.New("content sha256 does not match the declared hash")

	// ErrMalformedChunkHeader indicates an aws-chunked header line could not
	// be parsed.
	ErrMalformedChunkHeader = errors.New("malformed aws-chunked header")

	// ErrDeclaredLengthExceeded indicates the summed chunk sizes exceed the
	// declared decoded content length.
	ErrDeclaredLengthExceeded = errors.New("chunked body exceeds declared decoded length")

	// ErrIncompleteChunkedBody indicates the stream ended before a valid
	// zero-length terminal chunk.
	ErrIncompleteChunkedBody = errors.New("chunked body ended without terminal chunk")
)

// S3ErrorCode represents S3 error codes for proper API responses.
type S3ErrorCode string

const (
	// S3ErrorAccessDenied is the generic denial code.
	S3ErrorAccessDenied S3ErrorCode = "AccessDenied"

	// S3ErrorSignatureDoesNotMatch indicates signature verification failed.
	S3ErrorSignatureDoesNotMatch S3ErrorCode = "SignatureDoesNotMatch"

	// S3ErrorInvalidAccessKeyId indicates an unknown access key.
	S3ErrorInvalidAccessKeyId S3ErrorCode = "InvalidAccessKeyId"

	// S3ErrorRequestTimeTooSkewed indicates the timestamp is outside the drift window.
	S3ErrorRequestTimeTooSkewed S3ErrorCode = "RequestTimeTooSkewed"

	// S3ErrorExpiredToken indicates an expired presigned window or token.
	S3ErrorExpiredToken S3ErrorCode = "ExpiredToken"

	// S3ErrorMissingSecurityHeader indicates a required header is absent.
	S3ErrorMissingSecurityHeader S3ErrorCode = "MissingSecurityHeader"

	// S3ErrorAuthorizationHeaderMalformed indicates an unparseable Authorization header.
	S3ErrorAuthorizationHeaderMalformed S3ErrorCode = "AuthorizationHeaderMalformed"

	// S3ErrorContentSHA256Mismatch indicates the body hash check failed.
	S3ErrorContentSHA256Mismatch S3ErrorCode = "XAmzContentSHA256Mismatch"

	// S3ErrorInternalError indicates protocol corruption or a gateway fault.
	S3ErrorInternalError S3ErrorCode = "InternalError"
)

// AuthError represents an authentication error with S3-compatible error code.
type AuthError struct {
	// Code is the S3 error code.
	Code S3ErrorCode

	// Message is the error message.
	Message string

	// HTTPStatus is the HTTP status code.
	HTTPStatus int
}

func (e *AuthError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewAuthError maps a package error to its client-visible form.
// Authentication and integrity failures yield 401; malformed chunk framing
// and length accounting yield 500. Client tooling distinguishes the two, so
// the split must hold.
func NewAuthError(err error) *AuthError {
	switch {
	case errors.Is(err, ErrSignatureDoesNotMatch):
		return &AuthError{
			Code:       S3ErrorSignatureDoesNotMatch,
			Message:    err.Error(),
			HTTPStatus: http.StatusUnauthorized,
		}

	case errors.Is(err, ErrChunkSignatureInvalid):
		return &AuthError{
			Code:       S3ErrorSignatureDoesNotMatch,
			Message:    err.Error(),
			HTTPStatus: http.StatusUnauthorized,
		}

	case errors.Is(err, ErrContentHashMismatch):
		return &AuthError{
			Code:       S3ErrorContentSHA256Mismatch,
			Message:    err.Error(),
			HTTPStatus: http.StatusUnauthorized,
		}

	case errors.Is(err, ErrUnknownAccessKey):
		return &AuthError{
			Code:       S3ErrorInvalidAccessKeyId,
			Message:    err.Error(),
			HTTPStatus: http.StatusUnauthorized,
		}

	case errors.Is(err, ErrRequestExpired):
		return &AuthError{
			Code:       S3ErrorRequestTimeTooSkewed,
			Message:    err.Error(),
			HTTPStatus: http.StatusUnauthorized,
		}

	case errors.Is(err, ErrPresignedURLExpired):
		return &AuthError{
			Code:       S3ErrorExpiredToken,
			Message:    err.Error(),
			HTTPStatus: http.StatusUnauthorized,
		}

	case errors.Is(err, ErrMissingSecurityHeader):
		return &AuthError{
			Code:       S3ErrorMissingSecurityHeader,
			Message:    err.Error(),
			HTTPStatus: http.StatusUnauthorized,
		}

	case errors.Is(err, ErrInvalidAuthorizationHeader), errors.Is(err, ErrInvalidPresignedURL):
		return &AuthError{
			Code:       S3ErrorAuthorizationHeaderMalformed,
			Message:    err.Error(),
			HTTPStatus: http.StatusUnauthorized,
		}

	case errors.Is(err, ErrServiceScopeMismatch):
		return &AuthError{
			Code:       S3ErrorAccessDenied,
			Message:    err.Error(),
			HTTPStatus: http.StatusUnauthorized,
		}

	case errors.Is(err, ErrMalformedChunkHeader),
		errors.Is(err, ErrDeclaredLengthExceeded),
		errors.Is(err, ErrIncompleteChunkedBody):
		return &AuthError{
			Code:       S3ErrorInternalError,
			Message:    err.Error(),
			HTTPStatus: http.StatusInternalServerError,
		}

	default:
		return &AuthError{
			Code:       S3ErrorAccessDenied,
			Message:    err.Error(),
			HTTPStatus: http.StatusUnauthorized,
		}
	}
}
