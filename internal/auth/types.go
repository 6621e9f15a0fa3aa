package auth

import (
	"net/url"
	"time"

	"github.com/prn-tf/alexander-gateway/internal/domain"
)

// =============================================================================
// Credential Types
// =============================================================================

// CredentialScope represents the scope of AWS credentials.
// Format: {date}/{region}/{service}/aws4_request
type CredentialScope struct {
	// Date is the date portion of the scope (YYYYMMDD).
	Date time.Time

	// Region is the AWS region (e.g., "us-east-1").
	Region string

	// Service is the AWS service (e.g., "s3").
	Service string
}

// String returns the credential scope as a string.
// Format: {date}/{region}/{service}/aws4_request
func (cs CredentialScope) String() string {
	return cs.Date.Format(YYYYMMDD) + "/" + cs.Region + "/" + cs.Service + "/" + AWS4Request
}

// CredentialHeader represents parsed AWS credentials from the Authorization header.
type CredentialHeader struct {
	// AccessKey is the access key ID.
	AccessKey string

	// Scope is the credential scope.
	Scope CredentialScope
}

// String returns the credential as a string.
// Format: {access_key}/{scope}
func (ch CredentialHeader) String() string {
	return ch.AccessKey + "/" + ch.Scope.String()
}

// =============================================================================
// Authorization
// =============================================================================

// Authorization is the parsed SigV4 authorization presented by a client,
// from either the Authorization header or presigned query parameters.
// Immutable; constructed once per request.
type Authorization struct {
	// Credential contains the access key and scope.
	Credential CredentialHeader

	// SignedHeaders is the list of headers included in the signature.
	// Non-empty for header-based authorization.
	SignedHeaders []string

	// Signature is the presented signature (lowercase hex).
	Signature string

	// SessionToken is the optional security token.
	SessionToken string

	// ExpiresIn is the presigned validity window in seconds.
	// Zero for header-based authorization.
	ExpiresIn int64
}

// IsPresigned reports whether the authorization came from query parameters.
func (a *Authorization) IsPresigned() bool {
	return a.ExpiresIn > 0
}

// AuthType represents the type of authentication used in a request.
type AuthType int

const (
	// AuthTypeUnknown indicates an unrecognized auth type.
	AuthTypeUnknown AuthType = iota

	// AuthTypeAnonymous indicates no authentication.
	AuthTypeAnonymous

	// AuthTypeSignedV4 indicates AWS Signature Version 4 in the Authorization header.
	AuthTypeSignedV4

	// AuthTypePresignedV4 indicates AWS Signature Version 4 in query parameters.
	AuthTypePresignedV4
)

// String returns the string representation of the auth type.
func (at AuthType) String() string {
	switch at {
	case AuthTypeAnonymous:
		return "Anonymous"
	case AuthTypeSignedV4:
		return "SignedV4"
	case AuthTypePresignedV4:
		return "PresignedV4"
	default:
		return "Unknown"
	}
}

// =============================================================================
// Signing Metadata
// =============================================================================

// SigningMetadata is the per-request bundle created by the authentication
// filter and consumed by the proxy pipeline and presign controller.
// Scoped to the lifetime of one request.
type SigningMetadata struct {
	// Service is the signing-service type the request authenticated against.
	Service domain.ServiceType

	// Credentials are the resolved emulated and remote credentials.
	Credentials domain.Credentials

	// Auth is the validated inbound authorization.
	Auth *Authorization

	// RequestTime is the timestamp the client signed the request with.
	RequestTime time.Time

	// Context holds the outbound signing state. Created lazily when
	// re-signing; at most one per request.
	Context *SigningContext
}

// SigningContext holds the freshly computed remote-bound authorization and,
// for chunked bodies, the content hash marker and chunk signing session.
type SigningContext struct {
	// AuthorizationValue is the computed Authorization header value, or
	// empty when PresignedQuery is set instead.
	AuthorizationValue string

	// Signature is the computed signature (lowercase hex).
	Signature string

	// PresignedQuery carries the signed query parameters for presigned-form
	// signing.
	PresignedQuery url.Values

	// ContentHash is the payload hash marker the signature was computed over.
	ContentHash string

	// Session is the chunk signing session for aws-chunked bodies, nil
	// otherwise.
	Session *ChunkSigningSession
}
