// Package domain contains the core business entities for Alexander Gateway.
package domain

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// ServiceType identifies the SigV4 signing service a surface requires.
// Every exposed operation is bound to exactly one service type at startup;
// the authentication filter rejects credentials scoped to a different service.
type ServiceType string

const (
	// ServiceS3 covers the object storage surface.
	ServiceS3 ServiceType = "s3"

	// ServiceSTS covers the AssumeRole-style token surface.
	ServiceSTS ServiceType = "sts"

	// ServiceLogs covers the request log retrieval surface.
	ServiceLogs ServiceType = "logs"
)

// =============================================================================
// Request Content
// =============================================================================

// ContentKind classifies how a request body arrives on the wire.
type ContentKind int

const (
	// ContentEmpty indicates the request carries no body.
	ContentEmpty ContentKind = iota

	// ContentStandard indicates a plain body with a known length and,
	// usually, a fixed x-amz-content-sha256 value.
	ContentStandard

	// ContentAWSChunked indicates an aws-chunked body whose chunks carry
	// a SigV4 signature chain. Never materialized in memory.
	ContentAWSChunked

	// ContentW3CChunked indicates a standard HTTP chunked body with no
	// per-chunk signatures. Never materialized in memory.
	ContentW3CChunked
)

// String returns the string representation of the content kind.
func (k ContentKind) String() string {
	switch k {
	case ContentEmpty:
		return "Empty"
	case ContentStandard:
		return "Standard"
	case ContentAWSChunked:
		return "AWSChunked"
	case ContentW3CChunked:
		return "W3CChunked"
	default:
		return "Unknown"
	}
}

// RequestContent describes a request body without consuming it.
// Chunked bodies are always re-exposed as streams so the gateway's memory
// use stays bounded regardless of upload size.
type RequestContent struct {
	// Kind is the transfer classification.
	Kind ContentKind

	// Body is the raw byte stream. Nil when Kind is ContentEmpty.
	Body io.ReadCloser

	// ContentLength is the wire Content-Length, or -1 when unknown.
	ContentLength int64

	// DecodedLength is the declared x-amz-decoded-content-length for
	// aws-chunked bodies, or -1 otherwise.
	DecodedLength int64

	// ContentHash is the declared x-amz-content-sha256 value, which may
	// be a literal hash, UNSIGNED-PAYLOAD, or a streaming sentinel.
	ContentHash string
}

// IsStreaming reports whether the body must be treated as a stream.
func (c RequestContent) IsStreaming() bool {
	return c.Kind == ContentAWSChunked || c.Kind == ContentW3CChunked
}

// =============================================================================
// Parsed Request
// =============================================================================

// ParsedS3Request is the canonical model of one inbound request.
// It is built once by the authentication filter and treated as immutable;
// verb swaps for presign checks go through WithMethod, which copies.
type ParsedS3Request struct {
	// ID is the request ID, generated at parse time and echoed in
	// error responses and log records.
	ID uuid.UUID

	// Method is the HTTP verb.
	Method string

	// AccessKey is the emulated access key the request authenticated with.
	AccessKey string

	// Bucket is the resolved bucket name, empty for service-level requests.
	Bucket string

	// Key is the object key within the bucket, empty for bucket-level requests.
	Key string

	// RawPath is the unmodified request path.
	RawPath string

	// RawQuery is the unmodified request query string.
	RawQuery string

	// Headers are the inbound request headers.
	Headers http.Header

	// Query are the parsed query parameters.
	Query url.Values

	// Date is the request timestamp taken from x-amz-date (or Date).
	Date time.Time

	// Content describes the request body.
	Content RequestContent
}

// WithMethod returns a copy of the request with the verb replaced.
// Used by the presign controller to run authorization checks against
// synthetic requests without mutating the original.
func (r *ParsedS3Request) WithMethod(method string) *ParsedS3Request {
	clone := *r
	clone.Method = method
	return &clone
}

// Resource returns the path used in S3 error responses.
func (r *ParsedS3Request) Resource() string {
	if r.RawPath == "" {
		return "/"
	}
	return r.RawPath
}

// BucketKeyResolver resolves the bucket and key addressed by a request,
// supporting both path-style and virtual-host-style addressing.
// Supplied externally and consumed as an opaque function.
type BucketKeyResolver func(rawPath string, headers http.Header) (bucket, key string)
