package auth

import (
	"context"
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/domain"
)

// CredentialResolver resolves an emulated access key (plus optional session
// token) to the credential pair for the request. Implementations must be
// safe for concurrent use.
type CredentialResolver interface {
	// Resolve returns the credentials for the access key, or
	// domain.ErrMappingNotFound / domain.ErrSessionTokenMismatch.
	Resolve(ctx context.Context, accessKey, sessionToken string) (*domain.Credentials, error)
}

// ServiceRouter maps an exposed operation to the signing-service type its
// credentials must be scoped to. Built statically at startup.
type ServiceRouter interface {
	// ServiceFor returns the required signing service for the request.
	ServiceFor(r *http.Request) domain.ServiceType
}

// Config contains configuration for the authentication filter.
type Config struct {
	// MaxClockSkew is the allowed drift between request and server time.
	MaxClockSkew time.Duration

	// SkipPaths are paths that bypass authentication (health, metrics).
	SkipPaths []string

	// BucketKeyResolver parses bucket and key from the request.
	BucketKeyResolver domain.BucketKeyResolver
}

// DefaultConfig returns the default filter configuration.
func DefaultConfig() Config {
	return Config{
		MaxClockSkew: DefaultMaxClockSkew,
		SkipPaths:    []string{"/healthz"},
		BucketKeyResolver: func(rawPath string, _ http.Header) (string, string) {
			trimmed := strings.TrimPrefix(rawPath, "/")
			parts := strings.SplitN(trimmed, "/", 2)
			if len(parts) == 2 {
				return parts[0], parts[1]
			}
			return parts[0], ""
		},
	}
}

// =============================================================================
// Context plumbing
// =============================================================================

type metadataContextKey struct{}
type requestContextKey struct{}

// MetadataFromContext retrieves the SigningMetadata attached by the filter.
func MetadataFromContext(ctx context.Context) *SigningMetadata {
	md, _ := ctx.Value(metadataContextKey{}).(*SigningMetadata)
	return md
}

// RequestFromContext retrieves the ParsedS3Request attached by the filter.
func RequestFromContext(ctx context.Context) *domain.ParsedS3Request {
	pr, _ := ctx.Value(requestContextKey{}).(*domain.ParsedS3Request)
	return pr
}

// =============================================================================
// Middleware
// =============================================================================

// Middleware returns the authentication filter. It runs before the
// authorization gate and before any body is consumed: chunked-body integrity
// is chained to the request signature validated here.
func Middleware(resolver CredentialResolver, services ServiceRouter, cfg Config, logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("component", "auth").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range cfg.SkipPaths {
				if r.URL.Path == path {
					next.ServeHTTP(w, r)
					return
				}
			}

			requestID := uuid.New()

			authz, requestTime, err := authenticate(r, resolver, services, cfg)
			if err != nil {
				log.Debug().
					Err(err).
					Str("request_id", requestID.String()).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("authentication failed")
				WriteXMLError(w, NewAuthError(err), r.URL.Path, requestID.String())
				return
			}

			parsed := buildParsedRequest(r, requestID, requestTime, cfg.BucketKeyResolver)
			parsed.AccessKey = authz.Auth.Credential.AccessKey

			ctx := context.WithValue(r.Context(), metadataContextKey{}, authz)
			ctx = context.WithValue(ctx, requestContextKey{}, parsed)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate parses, resolves, and cryptographically validates the
// request's authorization. It never reads the body.
func authenticate(r *http.Request, resolver CredentialResolver, services ServiceRouter, cfg Config) (*SigningMetadata, time.Time, error) {
	now := time.Now().UTC()

	var authz *Authorization
	var err error

	switch GetAuthType(r) {
	case AuthTypeSignedV4:
		authz, err = ParseSignV4(r.Header.Get(AuthorizationHeader))
		if err != nil {
			return nil, time.Time{}, err
		}
		authz.SessionToken = r.Header.Get(XAmzSecurityTokenHeader)

	case AuthTypePresignedV4:
		authz, err = ParsePresignedV4(r)
		if err != nil {
			return nil, time.Time{}, err
		}

	case AuthTypeAnonymous:
		return nil, time.Time{}, ErrMissingSecurityHeader

	default:
		return nil, time.Time{}, ErrInvalidAuthorizationHeader
	}

	requestTime, err := GetRequestTime(r)
	if err != nil {
		return nil, time.Time{}, ErrMissingSecurityHeader
	}

	if authz.IsPresigned() {
		if err := ValidatePresignedWindow(requestTime, now, authz.ExpiresIn, cfg.MaxClockSkew); err != nil {
			return nil, time.Time{}, err
		}
	} else {
		if err := ValidateRequestTime(requestTime, now, cfg.MaxClockSkew); err != nil {
			return nil, time.Time{}, err
		}
	}

	service := services.ServiceFor(r)
	if authz.Credential.Scope.Service != string(service) {
		return nil, time.Time{}, ErrServiceScopeMismatch
	}

	creds, err := resolver.Resolve(r.Context(), authz.Credential.AccessKey, authz.SessionToken)
	if err != nil {
		return nil, time.Time{}, ErrUnknownAccessKey
	}

	payloadHash := GetPayloadHash(r)
	if authz.IsPresigned() {
		payloadHash = UnsignedPayload
	}

	if err := VerifySignature(r, creds.Emulated.SecretAccessKey, authz, payloadHash, requestTime); err != nil {
		return nil, time.Time{}, err
	}

	return &SigningMetadata{
		Service:     service,
		Credentials: *creds,
		Auth:        authz,
		RequestTime: requestTime,
	}, requestTime, nil
}

// buildParsedRequest assembles the canonical request model. Chunked bodies
// are classified, never buffered.
func buildParsedRequest(r *http.Request, requestID uuid.UUID, requestTime time.Time, resolve domain.BucketKeyResolver) *domain.ParsedS3Request {
	bucket, key := resolve(r.URL.Path, r.Header)

	return &domain.ParsedS3Request{
		ID:       requestID,
		Method:   r.Method,
		Bucket:   bucket,
		Key:      key,
		RawPath:  r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Headers:  r.Header,
		Query:    r.URL.Query(),
		Date:     requestTime,
		Content:  ClassifyContent(r),
	}
}

// ClassifyContent inspects headers to describe the request body without
// consuming it.
func ClassifyContent(r *http.Request) domain.RequestContent {
	contentHash := r.Header.Get(XAmzContentSHA256Header)

	decodedLength := int64(-1)
	if v := r.Header.Get(XAmzDecodedContentLengthHeader); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			decodedLength = n
		}
	}

	kind := domain.ContentEmpty
	switch {
	case contentHash == StreamingPayload || contentHash == StreamingUnsignedPayload ||
		strings.EqualFold(r.Header.Get("Content-Encoding"), AWSChunkedEncoding):
		kind = domain.ContentAWSChunked
	case len(r.TransferEncoding) > 0 && r.TransferEncoding[0] == "chunked":
		kind = domain.ContentW3CChunked
	case r.ContentLength > 0:
		kind = domain.ContentStandard
	}

	content := domain.RequestContent{
		Kind:          kind,
		ContentLength: r.ContentLength,
		DecodedLength: decodedLength,
		ContentHash:   contentHash,
	}
	if kind != domain.ContentEmpty {
		content.Body = r.Body
	}
	return content
}

// =============================================================================
// Error responses
// =============================================================================

// s3XMLError is the standard AWS-style XML error body.
type s3XMLError struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId"`
}

// WriteXMLError writes an S3-compatible XML error response.
func WriteXMLError(w http.ResponseWriter, authErr *AuthError, resource, requestID string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(authErr.HTTPStatus)

	body := s3XMLError{
		Code:      string(authErr.Code),
		Message:   authErr.Message,
		Resource:  resource,
		RequestID: requestID,
	}

	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(body)
}
