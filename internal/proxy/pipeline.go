package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/auth"
	"github.com/prn-tf/alexander-gateway/internal/domain"
	"github.com/prn-tf/alexander-gateway/internal/metrics"
	"github.com/prn-tf/alexander-gateway/internal/policy"
)

// ErrPayloadTooLarge indicates the body exceeded the configured quota.
var ErrPayloadTooLarge = errors.New("request body exceeds the configured size limit")

// Config holds the pipeline's upstream binding and limits.
type Config struct {
	// Endpoint is the remote S3-compatible backend.
	Endpoint *url.URL

	// Region is the signing region for outbound requests.
	Region string

	// MaxBodySize caps the decoded body size in bytes. Zero disables the
	// quota.
	MaxBodySize int64

	// PresignExpiry is the lifetime of generated presigned URLs.
	PresignExpiry time.Duration
}

// Pipeline forwards authenticated requests to the backend: authorize,
// rebuild headers, wrap the body for integrity checking, re-sign with the
// remote credential, dispatch, and relay the response.
type Pipeline struct {
	cfg        Config
	policy     policy.Policy
	dispatcher *Dispatcher
	sessions   *SessionRegistry
	presigner  *Presigner
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewPipeline creates a proxy pipeline. presigner and m may be nil.
func NewPipeline(
	cfg Config,
	pol policy.Policy,
	dispatcher *Dispatcher,
	sessions *SessionRegistry,
	presigner *Presigner,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		policy:     pol,
		dispatcher: dispatcher,
		sessions:   sessions,
		presigner:  presigner,
		metrics:    m,
		logger:     logger.With().Str("component", "proxy").Logger(),
	}
}

// ServeHTTP proxies one authenticated request.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	meta := auth.MetadataFromContext(r.Context())
	parsed := auth.RequestFromContext(r.Context())
	if meta == nil || parsed == nil {
		// The authentication filter must run ahead of the pipeline.
		http.Error(w, "not authenticated", http.StatusInternalServerError)
		return
	}

	session := p.sessions.Open(parsed.ID, parsed.Method, parsed.RawPath)
	session.SetAccessKey(parsed.AccessKey)

	status, bytesIn, bytesOut, errCode := p.proxy(w, r, meta, parsed)

	session.SetBytes(bytesIn, bytesOut)
	session.Close(status, errCode)

	if p.metrics != nil {
		p.metrics.RequestsTotal.WithLabelValues(parsed.Method, string(meta.Service), strconv.Itoa(status)).Inc()
		if errCode != "" && status == http.StatusUnauthorized {
			p.metrics.AuthFailuresTotal.WithLabelValues(errCode).Inc()
		}
		p.metrics.ProxiedBytesTotal.WithLabelValues("in").Add(float64(bytesIn))
		p.metrics.ProxiedBytesTotal.WithLabelValues("out").Add(float64(bytesOut))
	}
}

// proxy runs the pipeline stages and returns the terminal status, relayed
// byte counts and S3 error code (empty on success). The response writer is
// committed exactly once on every path.
func (p *Pipeline) proxy(w http.ResponseWriter, r *http.Request, meta *auth.SigningMetadata, parsed *domain.ParsedS3Request) (int, int64, int64, string) {
	// Authorization runs against the original request, before any
	// signing or rewriting.
	if p.policy.Decide(parsed) != policy.Allow {
		authErr := &auth.AuthError{
			Code:       auth.S3ErrorAccessDenied,
			Message:    "access denied by policy",
			HTTPStatus: http.StatusUnauthorized,
		}
		p.logger.Info().
			Str("request_id", parsed.ID.String()).
			Str("access_key", parsed.AccessKey).
			Str("method", parsed.Method).
			Str("resource", parsed.Resource()).
			Msg("request denied by policy")
		auth.WriteXMLError(w, authErr, parsed.Resource(), parsed.ID.String())
		return authErr.HTTPStatus, 0, 0, string(authErr.Code)
	}

	outbound, counter, err := p.buildOutbound(r.Context(), meta, parsed)
	if err != nil {
		authErr := p.errorFor(err)
		auth.WriteXMLError(w, authErr, parsed.Resource(), parsed.ID.String())
		return authErr.HTTPStatus, 0, 0, string(authErr.Code)
	}

	start := time.Now()
	if p.metrics != nil {
		p.metrics.InFlight.Inc()
		defer p.metrics.InFlight.Dec()
	}

	resp, release, err := p.dispatcher.Do(r.Context(), outbound)
	if p.metrics != nil {
		p.metrics.UpstreamDuration.WithLabelValues(parsed.Method).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		bytesIn := counter.total()
		authErr := p.errorFor(err)
		p.logger.Warn().
			Err(err).
			Str("request_id", parsed.ID.String()).
			Int("status", authErr.HTTPStatus).
			Msg("upstream dispatch failed")
		auth.WriteXMLError(w, authErr, parsed.Resource(), parsed.ID.String())
		return authErr.HTTPStatus, bytesIn, 0, string(authErr.Code)
	}
	defer release()
	defer resp.Body.Close()

	// An aws-chunked body must have seen its terminal chunk by now;
	// anything less means the backend saw a truncated object.
	if sess := meta.Context.Session; sess != nil && resp.StatusCode < 300 && !sess.Completed() {
		authErr := p.errorFor(auth.ErrIncompleteChunkedBody)
		auth.WriteXMLError(w, authErr, parsed.Resource(), parsed.ID.String())
		return authErr.HTTPStatus, counter.total(), 0, string(authErr.Code)
	}

	for name, values := range resp.Header {
		canonical := http.CanonicalHeaderKey(name)
		switch canonical {
		case "Connection", "Keep-Alive", "Transfer-Encoding", "Trailer", "Upgrade":
			continue
		}
		w.Header()[canonical] = values
	}

	if p.presigner != nil && resp.StatusCode < 300 && wantsPresignHeaders(parsed) {
		for method, presigned := range p.presigner.Generate(parsed, meta.Credentials.Remote) {
			w.Header().Set(PresignHeaderPrefix+method, presigned)
		}
	}

	w.WriteHeader(resp.StatusCode)

	// Past this point the status is committed; relay errors can only be
	// logged and recorded, never turned into a different response.
	bytesOut, err := io.Copy(w, resp.Body)
	errCode := ""
	if err != nil {
		errCode = "TruncatedResponse"
		p.logger.Warn().
			Err(err).
			Str("request_id", parsed.ID.String()).
			Int64("bytes_out", bytesOut).
			Msg("response relay interrupted")
	}

	return resp.StatusCode, counter.total(), bytesOut, errCode
}

// =============================================================================
// Outbound construction
// =============================================================================

// buildOutbound assembles the re-signed upstream request. The returned
// counter tracks decoded body bytes read from the client.
func (p *Pipeline) buildOutbound(ctx context.Context, meta *auth.SigningMetadata, parsed *domain.ParsedS3Request) (*http.Request, *countingReader, error) {
	target := *p.cfg.Endpoint
	target.Path = parsed.RawPath
	target.RawQuery = outboundQuery(parsed, meta)

	content := parsed.Content
	counter := &countingReader{limit: p.cfg.MaxBodySize}

	var (
		body            io.Reader
		contentLength   int64
		payloadHash     string
		decodeTransport bool
	)

	switch content.Kind {
	case domain.ContentEmpty:
		contentLength = 0
		payloadHash = auth.EmptyStringSHA256

	case domain.ContentAWSChunked:
		// The chunk chain is seeded from the signature that already
		// validated; the decoder refuses to release unverified bytes.
		chunkSession, err := auth.NewChunkSigningSession(
			meta.Credentials.Emulated.SecretAccessKey,
			meta.Auth.Signature,
			meta.Auth.Credential.Scope,
			meta.RequestTime,
		)
		if err != nil {
			return nil, counter, err
		}
		meta.Context = &auth.SigningContext{Session: chunkSession}

		if p.cfg.MaxBodySize > 0 && content.DecodedLength > p.cfg.MaxBodySize {
			return nil, counter, ErrPayloadTooLarge
		}
		counter.src = auth.NewChunkedReader(content.Body, chunkSession, content.DecodedLength)
		body = counter
		contentLength = content.DecodedLength
		payloadHash = auth.UnsignedPayload
		decodeTransport = true

	case domain.ContentStandard, domain.ContentW3CChunked:
		if p.cfg.MaxBodySize > 0 && content.ContentLength > p.cfg.MaxBodySize {
			return nil, counter, ErrPayloadTooLarge
		}
		src := io.Reader(content.Body)
		if auth.IsFixedContentHash(content.ContentHash) {
			src = auth.NewHashCheckReader(src, content.ContentHash)
			payloadHash = content.ContentHash
		} else {
			payloadHash = auth.UnsignedPayload
		}
		counter.src = src
		body = counter
		contentLength = content.ContentLength
		if content.Kind == domain.ContentW3CChunked {
			contentLength = -1
		}

	default:
		return nil, counter, fmt.Errorf("unhandled content kind %s", content.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, parsed.Method, target.String(), body)
	if err != nil {
		return nil, counter, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header = OutboundHeaders(parsed.Headers, decodeTransport)
	req.ContentLength = contentLength
	if contentLength >= 0 && body != nil {
		req.Header.Set("Content-Length", strconv.FormatInt(contentLength, 10))
	}
	req.Host = p.cfg.Endpoint.Host

	result := auth.SignRequest(req, meta.Credentials.Remote, p.cfg.Region, string(meta.Service), time.Now().UTC(), payloadHash)
	if meta.Context == nil {
		meta.Context = &auth.SigningContext{}
	}
	meta.Context.AuthorizationValue = result.Authorization
	meta.Context.Signature = result.Signature
	meta.Context.ContentHash = payloadHash

	return req, counter, nil
}

// outboundQuery strips the inbound presigned-signature parameters; the
// upstream request always authenticates with a fresh Authorization header.
func outboundQuery(parsed *domain.ParsedS3Request, meta *auth.SigningMetadata) string {
	if meta.Auth == nil || !meta.Auth.IsPresigned() {
		return parsed.RawQuery
	}
	query := url.Values{}
	for k, vs := range parsed.Query {
		switch k {
		case auth.XAmzAlgorithmHeader, auth.XAmzCredentialHeader, auth.XAmzDateHeader,
			auth.XAmzExpiresHeader, auth.XAmzSignedHeadersHeader, auth.XAmzSignatureHeader,
			auth.XAmzSecurityTokenHeader:
			continue
		}
		query[k] = vs
	}
	return query.Encode()
}

// =============================================================================
// Error mapping
// =============================================================================

// errorFor maps a pipeline failure to its client-visible form. Body errors
// surface from the transport wrapped in a *url.Error, so sentinel matching
// goes through errors.Is.
func (p *Pipeline) errorFor(err error) *auth.AuthError {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return &auth.AuthError{
			Code:       "EntityTooLarge",
			Message:    ErrPayloadTooLarge.Error(),
			HTTPStatus: http.StatusRequestEntityTooLarge,
		}

	case errors.Is(err, ErrDispatcherBusy):
		return &auth.AuthError{
			Code:       "SlowDown",
			Message:    ErrDispatcherBusy.Error(),
			HTTPStatus: http.StatusServiceUnavailable,
		}

	case errors.Is(err, auth.ErrChunkSignatureInvalid),
		errors.Is(err, auth.ErrContentHashMismatch),
		errors.Is(err, auth.ErrMalformedChunkHeader),
		errors.Is(err, auth.ErrDeclaredLengthExceeded),
		errors.Is(err, auth.ErrIncompleteChunkedBody):
		return auth.NewAuthError(err)

	case errors.Is(err, context.DeadlineExceeded):
		return &auth.AuthError{
			Code:       auth.S3ErrorInternalError,
			Message:    "upstream request timed out",
			HTTPStatus: http.StatusGatewayTimeout,
		}

	default:
		return &auth.AuthError{
			Code:       auth.S3ErrorInternalError,
			Message:    "upstream request failed",
			HTTPStatus: http.StatusBadGateway,
		}
	}
}

// =============================================================================
// Counting / quota reader
// =============================================================================

// countingReader counts decoded body bytes and enforces the size quota
// incrementally as the transport pulls from it.
type countingReader struct {
	src   io.Reader
	n     int64
	limit int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.src == nil {
		return 0, io.EOF
	}
	n, err := c.src.Read(p)
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		return n, ErrPayloadTooLarge
	}
	return n, err
}

func (c *countingReader) total() int64 {
	if c == nil {
		return 0
	}
	return c.n
}
