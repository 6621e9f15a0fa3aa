package auth

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-gateway/internal/domain"
)

// MockCredentialResolver is a mock implementation of CredentialResolver.
type MockCredentialResolver struct {
	mappings map[string]*domain.Credentials
	tokens   map[string]string
}

func NewMockCredentialResolver() *MockCredentialResolver {
	return &MockCredentialResolver{
		mappings: make(map[string]*domain.Credentials),
		tokens:   make(map[string]string),
	}
}

func (m *MockCredentialResolver) Add(creds *domain.Credentials, sessionToken string) {
	m.mappings[creds.Emulated.AccessKeyID] = creds
	if sessionToken != "" {
		m.tokens[creds.Emulated.AccessKeyID] = sessionToken
	}
}

func (m *MockCredentialResolver) Resolve(_ context.Context, accessKey, sessionToken string) (*domain.Credentials, error) {
	creds, ok := m.mappings[accessKey]
	if !ok {
		return nil, domain.ErrMappingNotFound
	}
	if want := m.tokens[accessKey]; want != sessionToken {
		return nil, domain.ErrSessionTokenMismatch
	}
	return creds, nil
}

// staticServiceRouter routes every request to one service type.
type staticServiceRouter struct {
	service domain.ServiceType
}

func (s staticServiceRouter) ServiceFor(*http.Request) domain.ServiceType {
	return s.service
}

func testMiddlewareSetup(t *testing.T) (*MockCredentialResolver, func(http.Handler) http.Handler) {
	t.Helper()

	resolver := NewMockCredentialResolver()
	resolver.Add(&domain.Credentials{
		Emulated: domain.Credential{
			AccessKeyID:     testAccessKey,
			SecretAccessKey: testSecretKey,
		},
		Remote: domain.Credential{
			AccessKeyID:     "REMOTEKEY",
			SecretAccessKey: "remote-secret",
		},
	}, "")

	mw := Middleware(resolver, staticServiceRouter{domain.ServiceS3}, DefaultConfig(), zerolog.Nop())
	return resolver, mw
}

func signedTestRequest(t *testing.T, method, target string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	SignRequest(req, testCredential(), "us-east-1", "s3", time.Now(), EmptyStringSHA256)
	return req
}

func decodeXMLError(t *testing.T, rec *httptest.ResponseRecorder) s3XMLError {
	t.Helper()
	var body s3XMLError
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestMiddlewareAcceptsSignedRequest(t *testing.T) {
	_, mw := testMiddlewareSetup(t)

	var gotMD *SigningMetadata
	var gotReq *domain.ParsedS3Request
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMD = MetadataFromContext(r.Context())
		gotReq = RequestFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := signedTestRequest(t, http.MethodGet, "https://gateway.example.com/my-bucket/photos/cat.jpg?versionId=3")
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, gotMD)
	require.Equal(t, domain.ServiceS3, gotMD.Service)
	require.Equal(t, "REMOTEKEY", gotMD.Credentials.Remote.AccessKeyID)
	require.NotNil(t, gotMD.Auth)

	require.NotNil(t, gotReq)
	require.Equal(t, "my-bucket", gotReq.Bucket)
	require.Equal(t, "photos/cat.jpg", gotReq.Key)
	require.Equal(t, domain.ContentEmpty, gotReq.Content.Kind)
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", gotReq.ID.String())
}

func TestMiddlewareSkipsHealthCheck(t *testing.T) {
	_, mw := testMiddlewareSetup(t)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "https://gateway.example.com/healthz", nil)
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	require.True(t, called)
}

func TestMiddlewareRejections(t *testing.T) {
	tests := []struct {
		name     string
		request  func(t *testing.T) *http.Request
		wantCode S3ErrorCode
	}{
		{
			"anonymous",
			func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "https://gateway.example.com/my-bucket/key", nil)
			},
			S3ErrorMissingSecurityHeader,
		},
		{
			"unknown access key",
			func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodGet, "https://gateway.example.com/my-bucket/key", nil)
				SignRequest(req, domain.Credential{
					AccessKeyID:     "AKIANOTPROVISIONED00",
					SecretAccessKey: "whatever",
				}, "us-east-1", "s3", time.Now(), EmptyStringSHA256)
				return req
			},
			S3ErrorInvalidAccessKeyId,
		},
		{
			"bad signature",
			func(t *testing.T) *http.Request {
				req := signedTestRequest(t, http.MethodGet, "https://gateway.example.com/my-bucket/key")
				auth := req.Header.Get(AuthorizationHeader)
				i := strings.Index(auth, "Signature=") + len("Signature=")
				flipped := byte('0')
				if auth[i] == '0' {
					flipped = '1'
				}
				req.Header.Set(AuthorizationHeader, auth[:i]+string(flipped)+auth[i+1:])
				return req
			},
			S3ErrorSignatureDoesNotMatch,
		},
		{
			"stale timestamp",
			func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodGet, "https://gateway.example.com/my-bucket/key", nil)
				SignRequest(req, testCredential(), "us-east-1", "s3", time.Now().Add(-time.Hour), EmptyStringSHA256)
				return req
			},
			S3ErrorRequestTimeTooSkewed,
		},
		{
			"future timestamp",
			func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodGet, "https://gateway.example.com/my-bucket/key", nil)
				SignRequest(req, testCredential(), "us-east-1", "s3", time.Now().Add(time.Hour), EmptyStringSHA256)
				return req
			},
			S3ErrorRequestTimeTooSkewed,
		},
		{
			"service scope mismatch",
			func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodGet, "https://gateway.example.com/my-bucket/key", nil)
				SignRequest(req, testCredential(), "us-east-1", "sts", time.Now(), EmptyStringSHA256)
				return req
			},
			S3ErrorAccessDenied,
		},
		{
			"non-sigv4 scheme",
			func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodGet, "https://gateway.example.com/my-bucket/key", nil)
				req.Header.Set(AuthorizationHeader, "Basic dXNlcjpwYXNz")
				return req
			},
			S3ErrorAuthorizationHeaderMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mw := testMiddlewareSetup(t)

			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run for rejected requests")
			})

			rec := httptest.NewRecorder()
			mw(next).ServeHTTP(rec, tt.request(t))

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.Equal(t, "application/xml", rec.Header().Get("Content-Type"))

			body := decodeXMLError(t, rec)
			require.Equal(t, string(tt.wantCode), body.Code)
			require.Equal(t, "/my-bucket/key", body.Resource)
			require.NotEmpty(t, body.RequestID)
		})
	}
}

func TestMiddlewareSessionTokenMismatch(t *testing.T) {
	resolver := NewMockCredentialResolver()
	resolver.Add(&domain.Credentials{
		Emulated: domain.Credential{
			AccessKeyID:     testAccessKey,
			SecretAccessKey: testSecretKey,
			SessionToken:    "expected-token",
		},
	}, "expected-token")

	mw := Middleware(resolver, staticServiceRouter{domain.ServiceS3}, DefaultConfig(), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "https://gateway.example.com/my-bucket/key", nil)
	SignRequest(req, domain.Credential{
		AccessKeyID:     testAccessKey,
		SecretAccessKey: testSecretKey,
		SessionToken:    "wrong-token",
	}, "us-east-1", "s3", time.Now(), EmptyStringSHA256)

	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, string(S3ErrorInvalidAccessKeyId), decodeXMLError(t, rec).Code)
}

func TestClassifyContent(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(r *http.Request)
		want    domain.ContentKind
	}{
		{
			"empty",
			func(r *http.Request) { r.ContentLength = 0 },
			domain.ContentEmpty,
		},
		{
			"standard",
			func(r *http.Request) {
				r.ContentLength = 42
				r.Header.Set(XAmzContentSHA256Header, EmptyStringSHA256)
			},
			domain.ContentStandard,
		},
		{
			"aws-chunked by content hash",
			func(r *http.Request) {
				r.ContentLength = 1024
				r.Header.Set(XAmzContentSHA256Header, StreamingPayload)
				r.Header.Set(XAmzDecodedContentLengthHeader, "900")
			},
			domain.ContentAWSChunked,
		},
		{
			"aws-chunked by content encoding",
			func(r *http.Request) {
				r.ContentLength = 1024
				r.Header.Set("Content-Encoding", "aws-chunked")
			},
			domain.ContentAWSChunked,
		},
		{
			"w3c chunked",
			func(r *http.Request) {
				r.TransferEncoding = []string{"chunked"}
				r.ContentLength = -1
			},
			domain.ContentW3CChunked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPut, "https://example.com/b/k", strings.NewReader("x"))
			tt.prepare(r)

			content := ClassifyContent(r)
			require.Equal(t, tt.want, content.Kind)
			if tt.want == domain.ContentAWSChunked && r.Header.Get(XAmzDecodedContentLengthHeader) != "" {
				require.Equal(t, int64(900), content.DecodedLength)
			}
		})
	}
}
