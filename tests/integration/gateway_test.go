// Package integration provides end-to-end tests for Alexander Gateway.
// A fully wired gateway runs in-process in front of an in-memory
// S3-compatible backend, and the official AWS SDK drives it the way a
// real client would.
package integration

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-gateway/internal/auth"
	"github.com/prn-tf/alexander-gateway/internal/domain"
	"github.com/prn-tf/alexander-gateway/internal/handler"
	"github.com/prn-tf/alexander-gateway/internal/metrics"
	"github.com/prn-tf/alexander-gateway/internal/pkg/crypto"
	"github.com/prn-tf/alexander-gateway/internal/policy"
	"github.com/prn-tf/alexander-gateway/internal/proxy"
	"github.com/prn-tf/alexander-gateway/internal/repository/sqlite"
	"github.com/prn-tf/alexander-gateway/internal/service"
)

const (
	testRegion      = "us-east-1"
	remoteAccessKey = "AKIAREMOTEKEY0000001"
	remoteSecretKey = "remote-secret-value-000000000000000000"
)

// =============================================================================
// In-Memory Backend
// =============================================================================

// objectStore is a minimal S3-compatible backend. It records the
// Authorization header of the last request so tests can verify the
// gateway re-signed with the remote credential.
type objectStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	lastAuth string
}

func newObjectStore() *objectStore {
	return &objectStore{objects: make(map[string][]byte)}
}

func (s *objectStore) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.lastAuth = r.Header.Get("Authorization")
		s.mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			body, err := io.ReadAll(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			s.mu.Lock()
			s.objects[r.URL.Path] = body
			s.mu.Unlock()
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet, http.MethodHead:
			s.mu.Lock()
			body, ok := s.objects[r.URL.Path]
			s.mu.Unlock()
			if !ok {
				writeNoSuchKey(w, r.URL.Path)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				w.Write(body)
			}
		case http.MethodDelete:
			s.mu.Lock()
			delete(s.objects, r.URL.Path)
			s.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func (s *objectStore) authorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth
}

type backendError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
	Key     string   `xml:"Key"`
}

func writeNoSuchKey(w http.ResponseWriter, key string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusNotFound)
	xml.NewEncoder(w).Encode(backendError{
		Code:    "NoSuchKey",
		Message: "The specified key does not exist.",
		Key:     strings.TrimPrefix(key, "/"),
	})
}

// =============================================================================
// Gateway Harness
// =============================================================================

type gateway struct {
	server  *httptest.Server
	backend *objectStore

	accessKey string
	secretKey string
}

// startGateway wires the full stack: SQLite-backed credential store,
// credential and STS services, authentication middleware, and the
// re-signing proxy pipeline.
func startGateway(t *testing.T) *gateway {
	t.Helper()

	ctx := context.Background()
	logger := zerolog.Nop()

	backend := newObjectStore()
	upstream := httptest.NewServer(backend.handler())
	t.Cleanup(upstream.Close)

	endpoint, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(":memory:"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))
	repo := sqlite.NewCredentialMappingRepository(db)

	encryptor, err := crypto.NewEncryptorFromPassphrase("integration-test-passphrase")
	require.NoError(t, err)

	credService := service.NewCredentialService(repo, encryptor, logger)
	stsService := service.NewSTSService(repo, encryptor, logger)

	created, err := credService.CreateMapping(ctx, service.CreateMappingInput{
		RemoteAccessKey: remoteAccessKey,
		RemoteSecretKey: remoteSecretKey,
		Description:     "integration test mapping",
	})
	require.NoError(t, err)

	pol := policy.AllowAll{}
	registry := proxy.NewSessionRegistry(64, logger)
	dispatcher := proxy.NewDispatcher(proxy.DispatcherConfig{})
	t.Cleanup(dispatcher.CloseIdleConnections)

	presigner := proxy.NewPresigner(pol, endpoint, testRegion, 15*time.Minute, logger)
	pipeline := proxy.NewPipeline(proxy.Config{
		Endpoint: endpoint,
		Region:   testRegion,
	}, pol, dispatcher, registry, presigner, metrics.New(), logger)

	router := handler.NewRouter(handler.RouterConfig{
		Proxy:          pipeline,
		STSHandler:     handler.NewSTSHandler(stsService, logger),
		LogsHandler:    handler.NewLogsHandler(registry, logger),
		AuthMiddleware: auth.Middleware(credService, handler.ServiceRouting{}, auth.DefaultConfig(), logger),
		Logger:         logger,
	})

	server := httptest.NewServer(router.Handler())
	t.Cleanup(server.Close)

	return &gateway{
		server:    server,
		backend:   backend,
		accessKey: created.EmulatedAccessKey,
		secretKey: created.EmulatedSecretKey,
	}
}

// s3Client builds an SDK client that signs with the given emulated
// credentials and talks to the in-process gateway.
func (g *gateway) s3Client(t *testing.T, accessKey, secretKey, sessionToken string) *s3.Client {
	t.Helper()

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(testRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, sessionToken,
		)),
	)
	require.NoError(t, err)

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(g.server.URL)
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
}

// =============================================================================
// Tests
// =============================================================================

func TestObjectRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	g := startGateway(t)
	client := g.s3Client(t, g.accessKey, g.secretKey, "")
	ctx := context.Background()

	content := []byte("the quick brown fox jumps over the lazy dog")

	t.Run("PutObject", func(t *testing.T) {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String("test-bucket"),
			Key:    aws.String("docs/readme.txt"),
			Body:   bytes.NewReader(content),
		})
		require.NoError(t, err)

		auth := g.backend.authorization()
		require.Contains(t, auth, remoteAccessKey, "backend should see the remote credential")
		require.NotContains(t, auth, g.accessKey, "emulated credential must not reach the backend")
	})

	t.Run("GetObject", func(t *testing.T) {
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String("test-bucket"),
			Key:    aws.String("docs/readme.txt"),
		})
		require.NoError(t, err)
		defer out.Body.Close()

		body, err := io.ReadAll(out.Body)
		require.NoError(t, err)
		require.Equal(t, content, body)
	})

	t.Run("HeadObject", func(t *testing.T) {
		out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String("test-bucket"),
			Key:    aws.String("docs/readme.txt"),
		})
		require.NoError(t, err)
		require.Equal(t, int64(len(content)), aws.ToInt64(out.ContentLength))
	})

	t.Run("DeleteObject", func(t *testing.T) {
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String("test-bucket"),
			Key:    aws.String("docs/readme.txt"),
		})
		require.NoError(t, err)
	})

	t.Run("GetObject_Deleted", func(t *testing.T) {
		_, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String("test-bucket"),
			Key:    aws.String("docs/readme.txt"),
		})
		require.Error(t, err)
	})
}

func TestRejectsUnknownCredentials(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	g := startGateway(t)
	client := g.s3Client(t, "AKIAUNKNOWNKEY000001", "wrong-secret", "")

	_, err := client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String("test-bucket"),
		Key:    aws.String("anything"),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "InvalidAccessKeyId")
	require.Empty(t, g.backend.authorization(), "request must not reach the backend")
}

func TestTemporaryCredentialsRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	g := startGateway(t)
	ctx := context.Background()

	creds := assumeRole(t, g)
	client := g.s3Client(t, creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)

	content := []byte("written with temporary credentials")
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String("test-bucket"),
		Key:    aws.String("temp/object"),
		Body:   bytes.NewReader(content),
	})
	require.NoError(t, err)
	require.Contains(t, g.backend.authorization(), remoteAccessKey)

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String("test-bucket"),
		Key:    aws.String("temp/object"),
	})
	require.NoError(t, err)
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	require.Equal(t, content, body)
}

// assumeRoleResponse mirrors the token surface response document.
type assumeRoleResponse struct {
	XMLName xml.Name `xml:"AssumeRoleResponse"`
	Result  struct {
		Credentials struct {
			AccessKeyID     string `xml:"AccessKeyId"`
			SecretAccessKey string `xml:"SecretAccessKey"`
			SessionToken    string `xml:"SessionToken"`
			Expiration      string `xml:"Expiration"`
		} `xml:"Credentials"`
	} `xml:"AssumeRoleResult"`
}

// assumeRole calls the token surface with a hand-signed form request and
// returns the issued temporary credentials.
func assumeRole(t *testing.T, g *gateway) struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
} {
	t.Helper()

	form := url.Values{
		"Action":          {"AssumeRole"},
		"RoleSessionName": {"integration"},
		"DurationSeconds": {"900"},
	}
	body := form.Encode()

	req, err := http.NewRequest(http.MethodPost, g.server.URL+"/sts", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	sum := sha256.Sum256([]byte(body))
	cred := domain.Credential{
		AccessKeyID:     g.accessKey,
		SecretAccessKey: g.secretKey,
	}
	auth.SignRequest(req, cred, testRegion, "sts", time.Now().UTC(), hex.EncodeToString(sum[:]))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed assumeRoleResponse
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&parsed))
	require.NotEmpty(t, parsed.Result.Credentials.AccessKeyID)
	require.NotEmpty(t, parsed.Result.Credentials.SessionToken)

	return struct {
		AccessKeyID     string
		SecretAccessKey string
		SessionToken    string
	}{
		AccessKeyID:     parsed.Result.Credentials.AccessKeyID,
		SecretAccessKey: parsed.Result.Credentials.SecretAccessKey,
		SessionToken:    parsed.Result.Credentials.SessionToken,
	}
}
