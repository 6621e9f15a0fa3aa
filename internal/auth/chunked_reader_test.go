package auth

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	chunkTestTime  = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	chunkTestScope = CredentialScope{Date: chunkTestTime, Region: "us-east-1", Service: "s3"}
	chunkTestSeed  = strings.Repeat("ab", 32)
)

// chunkSignature computes one link of the chunked-upload signature chain,
// the same way a client SDK does when producing the wire format.
func chunkSignature(key []byte, prev string, data []byte) string {
	stringToSign := SignV4ChunkedAlgorithm + "\n" +
		chunkTestTime.Format(ISO8601BasicFormat) + "\n" +
		chunkTestScope.String() + "\n" +
		prev + "\n" +
		EmptyStringSHA256 + "\n" +
		sha256Hex(data)
	return GetSignature(key, stringToSign)
}

// buildChunkStream assembles a complete aws-chunked wire body, terminal
// chunk included, and returns it with the per-chunk signatures.
func buildChunkStream(chunks [][]byte) (string, []string) {
	key := GetSigningKey(testSecretKey, chunkTestTime, chunkTestScope.Region, chunkTestScope.Service)

	var wire strings.Builder
	var sigs []string
	prev := chunkTestSeed

	for _, data := range chunks {
		sig := chunkSignature(key, prev, data)
		fmt.Fprintf(&wire, "%x;chunk-signature=%s\r\n", len(data), sig)
		wire.Write(data)
		wire.WriteString("\r\n")
		sigs = append(sigs, sig)
		prev = sig
	}

	final := chunkSignature(key, prev, nil)
	fmt.Fprintf(&wire, "0;chunk-signature=%s\r\n\r\n", final)
	sigs = append(sigs, final)

	return wire.String(), sigs
}

func newTestSession(t *testing.T) *ChunkSigningSession {
	t.Helper()
	session, err := NewChunkSigningSession(testSecretKey, chunkTestSeed, chunkTestScope, chunkTestTime)
	require.NoError(t, err)
	return session
}

func TestChunkSigningSessionChain(t *testing.T) {
	key := GetSigningKey(testSecretKey, chunkTestTime, chunkTestScope.Region, chunkTestScope.Service)
	session := newTestSession(t)

	first := []byte("hello ")
	second := []byte("world")

	sig1 := chunkSignature(key, chunkTestSeed, first)
	require.NoError(t, session.StartChunk(sig1))
	_, err := session.Write(first)
	require.NoError(t, err)
	require.NoError(t, session.FinishChunk())

	sig2 := chunkSignature(key, sig1, second)
	require.NoError(t, session.StartChunk(sig2))
	_, err = session.Write(second)
	require.NoError(t, err)
	require.NoError(t, session.FinishChunk())

	final := chunkSignature(key, sig2, nil)
	require.NoError(t, session.StartChunk(final))
	require.NoError(t, session.Complete())
	require.True(t, session.Completed())
}

func TestChunkSigningSessionRejectsTamperedData(t *testing.T) {
	key := GetSigningKey(testSecretKey, chunkTestTime, chunkTestScope.Region, chunkTestScope.Service)
	session := newTestSession(t)

	sig := chunkSignature(key, chunkTestSeed, []byte("original"))
	require.NoError(t, session.StartChunk(sig))
	_, err := session.Write([]byte("tampered"))
	require.NoError(t, err)
	require.ErrorIs(t, session.FinishChunk(), ErrChunkSignatureInvalid)
	require.False(t, session.Completed())

	// The session is dead after a mismatch.
	require.Error(t, session.StartChunk(sig))
}

func TestChunkSigningSessionRejectsWrongSeed(t *testing.T) {
	key := GetSigningKey(testSecretKey, chunkTestTime, chunkTestScope.Region, chunkTestScope.Service)

	session, err := NewChunkSigningSession(testSecretKey, strings.Repeat("cd", 32), chunkTestScope, chunkTestTime)
	require.NoError(t, err)

	// Signature chained from a different seed must not validate.
	sig := chunkSignature(key, chunkTestSeed, []byte("data"))
	require.NoError(t, session.StartChunk(sig))
	_, err = session.Write([]byte("data"))
	require.NoError(t, err)
	require.ErrorIs(t, session.FinishChunk(), ErrChunkSignatureInvalid)
}

func TestChunkSigningSessionSeedValidation(t *testing.T) {
	_, err := NewChunkSigningSession(testSecretKey, "short", chunkTestScope, chunkTestTime)
	require.ErrorIs(t, err, ErrChunkSignatureInvalid)

	_, err = NewChunkSigningSession(testSecretKey, strings.Repeat("zz", 32), chunkTestScope, chunkTestTime)
	require.ErrorIs(t, err, ErrChunkSignatureInvalid)
}

func TestChunkedReaderDecodesValidStream(t *testing.T) {
	chunks := [][]byte{
		[]byte("the quick brown fox "),
		[]byte("jumps over "),
		[]byte("the lazy dog"),
	}
	wire, _ := buildChunkStream(chunks)

	var declared int64
	for _, c := range chunks {
		declared += int64(len(c))
	}

	cr := NewChunkedReader(strings.NewReader(wire), newTestSession(t), declared)

	decoded, err := io.ReadAll(cr)
	require.NoError(t, err)
	require.Equal(t, "the quick brown fox jumps over the lazy dog", string(decoded))
	require.Equal(t, declared, cr.DecodedBytes())

	// EOF is sticky after the terminal chunk.
	n, err := cr.Read(make([]byte, 8))
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestChunkedReaderSmallReads(t *testing.T) {
	wire, _ := buildChunkStream([][]byte{[]byte("abcdefgh")})
	cr := NewChunkedReader(strings.NewReader(wire), newTestSession(t), 8)

	var out bytes.Buffer
	buf := make([]byte, 3)
	for {
		n, err := cr.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.Equal(t, "abcdefgh", out.String())
}

func TestChunkedReaderRejectsTamperedChunk(t *testing.T) {
	chunks := [][]byte{[]byte("first chunk data"), []byte("second chunk data")}
	wire, _ := buildChunkStream(chunks)

	// Corrupt one byte inside the second chunk's data.
	tampered := strings.Replace(wire, "second chunk data", "second chunk dat!", 1)
	require.NotEqual(t, wire, tampered)

	cr := NewChunkedReader(strings.NewReader(tampered), newTestSession(t), 33)

	// The first chunk is still served; the failure surfaces at the second
	// boundary with none of its bytes exposed.
	buf := make([]byte, 64)
	n, err := cr.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "first chunk data", string(buf[:n]))

	n, err = cr.Read(buf)
	require.Zero(t, n)
	require.ErrorIs(t, err, ErrChunkSignatureInvalid)

	// The error is sticky.
	_, err = cr.Read(buf)
	require.ErrorIs(t, err, ErrChunkSignatureInvalid)
}

func TestChunkedReaderRejectsDeclaredLengthOverflow(t *testing.T) {
	wire, _ := buildChunkStream([][]byte{[]byte("0123456789")})

	cr := NewChunkedReader(strings.NewReader(wire), newTestSession(t), 5)

	_, err := io.ReadAll(cr)
	require.ErrorIs(t, err, ErrDeclaredLengthExceeded)
}

func TestChunkedReaderRejectsTruncatedStream(t *testing.T) {
	wire, _ := buildChunkStream([][]byte{[]byte("some payload data")})

	// Drop the terminal chunk and part of the data.
	truncated := wire[:len(wire)/2]

	cr := NewChunkedReader(strings.NewReader(truncated), newTestSession(t), 17)

	_, err := io.ReadAll(cr)
	require.ErrorIs(t, err, ErrIncompleteChunkedBody)
}

func TestChunkedReaderRejectsMissingTerminalChunk(t *testing.T) {
	wire, _ := buildChunkStream([][]byte{[]byte("complete chunk")})

	// Keep the signed chunk intact but drop the terminal chunk entirely.
	idx := strings.Index(wire, "\r\n0;chunk-signature=")
	require.Positive(t, idx)
	withoutFinal := wire[:idx+2]

	cr := NewChunkedReader(strings.NewReader(withoutFinal), newTestSession(t), 14)

	_, err := io.ReadAll(cr)
	require.ErrorIs(t, err, ErrIncompleteChunkedBody)
}

func TestChunkedReaderRejectsMalformedHeader(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"missing signature", "a\r\n0123456789\r\n"},
		{"bad size", "xyz;chunk-signature=" + chunkTestSeed + "\r\n"},
		{"line not crlf terminated", "a;chunk-signature=" + chunkTestSeed + "\n"},
		{"oversized chunk", "7fffffff;chunk-signature=" + chunkTestSeed + "\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cr := NewChunkedReader(strings.NewReader(tt.wire), newTestSession(t), 1<<30)
			_, err := io.ReadAll(cr)
			require.ErrorIs(t, err, ErrMalformedChunkHeader)
		})
	}
}

func TestChunkedReaderRejectsTrailingGarbage(t *testing.T) {
	wire, _ := buildChunkStream([][]byte{[]byte("payload")})

	cr := NewChunkedReader(strings.NewReader(wire+"extra"), newTestSession(t), 7)

	_, err := io.ReadAll(cr)
	require.ErrorIs(t, err, ErrMalformedChunkHeader)
}
