package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsFixedContentHash(t *testing.T) {
	require.True(t, IsFixedContentHash(EmptyStringSHA256))
	require.False(t, IsFixedContentHash(UnsignedPayload))
	require.False(t, IsFixedContentHash(StreamingPayload))
	require.False(t, IsFixedContentHash(""))
	require.False(t, IsFixedContentHash(strings.Repeat("z", 64)))
}

func TestHashCheckReaderMatch(t *testing.T) {
	body := "some object payload"
	digest := sha256.Sum256([]byte(body))

	r := NewHashCheckReader(strings.NewReader(body), hex.EncodeToString(digest[:]))

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, body, string(out))
}

func TestHashCheckReaderMismatch(t *testing.T) {
	digest := sha256.Sum256([]byte("what the client signed"))

	r := NewHashCheckReader(strings.NewReader("what actually arrived"), hex.EncodeToString(digest[:]))

	_, err := io.ReadAll(r)
	require.ErrorIs(t, err, ErrContentHashMismatch)
}

func TestHashCheckReaderEmptyBody(t *testing.T) {
	r := NewHashCheckReader(strings.NewReader(""), EmptyStringSHA256)

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Empty(t, out)
}
