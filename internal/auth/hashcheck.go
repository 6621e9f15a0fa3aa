package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"strings"
)

// HashCheckReader verifies that the bytes flowing through it match a
// declared SHA-256. The check fires when the stream is exhausted: instead
// of a clean io.EOF the consumer sees ErrContentHashMismatch, failing the
// transfer before it is treated as complete.
type HashCheckReader struct {
	src      io.Reader
	closer   io.Closer
	hasher   hash.Hash
	declared string
	done     bool
}

// IsFixedContentHash reports whether the declared x-amz-content-sha256 value
// is a literal hash that can be checked against the realized body, rather
// than an UNSIGNED-PAYLOAD or streaming sentinel.
func IsFixedContentHash(declared string) bool {
	if len(declared) != 64 {
		return false
	}
	if _, err := hex.DecodeString(declared); err != nil {
		return false
	}
	return true
}

// NewHashCheckReader wraps src with a running SHA-256 checked against the
// declared hex digest at end of stream.
func NewHashCheckReader(src io.Reader, declaredSHA256 string) *HashCheckReader {
	h := &HashCheckReader{
		src:      src,
		hasher:   sha256.New(),
		declared: strings.ToLower(declaredSHA256),
	}
	if c, ok := src.(io.Closer); ok {
		h.closer = c
	}
	return h
}

// Read implements io.Reader.
func (h *HashCheckReader) Read(p []byte) (int, error) {
	if h.done {
		return 0, io.EOF
	}

	n, err := h.src.Read(p)
	if n > 0 {
		h.hasher.Write(p[:n])
	}
	if err == io.EOF {
		h.done = true
		if hex.EncodeToString(h.hasher.Sum(nil)) != h.declared {
			return n, ErrContentHashMismatch
		}
	}
	return n, err
}

// Close closes the underlying stream when it is closable.
func (h *HashCheckReader) Close() error {
	if h.closer != nil {
		return h.closer.Close()
	}
	return nil
}
