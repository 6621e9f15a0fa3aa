package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"time"
)

// sessionState tracks the position of a ChunkSigningSession in the
// AWS chunked-upload signature chain.
type sessionState int

const (
	// stateAwaitingChunk means the session is between chunks; the next
	// transition is StartChunk.
	stateAwaitingChunk sessionState = iota

	// stateChunkOpen means a chunk header has been accepted and bytes are
	// being hashed; the next transition is FinishChunk or Complete.
	stateChunkOpen

	// stateComplete means the terminal chunk validated. Any further use is
	// an invariant violation.
	stateComplete

	// stateFailed means a chunk failed validation; the session is unusable.
	stateFailed
)

// ChunkSigningSession validates the SigV4 chunked-upload signature chain
// for one request body. The chain head is seeded from the request's own
// validated signature, so a valid request signature cannot be replayed with
// substituted chunk data.
//
// The session is exclusively owned by the request that created it and must
// never be shared across requests or goroutines. Transitions are strictly
// forward; there is no rewind.
type ChunkSigningSession struct {
	signingKey  []byte
	scope       CredentialScope
	requestTime time.Time

	prevSignature string
	presented     string
	hasher        hash.Hash
	chunkBytes    int64
	state         sessionState
}

// NewChunkSigningSession creates a session seeded from the validated request
// signature. The signing key is derived once from the same secret and scope
// that validated the request.
func NewChunkSigningSession(secretKey, seedSignature string, scope CredentialScope, requestTime time.Time) (*ChunkSigningSession, error) {
	seed := strings.ToLower(strings.TrimSpace(seedSignature))
	if len(seed) != 64 {
		return nil, fmt.Errorf("%w: seed signature must be 64 hex characters", ErrChunkSignatureInvalid)
	}
	if _, err := hex.DecodeString(seed); err != nil {
		return nil, fmt.Errorf("%w: seed signature is not hex", ErrChunkSignatureInvalid)
	}

	return &ChunkSigningSession{
		signingKey:    GetSigningKey(secretKey, scope.Date, scope.Region, scope.Service),
		scope:         scope,
		requestTime:   requestTime.UTC(),
		prevSignature: seed,
		hasher:        sha256.New(),
		state:         stateAwaitingChunk,
	}, nil
}

// StartChunk accepts the signature presented in a chunk header and opens the
// chunk for hashing. The presented value is compared against the recomputed
// chain signature in FinishChunk or Complete, before any of the chunk's
// bytes are released downstream.
func (s *ChunkSigningSession) StartChunk(presentedSignature string) error {
	if s.state != stateAwaitingChunk {
		return fmt.Errorf("%w: chunk started out of order", ErrChunkSignatureInvalid)
	}

	sig := strings.ToLower(strings.TrimSpace(presentedSignature))
	if len(sig) != 64 {
		return fmt.Errorf("%w: chunk signature must be 64 hex characters", ErrMalformedChunkHeader)
	}
	if _, err := hex.DecodeString(sig); err != nil {
		return fmt.Errorf("%w: chunk signature is not hex", ErrMalformedChunkHeader)
	}

	s.presented = sig
	s.hasher.Reset()
	s.chunkBytes = 0
	s.state = stateChunkOpen
	return nil
}

// Write feeds chunk bytes into the running hash for the current chunk.
// Implements io.Writer.
func (s *ChunkSigningSession) Write(p []byte) (int, error) {
	if s.state != stateChunkOpen {
		return 0, fmt.Errorf("%w: write outside an open chunk", ErrChunkSignatureInvalid)
	}
	n, err := s.hasher.Write(p)
	s.chunkBytes += int64(n)
	return n, err
}

// FinishChunk validates the open chunk against the presented signature and
// advances the chain. On mismatch the session is unusable and the caller
// must not release the chunk's bytes.
func (s *ChunkSigningSession) FinishChunk() error {
	if s.state != stateChunkOpen {
		return fmt.Errorf("%w: no open chunk to finish", ErrChunkSignatureInvalid)
	}
	return s.validateChunk(false)
}

// Complete validates the zero-length terminal chunk and seals the session.
// Any subsequent use is an invariant violation.
func (s *ChunkSigningSession) Complete() error {
	if s.state != stateChunkOpen {
		return fmt.Errorf("%w: terminal chunk started out of order", ErrChunkSignatureInvalid)
	}
	if s.chunkBytes != 0 {
		return fmt.Errorf("%w: terminal chunk must be empty", ErrMalformedChunkHeader)
	}
	return s.validateChunk(true)
}

// Completed reports whether the terminal chunk validated.
func (s *ChunkSigningSession) Completed() bool {
	return s.state == stateComplete
}

// validateChunk recomputes the expected signature for the open chunk and
// compares it to the presented one.
func (s *ChunkSigningSession) validateChunk(terminal bool) error {
	stringToSign := SignV4ChunkedAlgorithm + "\n" +
		s.requestTime.Format(ISO8601BasicFormat) + "\n" +
		s.scope.String() + "\n" +
		s.prevSignature + "\n" +
		EmptyStringSHA256 + "\n" +
		hex.EncodeToString(s.hasher.Sum(nil))

	expected := GetSignature(s.signingKey, stringToSign)

	if !hmac.Equal([]byte(expected), []byte(s.presented)) {
		s.state = stateFailed
		return ErrChunkSignatureInvalid
	}

	s.prevSignature = s.presented
	if terminal {
		s.state = stateComplete
	} else {
		s.state = stateAwaitingChunk
	}
	return nil
}
