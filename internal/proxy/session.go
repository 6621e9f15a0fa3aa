// Package proxy implements the re-signing reverse proxy pipeline.
package proxy

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// Log Records
// =============================================================================

// LogRecord is the completed trace of one proxied request, retained in the
// registry's ring buffer and served on the log retrieval surface.
type LogRecord struct {
	RequestID     string    `json:"request_id"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	AccessKey     string    `json:"access_key,omitempty"`
	Status        int       `json:"status"`
	BytesIn       int64     `json:"bytes_in"`
	BytesOut      int64     `json:"bytes_out"`
	ErrorCode     string    `json:"error_code,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	DurationMilli int64     `json:"duration_ms"`
}

// =============================================================================
// Log Session
// =============================================================================

// LogSession tracks one in-flight request. It is owned by the request that
// created it; only Close touches shared state. Close is idempotent and the
// second and later calls are no-ops, so every exit path may close freely.
type LogSession struct {
	registry *SessionRegistry
	record   LogRecord
	started  time.Time
	once     sync.Once
}

// SetAccessKey records the authenticated access key.
func (s *LogSession) SetAccessKey(key string) {
	s.record.AccessKey = key
}

// SetBytes records the relayed body sizes.
func (s *LogSession) SetBytes(in, out int64) {
	s.record.BytesIn = in
	s.record.BytesOut = out
}

// Close finalizes the session with the terminal status, appends the record
// to the ring buffer and removes the session from the registry.
func (s *LogSession) Close(status int, errorCode string) {
	s.once.Do(func() {
		s.record.Status = status
		s.record.ErrorCode = errorCode
		s.record.DurationMilli = time.Since(s.started).Milliseconds()

		s.registry.complete(s)
	})
}

// =============================================================================
// Session Registry
// =============================================================================

// DefaultRingSize is the number of completed request records retained.
const DefaultRingSize = 1024

// SessionRegistry tracks in-flight request sessions and retains a bounded
// ring of completed records. Safe for concurrent use; sessions are keyed by
// request ID and must all be closed before shutdown completes.
type SessionRegistry struct {
	active sync.Map // request ID string -> *LogSession

	mu   sync.Mutex
	ring []LogRecord
	next int
	full bool

	logger zerolog.Logger
}

// NewSessionRegistry creates a registry retaining up to ringSize completed
// records. A non-positive ringSize falls back to DefaultRingSize.
func NewSessionRegistry(ringSize int, logger zerolog.Logger) *SessionRegistry {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &SessionRegistry{
		ring:   make([]LogRecord, ringSize),
		logger: logger.With().Str("component", "sessions").Logger(),
	}
}

// Open starts tracking a request and returns its session.
func (r *SessionRegistry) Open(requestID uuid.UUID, method, path string) *LogSession {
	session := &LogSession{
		registry: r,
		started:  time.Now(),
		record: LogRecord{
			RequestID: requestID.String(),
			Method:    method,
			Path:      path,
			StartedAt: time.Now().UTC(),
		},
	}
	r.active.Store(session.record.RequestID, session)
	return session
}

func (r *SessionRegistry) complete(s *LogSession) {
	r.active.Delete(s.record.RequestID)

	r.mu.Lock()
	r.ring[r.next] = s.record
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()

	r.logger.Info().
		Str("request_id", s.record.RequestID).
		Str("method", s.record.Method).
		Str("path", s.record.Path).
		Str("access_key", s.record.AccessKey).
		Int("status", s.record.Status).
		Int64("bytes_in", s.record.BytesIn).
		Int64("bytes_out", s.record.BytesOut).
		Int64("duration_ms", s.record.DurationMilli).
		Msg("request completed")
}

// Recent returns up to limit completed records, newest first.
func (r *SessionRegistry) Recent(limit int) []LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	records := make([]LogRecord, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.next - 1 - i + len(r.ring)) % len(r.ring)
		records = append(records, r.ring[idx])
	}
	return records
}

// ActiveCount returns the number of in-flight sessions.
func (r *SessionRegistry) ActiveCount() int {
	count := 0
	r.active.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Drain blocks until every session has closed or the deadline passes.
// Returns the number of sessions still open.
func (r *SessionRegistry) Drain(deadline time.Time) int {
	for {
		remaining := r.ActiveCount()
		if remaining == 0 {
			return 0
		}
		if time.Now().After(deadline) {
			r.logger.Warn().Int("remaining", remaining).Msg("shutdown with sessions still open")
			return remaining
		}
		time.Sleep(50 * time.Millisecond)
	}
}
