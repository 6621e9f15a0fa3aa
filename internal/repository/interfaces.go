// Package repository defines data access interfaces for Alexander Gateway.
package repository

import (
	"context"
	"time"

	"github.com/prn-tf/alexander-gateway/internal/domain"
)

// =============================================================================
// Credential Mapping Repository
// =============================================================================

// CredentialMappingRepository persists emulated-to-remote credential
// mappings. Implementations must be safe for concurrent use; the
// authentication filter resolves mappings from many in-flight requests.
type CredentialMappingRepository interface {
	// Create stores a new mapping.
	// Returns ErrAlreadyExists if the emulated access key is taken.
	Create(ctx context.Context, mapping *domain.CredentialMapping) error

	// GetByEmulatedKey retrieves a mapping by its emulated access key.
	// Returns ErrNotFound if no mapping exists.
	GetByEmulatedKey(ctx context.Context, accessKey string) (*domain.CredentialMapping, error)

	// List returns all mappings, newest first.
	List(ctx context.Context) ([]*domain.CredentialMapping, error)

	// UpdateStatus sets a mapping's status.
	UpdateStatus(ctx context.Context, accessKey string, status domain.MappingStatus) error

	// UpdateLastUsed records a successful authentication.
	UpdateLastUsed(ctx context.Context, accessKey string, when time.Time) error

	// Delete removes a mapping by emulated access key.
	Delete(ctx context.Context, accessKey string) error

	// DeleteExpired removes mappings whose expiry has passed and returns
	// the number removed. Used to reap STS-issued temporary mappings.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// =============================================================================
// Cache Interface (Redis)
// =============================================================================

// Cache is the subset of caching operations the gateway uses, implemented
// by Redis for multi-instance deployments and an in-process map otherwise.
type Cache interface {
	// Get retrieves a value by key.
	// Returns ErrCacheMiss if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an optional TTL.
	// If ttl is 0, the value doesn't expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error

	// Close releases the cache's resources.
	Close() error
}

// =============================================================================
// Database Health
// =============================================================================

// DatabaseHealth is implemented by both database backends for the health
// endpoint and shutdown paths.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}
