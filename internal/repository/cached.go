package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/domain"
)

// mappingCacheKey namespaces mapping entries in the shared cache.
const mappingCacheKey = "mapping:"

// cachedMapping is the cache wire form. The domain struct hides encrypted
// fields from JSON, so the cache uses its own complete projection.
type cachedMapping struct {
	ID                      int64                `json:"id"`
	EmulatedAccessKey       string               `json:"eak"`
	EmulatedSecretEncrypted string               `json:"ese"`
	SessionToken            string               `json:"st"`
	RemoteAccessKey         string               `json:"rak"`
	RemoteSecretEncrypted   string               `json:"rse"`
	RemoteSessionToken      string               `json:"rst"`
	Description             string               `json:"desc"`
	Status                  domain.MappingStatus `json:"status"`
	ExpiresAt               *time.Time           `json:"exp,omitempty"`
	CreatedAt               time.Time            `json:"created"`
	LastUsedAt              *time.Time           `json:"used,omitempty"`
}

func toCached(m *domain.CredentialMapping) cachedMapping {
	return cachedMapping{
		ID:                      m.ID,
		EmulatedAccessKey:       m.EmulatedAccessKey,
		EmulatedSecretEncrypted: m.EmulatedSecretEncrypted,
		SessionToken:            m.SessionToken,
		RemoteAccessKey:         m.RemoteAccessKey,
		RemoteSecretEncrypted:   m.RemoteSecretEncrypted,
		RemoteSessionToken:      m.RemoteSessionToken,
		Description:             m.Description,
		Status:                  m.Status,
		ExpiresAt:               m.ExpiresAt,
		CreatedAt:               m.CreatedAt,
		LastUsedAt:              m.LastUsedAt,
	}
}

func (c cachedMapping) toDomain() *domain.CredentialMapping {
	return &domain.CredentialMapping{
		ID:                      c.ID,
		EmulatedAccessKey:       c.EmulatedAccessKey,
		EmulatedSecretEncrypted: c.EmulatedSecretEncrypted,
		SessionToken:            c.SessionToken,
		RemoteAccessKey:         c.RemoteAccessKey,
		RemoteSecretEncrypted:   c.RemoteSecretEncrypted,
		RemoteSessionToken:      c.RemoteSessionToken,
		Description:             c.Description,
		Status:                  c.Status,
		ExpiresAt:               c.ExpiresAt,
		CreatedAt:               c.CreatedAt,
		LastUsedAt:              c.LastUsedAt,
	}
}

// cachedMappingRepository wraps a CredentialMappingRepository with
// cache-aside reads. Only the hot path (GetByEmulatedKey, called once per
// request) is cached; writes invalidate.
type cachedMappingRepository struct {
	inner  CredentialMappingRepository
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedMappingRepository wraps inner with cache-aside resolution.
func NewCachedMappingRepository(inner CredentialMappingRepository, cache Cache, ttl time.Duration, logger zerolog.Logger) CredentialMappingRepository {
	return &cachedMappingRepository{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "mapping_cache").Logger(),
	}
}

func (r *cachedMappingRepository) GetByEmulatedKey(ctx context.Context, accessKey string) (*domain.CredentialMapping, error) {
	key := mappingCacheKey + accessKey

	if data, err := r.cache.Get(ctx, key); err == nil {
		var cached cachedMapping
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached.toDomain(), nil
		}
		// Corrupt entry: drop it and fall through to the source of truth.
		_ = r.cache.Delete(ctx, key)
	} else if !errors.Is(err, ErrCacheMiss) {
		r.logger.Warn().Err(err).Msg("cache read failed, falling back to database")
	}

	mapping, err := r.inner.GetByEmulatedKey(ctx, accessKey)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(toCached(mapping)); err == nil {
		if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
			r.logger.Warn().Err(err).Msg("cache write failed")
		}
	}

	return mapping, nil
}

func (r *cachedMappingRepository) Create(ctx context.Context, mapping *domain.CredentialMapping) error {
	if err := r.inner.Create(ctx, mapping); err != nil {
		return err
	}
	_ = r.cache.Delete(ctx, mappingCacheKey+mapping.EmulatedAccessKey)
	return nil
}

func (r *cachedMappingRepository) List(ctx context.Context) ([]*domain.CredentialMapping, error) {
	return r.inner.List(ctx)
}

func (r *cachedMappingRepository) UpdateStatus(ctx context.Context, accessKey string, status domain.MappingStatus) error {
	if err := r.inner.UpdateStatus(ctx, accessKey, status); err != nil {
		return err
	}
	_ = r.cache.Delete(ctx, mappingCacheKey+accessKey)
	return nil
}

// UpdateLastUsed intentionally leaves the cached entry alone; last-used is
// advisory and not worth an invalidation per request.
func (r *cachedMappingRepository) UpdateLastUsed(ctx context.Context, accessKey string, when time.Time) error {
	return r.inner.UpdateLastUsed(ctx, accessKey, when)
}

func (r *cachedMappingRepository) Delete(ctx context.Context, accessKey string) error {
	if err := r.inner.Delete(ctx, accessKey); err != nil {
		return err
	}
	_ = r.cache.Delete(ctx, mappingCacheKey+accessKey)
	return nil
}

// DeleteExpired does not invalidate individual entries; expired mappings
// are also rejected by IsValid at resolution time, so a stale cache entry
// cannot authenticate.
func (r *cachedMappingRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.inner.DeleteExpired(ctx, now)
}
