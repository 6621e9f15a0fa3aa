package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/domain"
	"github.com/prn-tf/alexander-gateway/internal/pkg/crypto"
	"github.com/prn-tf/alexander-gateway/internal/repository"
)

// CredentialService manages emulated-to-remote credential mappings and
// resolves them for the authentication filter.
type CredentialService struct {
	mappingRepo repository.CredentialMappingRepository
	encryptor   *crypto.Encryptor
	logger      zerolog.Logger
}

// NewCredentialService creates a new CredentialService.
func NewCredentialService(
	mappingRepo repository.CredentialMappingRepository,
	encryptor *crypto.Encryptor,
	logger zerolog.Logger,
) *CredentialService {
	return &CredentialService{
		mappingRepo: mappingRepo,
		encryptor:   encryptor,
		logger:      logger.With().Str("service", "credential").Logger(),
	}
}

// =============================================================================
// Resolution (per-request hot path)
// =============================================================================

// Resolve looks up the mapping for an emulated access key, checks its
// validity and session token, and returns the decrypted credential pair.
// Implements auth.CredentialResolver.
func (s *CredentialService) Resolve(ctx context.Context, accessKey, sessionToken string) (*domain.Credentials, error) {
	mapping, err := s.mappingRepo.GetByEmulatedKey(ctx, accessKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMappingNotFound
		}
		s.logger.Error().Err(err).Str("access_key", accessKey).Msg("failed to resolve mapping")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if mapping.Status != domain.MappingStatusActive {
		return nil, ErrMappingInactive
	}
	if mapping.IsExpired() {
		return nil, ErrMappingExpired
	}

	if subtle.ConstantTimeCompare([]byte(mapping.SessionToken), []byte(sessionToken)) != 1 {
		return nil, ErrSessionTokenMismatch
	}

	emulatedSecret, err := s.encryptor.DecryptString(mapping.EmulatedSecretEncrypted)
	if err != nil {
		s.logger.Error().Err(err).Str("access_key", accessKey).Msg("failed to decrypt emulated secret")
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	remoteSecret, err := s.encryptor.DecryptString(mapping.RemoteSecretEncrypted)
	if err != nil {
		s.logger.Error().Err(err).Str("access_key", accessKey).Msg("failed to decrypt remote secret")
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	if err := s.mappingRepo.UpdateLastUsed(ctx, accessKey, time.Now().UTC()); err != nil {
		// Advisory only; authentication proceeds.
		s.logger.Warn().Err(err).Str("access_key", accessKey).Msg("failed to update last used")
	}

	return &domain.Credentials{
		Emulated: domain.Credential{
			AccessKeyID:     mapping.EmulatedAccessKey,
			SecretAccessKey: emulatedSecret,
			SessionToken:    mapping.SessionToken,
		},
		Remote: domain.Credential{
			AccessKeyID:     mapping.RemoteAccessKey,
			SecretAccessKey: remoteSecret,
			SessionToken:    mapping.RemoteSessionToken,
		},
	}, nil
}

// =============================================================================
// Mapping management (admin surface)
// =============================================================================

// CreateMappingInput contains the data needed to create a mapping.
type CreateMappingInput struct {
	RemoteAccessKey    string
	RemoteSecretKey    string
	RemoteSessionToken string
	Description        string
	ExpiresAt          *time.Time
}

// CreateMappingOutput contains the result of creating a mapping.
// Note: EmulatedSecretKey is only available at creation time.
type CreateMappingOutput struct {
	EmulatedAccessKey string
	EmulatedSecretKey string // Plaintext - only shown once!
	Mapping           *domain.CredentialMapping
}

// CreateMapping generates a fresh emulated credential pair, binds it to the
// given remote credential, and persists the mapping with both secrets
// encrypted.
func (s *CredentialService) CreateMapping(ctx context.Context, input CreateMappingInput) (*CreateMappingOutput, error) {
	if input.RemoteAccessKey == "" || input.RemoteSecretKey == "" {
		return nil, fmt.Errorf("%w: remote credential required", ErrInternalError)
	}

	emulatedKey, emulatedSecret, err := crypto.GenerateAccessKeyPair()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to generate emulated key pair")
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	emulatedSecretEnc, err := s.encryptor.EncryptString(emulatedSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	remoteSecretEnc, err := s.encryptor.EncryptString(input.RemoteSecretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	mapping := domain.NewCredentialMapping(emulatedKey, emulatedSecretEnc, input.RemoteAccessKey, remoteSecretEnc)
	mapping.RemoteSessionToken = input.RemoteSessionToken
	mapping.Description = input.Description
	mapping.ExpiresAt = input.ExpiresAt

	if err := s.mappingRepo.Create(ctx, mapping); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrMappingAlreadyExists
		}
		s.logger.Error().Err(err).Str("access_key", emulatedKey).Msg("failed to create mapping")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Str("emulated_access_key", emulatedKey).
		Str("remote_access_key", input.RemoteAccessKey).
		Msg("credential mapping created")

	return &CreateMappingOutput{
		EmulatedAccessKey: emulatedKey,
		EmulatedSecretKey: emulatedSecret,
		Mapping:           mapping,
	}, nil
}

// ListMappings returns all mappings, newest first.
func (s *CredentialService) ListMappings(ctx context.Context) ([]*domain.CredentialMapping, error) {
	mappings, err := s.mappingRepo.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list mappings")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return mappings, nil
}

// RevokeMapping deactivates a mapping without deleting its record.
func (s *CredentialService) RevokeMapping(ctx context.Context, accessKey string) error {
	if err := s.mappingRepo.UpdateStatus(ctx, accessKey, domain.MappingStatusInactive); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMappingNotFound
		}
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	s.logger.Info().Str("access_key", accessKey).Msg("credential mapping revoked")
	return nil
}

// DeleteMapping removes a mapping permanently.
func (s *CredentialService) DeleteMapping(ctx context.Context, accessKey string) error {
	if err := s.mappingRepo.Delete(ctx, accessKey); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMappingNotFound
		}
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	s.logger.Info().Str("access_key", accessKey).Msg("credential mapping deleted")
	return nil
}

// DeleteExpiredMappings reaps expired mappings, returning the count removed.
// Run periodically to clear out STS-issued temporary credentials.
func (s *CredentialService) DeleteExpiredMappings(ctx context.Context) (int64, error) {
	n, err := s.mappingRepo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if n > 0 {
		s.logger.Info().Int64("count", n).Msg("expired mappings deleted")
	}
	return n, nil
}
