package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/domain"
	"github.com/prn-tf/alexander-gateway/internal/pkg/crypto"
	"github.com/prn-tf/alexander-gateway/internal/repository"
)

const (
	// MinAssumeRoleDuration is the shortest allowed temporary credential lifetime.
	MinAssumeRoleDuration = 15 * time.Minute

	// MaxAssumeRoleDuration is the longest allowed temporary credential lifetime.
	MaxAssumeRoleDuration = 12 * time.Hour

	// DefaultAssumeRoleDuration applies when the caller specifies none.
	DefaultAssumeRoleDuration = time.Hour
)

// STSService issues temporary emulated credentials. An AssumeRole call by an
// authenticated principal mints a short-lived mapping bound to the same
// remote credential, with a session token that requests must present.
type STSService struct {
	mappingRepo repository.CredentialMappingRepository
	encryptor   *crypto.Encryptor
	logger      zerolog.Logger
}

// NewSTSService creates a new STSService.
func NewSTSService(mappingRepo repository.CredentialMappingRepository, encryptor *crypto.Encryptor, logger zerolog.Logger) *STSService {
	return &STSService{
		mappingRepo: mappingRepo,
		encryptor:   encryptor,
		logger:      logger.With().Str("service", "sts").Logger(),
	}
}

// AssumeRoleInput identifies the calling principal and desired lifetime.
type AssumeRoleInput struct {
	// CallerAccessKey is the emulated access key the caller authenticated with.
	CallerAccessKey string

	// RoleSessionName labels the issued credentials in listings.
	RoleSessionName string

	// Duration is the requested lifetime. Zero means DefaultAssumeRoleDuration.
	Duration time.Duration
}

// AssumeRoleOutput carries the issued temporary credentials.
// The secret is plaintext here and never recoverable afterwards.
type AssumeRoleOutput struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// AssumeRole mints a temporary credential mapping derived from the caller's.
func (s *STSService) AssumeRole(ctx context.Context, input AssumeRoleInput) (*AssumeRoleOutput, error) {
	duration := input.Duration
	if duration == 0 {
		duration = DefaultAssumeRoleDuration
	}
	if duration < MinAssumeRoleDuration || duration > MaxAssumeRoleDuration {
		return nil, ErrInvalidDuration
	}

	parent, err := s.mappingRepo.GetByEmulatedKey(ctx, input.CallerAccessKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMappingNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !parent.IsValid() {
		return nil, ErrMappingInactive
	}

	accessKey, secretKey, err := crypto.GenerateAccessKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	sessionToken, err := crypto.GenerateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	// The temporary secret is encrypted with the same master key; the
	// remote credential is inherited ciphertext, never decrypted here.
	secretEnc, err := s.encryptor.EncryptString(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	expiresAt := time.Now().UTC().Add(duration)

	mapping := domain.NewCredentialMapping(accessKey, secretEnc, parent.RemoteAccessKey, parent.RemoteSecretEncrypted)
	mapping.SessionToken = sessionToken
	mapping.RemoteSessionToken = parent.RemoteSessionToken
	mapping.Description = fmt.Sprintf("sts session %q for %s", input.RoleSessionName, input.CallerAccessKey)
	mapping.ExpiresAt = &expiresAt

	if err := s.mappingRepo.Create(ctx, mapping); err != nil {
		s.logger.Error().Err(err).Str("caller", input.CallerAccessKey).Msg("failed to persist temporary mapping")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Str("caller", input.CallerAccessKey).
		Str("access_key", accessKey).
		Time("expires_at", expiresAt).
		Msg("temporary credentials issued")

	return &AssumeRoleOutput{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		SessionToken:    sessionToken,
		Expiration:      expiresAt,
	}, nil
}
