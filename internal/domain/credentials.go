// Package domain contains the core business entities for Alexander Gateway.
package domain

import (
	"time"
)

// =============================================================================
// Credentials
// =============================================================================

// Credential is a single AWS-style credential.
type Credential struct {
	// AccessKeyID is the public identifier (20 characters, AWS-style).
	AccessKeyID string

	// SecretAccessKey is the plaintext signing secret.
	SecretAccessKey string

	// SessionToken is the optional security token for temporary credentials.
	SessionToken string
}

// Credentials pairs the credential a client presents to the gateway with
// the credential the gateway uses against the real backend.
// Resolved once per request at authentication time and never mutated.
type Credentials struct {
	// Emulated is the credential the client signed the request with.
	Emulated Credential

	// Remote is the credential used to re-sign the request upstream.
	Remote Credential
}

// =============================================================================
// Credential Mapping
// =============================================================================

// MappingStatus represents the status of a credential mapping.
type MappingStatus string

const (
	// MappingStatusActive indicates the mapping can be used for authentication.
	MappingStatusActive MappingStatus = "Active"

	// MappingStatusInactive indicates the mapping is disabled.
	MappingStatusInactive MappingStatus = "Inactive"
)

// CredentialMapping binds an emulated access key to a remote credential.
// Secrets are stored AES-256-GCM encrypted; the plaintext only exists in
// memory for the duration of one request.
type CredentialMapping struct {
	// ID is the unique identifier for the mapping record.
	ID int64 `json:"id"`

	// EmulatedAccessKey is the access key clients present to the gateway.
	EmulatedAccessKey string `json:"emulated_access_key"`

	// EmulatedSecretEncrypted is the encrypted emulated signing secret.
	// Stored as: base64(nonce || ciphertext || tag)
	EmulatedSecretEncrypted string `json:"-"`

	// SessionToken is the security token bound to this mapping. Empty for
	// long-lived mappings; set for STS-issued temporary credentials, in
	// which case requests must present the same token.
	SessionToken string `json:"-"`

	// RemoteAccessKey is the access key used against the backing store.
	RemoteAccessKey string `json:"remote_access_key"`

	// RemoteSecretEncrypted is the encrypted remote signing secret.
	RemoteSecretEncrypted string `json:"-"`

	// RemoteSessionToken is the optional security token for the remote
	// credential (plaintext; tokens are short-lived and not secrets of
	// the same grade as signing keys).
	RemoteSessionToken string `json:"-"`

	// Description is an optional human-readable note on the mapping.
	Description string `json:"description,omitempty"`

	// Status indicates whether the mapping is active.
	Status MappingStatus `json:"status"`

	// ExpiresAt is the optional expiration time. Always set for
	// STS-issued temporary mappings.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// CreatedAt is the timestamp when the mapping was created.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is the timestamp of the last successful authentication.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// NewCredentialMapping creates an active mapping with default values.
// Both secrets must already be encrypted by the crypto package.
func NewCredentialMapping(emulatedKey, emulatedSecretEnc, remoteKey, remoteSecretEnc string) *CredentialMapping {
	return &CredentialMapping{
		EmulatedAccessKey:       emulatedKey,
		EmulatedSecretEncrypted: emulatedSecretEnc,
		RemoteAccessKey:         remoteKey,
		RemoteSecretEncrypted:   remoteSecretEnc,
		Status:                  MappingStatusActive,
		CreatedAt:               time.Now().UTC(),
	}
}

// IsValid returns true if the mapping can be used for authentication.
func (m *CredentialMapping) IsValid() bool {
	if m.Status != MappingStatusActive {
		return false
	}
	return !m.IsExpired()
}

// IsExpired returns true if the mapping has expired.
func (m *CredentialMapping) IsExpired() bool {
	if m.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*m.ExpiresAt)
}
