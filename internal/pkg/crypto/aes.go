// Package crypto provides cryptographic utilities for Alexander Gateway:
// AES-256-GCM encryption for credential secrets at rest, key derivation,
// and AWS-style key generation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of the AES-256 key in bytes.
	KeySize = 32

	// NonceSize is the size of the GCM nonce in bytes.
	NonceSize = 12

	// AccessKeyIDLength is the length of AWS-style access key IDs.
	AccessKeyIDLength = 20

	// SecretKeyLength is the length of AWS-style secret keys.
	SecretKeyLength = 40
)

// Errors
var (
	// ErrInvalidKeySize indicates the encryption key is not 32 bytes.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes (256 bits)")

	// ErrInvalidCiphertext indicates the ciphertext is malformed or too short.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short or malformed")

	// ErrDecryptionFailed indicates decryption failed (wrong key or corrupted data).
	ErrDecryptionFailed = errors.New("decryption failed: authentication error")

	// ErrEmptyPassphrase indicates no key material was supplied.
	ErrEmptyPassphrase = errors.New("encryption passphrase must not be empty")
)

// hkdfInfo domain-separates gateway secret-encryption keys from any other
// use of the same passphrase.
const hkdfInfo = "alexander-gateway/secret-encryption/v1"

// Encryptor provides AES-256-GCM encryption and decryption of credential
// secrets. Safe for concurrent use.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates a new Encryptor with the given master key.
// The key must be exactly 32 bytes (256 bits).
func NewEncryptor(masterKey []byte) (*Encryptor, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{gcm: gcm}, nil
}

// NewEncryptorFromPassphrase derives a 32-byte key from an operator-supplied
// passphrase of any length via HKDF-SHA256 and builds an Encryptor from it.
func NewEncryptorFromPassphrase(passphrase string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	key := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	return NewEncryptor(key)
}

// NewEncryptorFromHex creates a new Encryptor from a hex-encoded master key.
// The key must be 64 hex characters (32 bytes).
func NewEncryptorFromHex(hexKey string) (*Encryptor, error) {
	key, err := ParseHexKey(hexKey)
	if err != nil {
		return nil, err
	}
	return NewEncryptor(key)
}

// Encrypt encrypts the plaintext and returns base64-encoded ciphertext.
// The ciphertext format is: base64(nonce || ciphertext || tag)
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nonce, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext and returns plaintext.
// Expects format: base64(nonce || ciphertext || tag)
func (e *Encryptor) Decrypt(encoded string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	minLength := NonceSize + 1 + e.gcm.Overhead()
	if len(ciphertext) < minLength {
		return nil, ErrInvalidCiphertext
	}

	nonce := ciphertext[:NonceSize]
	encryptedData := ciphertext[NonceSize:]

	plaintext, err := e.gcm.Open(nil, nonce, encryptedData, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// EncryptString encrypts a string and returns base64-encoded ciphertext.
func (e *Encryptor) EncryptString(plaintext string) (string, error) {
	return e.Encrypt([]byte(plaintext))
}

// DecryptString decrypts base64-encoded ciphertext and returns a string.
func (e *Encryptor) DecryptString(encoded string) (string, error) {
	plaintext, err := e.Decrypt(encoded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
