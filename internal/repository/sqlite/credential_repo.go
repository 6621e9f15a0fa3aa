package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prn-tf/alexander-gateway/internal/domain"
	"github.com/prn-tf/alexander-gateway/internal/repository"
)

// credentialMappingRepository implements
// repository.CredentialMappingRepository for SQLite.
type credentialMappingRepository struct {
	db *DB
}

// NewCredentialMappingRepository creates a new SQLite mapping repository.
func NewCredentialMappingRepository(db *DB) repository.CredentialMappingRepository {
	return &credentialMappingRepository{db: db}
}

const mappingColumns = `id, emulated_access_key, emulated_secret_enc, session_token,
	remote_access_key, remote_secret_enc, remote_session_token,
	description, status, expires_at, created_at, last_used_at`

// Create stores a new mapping.
func (r *credentialMappingRepository) Create(ctx context.Context, m *domain.CredentialMapping) error {
	query := `
		INSERT INTO credential_mappings
			(emulated_access_key, emulated_secret_enc, session_token,
			 remote_access_key, remote_secret_enc, remote_session_token,
			 description, status, expires_at, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var expiresAt, lastUsedAt sql.NullString
	if m.ExpiresAt != nil {
		expiresAt = sql.NullString{String: m.ExpiresAt.UTC().Format(time.RFC3339), Valid: true}
	}
	if m.LastUsedAt != nil {
		lastUsedAt = sql.NullString{String: m.LastUsedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		m.EmulatedAccessKey,
		m.EmulatedSecretEncrypted,
		m.SessionToken,
		m.RemoteAccessKey,
		m.RemoteSecretEncrypted,
		m.RemoteSessionToken,
		m.Description,
		string(m.Status),
		expiresAt,
		m.CreatedAt.UTC().Format(time.RFC3339),
		lastUsedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: emulated access key %s", repository.ErrAlreadyExists, m.EmulatedAccessKey)
		}
		return fmt.Errorf("failed to create credential mapping: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	m.ID = id

	return nil
}

// GetByEmulatedKey retrieves a mapping by its emulated access key.
func (r *credentialMappingRepository) GetByEmulatedKey(ctx context.Context, accessKey string) (*domain.CredentialMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM credential_mappings WHERE emulated_access_key = ?`
	return r.scanMapping(r.db.QueryRowContext(ctx, query, accessKey))
}

// List returns all mappings, newest first.
func (r *credentialMappingRepository) List(ctx context.Context) ([]*domain.CredentialMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM credential_mappings ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list credential mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*domain.CredentialMapping
	for rows.Next() {
		m, err := r.scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// UpdateStatus sets a mapping's status.
func (r *credentialMappingRepository) UpdateStatus(ctx context.Context, accessKey string, status domain.MappingStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE credential_mappings SET status = ? WHERE emulated_access_key = ?`,
		string(status), accessKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update mapping status: %w", err)
	}
	return requireAffected(result)
}

// UpdateLastUsed records a successful authentication.
func (r *credentialMappingRepository) UpdateLastUsed(ctx context.Context, accessKey string, when time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE credential_mappings SET last_used_at = ? WHERE emulated_access_key = ?`,
		when.UTC().Format(time.RFC3339), accessKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}

// Delete removes a mapping by emulated access key.
func (r *credentialMappingRepository) Delete(ctx context.Context, accessKey string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM credential_mappings WHERE emulated_access_key = ?`, accessKey,
	)
	if err != nil {
		return fmt.Errorf("failed to delete credential mapping: %w", err)
	}
	return requireAffected(result)
}

// DeleteExpired removes mappings whose expiry has passed.
func (r *credentialMappingRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM credential_mappings WHERE expires_at IS NOT NULL AND expires_at < ?`,
		now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired mappings: %w", err)
	}
	return result.RowsAffected()
}

// rowScanner abstracts sql.Row and sql.Rows for scanMapping.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *credentialMappingRepository) scanMapping(row rowScanner) (*domain.CredentialMapping, error) {
	var m domain.CredentialMapping
	var status, createdAt string
	var expiresAt, lastUsedAt sql.NullString

	err := row.Scan(
		&m.ID,
		&m.EmulatedAccessKey,
		&m.EmulatedSecretEncrypted,
		&m.SessionToken,
		&m.RemoteAccessKey,
		&m.RemoteSecretEncrypted,
		&m.RemoteSessionToken,
		&m.Description,
		&status,
		&expiresAt,
		&createdAt,
		&lastUsedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan credential mapping: %w", err)
	}

	m.Status = domain.MappingStatus(status)

	if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
		m.ExpiresAt = &t
	}
	if lastUsedAt.Valid {
		t, err := time.Parse(time.RFC3339, lastUsedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_used_at: %w", err)
		}
		m.LastUsedAt = &t
	}

	return &m, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
