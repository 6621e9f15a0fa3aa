package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prn-tf/alexander-gateway/internal/domain"
	"github.com/prn-tf/alexander-gateway/internal/repository"
)

// credentialMappingRepository implements
// repository.CredentialMappingRepository for PostgreSQL.
type credentialMappingRepository struct {
	db *DB
}

// NewCredentialMappingRepository creates a new PostgreSQL mapping repository.
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		m.EmulatedAccessKey,
		m.EmulatedSecretEncrypted,
		m.SessionToken,
		m.RemoteAccessKey,
		m.RemoteSecretEncrypted,
		m.RemoteSessionToken,
		m.Description,
		string(m.Status),
		m.ExpiresAt,
		m.CreatedAt.UTC(),
		m.LastUsedAt,
	).Scan(&m.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: emulated access key %s", repository.ErrAlreadyExists, m.EmulatedAccessKey)
		}
		return fmt.Errorf("failed to create credential mapping: %w", err)
	}

	return nil
}

// GetByEmulatedKey retrieves a mapping by its emulated access key.
func (r *credentialMappingRepository) GetByEmulatedKey(ctx context.Context, accessKey string) (*domain.CredentialMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM credential_mappings WHERE emulated_access_key = $1`
	return scanMapping(r.db.Pool.QueryRow(ctx, query, accessKey))
}

// List returns all mappings, newest first.
func (r *credentialMappingRepository) List(ctx context.Context) ([]*domain.CredentialMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM credential_mappings ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list credential mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*domain.CredentialMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// UpdateStatus sets a mapping's status.
func (r *credentialMappingRepository) UpdateStatus(ctx context.Context, accessKey string, status domain.MappingStatus) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE credential_mappings SET status = $1 WHERE emulated_access_key = $2`,
		string(status), accessKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update mapping status: %w", err)
	}
	return requireAffected(tag)
}

// UpdateLastUsed records a successful authentication.
func (r *credentialMappingRepository) UpdateLastUsed(ctx context.Context, accessKey string, when time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE credential_mappings SET last_used_at = $1 WHERE emulated_access_key = $2`,
		when.UTC(), accessKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}

// Delete removes a mapping by emulated access key.
func (r *credentialMappingRepository) Delete(ctx context.Context, accessKey string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM credential_mappings WHERE emulated_access_key = $1`, accessKey,
	)
	if err != nil {
		return fmt.Errorf("failed to delete credential mapping: %w", err)
	}
	return requireAffected(tag)
}

// DeleteExpired removes mappings whose expiry has passed.
func (r *credentialMappingRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM credential_mappings WHERE expires_at IS NOT NULL AND expires_at < $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired mappings: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanMapping(row pgx.Row) (*domain.CredentialMapping, error) {
	var m domain.CredentialMapping
	var status string

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
		&m.ExpiresAt,
		&m.CreatedAt,
		&m.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan credential mapping: %w", err)
	}

	m.Status = domain.MappingStatus(status)
	return &m, nil
}

// isUniqueViolation checks for the PostgreSQL unique violation code.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func requireAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
