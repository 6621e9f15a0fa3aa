package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-gateway/internal/domain"
)

func TestSTSService_AssumeRole(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)

	tests := []struct {
		name    string
		input   AssumeRoleInput
		mutate  func(*domain.CredentialMapping)
		wantErr error
	}{
		{
			name: "default duration",
			input: AssumeRoleInput{
				CallerAccessKey: "AKIAEMULATEDKEY00001",
				RoleSessionName: "deploy",
			},
		},
		{
			name: "explicit duration",
			input: AssumeRoleInput{
				CallerAccessKey: "AKIAEMULATEDKEY00001",
				RoleSessionName: "deploy",
				Duration:        30 * time.Minute,
			},
		},
		{
			name: "duration too short",
			input: AssumeRoleInput{
				CallerAccessKey: "AKIAEMULATEDKEY00001",
				Duration:        time.Minute,
			},
			wantErr: ErrInvalidDuration,
		},
		{
			name: "duration too long",
			input: AssumeRoleInput{
				CallerAccessKey: "AKIAEMULATEDKEY00001",
				Duration:        13 * time.Hour,
			},
			wantErr: ErrInvalidDuration,
		},
		{
			name: "unknown caller",
			input: AssumeRoleInput{
				CallerAccessKey: "AKIADOESNOTEXIST0001",
			},
			wantErr: ErrMappingNotFound,
		},
		{
			name: "inactive caller",
			input: AssumeRoleInput{
				CallerAccessKey: "AKIAEMULATEDKEY00001",
			},
			mutate: func(m *domain.CredentialMapping) {
				m.Status = domain.MappingStatusInactive
			},
			wantErr: ErrMappingInactive,
		},
		{
			name: "expired caller",
			input: AssumeRoleInput{
				CallerAccessKey: "AKIAEMULATEDKEY00001",
			},
			mutate: func(m *domain.CredentialMapping) {
				m.ExpiresAt = &past
			},
			wantErr: ErrMappingInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockMappingRepository()
			enc := newTestEncryptor(t)
			seedMapping(t, repo, enc, tt.mutate)

			svc := NewSTSService(repo, enc, zerolog.Nop())
			out, err := svc.AssumeRole(context.Background(), tt.input)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			require.NotEmpty(t, out.AccessKeyID)
			require.NotEqual(t, tt.input.CallerAccessKey, out.AccessKeyID)
			require.NotEmpty(t, out.SecretAccessKey)
			require.NotEmpty(t, out.SessionToken)

			wantDuration := tt.input.Duration
			if wantDuration == 0 {
				wantDuration = DefaultAssumeRoleDuration
			}
			require.WithinDuration(t, time.Now().UTC().Add(wantDuration), out.Expiration, 5*time.Second)
		})
	}
}

func TestSTSService_AssumeRoleIssuesResolvableCredentials(t *testing.T) {
	repo := NewMockMappingRepository()
	enc := newTestEncryptor(t)
	caller := seedMapping(t, repo, enc, nil)

	sts := NewSTSService(repo, enc, zerolog.Nop())
	out, err := sts.AssumeRole(context.Background(), AssumeRoleInput{
		CallerAccessKey: caller,
		RoleSessionName: "nightly-backup",
	})
	require.NoError(t, err)

	// The issued credentials authenticate through the regular path and
	// carry the caller's remote credential.
	creds := NewCredentialService(repo, enc, zerolog.Nop())
	resolved, err := creds.Resolve(context.Background(), out.AccessKeyID, out.SessionToken)
	require.NoError(t, err)
	require.Equal(t, out.SecretAccessKey, resolved.Emulated.SecretAccessKey)
	require.Equal(t, "AKIAREMOTEKEY0000001", resolved.Remote.AccessKeyID)
	require.Equal(t, "remote-secret-value-000000000000000000", resolved.Remote.SecretAccessKey)

	// Without the session token the temporary credentials are useless.
	_, err = creds.Resolve(context.Background(), out.AccessKeyID, "")
	require.ErrorIs(t, err, ErrSessionTokenMismatch)
}

func TestSTSService_TemporaryMappingsExpire(t *testing.T) {
	repo := NewMockMappingRepository()
	enc := newTestEncryptor(t)
	caller := seedMapping(t, repo, enc, nil)

	sts := NewSTSService(repo, enc, zerolog.Nop())
	out, err := sts.AssumeRole(context.Background(), AssumeRoleInput{
		CallerAccessKey: caller,
		Duration:        MinAssumeRoleDuration,
	})
	require.NoError(t, err)

	// Force the temporary mapping past its expiry.
	expired := time.Now().UTC().Add(-time.Second)
	repo.mappings[out.AccessKeyID].ExpiresAt = &expired

	creds := NewCredentialService(repo, enc, zerolog.Nop())
	_, err = creds.Resolve(context.Background(), out.AccessKeyID, out.SessionToken)
	require.ErrorIs(t, err, ErrMappingExpired)

	n, err := creds.DeleteExpiredMappings(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
