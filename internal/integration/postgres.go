package integration

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sideline.org/internal/ids"
)

// PGCredentialStore implements CredentialStore using PostgreSQL.
type PGCredentialStore struct {
	db *sql.DB
}

var _ CredentialStore = (*PGCredentialStore)(nil)

func NewPGCredentialStore(db *sql.DB) *PGCredentialStore {
	return &PGCredentialStore{db: db}
}

const credentialColumns = `id, tenant_id, provider, credential_type,
	encrypted_secret, encrypted_access_token, encrypted_refresh_token,
	token_expires_at, refresh_token_expires_at, last_refreshed_at,
	refresh_error_count, last_error, is_active, created_at, updated_at`

func (s *PGCredentialStore) Get(ctx context.Context, tenantID, provider string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+credentialColumns+` from integration_credentials
		 where tenant_id=$1 and provider=$2`, tenantID, provider)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return cred, nil
}

func (s *PGCredentialStore) Create(ctx context.Context, cred *Credential) error {
	if cred.ID == "" {
		cred.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into integration_credentials(
			id, tenant_id, provider, credential_type,
			encrypted_secret, encrypted_access_token, encrypted_refresh_token,
			token_expires_at, refresh_token_expires_at, is_active)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		cred.ID, cred.TenantID, cred.Provider, string(cred.Type),
		cred.EncryptedSecret, cred.EncryptedAccessToken, cred.EncryptedRefreshToken,
		cred.TokenExpiresAt, cred.RefreshTokenExpiresAt, cred.IsActive)
	return err
}

func (s *PGCredentialStore) ListByTenant(ctx context.Context, tenantID string) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+credentialColumns+` from integration_credentials
		 where tenant_id=$1 order by provider`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCredentials(rows)
}

func (s *PGCredentialStore) ListRefreshDue(ctx context.Context, now time.Time, buffer time.Duration) ([]Credential, error) {
	horizon := now.Add(buffer)
	rows, err := s.db.QueryContext(ctx,
		`select `+credentialColumns+` from integration_credentials
		 where is_active
		   and (token_expires_at is null or token_expires_at <= $1)
		   and (refresh_token_expires_at is null or refresh_token_expires_at > $2)
		 order by tenant_id, provider`, horizon, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCredentials(rows)
}

func (s *PGCredentialStore) RecordRefreshSuccess(ctx context.Context, id string, upd RefreshUpdate, at time.Time) error {
	// is_active is deliberately untouched: a later success never
	// reactivates a deactivated credential.
	res, err := s.db.ExecContext(ctx,
		`update integration_credentials
		 set encrypted_access_token = $2,
		     encrypted_refresh_token = $3,
		     token_expires_at = $4,
		     refresh_token_expires_at = $5,
		     last_refreshed_at = $6,
		     refresh_error_count = 0,
		     last_error = '',
		     updated_at = $6
		 where id = $1`,
		id, upd.EncryptedAccessToken, upd.EncryptedRefreshToken,
		upd.TokenExpiresAt, upd.RefreshTokenExpiresAt, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGCredentialStore) RecordRefreshFailure(ctx context.Context, id, sanitizedMessage string, maxErrors int, at time.Time) (int, bool, error) {
	// Increment-and-compare in one statement so concurrent failures cannot
	// lose an update or deactivate twice.
	var (
		count    int
		isActive bool
	)
	err := s.db.QueryRowContext(ctx,
		`update integration_credentials
		 set refresh_error_count = refresh_error_count + 1,
		     last_error = $2,
		     is_active = case when refresh_error_count + 1 >= $3 then false else is_active end,
		     updated_at = $4
		 where id = $1
		 returning refresh_error_count, is_active`,
		id, sanitizedMessage, maxErrors, at).Scan(&count, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, err
	}
	return count, !isActive, nil
}

func (s *PGCredentialStore) Reactivate(ctx context.Context, tenantID, provider string) error {
	res, err := s.db.ExecContext(ctx,
		`update integration_credentials
		 set is_active = true, refresh_error_count = 0, last_error = '', updated_at = now()
		 where tenant_id = $1 and provider = $2`,
		tenantID, provider)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type credentialScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row credentialScanner) (*Credential, error) {
	var (
		cred            Credential
		credType        string
		tokenExp        sql.NullTime
		refreshTokenExp sql.NullTime
		lastRefreshed   sql.NullTime
	)
	err := row.Scan(&cred.ID, &cred.TenantID, &cred.Provider, &credType,
		&cred.EncryptedSecret, &cred.EncryptedAccessToken, &cred.EncryptedRefreshToken,
		&tokenExp, &refreshTokenExp, &lastRefreshed,
		&cred.RefreshErrorCount, &cred.LastError, &cred.IsActive,
		&cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cred.Type = CredentialType(credType)
	if tokenExp.Valid {
		t := tokenExp.Time
		cred.TokenExpiresAt = &t
	}
	if refreshTokenExp.Valid {
		t := refreshTokenExp.Time
		cred.RefreshTokenExpiresAt = &t
	}
	if lastRefreshed.Valid {
		t := lastRefreshed.Time
		cred.LastRefreshedAt = &t
	}
	return &cred, nil
}

func collectCredentials(rows *sql.Rows) ([]Credential, error) {
	var creds []Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	return creds, rows.Err()
}
