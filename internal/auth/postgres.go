package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGAccountStore implements AccountStore using PostgreSQL.
type PGAccountStore struct {
	db *sql.DB
}

var _ AccountStore = (*PGAccountStore)(nil)

func NewPGAccountStore(db *sql.DB) *PGAccountStore {
	return &PGAccountStore{db: db}
}

func (s *PGAccountStore) Find(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, tenant_id, email, password_hash, role, status, created_at, updated_at
		 from accounts where id=$1`, id)
	return scanAccount(row)
}

func (s *PGAccountStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, tenant_id, email, password_hash, role, status, created_at, updated_at
		 from accounts where email=$1`, email)
	return scanAccount(row)
}

func (s *PGAccountStore) UpdatePassword(ctx context.Context, accountID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set password_hash=$2, updated_at=now() where id=$1`,
		accountID, passwordHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.TenantID, &a.Email, &a.PasswordHash, &a.Role, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// PGRevocationLedger implements RevocationLedger using PostgreSQL. All
// writes are single-row, single-statement updates so concurrent revocations
// and purges never race on shared state.
type PGRevocationLedger struct {
	db  *sql.DB
	now func() time.Time
}

var _ RevocationLedger = (*PGRevocationLedger)(nil)

func NewPGRevocationLedger(db *sql.DB) *PGRevocationLedger {
	return &PGRevocationLedger{db: db, now: time.Now}
}

func (l *PGRevocationLedger) Revoke(ctx context.Context, tokenID, principalID string, naturalExpiry time.Time, reason RevokeReason) error {
	// on conflict do nothing makes re-revocation a no-op success.
	_, err := l.db.ExecContext(ctx,
		`insert into revoked_tokens(token_id, principal_id, revoked_at, natural_expiry, reason)
		 values($1,$2,$3,$4,$5)
		 on conflict (token_id) do nothing`,
		tokenID, principalID, l.now().UTC(), naturalExpiry, string(reason))
	return err
}

func (l *PGRevocationLedger) RevokeAllForPrincipal(ctx context.Context, principalID string, cutoff time.Time, reason RevokeReason) error {
	// greatest() keeps an already later cutoff; the cutoff only advances.
	_, err := l.db.ExecContext(ctx,
		`insert into revocation_cutoffs(principal_id, cutoff, reason)
		 values($1,$2,$3)
		 on conflict (principal_id) do update
		 set cutoff = greatest(revocation_cutoffs.cutoff, excluded.cutoff),
		     reason = excluded.reason`,
		principalID, cutoff, string(reason))
	return err
}

func (l *PGRevocationLedger) IsRevoked(ctx context.Context, tokenID, principalID string, issuedAt time.Time) (bool, error) {
	now := l.now().UTC()

	var one int
	err := l.db.QueryRowContext(ctx,
		`select 1 from revoked_tokens
		 where token_id=$1 and principal_id=$2 and natural_expiry > $3`,
		tokenID, principalID, now).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to the cutoff check
	default:
		return false, err
	}

	var cutoff time.Time
	err = l.db.QueryRowContext(ctx,
		`select cutoff from revocation_cutoffs where principal_id=$1`,
		principalID).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !issuedAt.After(cutoff), nil
}

func (l *PGRevocationLedger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`delete from revoked_tokens where natural_expiry <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PGGrantStore implements GrantStore using PostgreSQL.
type PGGrantStore struct {
	db *sql.DB
}

var _ GrantStore = (*PGGrantStore)(nil)

func NewPGGrantStore(db *sql.DB) *PGGrantStore {
	return &PGGrantStore{db: db}
}

func (s *PGGrantStore) Granted(ctx context.Context, principalID, tenantID string, caps []Capability) (map[Capability]PermissionGrant, error) {
	if len(caps) == 0 {
		return map[Capability]PermissionGrant{}, nil
	}
	requested := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		requested[c] = struct{}{}
	}
	// Grant rows per principal are few; fetching the tenant scope and
	// filtering here keeps the query free of array binds.
	rows, err := s.db.QueryContext(ctx,
		`select principal_id, tenant_id, capability, is_granted, granted_by, granted_at, expires_at
		 from permission_grants
		 where principal_id=$1 and tenant_id=$2 and is_granted`,
		principalID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Capability]PermissionGrant, len(caps))
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		if _, ok := requested[grant.Capability]; ok {
			out[grant.Capability] = grant
		}
	}
	return out, rows.Err()
}

func (s *PGGrantStore) Upsert(ctx context.Context, grant PermissionGrant) error {
	_, err := s.db.ExecContext(ctx,
		`insert into permission_grants(principal_id, tenant_id, capability, is_granted, granted_by, granted_at, expires_at)
		 values($1,$2,$3,$4,$5,$6,$7)
		 on conflict (principal_id, tenant_id, capability) do update
		 set is_granted = excluded.is_granted,
		     granted_by = excluded.granted_by,
		     granted_at = excluded.granted_at,
		     expires_at = excluded.expires_at`,
		grant.PrincipalID, grant.TenantID, string(grant.Capability),
		grant.IsGranted, grant.GrantedBy, grant.GrantedAt, grant.ExpiresAt)
	return err
}

func (s *PGGrantStore) List(ctx context.Context, principalID, tenantID string) ([]PermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`select principal_id, tenant_id, capability, is_granted, granted_by, granted_at, expires_at
		 from permission_grants
		 where principal_id=$1 and tenant_id=$2 order by capability`,
		principalID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []PermissionGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

func (s *PGGrantStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from permission_grants where expires_at is not null and expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type grantScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row grantScanner) (PermissionGrant, error) {
	var (
		grant      PermissionGrant
		capability string
		expiresAt  sql.NullTime
	)
	if err := row.Scan(&grant.PrincipalID, &grant.TenantID, &capability, &grant.IsGranted,
		&grant.GrantedBy, &grant.GrantedAt, &expiresAt); err != nil {
		return PermissionGrant{}, err
	}
	grant.Capability = Capability(capability)
	if expiresAt.Valid {
		t := expiresAt.Time
		grant.ExpiresAt = &t
	}
	return grant, nil
}
