package syncjournal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"sideline.org/internal/ids"
)

// PGStore implements Store using PostgreSQL. Params are stored as jsonb.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	params, err := encodeParams(rec.Params)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into sync_operations(
			id, tenant_id, provider, operation_type, status,
			endpoint, params, started_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.TenantID, rec.Provider, string(rec.Type), string(rec.Status),
		rec.Endpoint, params, rec.StartedAt)
	return err
}

func (s *PGStore) Finish(ctx context.Context, id string, status Status, results Results, sanitizedError string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update sync_operations
		 set status = $2,
		     created_count = $3,
		     updated_count = $4,
		     skipped_count = $5,
		     failed_count = $6,
		     error = $7,
		     ended_at = $8
		 where id = $1`,
		id, string(status), results.Created, results.Updated, results.Skipped,
		results.Failed, sanitizedError, endedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const journalColumns = `id, tenant_id, provider, operation_type, status,
	endpoint, params, created_count, updated_count, skipped_count,
	failed_count, error, started_at, ended_at`

func (s *PGStore) Find(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+journalColumns+` from sync_operations where id=$1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *PGStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+journalColumns+` from sync_operations
		 where tenant_id=$1 order by started_at desc limit $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

type recordScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row recordScanner) (*Record, error) {
	var (
		rec     Record
		opType  string
		status  string
		params  []byte
		endedAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Provider, &opType, &status,
		&rec.Endpoint, &params, &rec.Created, &rec.Updated, &rec.Skipped,
		&rec.Failed, &rec.Error, &rec.StartedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	rec.Type = OperationType(opType)
	rec.Status = Status(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &rec.Params); err != nil {
			return nil, err
		}
	}
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	return &rec, nil
}

func encodeParams(params map[string]string) ([]byte, error) {
	if len(params) == 0 {
		return nil, nil
	}
	return json.Marshal(params)
}
