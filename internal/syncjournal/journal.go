// Package syncjournal records the lifecycle of provider sync operations:
// when a sync started, what it touched, and how it ended. Every free-form
// string is sanitized before it is written, so journal rows can be shipped
// to logs or support tooling without leaking credentials.
package syncjournal

import (
	"context"
	"errors"
	"strings"
	"time"

	"sideline.org/internal/sanitize"
)

// Status is the terminal (or in-flight) state of a sync operation.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// OperationType names what the sync was doing.
type OperationType string

const (
	OpRosterImport   OperationType = "roster_import"
	OpScheduleImport OperationType = "schedule_import"
	OpStatsExport    OperationType = "stats_export"
)

var ErrNotFound = errors.New("syncjournal: record not found")

// Record is one journaled sync operation.
type Record struct {
	ID        string
	TenantID  string
	Provider  string
	Type      OperationType
	Status    Status
	Endpoint  string
	Params    map[string]string
	Created   int
	Updated   int
	Skipped   int
	Failed    int
	Error     string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Results carries the per-item outcome counters of a finished sync.
type Results struct {
	Created int
	Updated int
	Skipped int
	Failed  int
}

// DeriveStatus maps counters to a terminal status: every item failed is a
// failure, some failed is partial, none failed is completed. A sync that
// touched nothing at all still counts as completed.
func DeriveStatus(r Results) Status {
	processed := r.Created + r.Updated + r.Skipped
	switch {
	case r.Failed == 0:
		return StatusCompleted
	case processed == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Store persists journal records.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	Finish(ctx context.Context, id string, status Status, results Results, sanitizedError string, endedAt time.Time) error
	Find(ctx context.Context, id string) (*Record, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]Record, error)
}

// Journal is the write-side API used by sync workers.
type Journal struct {
	store Store
	now   func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(j *Journal) {
		if fn != nil {
			j.now = fn
		}
	}
}

func New(store Store, opts ...Option) (*Journal, error) {
	if store == nil {
		return nil, errors.New("syncjournal: store is required")
	}
	j := &Journal{store: store, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// StartOptions describes the sync being opened.
type StartOptions struct {
	Provider string
	Endpoint string
	Params   map[string]string
}

// LogStart opens a journal record in the started state. Endpoint and params
// are sanitized before touching storage.
func (j *Journal) LogStart(ctx context.Context, tenantID string, opType OperationType, opts StartOptions) (string, error) {
	rec := &Record{
		TenantID:  tenantID,
		Provider:  opts.Provider,
		Type:      opType,
		Status:    StatusStarted,
		Endpoint:  sanitize.Endpoint(opts.Endpoint),
		Params:    sanitize.Params(opts.Params),
		StartedAt: j.now().UTC(),
	}
	if err := j.store.Insert(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// LogComplete closes a record with counters, deriving the terminal status.
func (j *Journal) LogComplete(ctx context.Context, id string, results Results) error {
	return j.store.Finish(ctx, id, DeriveStatus(results), results, "", j.now().UTC())
}

// LogFailure closes a record as failed. The operation error and any per-item
// errors are sanitized and folded into one stored message.
func (j *Journal) LogFailure(ctx context.Context, id string, opErr error, itemErrors []string) error {
	parts := make([]string, 0, len(itemErrors)+1)
	if opErr != nil {
		parts = append(parts, sanitize.Error(opErr))
	}
	for _, item := range itemErrors {
		parts = append(parts, sanitize.Message(item))
	}
	msg := strings.Join(parts, "; ")
	return j.store.Finish(ctx, id, StatusFailed, Results{Failed: len(itemErrors)}, msg, j.now().UTC())
}
