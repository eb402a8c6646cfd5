package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Mode is the boolean combinator applied over the requested capabilities.
type Mode string

const (
	// ModeSingle checks exactly one capability.
	ModeSingle Mode = "single"
	// ModeAny succeeds if at least one requested capability qualifies.
	ModeAny Mode = "any"
	// ModeAll succeeds only if every requested capability qualifies.
	ModeAll Mode = "all"
)

// Evaluator decides whether a principal may perform an action. It is pure
// with respect to its inputs aside from the grant lookup; it never writes.
type Evaluator struct {
	grants GrantStore
	now    func() time.Time
}

// EvaluatorOption configures Evaluator behavior.
type EvaluatorOption func(*Evaluator)

// WithEvaluatorClock overrides the time source (useful for tests).
func WithEvaluatorClock(fn func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEvaluator constructs an Evaluator over the given grant store.
func NewEvaluator(grants GrantStore, opts ...EvaluatorOption) (*Evaluator, error) {
	if grants == nil {
		return nil, errors.New("auth: grant store is required")
	}
	e := &Evaluator{grants: grants, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Check returns nil when the principal may perform the action. Denials are
// ErrPermissionDenied or ErrPermissionExpired; a failed grant lookup wraps
// ErrEvaluation, which callers must treat as fail-closed, not as an ordinary
// denial.
//
// Order: super_admin bypasses everything including the head-coach deny set;
// head_coach bypasses grant lookup for every capability outside that set;
// everyone else is decided by stored grants scoped to (principal, tenant).
func (e *Evaluator) Check(ctx context.Context, principal Principal, mode Mode, caps ...Capability) error {
	if len(caps) == 0 {
		return fmt.Errorf("%w: no capability requested", ErrEvaluation)
	}
	if mode == ModeSingle && len(caps) != 1 {
		return fmt.Errorf("%w: single mode takes exactly one capability", ErrEvaluation)
	}

	if principal.Role == RoleSuperAdmin {
		return nil
	}

	if principal.Role == RoleHeadCoach {
		return checkHeadCoach(mode, caps)
	}

	granted, err := e.grants.Granted(ctx, principal.ID, principal.TenantID, caps)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	now := e.now()
	qualifying := 0
	sawExpired := false
	for _, capability := range caps {
		grant, ok := granted[capability]
		if !ok {
			continue
		}
		if grant.Expired(now) {
			// An expired grant is treated as absent, but the denial reason
			// differs from a never-granted capability.
			sawExpired = true
			continue
		}
		qualifying++
	}

	switch mode {
	case ModeAll:
		if qualifying == len(caps) {
			return nil
		}
	case ModeSingle, ModeAny:
		if qualifying > 0 {
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrEvaluation, mode)
	}

	if sawExpired {
		return ErrPermissionExpired
	}
	return ErrPermissionDenied
}

func checkHeadCoach(mode Mode, caps []Capability) error {
	switch mode {
	case ModeAll:
		for _, capability := range caps {
			if _, denied := headCoachDenied[capability]; denied {
				return ErrPermissionDenied
			}
		}
		return nil
	case ModeSingle, ModeAny:
		for _, capability := range caps {
			if _, denied := headCoachDenied[capability]; !denied {
				return nil
			}
		}
		return ErrPermissionDenied
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrEvaluation, mode)
	}
}
