package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toolink/admit/rules"
	"github.com/toolink/admit/store"
)

// FailurePolicy governs the outcome of a check when the counter store is
// unreachable.
type FailurePolicy int

const (
	// FailClosed denies requests while the store is down. The default:
	// an unprotected backend is worse than shed traffic.
	FailClosed FailurePolicy = iota
	// FailOpen admits requests while the store is down, favoring
	// availability over protection.
	FailOpen
)

// Reason explains a decision beyond the admit/deny bit, so callers can pick
// the right response (429 vs 503) without re-deriving state.
type Reason string

const (
	ReasonRateLimited      Reason = "rate_limited"
	ReasonStoreUnavailable Reason = "store_unavailable"
	ReasonUnknownAction    Reason = "unknown_action"
)

// Decision is the well-typed outcome of a check. Per-request conditions
// always resolve to a Decision, never to an error the caller has to unwind.
type Decision struct {
	Admitted   bool
	RetryAfter time.Duration // zero unless Reason is ReasonRateLimited
	Scope      string        // the scope that caused denial, for headers/logs
	Reason     Reason        // empty when admitted normally
}

// Engine evaluates a subject's request against its scope chain in
// precedence order, short-circuiting on the first denial. Scopes already
// incremented before the denial point are not rolled back: partial
// consumption on deny is an accepted trade-off.
type Engine struct {
	resolver *Resolver
	store    store.Store
	policy   FailurePolicy
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFailurePolicy selects fail-open or fail-closed behavior on store
// errors. Default is FailClosed.
func WithFailurePolicy(policy FailurePolicy) EngineOption {
	return func(e *Engine) {
		e.policy = policy
	}
}

// NewEngine wires a resolver and a counter store into an admission engine.
func NewEngine(resolver *Resolver, st store.Store, opts ...EngineOption) *Engine {
	if resolver == nil {
		panic("admission: resolver cannot be nil")
	}
	if st == nil {
		panic("admission: store cannot be nil")
	}

	e := &Engine{
		resolver: resolver,
		store:    st,
		policy:   FailClosed,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// counterKey addresses one rolling window's state. The action is folded
// into the scope name for action rows and deliberately absent from tier
// global rows, so a tier's global cap aggregates across actions.
func counterKey(scope, subject string) string {
	return fmt.Sprintf("scope:%s|sub:%s", scope, subject)
}

// Check runs the admission decision for one inbound request. The returned
// error is non-nil only for ErrUnknownAction, alongside a denying Decision:
// production callers log it and act on the Decision, development callers can
// treat it as fatal.
func (e *Engine) Check(ctx context.Context, tier Tier, subject, action string) (Decision, error) {
	if subject == "" {
		log.Error().Stringer("tier", tier).Str("action", action).Msg("check called with empty subject")
		return Decision{Reason: ReasonUnknownAction}, fmt.Errorf("%w: empty subject", ErrUnknownAction)
	}

	chain, err := e.resolver.Resolve(tier, action)
	if err != nil {
		log.Error().Err(err).Stringer("tier", tier).Str("action", action).Msg("action not registered, denying")
		return Decision{Reason: ReasonUnknownAction}, err
	}

	for _, limit := range chain {
		res, err := e.store.IncrementAndCheck(ctx, counterKey(limit.Scope, subject), limit)
		if err != nil {
			return e.onStoreFailure(tier, subject, action, limit, err), nil
		}

		if !res.Admitted {
			log.Warn().
				Stringer("tier", tier).
				Str("subject", subject).
				Str("action", action).
				Str("scope", limit.Scope).
				Dur("retry_after", res.RetryAfter).
				Msg("rate limit exceeded")
			return Decision{
				RetryAfter: res.RetryAfter,
				Scope:      limit.Scope,
				Reason:     ReasonRateLimited,
			}, nil
		}
	}

	return Decision{Admitted: true}, nil
}

// onStoreFailure applies the configured failure policy.
func (e *Engine) onStoreFailure(tier Tier, subject, action string, limit rules.Limit, err error) Decision {
	if e.policy == FailOpen {
		log.Warn().Err(err).
			Stringer("tier", tier).
			Str("subject", subject).
			Str("action", action).
			Str("scope", limit.Scope).
			Msg("counter store unavailable, admitting (fail-open)")
		return Decision{Admitted: true, Reason: ReasonStoreUnavailable}
	}

	log.Error().Err(err).
		Stringer("tier", tier).
		Str("subject", subject).
		Str("action", action).
		Str("scope", limit.Scope).
		Msg("counter store unavailable, denying (fail-closed)")
	return Decision{Scope: limit.Scope, Reason: ReasonStoreUnavailable}
}

// Reset evicts every counter the (tier, subject, action) chain touches.
// Meant for admin resets and tests; wrap the store with notify.BroadcastStore
// to propagate resets across replicas.
func (e *Engine) Reset(ctx context.Context, tier Tier, subject, action string) error {
	chain, err := e.resolver.Resolve(tier, action)
	if err != nil {
		return err
	}

	var errs []error
	for _, limit := range chain {
		if err := e.store.Evict(ctx, counterKey(limit.Scope, subject)); err != nil {
			errs = append(errs, fmt.Errorf("evict %s: %w", limit.Scope, err))
		}
	}
	return errors.Join(errs...)
}
