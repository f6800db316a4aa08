// Package admission orchestrates rate-limit checks: it resolves the ordered
// limit chain for a (tier, action) pair and evaluates it against a counter
// store, returning an admit/deny decision with a retry-after hint.
package admission

import (
	"errors"
	"fmt"

	"github.com/toolink/admit/rules"
)

var (
	// ErrUnknownAction marks a Check call with an action that is not part
	// of the API surface. This is a programmer error at the call site, not
	// a request-time condition.
	ErrUnknownAction = errors.New("admission: unknown action")

	// ErrMissingScope is returned at construction when the rule table lacks
	// a row the resolver needs. Config-time fatal, like a malformed rate.
	ErrMissingScope = errors.New("admission: scope not in rule table")
)

// Resolver expands a (tier, action) pair into its ordered scope chain:
// the tier's global limit first, then the action limit, preferring the
// tier-prefixed row and falling back to the base row. Pure and immutable
// after construction.
type Resolver struct {
	table  *rules.Table
	chains map[Tier]map[string][]rules.Limit
}

// NewResolver builds a resolver over the rule table for the given actions
// (DefaultActions when none are passed). Every chain is resolved eagerly so
// that a rule table missing a required row fails startup, not a request.
func NewResolver(table *rules.Table, actions ...string) (*Resolver, error) {
	if len(actions) == 0 {
		actions = DefaultActions()
	}

	r := &Resolver{
		table:  table,
		chains: make(map[Tier]map[string][]rules.Limit, 3),
	}

	for _, tier := range []Tier{TierAnonymous, TierAuthenticated, TierPremium} {
		global, ok := table.Lookup(tier.globalScope())
		if !ok {
			return nil, fmt.Errorf("%w: %q (global row for tier %s)", ErrMissingScope, tier.globalScope(), tier)
		}

		byAction := make(map[string][]rules.Limit, len(actions))
		for _, action := range actions {
			if action == "" {
				return nil, fmt.Errorf("%w: empty action name", ErrUnknownAction)
			}

			// prefer the tier-specific row, fall back to the base row
			limit, ok := table.Lookup(tier.scopePrefix() + action)
			if !ok {
				if limit, ok = table.Lookup(action); !ok {
					return nil, fmt.Errorf("%w: %q (no row for action %q, tier %s)", ErrMissingScope, action, action, tier)
				}
			}

			byAction[action] = []rules.Limit{global, limit}
		}
		r.chains[tier] = byAction
	}

	return r, nil
}

// Resolve returns the ordered limit chain for the pair, most general first.
// The returned slice is shared; callers must not mutate it.
func (r *Resolver) Resolve(tier Tier, action string) ([]rules.Limit, error) {
	byAction, ok := r.chains[tier]
	if !ok {
		// unknown Tier values resolve as anonymous rather than failing:
		// the zero value is the safe floor
		byAction = r.chains[TierAnonymous]
	}

	chain, ok := byAction[action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return chain, nil
}
