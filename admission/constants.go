package admission

import "fmt"

// Tier is the service level of the subject being checked. It determines
// which rule table scopes apply: higher tiers supersede the lower tier's
// global row rather than stacking on top of it.
type Tier int

const (
	TierAnonymous Tier = iota
	TierAuthenticated
	TierPremium
)

// String implements fmt.Stringer.
func (t Tier) String() string {
	switch t {
	case TierAnonymous:
		return "anonymous"
	case TierAuthenticated:
		return "authenticated"
	case TierPremium:
		return "premium"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// globalScope is the rule table row capping everything this tier's subjects
// do, regardless of action.
func (t Tier) globalScope() string {
	switch t {
	case TierAuthenticated:
		return "authed_global_limit"
	case TierPremium:
		return "premium_global_limit"
	default:
		return "global_limit"
	}
}

// scopePrefix is prepended to an action name to form the tier-specific
// action scope, e.g. "premium_" + "postpastes".
func (t Tier) scopePrefix() string {
	switch t {
	case TierAuthenticated:
		return "authed_"
	case TierPremium:
		return "premium_"
	default:
		return ""
	}
}

// The known paste API actions. Callers pass these to Check; anything else
// is a programmer error at the call site.
const (
	ActionGetPaste    = "getpaste"
	ActionPostPastes  = "postpastes"
	ActionDeletePaste = "deletepaste"
	ActionGetUser     = "getuser"
)

// DefaultActions returns the action set of the paste API.
func DefaultActions() []string {
	return []string{ActionGetPaste, ActionPostPastes, ActionDeletePaste, ActionGetUser}
}
