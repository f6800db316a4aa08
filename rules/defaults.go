package rules

// DefaultRules returns the stock rule set for the paste API. Deployments
// normally load this mapping from their configuration file; the defaults
// here keep single-binary setups and tests working without one.
//
// Scope naming convention: "global_limit" style rows cap everything a
// subject does, per-action rows cap one endpoint, and the authed_/premium_
// prefixed variants override the base row for that tier.
func DefaultRules() map[string]string {
	return map[string]string{
		// per-subject global caps, one row per tier
		"global_limit":         "60/minute",
		"authed_global_limit":  "120/minute",
		"premium_global_limit": "300/minute",

		// paste reads
		"getpaste":         "30/minute",
		"authed_getpaste":  "60/minute",
		"premium_getpaste": "120/minute",

		// paste creation
		"postpastes":         "10/minute",
		"authed_postpastes":  "20/minute",
		"premium_postpastes": "50/minute",

		// paste deletion, authenticated tiers only in practice but the
		// anonymous row keeps the chain total for token-bearing scripts
		"deletepaste":         "10/minute",
		"authed_deletepaste":  "20/minute",
		"premium_deletepaste": "40/minute",

		// account endpoints share one row across authed tiers
		"getuser": "30/minute",
	}
}
