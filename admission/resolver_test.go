package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolink/admit/rules"
)

func testTable(t *testing.T) *rules.Table {
	t.Helper()
	table, err := rules.NewTable(rules.DefaultRules())
	require.NoError(t, err)
	return table
}

func scopesOf(chain []rules.Limit) []string {
	scopes := make([]string, len(chain))
	for i, l := range chain {
		scopes[i] = l.Scope
	}
	return scopes
}

func TestResolverScopeChains(t *testing.T) {
	r, err := NewResolver(testTable(t))
	require.NoError(t, err)

	tests := []struct {
		tier   Tier
		action string
		want   []string
	}{
		{TierAnonymous, ActionPostPastes, []string{"global_limit", "postpastes"}},
		{TierAuthenticated, ActionPostPastes, []string{"authed_global_limit", "authed_postpastes"}},
		{TierPremium, ActionPostPastes, []string{"premium_global_limit", "premium_postpastes"}},
		{TierPremium, ActionGetPaste, []string{"premium_global_limit", "premium_getpaste"}},
		// getuser has no tier-specific rows: all tiers fall back to the base row
		{TierAuthenticated, ActionGetUser, []string{"authed_global_limit", "getuser"}},
		{TierPremium, ActionGetUser, []string{"premium_global_limit", "getuser"}},
	}

	for _, tc := range tests {
		chain, err := r.Resolve(tc.tier, tc.action)
		require.NoError(t, err, "%s/%s", tc.tier, tc.action)
		assert.Equal(t, tc.want, scopesOf(chain), "%s/%s", tc.tier, tc.action)
	}
}

func TestResolverUnknownAction(t *testing.T) {
	r, err := NewResolver(testTable(t))
	require.NoError(t, err)

	_, err = r.Resolve(TierAnonymous, "dropdatabase")
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestResolverUnknownTierFallsBackToAnonymous(t *testing.T) {
	r, err := NewResolver(testTable(t))
	require.NoError(t, err)

	chain, err := r.Resolve(Tier(42), ActionGetPaste)
	require.NoError(t, err)
	assert.Equal(t, []string{"global_limit", "getpaste"}, scopesOf(chain))
}

func TestNewResolverValidatesTable(t *testing.T) {
	// missing premium global row
	table, err := rules.NewTable(map[string]string{
		"global_limit":        "60/minute",
		"authed_global_limit": "120/minute",
		"getpaste":            "30/minute",
	})
	require.NoError(t, err)

	_, err = NewResolver(table, ActionGetPaste)
	require.ErrorIs(t, err, ErrMissingScope)

	// missing action row
	table, err = rules.NewTable(map[string]string{
		"global_limit":         "60/minute",
		"authed_global_limit":  "120/minute",
		"premium_global_limit": "300/minute",
	})
	require.NoError(t, err)

	_, err = NewResolver(table, ActionGetPaste)
	require.ErrorIs(t, err, ErrMissingScope)
}
