package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		name   string
		rate   string
		max    uint64
		window time.Duration
		ok     bool
	}{
		{name: "per second", rate: "5/second", max: 5, window: time.Second, ok: true},
		{name: "per minute", rate: "60/minute", max: 60, window: time.Minute, ok: true},
		{name: "per hour", rate: "1000/hour", max: 1000, window: time.Hour, ok: true},
		{name: "per day", rate: "1/day", max: 1, window: 24 * time.Hour, ok: true},
		{name: "padded", rate: " 10 / minute ", max: 10, window: time.Minute, ok: true},
		{name: "missing slash", rate: "60 minute"},
		{name: "unknown unit", rate: "60/fortnight"},
		{name: "zero count", rate: "0/minute"},
		{name: "negative count", rate: "-5/minute"},
		{name: "fractional count", rate: "1.5/minute"},
		{name: "empty", rate: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			max, window, err := ParseRate(tc.rate)
			if !tc.ok {
				require.ErrorIs(t, err, ErrInvalidLimitFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.max, max)
			assert.Equal(t, tc.window, window)
		})
	}
}

func TestNewTable(t *testing.T) {
	table, err := NewTable(map[string]string{
		"global_limit": "60/minute",
		"postpastes":   "10/minute",
	})
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	limit, ok := table.Lookup("postpastes")
	require.True(t, ok)
	assert.Equal(t, Limit{Scope: "postpastes", Max: 10, Window: time.Minute}, limit)

	_, ok = table.Lookup("nope")
	assert.False(t, ok)
}

func TestNewTableFailsFast(t *testing.T) {
	_, err := NewTable(map[string]string{
		"global_limit": "60/minute",
		"broken":       "sixty/minute",
	})
	require.ErrorIs(t, err, ErrInvalidLimitFormat)
	assert.Contains(t, err.Error(), "broken")

	_, err = NewTable(map[string]string{"": "60/minute"})
	require.ErrorIs(t, err, ErrInvalidLimitFormat)
}

func TestDefaultRulesParse(t *testing.T) {
	table, err := NewTable(DefaultRules())
	require.NoError(t, err)

	// every tier's global row must be present for the resolver
	for _, scope := range []string{"global_limit", "authed_global_limit", "premium_global_limit"} {
		_, ok := table.Lookup(scope)
		assert.True(t, ok, "missing %s", scope)
	}
}
