package rules

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// Table maps scope names to their parsed limits. It is built once by
// NewTable and never mutated afterwards, so concurrent lookups need no
// synchronization.
type Table struct {
	limits map[string]Limit
}

// NewTable parses the raw scope -> rate-string mapping into a Table.
// Any malformed entry fails the whole table (fail fast at startup rather
// than per request).
func NewTable(raw map[string]string) (*Table, error) {
	limits := make(map[string]Limit, len(raw))

	// deterministic iteration so the first error reported is stable
	scopes := make([]string, 0, len(raw))
	for scope := range raw {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	for _, scope := range scopes {
		if scope == "" {
			return nil, fmt.Errorf("%w: empty scope name", ErrInvalidLimitFormat)
		}

		max, window, err := ParseRate(raw[scope])
		if err != nil {
			return nil, fmt.Errorf("scope %q: %w", scope, err)
		}

		limits[scope] = Limit{Scope: scope, Max: max, Window: window}
	}

	log.Debug().Int("scopes", len(limits)).Msg("rule table loaded")
	return &Table{limits: limits}, nil
}

// Lookup returns the limit for the given scope name.
func (t *Table) Lookup(scope string) (Limit, bool) {
	limit, ok := t.limits[scope]
	return limit, ok
}

// Scopes returns the sorted scope names of the table, mostly for diagnostics.
func (t *Table) Scopes() []string {
	scopes := make([]string, 0, len(t.limits))
	for scope := range t.limits {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// Len returns the number of rules in the table.
func (t *Table) Len() int {
	return len(t.limits)
}
