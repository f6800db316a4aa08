// Package identity carries a request's rate-limit identity through a
// context.Context. The transport layer resolves who is calling (from auth
// state and the connection's remote address) and stashes it here; the
// admission engine only ever sees the resulting tier and subject.
package identity

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/toolink/admit/admission"
)

// identityKey is the private context key type, preventing collisions with
// other packages' context values.
type identityKey struct{}

// Identity is who a request is metered as: the tier picks the scope chain,
// the subject addresses the counters (an IP for anonymous callers, a stable
// user id otherwise).
type Identity struct {
	Tier    admission.Tier
	Subject string
}

// Anonymous builds the identity for an unauthenticated caller metered by
// its IP address.
func Anonymous(ip string) Identity {
	return Identity{Tier: admission.TierAnonymous, Subject: ip}
}

// Authenticated builds the identity for a logged-in user.
func Authenticated(userID string) Identity {
	return Identity{Tier: admission.TierAuthenticated, Subject: userID}
}

// Premium builds the identity for a premium user.
func Premium(userID string) Identity {
	return Identity{Tier: admission.TierPremium, Subject: userID}
}

// WithContext returns a context carrying the identity.
func (id Identity) WithContext(ctx context.Context) context.Context {
	if ctx == nil {
		log.Error().Msg("attaching identity to nil context, using background context")
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext extracts the identity set by the transport layer. The second
// return value is false when no identity was attached, in which case the
// caller should fall back to Anonymous with the connection address.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
