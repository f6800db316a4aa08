// Package window implements the sliding-window counter approximation shared
// by every counter store backend. A key's state is two fixed sub-windows
// (current and previous) and the sliding count is estimated as
//
//	estimate = cur + prev * weight
//
// where weight is the fraction of the previous sub-window still covered by
// the trailing window. This keeps memory at O(1) per key while avoiding the
// burst-at-boundary flaw of naive fixed windows.
//
// Everything in this package is pure: same inputs, same outputs. Stores are
// responsible for wrapping Advance in their own per-key atomicity.
package window

import (
	"time"

	"github.com/toolink/admit/rules"
)

// State is the per-key counter state: hit counts for the current and
// previous sub-window, plus the current sub-window's start. A zero State is
// valid and means "no hits seen yet".
type State struct {
	Cur   uint64    // hits in the current sub-window
	Prev  uint64    // hits in the previous sub-window
	Start time.Time // start of the current sub-window
}

// Expired reports whether the state no longer contributes to any estimate,
// i.e. both sub-windows have fully elapsed. Stores use this for passive
// eviction.
func (s State) Expired(now time.Time, window time.Duration) bool {
	if s.Start.IsZero() {
		return true
	}
	return now.Sub(s.Start) >= 2*window
}

// rolled advances the sub-windows to cover now. One elapsed window shifts
// current into previous; two or more elapsed windows discard both counts.
func (s State) rolled(now time.Time, window time.Duration) State {
	if s.Start.IsZero() {
		return State{Start: now}
	}

	elapsed := now.Sub(s.Start)
	switch {
	case elapsed < window:
		return s
	case elapsed < 2*window:
		return State{Prev: s.Cur, Start: s.Start.Add(window)}
	default:
		return State{Start: now}
	}
}

// weight is the unexpired fraction of the previous sub-window, in [0, 1].
// Assumes the state has already been rolled to cover now.
func (s State) weight(now time.Time, window time.Duration) float64 {
	w := 1 - float64(now.Sub(s.Start))/float64(window)
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

// Estimate returns the approximated number of hits inside the trailing
// window ending at now. Assumes a rolled state.
func (s State) Estimate(now time.Time, window time.Duration) float64 {
	return float64(s.Cur) + float64(s.Prev)*s.weight(now, window)
}

// Advance performs one increment-and-check step: roll the sub-windows,
// estimate the sliding count, and either record the hit or deny it. The
// returned state must be persisted by the caller even on denial, because the
// roll itself is a state change. retryAfter is zero when admitted.
func Advance(s State, now time.Time, limit rules.Limit) (next State, admitted bool, retryAfter time.Duration) {
	s = s.rolled(now, limit.Window)

	if s.Estimate(now, limit.Window)+1 > float64(limit.Max) {
		return s, false, retryIn(s, now, limit)
	}

	s.Cur++
	return s, true, 0
}

// retryIn computes when the estimate will have decayed enough to admit one
// more hit, assuming no further hits arrive in the meantime.
func retryIn(s State, now time.Time, limit rules.Limit) time.Duration {
	win := float64(limit.Window)
	slack := float64(limit.Max) - 1 - float64(s.Cur)

	var ready time.Time
	if slack < 0 {
		// The current sub-window alone saturates the limit. Wait for it to
		// roll into the previous slot, then for its weight to decay.
		frac := 1 - (float64(limit.Max)-1)/float64(s.Cur)
		ready = s.Start.Add(limit.Window).Add(time.Duration(frac * win))
	} else {
		// Only the previous sub-window stands in the way: admission opens
		// once prev * weight <= slack.
		frac := 1 - slack/float64(s.Prev)
		ready = s.Start.Add(time.Duration(frac * win))
	}

	retry := ready.Sub(now)
	if retry <= 0 {
		return 0
	}
	// round up so callers sleeping exactly retryAfter land past the boundary
	if rem := retry % time.Millisecond; rem != 0 {
		retry += time.Millisecond - rem
	}
	return retry
}
