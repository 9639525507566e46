// Package state defines the persisted player state and the validation
// rules enforced on every mutation.
//
// The rules encode the anti-cheat posture of the save layer:
//
//   - values are never negative
//   - coins, level, experience and the day counter are monotonic
//     non-decreasing except through explicit validated paths
//     (SpendCoins, ResetForNewGame)
//   - outlier-sized deltas are accepted but flagged, because legitimate
//     large rewards exist and blocking them would break gameplay
//
// The package is pure: mutations return an Outcome describing what
// happened and the caller (the validated state store) turns outcomes
// into SecurityWarning events and persistence.
package state
