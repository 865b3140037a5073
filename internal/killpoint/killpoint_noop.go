//go:build !crashtest

package killpoint

// Set is a no-op in production builds.
func Set(_ string) {}

// Clear is a no-op in production builds.
func Clear() {}

// Arm is a no-op in production builds.
func Arm() {}

// Disarm is a no-op in production builds.
func Disarm() {}

// Armed always returns false in production builds.
func Armed() bool { return false }

// Target always returns "" in production builds.
func Target() string { return "" }

// HitCount always returns 0 in production builds.
func HitCount(_ string) int64 { return 0 }

// ResetCounts is a no-op in production builds.
func ResetCounts() {}

// MaybeKill is a no-op in production builds.
func MaybeKill(_ string) {}
