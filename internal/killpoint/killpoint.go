//go:build crashtest

// Package killpoint provides named locations in the write path where a
// crash-test build exits the process on demand. Unlike a fault-injecting
// filesystem, a kill point stops the writer between two steps of a commit
// while the operating system keeps every byte already written.
//
// Usage:
//
//	// In the write path (compiled out without the build tag):
//	killpoint.MaybeKill(killpoint.CommitBodies1)
//
//	// In the test harness (via env var or API):
//	killpoint.Set(killpoint.CommitBodies1)
//
// Build with kill points enabled:
//
//	go test -tags crashtest ./...
package killpoint

import (
	"os"
	"sync"
	"sync/atomic"
)

type state struct {
	// target is the kill point that exits the process. Empty means none.
	target atomic.Value // string

	// armed gates all processing without clearing target.
	armed atomic.Bool

	mu        sync.RWMutex
	hitCounts map[string]int64
}

var global = &state{hitCounts: make(map[string]int64)}

func init() {
	if target := os.Getenv(EnvVar); target != "" {
		global.target.Store(target)
		global.armed.Store(true)
	}
}

// Set arms the kill point name. MaybeKill(name) then exits the process.
func Set(name string) {
	global.target.Store(name)
	global.armed.Store(true)
}

// Clear removes the target and disarms.
func Clear() {
	global.target.Store("")
	global.armed.Store(false)
}

// Arm enables kill point processing.
func Arm() {
	global.armed.Store(true)
}

// Disarm disables kill point processing and keeps the target.
func Disarm() {
	global.armed.Store(false)
}

// Armed reports whether kill points are processed.
func Armed() bool {
	return global.armed.Load()
}

// Target returns the current target.
func Target() string {
	if v, ok := global.target.Load().(string); ok {
		return v
	}
	return ""
}

// HitCount returns how many times an armed run reached name.
func HitCount(name string) int64 {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return global.hitCounts[name]
}

// ResetCounts zeroes all hit counts.
func ResetCounts() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.hitCounts = make(map[string]int64)
}

// MaybeKill exits the process with code 0 when kill points are armed and
// name is the target.
func MaybeKill(name string) {
	if !global.armed.Load() {
		return
	}

	global.mu.Lock()
	global.hitCounts[name]++
	global.mu.Unlock()

	if target, ok := global.target.Load().(string); ok && target != "" && target == name {
		os.Exit(0)
	}
}
