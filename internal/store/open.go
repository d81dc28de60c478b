// Package store provides the task.Store implementations: an in-memory map and
// SQLite through either the pure-Go or the cgo driver.
package store

import (
	"fmt"

	"taskpilot/internal/task"
)

// DriverMemory selects MemoryStore.
const DriverMemory = "memory"

// Backend is a task store that can also bootstrap the fixed actor.
type Backend interface {
	task.Store
	task.ActorStore
}

// Open returns the store selected by driver ("memory", "sqlite", "sqlite3").
func Open(driver, path string) (Backend, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case "", DriverModernc:
		return OpenSQL(DriverModernc, path)
	case DriverCgo:
		return OpenSQL(DriverCgo, path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
