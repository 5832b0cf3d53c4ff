// Package localcache holds the per-device caches for table view perspectives:
// a small cookie-backed pointer naming the active perspective and a richer
// snapshot of the last-applied settings. Both are best-effort caches that are
// always safe to discard and rebuild from server state; no operation in this
// package returns an error, and storage failures must never surface to the
// view.
package localcache

import (
	"time"

	"github.com/vantagehq/vantage/backend/internal/settings"
)

// Snapshot caches the last-applied settings for one table so a view can be
// seeded before the server round-trip resolves.
type Snapshot struct {
	PerspectiveID string                        `json:"perspectiveId"`
	Settings      *settings.PerspectiveSettings `json:"settings"`
	UpdatedAt     time.Time                     `json:"updatedAt"`
}

// PointerStore reads and writes the active-perspective pointer for a table.
// An empty perspective id clears the pointer.
type PointerStore interface {
	ReadPointer(tableID string) string
	WritePointer(tableID, perspectiveID string)
}

// SnapshotStore reads and writes the last-applied settings snapshot for a
// table. A nil snapshot clears the entry.
type SnapshotStore interface {
	ReadSnapshot(tableID string) *Snapshot
	WriteSnapshot(tableID string, snapshot *Snapshot)
}

// Key builds the namespaced cache key shared by the cookie and snapshot
// stores.
func Key(prefix, tableID string) string {
	return prefix + ":" + tableID
}
