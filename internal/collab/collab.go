// Package collab declares the narrow collaborator contracts the shuffle
// core depends on but does not implement itself (spec §6, §9): slot
// actions, the timer service, and the optional buffer compressor. Partition
// lookup/wiring collaborators (e.g. a buffer-pool factory) are declared
// next to their consumer instead, since they reference that consumer's own
// concrete types and gain nothing from living here.
package collab

import "time"

// SlotActions is invoked by the slot table when a slot's lifecycle
// requires an external decision: free a slot whose last task attempt was
// just removed, or act on a fired timeout.
type SlotActions interface {
	// FreeSlot requests that the slot currently held by allocationID be
	// freed once it has no attached payloads.
	FreeSlot(allocationID string) error
	// TimeoutSlot is invoked when a registered timeout for allocationID
	// fires and ticket is still the live ticket for that key.
	TimeoutSlot(allocationID string, ticket uint64) error
}

// TimeoutListener receives fired timeouts from a TimerService. The
// listener, not the service, is responsible for re-checking IsValid
// before acting, since a timeout may race a re-arm.
type TimeoutListener interface {
	NotifyTimeout(key string, ticket uint64)
}

// TimerService is a dedicated timer keyed by (key, ticket): registering a
// new timeout for an already-registered key invalidates the previous
// ticket, so a late callback bearing a stale ticket is recognized as
// superseded rather than acted upon. This is how re-arming (e.g.
// markActive/markInactive on a slot) avoids races with an in-flight fire.
type TimerService interface {
	// RegisterTimeout arms a timeout for key, superseding any previous
	// registration for the same key, and returns the new ticket.
	RegisterTimeout(key string, duration time.Duration) (ticket uint64, err error)
	// UnregisterTimeout cancels any pending timeout for key.
	UnregisterTimeout(key string)
	// IsValid reports whether ticket is still the live ticket for key.
	IsValid(key string, ticket uint64) bool
	// Start begins delivering fired timeouts to listener.
	Start(listener TimeoutListener)
	// Stop halts the timer service and releases its resources.
	Stop()
}

// BufferCompressor is the optional data-only compressor collaborator.
// Events always bypass it; implementations compress/decompress bulk
// byte payloads only.
type BufferCompressor interface {
	// Compress returns a compressed copy of src. Implementations may
	// return src unchanged (and ok=false) if compression would not help.
	Compress(src []byte) (dst []byte, ok bool)
	// Decompress reverses Compress.
	Decompress(src []byte) (dst []byte, err error)
}
