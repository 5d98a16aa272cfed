// Package media implements the media delivery bus (component F,
// spec.md §4.6): a content-addressed handoff of on-disk artifacts
// between the three processes, with reference-counted cleanup so a file
// is deleted exactly once, after every running MediaManager has consumed
// it. Grounded on the media table / in-use vector in
// plugins/media_manager.py from original_source/.
package media

import (
	"github.com/google/uuid"
	"github.com/warpcomdev/ratcam/internal/plugin"
)

// Kind enumerates the artifact kinds a Manager ever hands out.
type Kind string

const (
	KindJPEG Kind = "jpeg"
	KindMP4  Kind = "mp4"
)

// Record is one in-flight artifact: a uuid, the process that produced
// it, its kind, its path on the shared filesystem, and an opaque info
// payload the producer attaches (typically the originating chat update,
// or nil for a broadcast).
type Record struct {
	UUID  uuid.UUID
	Owner plugin.Process
	Kind  Kind
	Path  string
	Info  interface{}
}

// Receiver is the capability a plugin opts into to be handed every media
// record dispatched on its process, replacing the dynamic "does this
// plugin implement MediaReceiver" check of the original with a
// compile-time interface (Design Note "Dynamic typing → tagged
// variants").
type Receiver interface {
	HandleMedia(rec Record) error
}

// inUseVector is one boolean per process; a record is eligible for
// deletion iff every bit is false.
type inUseVector = plugin.Triple[bool]
