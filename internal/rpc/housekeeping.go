package rpc

import "github.com/warpcomdev/ratcam/internal/plugin"

// HousekeepingName is the reserved object name every process's Server
// registers its Housekeeping object under. It is never part of the
// user-facing plugin topology, which is why it lives outside
// plugin.Definition's namespace.
const HousekeepingName = "__housekeeping"

// Topology is what the parent (MAIN) process pushes to each child once
// every process's Server is listening: the full plugin declaration list
// plus where to find every other process's socket, so each child can
// build its own collapsed plugin-lookup table without ever seeing the
// parent's in-memory objects directly (spec.md §4.2's "Global mutable
// plugin table" Design Note, resolved by explicit propagation instead of
// shared state).
type Topology struct {
	Definitions []plugin.Definition
	Sockets     plugin.Triple[string]
}

// Housekeeping is implemented by the per-process bootstrapper that reacts
// to a pushed Topology by instantiating, registering and activating that
// process's local plugin slots. RegisterHousekeeping wires one onto a
// Server under HousekeepingName.
type Housekeeping interface {
	SetTopology(topo Topology) error
}

// RegisterHousekeeping exposes h on s under the reserved name.
func RegisterHousekeeping(s *Server, h Housekeeping) {
	s.Register(HousekeepingName, h)
}
