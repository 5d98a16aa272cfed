package plugin

import "context"

// TypeName identifies a registered, no-argument-constructible Go type
// hosted by a singleton server (internal/rpc/singleton). Plugin authors
// register a constructor under this name via Register; the processes host
// never constructs a concrete type directly, only through this registry,
// because a name must be allowed to cross the RPC boundary to the child
// process that owns the slot.
type TypeName string

// Definition is a plugin's declaration: a unique name plus up to three
// type identifiers, one per process. A zero TypeName means "not present
// on this process".
type Definition struct {
	Name  string
	Types Triple[TypeName]
}

// Instance is the running counterpart of a Definition: the same shape,
// holding either a local object or a remote proxy per process. Absent
// slots are nil, and Instance.Types implied by the originating Definition
// is invariant: non-nil iff the Definition's slot was non-empty.
type Instance struct {
	Name  string
	Slots Triple[any]
}

// Plugin is implemented by every constructible plugin type. Activate is
// called exactly once per process slot after the plugin-lookup table has
// been published; Deactivate is called once during teardown.
type Plugin interface {
	Activate(ctx context.Context, pctx *Context) error
	Deactivate(ctx context.Context) error
}

// Context is handed to Activate/Deactivate. It carries the process tag the
// plugin instance is running on and the read-only plugin-lookup table,
// replacing the "global mutable plugin table" Design Note calls out:
// rather than a package-level singleton, the table is threaded explicitly.
type Context struct {
	Self  Process
	Table Lookup
}

// Slot names one definition's instance on a single process, preserving
// declaration order so capability scans (e.g. media.Receiver dispatch)
// are deterministic.
type Slot struct {
	Name  string
	Value any
}

// Lookup is the read-only interface internal/rpc/lookup.Table satisfies;
// declared here (rather than imported) to avoid an import cycle between
// plugin and lookup.
type Lookup interface {
	Find(name string) (Instance, bool)
	InProcess(p Process) []Slot
}

// Registry maps a TypeName to a zero-argument constructor. Each process
// binary registers every plugin type it knows how to build at init() time;
// the singleton host consults this registry when asked to instantiate a
// TypeName that arrived over RPC.
type Registry struct {
	ctors map[TypeName]func() Plugin
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[TypeName]func() Plugin)}
}

func (r *Registry) Register(name TypeName, ctor func() Plugin) {
	r.ctors[name] = ctor
}

func (r *Registry) New(name TypeName) (Plugin, bool) {
	ctor, ok := r.ctors[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}
