package media

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/warpcomdev/ratcam/internal/metrics"
	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
	"github.com/warpcomdev/ratcam/internal/rpc"
	"github.com/warpcomdev/ratcam/internal/worker"
)

// Manager is the per-process media bus endpoint: it is itself a
// plugin.Plugin, registered once per process under the same definition
// Name, so that every process's Manager can reach every other one
// through the ordinary plugin-lookup table (spec.md §4.6).
type Manager struct {
	logger ratcamlog.Logger
	self   plugin.Process
	name   string

	mu    sync.Mutex
	owned map[uuid.UUID]*ownedRecord
	// peers holds an RPC proxy to every other process's Manager. The
	// lookup table never hands this process a direct *Manager for a
	// non-self process — each process builds its own table with only its
	// own slot collapsed — so a peer is always reached over the wire.
	peers map[plugin.Process]*rpc.Proxy

	dispatchQ *worker.Queue[Record]
}

type ownedRecord struct {
	rec    Record
	inUse  plugin.Triple[bool]
}

// New constructs a Manager. name is the plugin.Definition name every
// process's Manager shares, so the lookup table resolves siblings.
func New(logger ratcamlog.Logger, name string) *Manager {
	return &Manager{
		logger: logger.With(ratcamlog.String("component", "media")),
		name:   name,
		owned:  make(map[uuid.UUID]*ownedRecord),
		peers:  make(map[plugin.Process]*rpc.Proxy),
	}
}

// Activate implements plugin.Plugin: it resolves every other process's
// Manager instance through the lookup table.
func (m *Manager) Activate(ctx context.Context, pctx *plugin.Context) error {
	m.self = pctx.Self
	inst, ok := pctx.Table.Find(m.name)
	if !ok {
		return fmt.Errorf("media: no definition named %q in topology", m.name)
	}
	for _, p := range plugin.All {
		if p == m.self {
			continue
		}
		slot := inst.Slots.Get(p)
		if slot == nil {
			continue
		}
		proxy, ok := slot.(*rpc.Proxy)
		if !ok {
			return fmt.Errorf("media: unexpected slot type %T for process %s", slot, p)
		}
		m.peers[p] = proxy
	}
	m.dispatchQ = worker.NewQueue(m.logger, "media-dispatch", 64, func(ctx context.Context, rec Record) {
		m.dispatchLocal(pctx.Table, rec)
	})
	return nil
}

// Deactivate stops the dispatch queue. Outstanding records are left on
// disk; cleanup of abandoned media on restart is out of scope
// (Non-goal: surviving a process restart with in-flight state).
func (m *Manager) Deactivate(ctx context.Context) error {
	if m.dispatchQ != nil {
		m.dispatchQ.Stop()
	}
	return nil
}

// Deliver implements the producer side of spec.md §4.6: allocate a uuid,
// build the in-use vector for every process that hosts a Manager, record
// it as owned here, then enqueue a one-way dispatch_media to every peer
// (including self).
func (m *Manager) Deliver(ctx context.Context, path string, kind Kind, info interface{}) (uuid.UUID, error) {
	id := uuid.New()
	rec := Record{UUID: id, Owner: m.self, Kind: kind, Path: path, Info: info}

	var inUse plugin.Triple[bool]
	inUse.Set(m.self, true)
	for p := range m.peers {
		inUse.Set(p, true)
	}

	m.mu.Lock()
	m.owned[id] = &ownedRecord{rec: rec, inUse: inUse}
	m.mu.Unlock()
	metrics.MediaInFlight.Inc()

	m.dispatchQ.Submit(rec)
	for _, proxy := range m.peers {
		if err := proxy.CallOneway("DispatchMedia", rec); err != nil {
			m.logger.Error("dispatch to peer failed", ratcamlog.Error(err))
		}
	}
	return id, nil
}

// DispatchMedia is the RPC-visible one-way method every peer (including
// self) calls: it hands rec to every locally-active media.Receiver, in
// plugin-declaration order, then reports consumption back to the owner.
func (m *Manager) DispatchMedia(rec Record) {
	if m.dispatchQ != nil {
		m.dispatchQ.Submit(rec)
	}
}

func (m *Manager) dispatchLocal(table plugin.Lookup, rec Record) {
	for _, slot := range table.InProcess(m.self) {
		recv, ok := slot.Value.(Receiver)
		if !ok {
			continue
		}
		if err := recv.HandleMedia(rec); err != nil {
			m.logger.Error("media receiver failed", ratcamlog.String("plugin", slot.Name), ratcamlog.Error(err))
		}
	}
	if err := m.consumeRemote(rec.Owner, rec.UUID); err != nil {
		m.logger.Error("consume_media failed", ratcamlog.Error(err))
	}
}

func (m *Manager) consumeRemote(owner plugin.Process, id uuid.UUID) error {
	if owner == m.self {
		return m.ConsumeMedia(id, m.self)
	}
	proxy, ok := m.peers[owner]
	if !ok {
		return fmt.Errorf("media: no peer known for owning process %s", owner)
	}
	return proxy.Call("ConsumeMedia", nil, id, m.self)
}

// ConsumeMedia is called on the owning process's Manager by every peer
// that finished dispatching rec. Invariant: the file is deleted exactly
// once, after every bit of the in-use vector has gone false; duplicate
// calls for the same (uuid, process) are idempotent no-ops.
func (m *Manager) ConsumeMedia(id uuid.UUID, by plugin.Process) error {
	m.mu.Lock()
	owned, ok := m.owned[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	owned.inUse.Set(by, false)
	done := true
	for _, p := range plugin.All {
		if owned.inUse.Get(p) {
			done = false
			break
		}
	}
	if done {
		delete(m.owned, id)
	}
	path := owned.rec.Path
	m.mu.Unlock()

	if done {
		metrics.MediaInFlight.Dec()
	}
	if !done {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Error("failed to delete consumed media file", ratcamlog.String("path", path), ratcamlog.Error(err))
	}
	return nil
}
