// Package pluginhost instantiates and activates the plugin slots that
// belong to one OS process, and builds that process's collapsed
// plugin-lookup table. The same Bootstrap logic runs identically inside
// MAIN (which drives it directly) and inside CAMERA/CHAT (which drive it
// in reaction to a pushed rpc.Topology, via their Housekeeping object) —
// there is exactly one code path for "become this process", matching the
// teacher's preference for one entry point reused by both the installed
// service and a foreground debug run (internal/driver/servicelog).
package pluginhost

import (
	"context"
	"fmt"

	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
	"github.com/warpcomdev/ratcam/internal/rpc"
	"github.com/warpcomdev/ratcam/internal/rpc/lookup"
)

// Host owns this process's share of the plugin topology: the live
// plugin.Plugin objects it constructed, and the lookup.Table built from
// them plus proxies to every other process.
type Host struct {
	logger ratcamlog.Logger
	self   plugin.Process
	server *rpc.Server

	locals map[string]plugin.Plugin
	table  *lookup.Table
}

// New wires a Host that will register its local objects on server.
func New(logger ratcamlog.Logger, self plugin.Process, server *rpc.Server) *Host {
	return &Host{
		logger: logger.With(ratcamlog.String("process", self.String())),
		server: server,
		self:   self,
		locals: make(map[string]plugin.Plugin),
	}
}

// Instantiate constructs every plugin definition whose slot for this
// process is non-empty, via registry, and registers each on the process's
// Server so remote proxies can reach it. It does not Activate them yet —
// that happens once the full topology (and hence a usable lookup.Table)
// is known, in Activate.
func (h *Host) Instantiate(registry *plugin.Registry, defs []plugin.Definition) error {
	for _, def := range defs {
		typeName := def.Types.Get(h.self)
		if typeName == "" {
			continue
		}
		p, ok := registry.New(typeName)
		if !ok {
			return fmt.Errorf("pluginhost: %s: no constructor registered for type %q", def.Name, typeName)
		}
		h.locals[def.Name] = p
		h.server.Register(def.Name, p)
	}
	return nil
}

// Activate builds this process's lookup.Table from topo and calls
// Activate on every locally-instantiated plugin, in declaration order.
func (h *Host) Activate(ctx context.Context, topo rpc.Topology, clients plugin.Triple[*rpc.Client]) error {
	localAny := make(map[string]interface{}, len(h.locals))
	for name, p := range h.locals {
		localAny[name] = p
	}
	table, err := lookup.Build(h.self, topo.Definitions, localAny, clients, topo.Sockets)
	if err != nil {
		return fmt.Errorf("pluginhost: building lookup table: %w", err)
	}
	h.table = table

	pctx := &plugin.Context{Self: h.self, Table: table}
	for _, def := range topo.Definitions {
		p, ok := h.locals[def.Name]
		if !ok {
			continue
		}
		if err := p.Activate(ctx, pctx); err != nil {
			return fmt.Errorf("pluginhost: activating %s: %w", def.Name, err)
		}
		h.logger.Info("plugin activated", ratcamlog.String("name", def.Name))
	}
	return nil
}

// Deactivate tears down every locally-instantiated plugin in reverse
// declaration order, logging but not aborting on individual failures so
// one broken plugin does not strand the rest mid-teardown.
func (h *Host) Deactivate(ctx context.Context, defs []plugin.Definition) {
	for i := len(defs) - 1; i >= 0; i-- {
		def := defs[i]
		p, ok := h.locals[def.Name]
		if !ok {
			continue
		}
		if err := p.Deactivate(ctx); err != nil {
			h.logger.Error("plugin deactivation failed", ratcamlog.String("name", def.Name), ratcamlog.Error(err))
		}
	}
}

// Table returns the lookup table built by Activate.
func (h *Host) Table() *lookup.Table { return h.table }
