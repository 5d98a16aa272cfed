// Package processeshost is the top-level orchestrator that wires the
// three-process topology together (component D, spec.md §4.1-§4.2): it
// runs in MAIN, owns a shared scratch directory, spawns the CAMERA and
// CHAT singleton.Host children, and drives the five-step activation
// order: (1) every process's Server is listening, (2) every process has
// Instantiate'd its own local plugin slots, (3) MAIN learns every
// process's socket and builds the shared Topology, (4) Topology is
// pushed to each child via its Housekeeping object (which in turn builds
// that child's lookup.Table and Activates its locals), (5) MAIN builds
// its own table and Activates its own locals. Teardown runs the same
// five steps in reverse.
package processeshost

import (
	"context"
	"fmt"
	"os"

	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
	"github.com/warpcomdev/ratcam/internal/rpc"
	"github.com/warpcomdev/ratcam/internal/rpc/pluginhost"
	"github.com/warpcomdev/ratcam/internal/rpc/singleton"
)

// Host is the MAIN-process orchestrator.
type Host struct {
	logger  ratcamlog.Logger
	baseDir string
	defs    []plugin.Definition

	server  *rpc.Server
	plugins *pluginhost.Host
	clients plugin.Triple[*rpc.Client]
	sockets plugin.Triple[string]

	children map[plugin.Process]*singleton.Host
}

// New prepares the MAIN-side orchestrator. binary is this same
// executable's path, used to re-exec the CAMERA and CHAT children.
func New(logger ratcamlog.Logger, baseDir, binary string, registry *plugin.Registry, defs []plugin.Definition) (*Host, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("processeshost: scratch dir: %w", err)
	}
	mainSocket := baseDir + "/ratcam-main.sock"
	server, err := rpc.Listen(logger, mainSocket)
	if err != nil {
		return nil, err
	}
	h := &Host{
		logger:   logger,
		baseDir:  baseDir,
		defs:     defs,
		server:   server,
		children: make(map[plugin.Process]*singleton.Host),
	}
	h.sockets.Set(plugin.MAIN, mainSocket)
	h.plugins = pluginhost.New(logger, plugin.MAIN, server)
	if err := h.plugins.Instantiate(registry, defs); err != nil {
		return nil, err
	}
	for _, p := range []plugin.Process{plugin.CAMERA, plugin.CHAT} {
		h.children[p] = singleton.New(logger, p, binary, baseDir)
	}
	return h, nil
}

// Start runs the five-step activation order.
func (h *Host) Start(ctx context.Context) error {
	go func() {
		if err := h.server.Serve(ctx); err != nil {
			h.logger.Error("main server stopped", ratcamlog.Error(err))
		}
	}()

	for _, p := range []plugin.Process{plugin.CAMERA, plugin.CHAT} {
		if err := h.children[p].Start(ctx); err != nil {
			return fmt.Errorf("processeshost: starting %s: %w", p, err)
		}
		h.sockets.Set(p, h.children[p].Socket())
	}

	for _, p := range []plugin.Process{plugin.CAMERA, plugin.CHAT} {
		client, err := h.children[p].Dial()
		if err != nil {
			return fmt.Errorf("processeshost: dialling %s: %w", p, err)
		}
		h.clients.Set(p, client)
	}

	topo := rpc.Topology{Definitions: h.defs, Sockets: h.sockets}
	for _, p := range []plugin.Process{plugin.CAMERA, plugin.CHAT} {
		if err := h.clients.Get(p).Call(rpc.HousekeepingName, "SetTopology", nil, topo); err != nil {
			return fmt.Errorf("processeshost: pushing topology to %s: %w", p, err)
		}
		h.logger.Info("child activated", ratcamlog.String("process", p.String()))
	}

	if err := h.plugins.Activate(ctx, topo, h.clients); err != nil {
		return fmt.Errorf("processeshost: activating main: %w", err)
	}
	return nil
}

// Stop reverses activation: MAIN's own locals, then each child (signalled
// to exit via singleton.Host.Stop, which gives it worker.JoinTimeout to
// Deactivate its own locals cleanly before being killed).
func (h *Host) Stop(ctx context.Context) {
	h.plugins.Deactivate(ctx, h.defs)
	for _, p := range []plugin.Process{plugin.CHAT, plugin.CAMERA} {
		if err := h.children[p].Stop(); err != nil {
			h.logger.Warn("child stop error", ratcamlog.String("process", p.String()), ratcamlog.Error(err))
		}
		if client := h.clients.Get(p); client != nil {
			_ = client.Close()
		}
	}
	_ = h.server.Close()
}

// Table exposes MAIN's own collapsed lookup table, e.g. for a status/debug
// HTTP surface.
func (h *Host) Table() interface{ Find(string) (plugin.Instance, bool) } {
	return h.plugins.Table()
}
