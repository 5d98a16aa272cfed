package processeshost

import (
	"context"
	"fmt"

	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
	"github.com/warpcomdev/ratcam/internal/rpc"
	"github.com/warpcomdev/ratcam/internal/rpc/pluginhost"
)

// Child runs inside a CAMERA or CHAT process: it owns that process's
// Server and pluginhost.Host, and implements rpc.Housekeeping so MAIN can
// push the Topology that completes its activation.
type Child struct {
	logger   ratcamlog.Logger
	self     plugin.Process
	server   *rpc.Server
	plugins  *pluginhost.Host
	defs     []plugin.Definition
	activate chan error
}

// NewChild instantiates this process's local plugin slots and registers
// the Housekeeping object, but does not block; call WaitActivated after
// starting to Serve to learn the outcome of the topology push.
func NewChild(logger ratcamlog.Logger, self plugin.Process, socket string, registry *plugin.Registry, defs []plugin.Definition) (*Child, error) {
	server, err := rpc.Listen(logger, socket)
	if err != nil {
		return nil, err
	}
	c := &Child{
		logger:   logger.With(ratcamlog.String("process", self.String())),
		self:     self,
		server:   server,
		plugins:  pluginhost.New(logger, self, server),
		defs:     defs,
		activate: make(chan error, 1),
	}
	if err := c.plugins.Instantiate(registry, defs); err != nil {
		return nil, err
	}
	rpc.RegisterHousekeeping(server, c)
	return c, nil
}

// Server is this child's RPC listener; the caller (cmd/ratcam) is
// responsible for Serve'ing it and for calling singleton.SignalReady once
// it is listening.
func (c *Child) Server() *rpc.Server { return c.server }

// SetTopology implements rpc.Housekeeping: it dials every other process
// and activates this child's plugins against the resulting lookup table.
func (c *Child) SetTopology(topo rpc.Topology) error {
	var clients plugin.Triple[*rpc.Client]
	for _, p := range plugin.All {
		if p == c.self {
			continue
		}
		socket := topo.Sockets.Get(p)
		if socket == "" {
			continue
		}
		client, err := rpc.Dial(socket)
		if err != nil {
			err = fmt.Errorf("child: dialling %s: %w", p, err)
			c.activate <- err
			return err
		}
		clients.Set(p, client)
	}
	ctx := context.Background()
	err := c.plugins.Activate(ctx, topo, clients)
	c.activate <- err
	return err
}

// WaitActivated blocks until SetTopology has run (successfully or not).
func (c *Child) WaitActivated() error {
	return <-c.activate
}

// Deactivate tears down this child's locals; called from a signal handler
// in cmd/ratcam when the parent requests shutdown.
func (c *Child) Deactivate(ctx context.Context) {
	c.plugins.Deactivate(ctx, c.defs)
	_ = c.server.Close()
}
