package motion

import (
	"context"
	"fmt"

	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
	"github.com/warpcomdev/ratcam/internal/rpc"
	"github.com/warpcomdev/ratcam/internal/worker"
)

// MainNotifier is the MAIN-side half of component H: it wakes on every
// notify_movement_status_changed call from CAMERA, reads the
// authoritative triggered state back over RPC, and fans it out to every
// locally-active Responder in plugin-declaration order. Grounded on
// MotionDetectorMainPlugin in
// original_source/specialized/plugin_motion_detector.py.
type MainNotifier struct {
	logger ratcamlog.Logger
	name   string

	table       plugin.Lookup
	cameraProxy *rpc.Proxy
	notify      *worker.Callback
}

// NewMainNotifier constructs the MAIN-side notifier. name must match the
// CameraDetector's definition name.
func NewMainNotifier(logger ratcamlog.Logger, name string) *MainNotifier {
	return &MainNotifier{
		logger: logger.With(ratcamlog.String("component", "motion")),
		name:   name,
	}
}

// Activate implements plugin.Plugin: resolves the CAMERA detector proxy
// and starts the notify worker.
func (n *MainNotifier) Activate(ctx context.Context, pctx *plugin.Context) error {
	n.table = pctx.Table
	inst, ok := pctx.Table.Find(n.name)
	if !ok {
		return fmt.Errorf("motion: no definition named %q in topology", n.name)
	}
	slot := inst.Slots.Get(plugin.CAMERA)
	if slot == nil {
		return fmt.Errorf("motion: no CAMERA slot for definition %q", n.name)
	}
	proxy, ok := slot.(*rpc.Proxy)
	if !ok {
		return fmt.Errorf("motion: unexpected CAMERA slot type %T", slot)
	}
	n.cameraProxy = proxy

	n.notify = worker.NewCallback(n.logger, "motion-notify", n.dispatch)
	return nil
}

// Deactivate stops the notify worker.
func (n *MainNotifier) Deactivate(ctx context.Context) error {
	if n.notify != nil {
		n.notify.Stop()
	}
	return nil
}

// NotifyMovementStatusChanged is RPC-exposed: CAMERA calls it one-way
// every time its trigger flips. It only wakes the notify worker; the
// worker itself reads the authoritative state, so a burst of rapid
// flips coalesces into a single read of whatever the state is by the
// time the worker runs.
func (n *MainNotifier) NotifyMovementStatusChanged() {
	if n.notify != nil {
		n.notify.Wake()
	}
}

func (n *MainNotifier) dispatch(ctx context.Context) {
	var triggered bool
	if err := n.cameraProxy.Call("Triggered", &triggered); err != nil {
		n.logger.Error("reading triggered state failed", ratcamlog.Error(err))
		return
	}
	for _, slot := range n.table.InProcess(plugin.MAIN) {
		responder, ok := slot.Value.(Responder)
		if !ok {
			continue
		}
		if err := responder.MotionStatusChanged(triggered); err != nil {
			n.logger.Error("motion responder failed", ratcamlog.String("plugin", slot.Name), ratcamlog.Error(err))
		}
	}
}
