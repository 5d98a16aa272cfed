package statusled

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

// Service is the MAIN-resident plugin.Plugin wrapping a Manager: it is
// the object actually registered on the RPC server, since a bare Manager
// hands out in-process *Handle values that cannot cross the wire.
// Callers elsewhere in the topology (internal/recorder's DualBuffer, and
// eventually any other CAMERA/CHAT-resident indicator user) address it
// through an opaque uint64 handle id instead.
type Service struct {
	logger ratcamlog.Logger
	mgr    *Manager

	mu      sync.Mutex
	handles map[uint64]*Handle
	nextID  uint64
}

// NewService constructs a Service driving driver.
func NewService(logger ratcamlog.Logger, driver Driver) *Service {
	return &Service{
		logger:  logger.With(ratcamlog.String("component", "statusled-service")),
		mgr:     New(logger, driver),
		handles: make(map[uint64]*Handle),
	}
}

// Activate implements plugin.Plugin: Manager's own worker is already
// running by construction time, so there is nothing left to do.
func (s *Service) Activate(ctx context.Context, pctx *plugin.Context) error { return nil }

// Deactivate implements plugin.Plugin.
func (s *Service) Deactivate(ctx context.Context) error {
	s.mgr.Stop()
	return nil
}

func (s *Service) store(h *Handle) uint64 {
	id := atomic.AddUint64(&s.nextID, 1)
	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()
	return id
}

// Pulse is RPC-exposed: it mirrors Manager.Pulse, returning a handle id
// a later Cancel call can reference instead of a *Handle value.
func (s *Service) Pulse(color Color) (uint64, error) {
	h, err := s.mgr.Pulse(color)
	if err != nil {
		return 0, err
	}
	return s.store(h), nil
}

// Set is RPC-exposed: fadeInMillis mirrors Manager.Set's fadeIn duration
// in a wire-friendly primitive type.
func (s *Service) Set(color Color, fadeInMillis int64, persistUntilCancelled bool) (uint64, error) {
	h, err := s.mgr.Set(color, time.Duration(fadeInMillis)*time.Millisecond, persistUntilCancelled)
	if err != nil {
		return 0, err
	}
	return s.store(h), nil
}

// Cancel is RPC-exposed: cancels a previously-returned handle id. Unknown
// or already-cancelled ids are a no-op, matching Handle.Cancel's own
// idempotence.
func (s *Service) Cancel(id uint64) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	if ok {
		delete(s.handles, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	h.Cancel()
	return nil
}
