package statusled

import (
	"testing"
	"time"

	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

func TestServicePulseAndCancel(t *testing.T) {
	driver := &recordingDriver{}
	s := NewService(ratcamlog.Nop(), driver)
	defer s.Deactivate(nil)

	id, err := s.Pulse(Color{R: 1})
	if err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero handle id")
	}

	deadline := time.Now().Add(time.Second)
	for driver.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if driver.count() < 2 {
		t.Fatal("expected the pulse to drive the driver")
	}

	if err := s.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// Cancelling an already-cancelled (or unknown) id is a no-op.
	if err := s.Cancel(id); err != nil {
		t.Fatalf("Cancel (repeat): %v", err)
	}
	if err := s.Cancel(id + 100); err != nil {
		t.Fatalf("Cancel (unknown): %v", err)
	}
}
