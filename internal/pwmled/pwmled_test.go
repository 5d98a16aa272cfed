package pwmled

import (
	"sync"
	"testing"
	"time"

	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

type recordingDriver struct {
	mu     sync.Mutex
	values []float64
}

func (d *recordingDriver) SetValue(v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values = append(d.values, v)
	return nil
}

func (d *recordingDriver) last() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.values) == 0 {
		return 0
	}
	return d.values[len(d.values)-1]
}

func (d *recordingDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.values)
}

func TestOnOffSetValueClamp(t *testing.T) {
	driver := &recordingDriver{}
	m := New(ratcamlog.Nop(), driver)
	defer m.Deactivate(nil)

	if err := m.On(); err != nil {
		t.Fatalf("On: %v", err)
	}
	if m.Value() != 1 {
		t.Fatalf("expected value 1 after On, got %v", m.Value())
	}
	if err := m.SetValue(5); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if m.Value() != 1 {
		t.Fatalf("expected value clamped to 1, got %v", m.Value())
	}
	if err := m.SetValue(-5); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if m.Value() != 0 {
		t.Fatalf("expected value clamped to 0, got %v", m.Value())
	}
	if err := m.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}
	if m.Value() != 0 {
		t.Fatalf("expected value 0 after Off, got %v", m.Value())
	}
}

func TestPulseDrivesDriverUntilCancelled(t *testing.T) {
	driver := &recordingDriver{}
	m := New(ratcamlog.Nop(), driver)
	defer m.Deactivate(nil)

	if err := m.Pulse(); err != nil {
		t.Fatalf("Pulse: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for driver.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if driver.count() < 2 {
		t.Fatal("expected the pulse loop to drive the driver repeatedly")
	}
	if !m.Pulsing() {
		t.Fatal("expected Pulsing to report true while a pulse is active")
	}

	before := driver.count()
	if err := m.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}
	if m.Pulsing() {
		t.Fatal("expected Off to cancel an in-progress pulse")
	}
	time.Sleep(100 * time.Millisecond)
	after := driver.count()
	if after-before > 2 {
		t.Fatalf("expected the pulse loop to stop shortly after Off, but it kept advancing: %d -> %d", before, after)
	}
}
