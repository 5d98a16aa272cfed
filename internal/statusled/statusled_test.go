package statusled

import (
	"sync"
	"testing"
	"time"

	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

type recordingDriver struct {
	mu     sync.Mutex
	colors []Color
}

func (d *recordingDriver) SetColor(c Color) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.colors = append(d.colors, c)
	return nil
}

func (d *recordingDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.colors)
}

func (d *recordingDriver) last() Color {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.colors) == 0 {
		return Black
	}
	return d.colors[len(d.colors)-1]
}

func TestPushRepeatZeroIsRejected(t *testing.T) {
	m := New(ratcamlog.Nop(), nil)
	defer m.Stop()
	if _, err := m.Push(Pattern{Repeat: 0}); err == nil {
		t.Fatal("expected an error for a zero repeat count")
	}
}

func TestSetPersistsUntilCancelled(t *testing.T) {
	driver := &recordingDriver{}
	m := New(ratcamlog.Nop(), driver)
	defer m.Stop()

	handle, err := m.Set(Color{R: 1}, 0, true)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for driver.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if driver.count() == 0 {
		t.Fatal("expected at least one colour to have been set")
	}
	if driver.last().R < 0.99 {
		t.Fatalf("expected the LED to have settled on full red, got %+v", driver.last())
	}

	before := driver.count()
	handle.Cancel()
	time.Sleep(100 * time.Millisecond)
	after := driver.count()
	if after-before > 2 {
		t.Fatalf("expected the animation to stop shortly after Cancel, but it kept advancing: %d -> %d", before, after)
	}
}

func TestFiniteRepeatSequenceEventuallyStops(t *testing.T) {
	driver := &recordingDriver{}
	m := New(ratcamlog.Nop(), driver)
	defer m.Stop()

	// Fast pattern: short fades and holds so the whole thing finishes in
	// well under a second, n=2 repeats.
	p := Pattern{
		OnColor: Color{G: 1}, OffColor: Black,
		FadeIn: time.Millisecond, FadeOut: time.Millisecond,
		OnHold: time.Millisecond, OffHold: time.Millisecond,
		Repeat: 2,
	}
	if _, err := m.Push(p); err != nil {
		t.Fatalf("Push: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	stableCount := 0
	lastCount := -1
	for time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
		c := driver.count()
		if c == lastCount {
			stableCount++
			if stableCount > 5 {
				return // no longer advancing: the sequence has finished
			}
		} else {
			stableCount = 0
		}
		lastCount = c
	}
	t.Fatal("expected the finite-repeat pattern to stop advancing the driver")
}

func TestSequenceFadesBetweenColours(t *testing.T) {
	seq := newSequence(Pattern{
		OnColor: Color{R: 1}, OffColor: Black,
		FadeIn: 4 * (time.Second / FPS), FadeOut: 4 * (time.Second / FPS),
		OnHold: time.Second / FPS, OffHold: time.Second / FPS,
		Repeat: 1,
	})
	first, alive := seq.next()
	if !alive {
		t.Fatal("expected the sequence to still be alive on its first frame")
	}
	if first.R != 0 {
		t.Fatalf("expected the first fade-in frame to start at the off colour, got %+v", first)
	}
	// Advance through the rest of fade-in; colour should be strictly
	// increasing towards full red.
	prev := first.R
	for i := 0; i < 3; i++ {
		col, alive := seq.next()
		if !alive {
			t.Fatal("sequence ended before fade-in completed")
		}
		if col.R < prev {
			t.Fatalf("expected fade-in to monotonically increase red, got %v after %v", col.R, prev)
		}
		prev = col.R
	}
}

func TestManagerKeepsLastPushedColourOnTie(t *testing.T) {
	driver := &recordingDriver{}
	m := New(ratcamlog.Nop(), driver)
	defer m.Stop()

	if _, err := m.Set(Color{R: 1}, 0, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := m.Set(Color{B: 1}, 0, true); err != nil {
		t.Fatalf("Set: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if driver.last().B > 0.99 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected the later-pushed pattern to win the tie, last colour was %+v", driver.last())
}
