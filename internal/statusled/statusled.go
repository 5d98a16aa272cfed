// Package statusled implements the status LED + signal controller
// (component L, spec.md §3's "Blinking status" and §4.11's recording
// indicator): a cooperative animation scheduler that blends between an
// on-colour and an off-colour over time, repeating a finite or infinite
// number of times, driven by a single background goroutine woken only
// while at least one pattern is active. Grounded on
// original_source/specialized/plugin_status_led.py's BlinkingStatus
// generator and StatusLEDPlugin's wake/next-color loop, rendered over
// internal/worker.Callback — the same wake-coalescing idiom the teacher
// uses for its own background threads.
package statusled

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/warpcomdev/ratcam/internal/ratcamlog"
	"github.com/warpcomdev/ratcam/internal/worker"
)

// FPS is the fixed animation framerate; not exposed as a setting, mirroring
// the teacher source's own STATUS_LED_FPS constant.
const FPS = 25

// Infinite marks a Pattern's Repeat count (or, as a time.Duration, an
// on/off hold) as never-ending.
const Infinite = -1

// Color is a normalised (0..1) RGB triple.
type Color struct {
	R, G, B float64
}

var Black = Color{}

// HoldForever is the sentinel OnHold/OffHold value meaning "stay at that
// colour until the pattern is cancelled", rather than timing out on its
// own.
const HoldForever time.Duration = -1

// Pattern is one blinking-status sequence: fade from OffColor to OnColor
// over FadeIn, hold, fade back to OffColor over FadeOut, hold, repeat
// Repeat times (Infinite for forever).
type Pattern struct {
	OnColor, OffColor Color
	FadeIn, FadeOut   time.Duration
	OnHold, OffHold   time.Duration
	Repeat            int
}

// Set is a Pattern that simply holds a single colour, optionally forever.
func Set(color Color, fadeIn time.Duration, persistUntilCancelled bool) Pattern {
	offHold := time.Duration(0)
	if persistUntilCancelled {
		offHold = HoldForever
	}
	return Pattern{OnColor: color, OffColor: color, FadeIn: fadeIn, FadeOut: 0, OnHold: 0, OffHold: offHold, Repeat: 1}
}

// Pulse fades color in and out repeat times (Infinite by default) at the
// given frequency, holding at full colour for persist before fading back
// out.
func Pulse(color Color, repeat int, persist time.Duration, frequency float64) Pattern {
	period := time.Duration(float64(time.Second) / frequency)
	half := period / 2
	return Pattern{OnColor: color, OffColor: Black, FadeIn: half, FadeOut: half, OnHold: persist, OffHold: 0, Repeat: repeat}
}

// Blink snaps between color and black with no fade, at the given
// frequency and duty cycle.
func Blink(color Color, repeat int, dutyCycle, frequency float64) Pattern {
	dutyCycle = math.Min(math.Max(dutyCycle, 0), 1)
	period := time.Duration(float64(time.Second) / frequency)
	return Pattern{
		OnColor: color, OffColor: Black,
		FadeIn: 0, FadeOut: 0,
		OnHold:  time.Duration(float64(period) * dutyCycle),
		OffHold: time.Duration(float64(period) * (1 - dutyCycle)),
		Repeat:  repeat,
	}
}

func framesFor(d time.Duration) int {
	n := int(math.Round(d.Seconds() * FPS))
	if n < 1 {
		n = 1
	}
	return n
}

type sequenceState int

const (
	stateFadeIn sequenceState = iota
	stateOnHold
	stateFadeOut
	stateOffHold
	stateDone
)

// sequence is one Pattern's live playback position.
type sequence struct {
	pattern     Pattern
	state       sequenceState
	frame       int
	repeatsLeft int
}

func newSequence(p Pattern) *sequence {
	return &sequence{pattern: p, state: stateFadeIn, repeatsLeft: p.Repeat}
}

func blend(from, to Color, t float64) Color {
	return Color{
		R: from.R + (to.R-from.R)*t,
		G: from.G + (to.G-from.G)*t,
		B: from.B + (to.B-from.B)*t,
	}
}

// next advances the sequence by one frame, returning the colour to show
// and whether the sequence is still alive after this frame.
func (s *sequence) next() (Color, bool) {
	switch s.state {
	case stateDone:
		return Black, false

	case stateFadeIn:
		frames := framesFor(s.pattern.FadeIn)
		col := blend(s.pattern.OffColor, s.pattern.OnColor, float64(s.frame)/float64(frames))
		s.frame++
		if s.frame >= frames {
			s.frame = 0
			s.state = stateOnHold
		}
		return col, true

	case stateOnHold:
		col := s.pattern.OnColor
		if s.pattern.OnHold != HoldForever {
			frames := framesFor(s.pattern.OnHold)
			s.frame++
			if s.frame >= frames {
				s.frame = 0
				s.state = stateFadeOut
			}
		}
		return col, true

	case stateFadeOut:
		frames := framesFor(s.pattern.FadeOut)
		col := blend(s.pattern.OnColor, s.pattern.OffColor, float64(s.frame)/float64(frames))
		s.frame++
		if s.frame >= frames {
			s.frame = 0
			s.state = stateOffHold
		}
		return col, true

	case stateOffHold:
		col := s.pattern.OffColor
		if s.pattern.OffHold == HoldForever {
			return col, true
		}
		frames := framesFor(s.pattern.OffHold)
		s.frame++
		if s.frame < frames {
			return col, true
		}
		s.frame = 0
		if s.repeatsLeft != Infinite {
			s.repeatsLeft--
			if s.repeatsLeft <= 0 {
				s.state = stateDone
				return col, false
			}
		}
		s.state = stateFadeIn
		return col, true
	}
	return Black, false
}

// Driver is the hardware (or mock) collaborator a Manager drives; spec.md
// §1 lists GPIO/PWM LED control among the external collaborators this
// module does not own the driver for.
type Driver interface {
	SetColor(Color) error
}

// LoggingDriver stands in for an unconfigured or unavailable GPIO LED,
// logging the colour it would have set instead — the same role
// original_source's mock RGBLED class plays when gpiozero can't be
// imported (no GPIO pins, or running off-device).
type LoggingDriver struct {
	logger ratcamlog.Logger
}

// NewLoggingDriver builds a Driver that only logs.
func NewLoggingDriver(logger ratcamlog.Logger) *LoggingDriver {
	return &LoggingDriver{logger: logger.With(ratcamlog.String("component", "statusled-mock"))}
}

func (d *LoggingDriver) SetColor(c Color) error {
	d.logger.Debug("status led colour changed", ratcamlog.Any("r", c.R), ratcamlog.Any("g", c.G), ratcamlog.Any("b", c.B))
	return nil
}

// Handle references one pushed Pattern, letting its owner cancel it
// before it would otherwise finish (e.g. a persist-until-cancelled
// Set, or an in-progress Pulse that should stop early).
type Handle struct {
	mgr *Manager
	seq *sequence
}

// Cancel removes the referenced pattern from the active set. Safe to call
// more than once, and safe on a nil Handle.
func (h *Handle) Cancel() {
	if h == nil || h.mgr == nil {
		return
	}
	h.mgr.cancel(h.seq)
}

// Manager is the MAIN-resident status LED plugin: it multiplexes any
// number of concurrently active Patterns onto one Driver, advancing every
// active sequence each frame and keeping the last one's colour (mirroring
// the teacher source's "advance every iterator, keep only the last
// value" arbitration, so a later-pushed pattern visually wins ties).
type Manager struct {
	logger ratcamlog.Logger
	driver Driver

	mu     sync.Mutex
	active []*sequence

	worker *worker.Callback
}

// New constructs a Manager. driver may be nil (e.g. no GPIO pins
// configured), in which case Push still bookkeeps the Pattern's lifetime
// but nothing is ever rendered.
func New(logger ratcamlog.Logger, driver Driver) *Manager {
	m := &Manager{logger: logger.With(ratcamlog.String("component", "statusled")), driver: driver}
	m.worker = worker.NewCallback(m.logger, "status-led", m.run)
	return m
}

// Stop halts the animation goroutine.
func (m *Manager) Stop() { m.worker.Stop() }

// Push activates p, returning a Handle that can cancel it early. Repeat
// must not be zero.
func (m *Manager) Push(p Pattern) (*Handle, error) {
	if p.Repeat == 0 {
		return nil, errors.New("statusled: pattern repeat count must not be zero")
	}
	seq := newSequence(p)
	m.mu.Lock()
	m.active = append(m.active, seq)
	m.mu.Unlock()
	m.worker.Wake()
	return &Handle{mgr: m, seq: seq}, nil
}

// Set pushes a single persistent colour (optionally held until
// cancelled), the LED equivalent of original_source's Status.set.
func (m *Manager) Set(color Color, fadeIn time.Duration, persistUntilCancelled bool) (*Handle, error) {
	return m.Push(Set(color, fadeIn, persistUntilCancelled))
}

// Pulse pushes a repeating fade-in/fade-out pattern, the LED equivalent of
// original_source's Status.pulse.
func (m *Manager) Pulse(color Color) (*Handle, error) {
	return m.Push(Pulse(color, Infinite, 0, 1))
}

func (m *Manager) cancel(seq *sequence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.active {
		if s == seq {
			m.active = append(m.active[:i], m.active[i+1:]...)
			return
		}
	}
}

// advance steps every active sequence by one frame, dropping any that
// have finished, and returns the colour to display this tick (the last
// surviving sequence's colour) plus whether any sequence is still active.
func (m *Manager) advance() (Color, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var color Color
	any := false
	remaining := m.active[:0]
	for _, seq := range m.active {
		col, alive := seq.next()
		if alive {
			color = col
			any = true
			remaining = append(remaining, seq)
		}
	}
	m.active = remaining
	return color, any
}

// run pumps frames at FPS until no pattern remains active, then returns;
// worker.Callback re-invokes it on the next Wake (i.e. the next Push),
// mirroring the teacher source's own wake/sleep/break loop.
func (m *Manager) run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / FPS)
	defer ticker.Stop()
	for {
		color, any := m.advance()
		if !any {
			return
		}
		if m.driver != nil {
			if err := m.driver.SetColor(color); err != nil {
				m.logger.Error("status led set color failed", ratcamlog.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
