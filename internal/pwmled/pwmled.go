// Package pwmled implements the PWM accessory light the /light chat
// command controls (spec.md §6, §3's pwmled settings). Grounded on
// original_source/specialized/plugin_pwmled.py's PWMLedPlugin: a single
// brightness value driven through a PWM-capable GPIO pin, exposing
// on/off/toggle/value. The "pulse" mode spec.md adds beyond the original
// is rendered with the same worker.Callback wake-loop idiom
// internal/statusled uses for its own animation.
package pwmled

import (
	"context"
	"sync"
	"time"

	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
	"github.com/warpcomdev/ratcam/internal/worker"
)

// pulseFPS is the brightness update rate while pulsing; coarser than
// statusled's FPS since a single PWM channel has no colour blend to
// smooth.
const pulseFPS = 25

// pulsePeriod is the full on/off cycle duration for Pulse.
const pulsePeriod = time.Second

// Driver is the hardware (or mock) collaborator: set the duty cycle on
// one PWM-capable pin.
type Driver interface {
	SetValue(v float64) error
}

// LoggingDriver stands in for an unconfigured pin, mirroring the
// original's behaviour when bcm_pin is None (every setter is a no-op).
// No GPIO/PWM library exists anywhere in the retrieved example pack, so
// this is the justified stdlib-only boundary, exactly like
// statusled.LoggingDriver.
type LoggingDriver struct {
	logger ratcamlog.Logger
}

func NewLoggingDriver(logger ratcamlog.Logger) *LoggingDriver {
	return &LoggingDriver{logger: logger.With(ratcamlog.String("component", "pwmled-mock"))}
}

func (d *LoggingDriver) SetValue(v float64) error {
	d.logger.Debug("pwm light value changed", ratcamlog.Any("value", v))
	return nil
}

// Manager is the MAIN-resident PWM light plugin.
type Manager struct {
	logger ratcamlog.Logger
	driver Driver

	mu      sync.Mutex
	value   float64
	pulsing bool

	worker *worker.Callback
}

// New constructs a Manager. driver may be nil, matching the original's
// "no bcm_pin configured" state: every method still bookkeeps the
// current value, but nothing is ever driven.
func New(logger ratcamlog.Logger, driver Driver) *Manager {
	m := &Manager{logger: logger.With(ratcamlog.String("component", "pwmled")), driver: driver}
	m.worker = worker.NewCallback(m.logger, "pwmled-pulse", m.runPulse)
	return m
}

// Activate implements plugin.Plugin.
func (m *Manager) Activate(ctx context.Context, pctx *plugin.Context) error { return nil }

// Deactivate implements plugin.Plugin.
func (m *Manager) Deactivate(ctx context.Context) error {
	m.worker.Stop()
	return nil
}

func (m *Manager) set(v float64) error {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	m.mu.Lock()
	m.value = v
	m.mu.Unlock()
	if m.driver == nil {
		return nil
	}
	return m.driver.SetValue(v)
}

// On is RPC-exposed: implements /light on.
func (m *Manager) On() error {
	m.stopPulsing()
	return m.set(1)
}

// Off is RPC-exposed: implements /light off.
func (m *Manager) Off() error {
	m.stopPulsing()
	return m.set(0)
}

// SetValue is RPC-exposed: implements /light <0..1>.
func (m *Manager) SetValue(v float64) error {
	m.stopPulsing()
	return m.set(v)
}

// Value is RPC-exposed: the read side of /light with no argument.
func (m *Manager) Value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// Pulsing reports whether the light is currently in pulse mode.
func (m *Manager) Pulsing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulsing
}

// Pulse is RPC-exposed: implements /light pulse, fading the light
// between off and full brightness once per second until cancelled by any
// other call (On, Off, SetValue, or another Pulse).
func (m *Manager) Pulse() error {
	m.mu.Lock()
	m.pulsing = true
	m.mu.Unlock()
	m.worker.Wake()
	return nil
}

func (m *Manager) stopPulsing() {
	m.mu.Lock()
	m.pulsing = false
	m.mu.Unlock()
}

func (m *Manager) runPulse(ctx context.Context) {
	ticker := time.NewTicker(time.Second / pulseFPS)
	defer ticker.Stop()
	start := time.Now()
	for {
		m.mu.Lock()
		pulsing := m.pulsing
		m.mu.Unlock()
		if !pulsing {
			return
		}

		phase := float64(time.Since(start)%pulsePeriod) / float64(pulsePeriod)
		// Triangle wave: 0 -> 1 over the first half, 1 -> 0 over the second.
		var v float64
		if phase < 0.5 {
			v = phase * 2
		} else {
			v = (1 - phase) * 2
		}
		if m.driver != nil {
			if err := m.driver.SetValue(v); err != nil {
				m.logger.Error("pwm light pulse failed", ratcamlog.Error(err))
			}
		}
		m.mu.Lock()
		m.value = v
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
