package motion

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/warpcomdev/ratcam/internal/media"
	"github.com/warpcomdev/ratcam/internal/metrics"
	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
	"github.com/warpcomdev/ratcam/internal/rpc"
	"github.com/warpcomdev/ratcam/internal/worker"
)

// peakOf returns the highest cell value in field, or 0 for an empty or
// not-yet-seeded accumulator.
func peakOf(field [][]float64) float64 {
	peak := 0.0
	for _, row := range field {
		for _, v := range row {
			if v > peak {
				peak = v
			}
		}
	}
	return peak
}

// Camera is the capability the detector needs from the camera driver to
// take a motion still: one RGB frame at the current resolution.
type Camera interface {
	CaptureRGB() (data []byte, width, height int, err error)
}

// Imager is the image-composition external collaborator spec.md §2
// names: overlay(rgb_frame, motion_field, lut) -> encoded JPEG bytes.
type Imager interface {
	Overlay(rgb []byte, width, height int, field [][]float64, lut ColorLUT, quality int) ([]byte, error)
}

// Config is CameraDetector's tunable policy, loaded from settings.
type Config struct {
	Thresholds    Thresholds
	AreaFractions AreaFractions
	TimeWindow    time.Duration
	Framerate     int
	JPEGQuality   int
	SpoolDir      string
}

// CameraDetector is the CAMERA-side half of component H: it owns the
// accumulator/trigger state machine and the motion-still capture queue.
// Grounded on MotionDetectorCameraPlugin in
// original_source/specialized/plugin_motion_detector.py.
type CameraDetector struct {
	logger ratcamlog.Logger
	name   string
	cfg    Config
	camera Camera
	imager Imager
	bus    *media.Manager

	mu      sync.Mutex
	accum   *Accumulator
	trigger *TriggerState
	lut     ColorLUT
	enabled bool

	mainProxy *rpc.Proxy
	captureQ  *worker.Queue[interface{}]
}

// NewCameraDetector constructs the CAMERA-side detector. name is the
// plugin.Definition name shared with the MAIN-side MainNotifier, so the
// lookup table resolves them as siblings.
func NewCameraDetector(logger ratcamlog.Logger, name string, cfg Config, camera Camera, imager Imager, bus *media.Manager) *CameraDetector {
	return &CameraDetector{
		logger: logger.With(ratcamlog.String("component", "motion")),
		name:   name,
		cfg:    cfg,
		camera: camera,
		imager: imager,
		bus:    bus,
		lut:    DefaultLUT,
	}
}

// Activate implements plugin.Plugin: resolves the MAIN notifier proxy and
// starts the motion-still capture queue.
func (d *CameraDetector) Activate(ctx context.Context, pctx *plugin.Context) error {
	alpha := DecayFactor(d.cfg.TimeWindow.Seconds(), d.cfg.Framerate)
	d.mu.Lock()
	d.accum = NewAccumulator(alpha)
	d.trigger = NewTriggerState(d.cfg.Thresholds, d.cfg.AreaFractions)
	d.enabled = true
	d.mu.Unlock()

	inst, ok := pctx.Table.Find(d.name)
	if !ok {
		return fmt.Errorf("motion: no definition named %q in topology", d.name)
	}
	if slot := inst.Slots.Get(plugin.MAIN); slot != nil {
		proxy, ok := slot.(*rpc.Proxy)
		if !ok {
			return fmt.Errorf("motion: unexpected MAIN slot type %T", slot)
		}
		d.mainProxy = proxy
	}

	d.captureQ = worker.NewQueue(d.logger, "motion-capture", 4, d.takeMotionStill)
	return nil
}

// Deactivate stops the motion-still capture queue.
func (d *CameraDetector) Deactivate(ctx context.Context) error {
	if d.captureQ != nil {
		d.captureQ.Stop()
	}
	return nil
}

// Feed implements spec.md §4.8 steps 1-4: denoise the raw motion-vector
// grid, fold it into the accumulator, evaluate the hysteresis trigger,
// and notify MAIN one-way if the held state flipped. Called directly by
// the camera driver's motion-sink callback; it is not itself RPC-exposed.
func (d *CameraDetector) Feed(field [][]Vector) (triggered, changed bool) {
	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return false, false
	}
	d.mu.Unlock()

	norm := ComputeDenoisedNorm(field)

	d.mu.Lock()
	d.accum.Update(norm)
	field2 := d.accum.Field()
	triggered, changed = d.trigger.Evaluate(field2)
	d.mu.Unlock()

	metrics.MotionAccumulatorPeak.Set(peakOf(field2))

	if changed {
		d.notifyMain()
	}
	return triggered, changed
}

func (d *CameraDetector) notifyMain() {
	if d.mainProxy == nil {
		return
	}
	if err := d.mainProxy.CallOneway("NotifyMovementStatusChanged"); err != nil {
		d.logger.Error("notify_movement_status_changed failed", ratcamlog.Error(err))
	}
}

// Triggered is RPC-exposed: MAIN's notifier calls it after waking, to
// read the authoritative current state.
func (d *CameraDetector) Triggered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.trigger == nil {
		return false
	}
	return d.trigger.Triggered()
}

// Enabled is RPC-exposed: it backs the read side of the /detect command
// (spec.md §6).
func (d *CameraDetector) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// SetEnabled is RPC-exposed: it backs the write side of the /detect
// command. Disabling clears any held trigger state so a subsequent
// re-enable starts from a clean accumulator rather than an instantly
// re-firing one.
func (d *CameraDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	if !enabled && d.trigger != nil {
		d.trigger = NewTriggerState(d.cfg.Thresholds, d.cfg.AreaFractions)
	}
	d.mu.Unlock()
	if !enabled {
		d.notifyMain()
	}
}

// TakePicture is RPC-exposed: it implements take_motion_picture(info),
// enqueuing the capture on the dedicated motion-still worker so the
// motion-analysis callback itself never blocks on image I/O.
func (d *CameraDetector) TakePicture(info interface{}) {
	if d.captureQ != nil {
		d.captureQ.Submit(info)
	}
}

func (d *CameraDetector) takeMotionStill(ctx context.Context, info interface{}) {
	rgb, width, height, err := d.camera.CaptureRGB()
	if err != nil {
		d.logger.Error("motion still capture failed", ratcamlog.Error(err))
		return
	}

	d.mu.Lock()
	field := d.accum.Field()
	lut := d.lut
	d.mu.Unlock()

	jpegData, err := d.imager.Overlay(rgb, width, height, field, lut, d.cfg.JPEGQuality)
	if err != nil {
		d.logger.Error("motion still overlay failed", ratcamlog.Error(err))
		return
	}

	path, err := spoolJPEG(d.cfg.SpoolDir, jpegData)
	if err != nil {
		d.logger.Error("motion still spool failed", ratcamlog.Error(err))
		return
	}
	if _, err := d.bus.Deliver(ctx, path, media.KindJPEG, info); err != nil {
		d.logger.Error("motion still delivery failed", ratcamlog.Error(err))
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			d.logger.Error("motion still cleanup failed", ratcamlog.Error(rmErr))
		}
	}
}

func spoolJPEG(dir string, payload []byte) (string, error) {
	f, err := os.CreateTemp(dir, "motion-*.jpg")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(payload); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
