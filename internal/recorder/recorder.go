// Package recorder implements the dual-buffered MP4 recorder (component
// G, spec.md §4.7): a rolling pre-roll of H.264 access units, split only
// at SPS boundaries, finalised into a classic progressive MP4 and handed
// to the media bus on request. Grounded on the
// split-point/pre-roll algorithm in original_source's camera recording
// module and rendered with internal/recorder/mp4box for the actual
// container bytes.
package recorder

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
	"github.com/warpcomdev/ratcam/internal/recorder/mp4box"
	"github.com/warpcomdev/ratcam/internal/rpc"
	"github.com/warpcomdev/ratcam/internal/statusled"
	"go.uber.org/atomic"
)

// Camera is the capability the recorder needs from whatever hosts the
// video sink, to ask for a fresh SPS when its own has gone stale.
type Camera interface {
	RequestKeyFrame()
}

// StatusHandle lets the recorder cancel a status-LED indicator it pushed
// earlier, without depending on internal/statusled's concrete Handle
// type (the real collaborator is an RPC proxy to the MAIN-resident
// statusled.Manager, not that package directly).
type StatusHandle interface {
	Cancel()
}

// StatusNotifier is the optional status-LED collaborator: when set, the
// recorder pulses a colour for as long as a recording is in progress,
// grounded on original_source's plugin_buffered_recorder.py calling
// Status.pulse((1, 0, 0)) around its own bufferRecording flag.
type StatusNotifier interface {
	Pulse(color statusled.Color) (StatusHandle, error)
}

// Config is the recorder's tunable policy, loaded from settings.
type Config struct {
	SpoolDir     string
	BufferMaxAge int // frames
	SPSMaxAge    int // frames
	Timescale    uint32
	Framerate    int

	// ClipLengthTolerance pads a requested Record duration, in seconds,
	// before it is quantised to a frame count: truncating stopAfter to
	// whole frames can cut the last requested instant short, and this
	// tolerance buys that instant back rather than delivering a clip
	// marginally shorter than what was asked for.
	ClipLengthTolerance float64
}

// sampleDuration is every access unit's duration in Timescale units, for
// a stream at the configured fixed framerate.
func (c Config) sampleDuration() uint32 {
	if c.Framerate <= 0 {
		return c.Timescale
	}
	return c.Timescale / uint32(c.Framerate)
}

// DualBuffer is the per-camera recorder state machine. All methods are
// expected to be called from the single CAMERA video-sink write path,
// except the external operations (Record/StopAndFinalise/
// StopAndDiscard), which may be called from RPC dispatch goroutines and
// so take a lock.
type DualBuffer struct {
	logger ratcamlog.Logger
	cfg    Config
	camera Camera
	bus    *media.Manager
	status StatusNotifier

	// statusName, when non-empty, is the plugin.Definition name Activate
	// resolves a MAIN-resident StatusNotifier proxy from. Left empty by
	// --no-status-led, matching the original's "no status plugin loaded"
	// state.
	statusName string

	// mu guards every field below: Feed runs on the CAMERA video-sink
	// write path, while Record/StopAndFinalise/StopAndDiscard arrive from
	// RPC dispatch goroutines. The algorithm only ever mutates state at a
	// split point, so contention is rare, but the external operations and
	// Feed's split-point handling still race on the same fields.
	mu sync.Mutex

	old, new *buffer
	// totalAge is an atomic.Int64, like the teacher's atomic.Time age
	// counter in internal/driver/watcher, so AgeInFrames can be read by a
	// status reporter without contending on mu.
	totalAge atomic.Int64

	lastSPSStamp int

	requestRecording bool
	bufferRecording  bool
	keepMedia        bool
	footageMaxAge    *int
	recordStartAge   int
	info             interface{}

	currentSPS, currentPPS []byte
	statusHandle           StatusHandle
}

// New constructs a recorder bound to bus for final delivery.
func New(logger ratcamlog.Logger, cfg Config, camera Camera, bus *media.Manager) *DualBuffer {
	return &DualBuffer{
		logger: logger.With(ratcamlog.String("component", "recorder")),
		cfg:    cfg,
		camera: camera,
		bus:    bus,
		old:    newBuffer(),
		new:    newBuffer(),
	}
}

// SetStatusNotifier wires an optional status-LED collaborator; nil (the
// default) disables the recording indicator entirely.
func (d *DualBuffer) SetStatusNotifier(status StatusNotifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
}

// SetStatusName configures Activate to resolve a MAIN-resident
// StatusNotifier proxy under this plugin.Definition name. Called once,
// before the plugin host instantiates and activates this process's
// plugins; left unset when --no-status-led disables the indicator.
func (d *DualBuffer) SetStatusName(name string) {
	d.statusName = name
}

// Activate implements plugin.Plugin: besides being registered as a
// CAMERA-only plugin (so the CHAT root plugin's /video command can reach
// it through the ordinary lookup-table/*rpc.Proxy path), it resolves its
// own optional status-LED indicator the same way internal/motion
// resolves its MAIN notifier proxy — by name, through the lookup table,
// once the full topology is known.
func (d *DualBuffer) Activate(ctx context.Context, pctx *plugin.Context) error {
	if d.statusName == "" {
		return nil
	}
	inst, ok := pctx.Table.Find(d.statusName)
	if !ok {
		return fmt.Errorf("recorder: no definition named %q in topology", d.statusName)
	}
	slot := inst.Slots.Get(plugin.MAIN)
	if slot == nil {
		return nil
	}
	proxy, ok := slot.(*rpc.Proxy)
	if !ok {
		return fmt.Errorf("recorder: unexpected MAIN slot type %T", slot)
	}
	d.SetStatusNotifier(&rpcStatusNotifier{proxy: proxy})
	return nil
}

// rpcStatusNotifier adapts a *rpc.Proxy to the StatusNotifier interface:
// the real statusled.Manager lives on MAIN, behind a
// statusled.Service that hands out opaque handle ids instead of
// in-process *statusled.Handle values, since a Handle's Cancel must
// cross the wire too.
type rpcStatusNotifier struct {
	proxy *rpc.Proxy
}

func (n *rpcStatusNotifier) Pulse(color statusled.Color) (StatusHandle, error) {
	var id uint64
	if err := n.proxy.Call("Pulse", &id, color); err != nil {
		return nil, err
	}
	return &rpcStatusHandle{proxy: n.proxy, id: id}, nil
}

type rpcStatusHandle struct {
	proxy *rpc.Proxy
	id    uint64
}

func (h *rpcStatusHandle) Cancel() {
	_ = h.proxy.CallOneway("Cancel", h.id)
}

// Deactivate implements plugin.Plugin: discards any recording in
// progress rather than finalising a clip nobody will collect.
func (d *DualBuffer) Deactivate(ctx context.Context) error {
	d.StopAndDiscard()
	return nil
}

// Feed is the per-frame contract: auData is one complete access unit in
// AVCC form (4-byte length prefix + NAL payload, one or more NALs). isSPS
// indicates whether the NAL stream for this access unit opens with an
// SPS header (true exactly when a new GOP begins, i.e. a split point);
// isIDR marks the frame as a sync sample.
func (d *DualBuffer) Feed(auData []byte, isSPS, isIDR bool, sps, pps []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if isSPS {
		d.handleSplitPoint()
	}

	age := d.totalAge.Load()
	f := frame{data: auData, age: int(age), isSPS: isSPS, isIDR: isIDR, complete: true}
	d.old.append(f)
	d.new.append(f)
	if isSPS {
		d.currentSPS, d.currentPPS = sps, pps
	}
	age = d.totalAge.Inc()

	maxAge := d.cfg.SPSMaxAge
	if d.cfg.BufferMaxAge < maxAge {
		maxAge = d.cfg.BufferMaxAge
	}
	if int(age)-d.lastSPSStamp > maxAge {
		d.camera.RequestKeyFrame()
	}
}

// AgeInFrames returns the number of access units fed so far. Safe to call
// without holding mu — it's read-only telemetry, not part of the
// split-point algorithm's own invariants.
func (d *DualBuffer) AgeInFrames() int64 {
	return d.totalAge.Load()
}

func (d *DualBuffer) handleSplitPoint() {
	// Only evaluate the elapsed-bound once a recording is actually under
	// way: recordStartAge is meaningless before startRecording has set it,
	// so checking any earlier would compare totalAge against a stale
	// baseline and could clear requestRecording before the clip starts.
	now := int(d.totalAge.Load())

	if d.bufferRecording && d.footageMaxAge != nil {
		if now-d.recordStartAge >= *d.footageMaxAge {
			d.requestRecording = false
			d.footageMaxAge = nil
		}
	}

	if d.bufferRecording && !d.requestRecording {
		d.finishRecording()
	}

	if !d.bufferRecording && d.requestRecording {
		d.startRecording()
	}

	if !d.bufferRecording {
		if age := d.old.age(); age >= 0 && now-age > d.cfg.BufferMaxAge {
			d.old.rewind()
			d.old, d.new = d.new, d.old
		}
	}

	d.lastSPSStamp = now
}

// startRecording promotes the pre-roll held in old into the active
// recording target, preserving every frame it already holds, and starts
// a fresh buffer in its place to keep serving as pre-roll.
func (d *DualBuffer) startRecording() {
	d.old, d.new = d.new, d.old
	d.new.rewind()
	d.bufferRecording = true
	metrics.RecorderActive.Set(1)
	if len(d.old.frames) > 0 {
		d.recordStartAge = d.old.frames[0].age
	} else {
		d.recordStartAge = int(d.totalAge.Load())
	}
	if d.status != nil {
		handle, err := d.status.Pulse(statusled.Color{R: 1})
		if err != nil {
			d.logger.Error("status led pulse failed", ratcamlog.Error(err))
		} else {
			d.statusHandle = handle
		}
	}
}

func (d *DualBuffer) finishRecording() {
	d.bufferRecording = false
	metrics.RecorderActive.Set(0)
	if d.keepMedia {
		if err := d.finalise(d.old.frames, d.info); err != nil {
			d.logger.Error("finalising clip failed", ratcamlog.Error(err))
		}
	}
	d.old.rewind()
	d.info = nil
	d.keepMedia = false
	if d.statusHandle != nil {
		d.statusHandle.Cancel()
		d.statusHandle = nil
	}
}

func (d *DualBuffer) finalise(frames []frame, info interface{}) error {
	if len(frames) == 0 || d.currentSPS == nil || d.currentPPS == nil {
		return fmt.Errorf("recorder: nothing to finalise")
	}
	width, height, err := mp4box.SPSDimensions(d.currentSPS)
	if err != nil {
		return err
	}
	samples := make([]mp4box.Sample, len(frames))
	dur := d.cfg.sampleDuration()
	for i, f := range frames {
		samples[i] = mp4box.Sample{Data: f.data, Duration: dur, Sync: f.isIDR}
	}
	payload, err := mp4box.Build(d.currentSPS, d.currentPPS, width, height, samples)
	if err != nil {
		return err
	}
	path, err := spoolFile(d.cfg.SpoolDir, payload)
	if err != nil {
		return err
	}
	if _, err := d.bus.Deliver(context.Background(), path, media.KindMP4, info); err != nil {
		return err
	}
	return nil
}

func spoolFile(dir string, payload []byte) (string, error) {
	f, err := os.CreateTemp(dir, "clip-*.mp4")
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

// Record implements the external record() operation: spec.md §4.7.
func (d *DualBuffer) Record(info interface{}, stopAfter *time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keepMedia = true
	d.requestRecording = true
	d.info = info
	if stopAfter != nil && d.cfg.Framerate > 0 {
		frames := int((stopAfter.Seconds() + d.cfg.ClipLengthTolerance) * float64(d.cfg.Framerate))
		d.footageMaxAge = &frames
	} else {
		d.footageMaxAge = nil
	}
}

// StopAndFinalise implements stop_and_finalise(). Feed only ever calls
// back between complete access units, so the recorder state this method
// observes is always already at a frame boundary: applying the split
// point immediately here is equivalent to the spec's "apply at the next
// flush if mid-frame" rule, never tearing down a partial access unit.
func (d *DualBuffer) StopAndFinalise() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keepMedia = true
	d.requestRecording = false
	d.handleSplitPoint()
}

// StopAndDiscard implements stop_and_discard().
func (d *DualBuffer) StopAndDiscard() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keepMedia = false
	d.requestRecording = false
	d.handleSplitPoint()
}

