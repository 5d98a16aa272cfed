package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/warpcomdev/ratcam/internal/media"
	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

// testSPS/testPPS are a real decoded H.264 SPS/PPS pair (the
// sprop-parameter-sets of an actual RTSP camera stream), not a
// synthetic fixture, so mp4box's mp4ff-backed dimension/avcC parsing
// has something genuinely parseable to chew on.
var (
	testSPS = []byte{
		0x67, 0x64, 0x00, 0x0c, 0xac, 0x3b, 0x50, 0xb0,
		0x4b, 0x42, 0x00, 0x00, 0x03, 0x00, 0x02, 0x00,
		0x00, 0x03, 0x00, 0x3d, 0x08,
	}
	testPPS = []byte{0x68, 0xee, 0x3c, 0x80}
)

type fakeCamera struct {
	keyFrameRequests int
}

func (c *fakeCamera) RequestKeyFrame() { c.keyFrameRequests++ }

// singleProcessLookup mirrors internal/media's test stub: a plugin.Lookup
// over a single process with no RPC peers.
type singleProcessLookup struct {
	self plugin.Process
	recv media.Receiver
}

func (l singleProcessLookup) Find(name string) (plugin.Instance, bool) {
	return plugin.Instance{}, false
}

func (l singleProcessLookup) InProcess(p plugin.Process) []plugin.Slot {
	if p != l.self || l.recv == nil {
		return nil
	}
	return []plugin.Slot{{Name: "media", Value: l.recv}}
}

type collectingReceiver struct {
	got chan media.Record
}

func newCollectingReceiver() *collectingReceiver {
	return &collectingReceiver{got: make(chan media.Record, 8)}
}

func (r *collectingReceiver) HandleMedia(rec media.Record) error {
	r.got <- rec
	return nil
}

func newTestBus(t *testing.T, recv media.Receiver) *media.Manager {
	t.Helper()
	bus := media.New(ratcamlog.Nop(), "medialib")
	lookup := singleProcessLookup{self: plugin.MAIN, recv: recv}
	if err := bus.Activate(context.Background(), &plugin.Context{Self: plugin.MAIN, Table: lookup}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bus.Deactivate(context.Background()) })
	return bus
}

// TestRecordPreservesPreRoll feeds a handful of frames before Record is
// ever called, then asks for a recording: the clip handed to the media
// bus must include the frames fed before Record, proving startRecording
// promotes the pre-roll buffer rather than starting empty.
func TestRecordPreservesPreRoll(t *testing.T) {
	recv := newCollectingReceiver()
	bus := newTestBus(t, recv)
	cam := &fakeCamera{}
	cfg := Config{
		SpoolDir:     t.TempDir(),
		BufferMaxAge: 1000,
		SPSMaxAge:    1000,
		Timescale:    90000,
		Framerate:    30,
	}
	d := New(ratcamlog.Nop(), cfg, cam, bus)

	// Pre-roll: one GOP (SPS-opened) fed before any recording is requested.
	d.Feed([]byte{0, 0, 0, 1, 0x65, 0xaa}, true, true, testSPS, testPPS)
	d.Feed([]byte{0, 0, 0, 1, 0x41, 0xbb}, false, false, nil, nil)
	d.Feed([]byte{0, 0, 0, 1, 0x41, 0xcc}, false, false, nil, nil)

	d.Record("caller-info", nil)

	// The next SPS is the split point that promotes the pre-roll into the
	// active recording target.
	d.Feed([]byte{0, 0, 0, 1, 0x65, 0xdd}, true, true, testSPS, testPPS)
	d.Feed([]byte{0, 0, 0, 1, 0x41, 0xee}, false, false, nil, nil)

	d.StopAndFinalise()

	select {
	case rec := <-recv.got:
		if rec.Info != "caller-info" {
			t.Fatalf("info mismatch: %+v", rec.Info)
		}
		if rec.Kind != media.KindMP4 {
			t.Fatalf("expected mp4 kind, got %v", rec.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finalised clip")
	}
}

// TestStopAndDiscardDeliversNothing exercises the discard path: no media
// record should ever reach the bus.
func TestStopAndDiscardDeliversNothing(t *testing.T) {
	recv := newCollectingReceiver()
	bus := newTestBus(t, recv)
	cam := &fakeCamera{}
	cfg := Config{
		SpoolDir:     t.TempDir(),
		BufferMaxAge: 1000,
		SPSMaxAge:    1000,
		Timescale:    90000,
		Framerate:    30,
	}
	d := New(ratcamlog.Nop(), cfg, cam, bus)

	d.Feed([]byte{0, 0, 0, 1, 0x65, 0xaa}, true, true, testSPS, testPPS)
	d.Record(nil, nil)
	d.Feed([]byte{0, 0, 0, 1, 0x65, 0xbb}, true, true, testSPS, testPPS)
	d.StopAndDiscard()

	select {
	case rec := <-recv.got:
		t.Fatalf("expected no delivered clip, got %+v", rec)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestFootageMaxAgeAutoStops checks that Record's stopAfter bound ends the
// recording on its own, without an explicit StopAndFinalise call, once
// enough frames have elapsed since the clip started.
func TestFootageMaxAgeAutoStops(t *testing.T) {
	recv := newCollectingReceiver()
	bus := newTestBus(t, recv)
	cam := &fakeCamera{}
	cfg := Config{
		SpoolDir:     t.TempDir(),
		BufferMaxAge: 1000,
		SPSMaxAge:    1000,
		Timescale:    90000,
		Framerate:    10,
	}
	d := New(ratcamlog.Nop(), cfg, cam, bus)

	d.Feed([]byte{0, 0, 0, 1, 0x65, 0xaa}, true, true, testSPS, testPPS)

	stopAfter := 100 * time.Millisecond // 1 frame at 10fps
	d.Record("timed", &stopAfter)

	// First split point after Record: starts the recording.
	d.Feed([]byte{0, 0, 0, 1, 0x65, 0xbb}, true, true, testSPS, testPPS)
	d.Feed([]byte{0, 0, 0, 1, 0x41, 0xcc}, false, false, nil, nil)
	// Second split point: footage_max_age has elapsed, so this SPS's
	// handleSplitPoint call should see requestRecording already cleared
	// and finalise on its own.
	d.Feed([]byte{0, 0, 0, 1, 0x65, 0xdd}, true, true, testSPS, testPPS)

	select {
	case rec := <-recv.got:
		if rec.Info != "timed" {
			t.Fatalf("info mismatch: %+v", rec.Info)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auto-stopped clip")
	}
}

// TestRequestKeyFrameOnStaleSPS verifies the camera is asked for a fresh
// keyframe once the running SPS has aged past SPSMaxAge (capped by
// BufferMaxAge) without a new one arriving.
func TestRequestKeyFrameOnStaleSPS(t *testing.T) {
	recv := newCollectingReceiver()
	bus := newTestBus(t, recv)
	cam := &fakeCamera{}
	cfg := Config{
		SpoolDir:     t.TempDir(),
		BufferMaxAge: 1000,
		SPSMaxAge:    2,
		Timescale:    90000,
		Framerate:    30,
	}
	d := New(ratcamlog.Nop(), cfg, cam, bus)

	d.Feed([]byte{0, 0, 0, 1, 0x65, 0xaa}, true, true, testSPS, testPPS)
	for i := 0; i < 4; i++ {
		d.Feed([]byte{0, 0, 0, 1, 0x41, byte(i)}, false, false, nil, nil)
	}

	if cam.keyFrameRequests == 0 {
		t.Fatal("expected at least one RequestKeyFrame call after SPSMaxAge elapsed")
	}
}
