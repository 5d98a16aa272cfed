// Package camerastub stands in for the actual camera/video driver: the
// image-sensor, H.264 encoder and motion-vector extraction hardware
// spec.md §1 names as an external collaborator this module never owns.
// No such driver exists anywhere in the retrieved example pack (the
// teacher's own camera binding is CGo against a proprietary ASI SDK,
// tied to a different camera family entirely), so this package plays
// the same "unavailable hardware logs instead" role internal/statusled
// and internal/pwmled already play for their own GPIO pins: it satisfies
// every narrow interface internal/capture, internal/motion and
// internal/recorder declare, producing a minimal still JPEG instead of a
// sensor frame and never feeding any access units, so the three
// processes come up and stay healthy on hardware-less hosts.
package camerastub

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

// Driver is a no-hardware stand-in for the camera/video source. It
// implements capture.Source, motion.Camera and recorder.Camera.
type Driver struct {
	logger ratcamlog.Logger
	width  int
	height int
}

// New constructs a Driver producing width x height solid-colour frames.
func New(logger ratcamlog.Logger, width, height int) *Driver {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	return &Driver{logger: logger.With(ratcamlog.String("component", "camerastub")), width: width, height: height}
}

// CaptureJPEG implements capture.Source: encodes a blank frame at the
// requested quality rather than reading a sensor.
func (d *Driver) CaptureJPEG(quality int) ([]byte, error) {
	d.logger.Debug("still capture requested, no camera hardware wired", ratcamlog.Int("quality", quality))
	img := image.NewGray(image.Rect(0, 0, d.width, d.height))
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CaptureRGB implements motion.Camera: a flat grey frame, since there is
// no sensor behind this stub to observe motion in.
func (d *Driver) CaptureRGB() (data []byte, width, height int, err error) {
	d.logger.Debug("motion still capture requested, no camera hardware wired")
	buf := make([]byte, d.width*d.height*3)
	for i := range buf {
		buf[i] = 0x80
	}
	return buf, d.width, d.height, nil
}

// RequestKeyFrame implements recorder.Camera. There is no encoder to
// ask for a fresh SPS, so this is a no-op logged at debug level.
func (d *Driver) RequestKeyFrame() {
	d.logger.Debug("key frame requested, no camera hardware wired")
}

func clampQuality(q int) int {
	if q <= 0 {
		return 75
	}
	if q > 100 {
		return 100
	}
	return q
}
