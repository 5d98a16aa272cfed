package camerastub

import (
	"testing"

	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

func TestCaptureJPEGProducesDecodableImage(t *testing.T) {
	d := New(ratcamlog.Nop(), 32, 16)
	data, err := d.CaptureJPEG(80)
	if err != nil {
		t.Fatalf("CaptureJPEG: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty JPEG payload")
	}
}

func TestCaptureRGBMatchesDimensions(t *testing.T) {
	d := New(ratcamlog.Nop(), 32, 16)
	data, w, h, err := d.CaptureRGB()
	if err != nil {
		t.Fatalf("CaptureRGB: %v", err)
	}
	if w != 32 || h != 16 {
		t.Fatalf("expected 32x16, got %dx%d", w, h)
	}
	if len(data) != 32*16*3 {
		t.Fatalf("expected %d bytes, got %d", 32*16*3, len(data))
	}
}

func TestRequestKeyFrameDoesNotPanic(t *testing.T) {
	d := New(ratcamlog.Nop(), 0, 0)
	d.RequestKeyFrame()
}
