package motion

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
)

// StillImager is the concrete Imager: it blends the accumulator field
// onto the captured RGB still as a per-block colour wash through lut,
// then JPEG-encodes the result. Grounded on
// original_source/specialized/detector_support/overlay.py's own
// "recolour each motion-vector block, alpha-blend onto the frame" pass;
// no image-composition library anywhere in the retrieved example pack
// does block-wise alpha blending, so this stays on image/draw-adjacent
// stdlib (image, image/color, image/jpeg), the same boundary
// internal/recorder/mp4box draws around its own hand-rolled box writer.
type StillImager struct {
	// Alpha is the overlay blend weight in [0,1]; 0 disables blending
	// entirely (the still passes through unmodified).
	Alpha float64
}

// NewStillImager builds a StillImager at the default blend weight.
func NewStillImager() *StillImager {
	return &StillImager{Alpha: 0.5}
}

// Overlay implements motion.Imager.
func (s *StillImager) Overlay(rgb []byte, width, height int, field [][]float64, lut ColorLUT, quality int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	rows := len(field)
	for y := 0; y < height; y++ {
		var row []float64
		var cols int
		blockY := 0
		if rows > 0 {
			blockY = y * rows / height
			row = field[blockY]
			cols = len(row)
		}
		for x := 0; x < width; x++ {
			off := (y*width + x) * 3
			r, g, b := byte(0), byte(0), byte(0)
			if off+2 < len(rgb) {
				r, g, b = rgb[off], rgb[off+1], rgb[off+2]
			}
			out := color.RGBA{R: r, G: g, B: b, A: 0xff}
			if cols > 0 && s.Alpha > 0 {
				blockX := x * cols / width
				intensity := clampIntensity(row[blockX])
				ramp := lut[intensity]
				out = blendPixel(out, ramp, s.Alpha)
			}
			img.SetRGBA(x, y, out)
		}
	}
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clampIntensity(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return int(v)
}

func clampQuality(q int) int {
	if q <= 0 {
		return 85
	}
	if q > 100 {
		return 100
	}
	return q
}

func blendPixel(base color.RGBA, ramp [3]byte, alpha float64) color.RGBA {
	blend := func(b, r byte) byte {
		return byte(float64(b)*(1-alpha) + float64(r)*alpha)
	}
	return color.RGBA{
		R: blend(base.R, ramp[0]),
		G: blend(base.G, ramp[1]),
		B: blend(base.B, ramp[2]),
		A: 0xff,
	}
}
