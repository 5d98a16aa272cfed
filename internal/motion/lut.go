package motion

// ColorLUT maps a grayscale motion-intensity level (0-255) to an RGB
// colour, used by Imager.Overlay to colourise the accumulator field onto
// a captured still. Grounded on the colour ramp built by
// original_source/specialized/detector_support/ramp.py, simplified to a
// plain linear RGB interpolation (the original's extra sRGB gamma
// round-trip is a display nicety the overlay collaborator, not this
// package, is free to apply).
type ColorLUT [256][3]byte

// Stop is one control point of a colour ramp: pos in [0,1] maps to rgb.
type Stop struct {
	Pos float64
	RGB [3]byte
}

// BuildLUT interpolates linearly between consecutive stops (which must be
// sorted by Pos) to fill all 256 entries.
func BuildLUT(stops []Stop) ColorLUT {
	var lut ColorLUT
	if len(stops) == 0 {
		return lut
	}
	for i := 0; i < 256; i++ {
		pos := float64(i) / 255.0
		lut[i] = interpolate(stops, pos)
	}
	return lut
}

func interpolate(stops []Stop, pos float64) [3]byte {
	if pos <= stops[0].Pos {
		return stops[0].RGB
	}
	last := stops[len(stops)-1]
	if pos >= last.Pos {
		return last.RGB
	}
	for i := 1; i < len(stops); i++ {
		if pos > stops[i].Pos {
			continue
		}
		lo, hi := stops[i-1], stops[i]
		span := hi.Pos - lo.Pos
		var t float64
		if span > 0 {
			t = (pos - lo.Pos) / span
		}
		var out [3]byte
		for c := 0; c < 3; c++ {
			out[c] = byte(float64(lo.RGB[c])*(1-t) + float64(hi.RGB[c])*t)
		}
		return out
	}
	return last.RGB
}

// DefaultLUT mirrors MOTION_COLOR_RAMP from
// specialized/plugin_motion_detector.py: white at rest, shading through
// blue and purple to magenta at full intensity.
var DefaultLUT = BuildLUT([]Stop{
	{Pos: 0.00, RGB: [3]byte{255, 255, 255}},
	{Pos: 0.25, RGB: [3]byte{66, 134, 244}},
	{Pos: 0.75, RGB: [3]byte{193, 65, 244}},
	{Pos: 1.00, RGB: [3]byte{255, 0, 246}},
})
