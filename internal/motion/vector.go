// Package motion implements the motion-trigger state machine (component
// H, spec.md §4.8): a decaying accumulator over a denoised motion-vector
// norm field, a hysteresis trigger on top of it, and the MAIN-side
// responder fan-out. Grounded on RatcamMD in
// original_source/unattended/new_motion_detect.py (accumulator decay) and
// specialized/plugin_motion_detector.py (the CAMERA/MAIN plugin split and
// notify_movement_status_changed handshake).
package motion

import "math"

// Vector is one H.264 motion-vector grid cell, matching the x/y component
// pair picamera's motion output exposes.
type Vector struct {
	X, Y int16
}

// ComputeDenoisedNorm implements spec.md §4.8 step 1: the Euclidean norm
// of each cell, rescaled from the ~182 theoretical max for 8-bit signed
// vector components to [0,255], then 3x3 median-filtered to suppress
// sensor noise. Grounded on
// original_source/specialized/detector_support/imaging.py's
// get_denoised_motion_vector_norm.
func ComputeDenoisedNorm(field [][]Vector) [][]float64 {
	norm := normField(field)
	return medianFilter3x3(norm)
}

const maxVectorNorm = 182.0

func normField(field [][]Vector) [][]float64 {
	out := make([][]float64, len(field))
	for i, row := range field {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			x, y := float64(v.X), float64(v.Y)
			n := math.Sqrt(x*x + y*y)
			out[i][j] = clamp(n/maxVectorNorm*255.0, 0, 255)
		}
	}
	return out
}

// medianFilter3x3 applies a 3x3 median filter, clamping at the grid
// border (the border cell's own neighbourhood is whatever window fits).
func medianFilter3x3(field [][]float64) [][]float64 {
	rows := len(field)
	out := make([][]float64, rows)
	for i := range field {
		cols := len(field[i])
		out[i] = make([]float64, cols)
		for j := range field[i] {
			out[i][j] = median(neighbourhood(field, i, j))
		}
	}
	return out
}

func neighbourhood(field [][]float64, i, j int) []float64 {
	var vals []float64
	for di := -1; di <= 1; di++ {
		for dj := -1; dj <= 1; dj++ {
			ni, nj := i+di, j+dj
			if ni < 0 || ni >= len(field) {
				continue
			}
			if nj < 0 || nj >= len(field[ni]) {
				continue
			}
			vals = append(vals, field[ni][nj])
		}
	}
	return vals
}

func median(vals []float64) float64 {
	// Insertion sort: neighbourhoods are at most 9 elements.
	for i := 1; i < len(vals); i++ {
		v := vals[i]
		j := i - 1
		for j >= 0 && vals[j] > v {
			vals[j+1] = vals[j]
			j--
		}
		vals[j+1] = v
	}
	return vals[len(vals)/2]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

