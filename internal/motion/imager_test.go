package motion

import "testing"

func TestStillImagerOverlayProducesJPEG(t *testing.T) {
	s := NewStillImager()
	width, height := 8, 4
	rgb := make([]byte, width*height*3)
	for i := range rgb {
		rgb[i] = 0x40
	}
	field := [][]float64{{10, 200}, {30, 255}}

	data, err := s.Overlay(rgb, width, height, field, DefaultLUT, 80)
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty JPEG payload")
	}
}

func TestStillImagerOverlayWithoutField(t *testing.T) {
	s := NewStillImager()
	width, height := 4, 4
	rgb := make([]byte, width*height*3)
	data, err := s.Overlay(rgb, width, height, nil, DefaultLUT, 80)
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty JPEG payload")
	}
}
