package codec

import (
	"testing"
	"time"
)

type sample struct {
	Name  string
	Count int
}

type colour int

const (
	red colour = iota
	green
	blue
)

func (c colour) String() string {
	switch c {
	case red:
		return "red"
	case green:
		return "green"
	case blue:
		return "blue"
	default:
		return "unknown"
	}
}

func parseColour(s string) (interface{}, error) {
	switch s {
	case "red":
		return red, nil
	case "green":
		return green, nil
	case "blue":
		return blue, nil
	}
	return nil, nil
}

func TestRoundTripRecord(t *testing.T) {
	r := NewRegistry()
	r.Register("sample", sample{})

	v := sample{Name: "x", Count: 3}
	data, err := r.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.(sample) != v {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, v)
	}
}

func TestRoundTripEnum(t *testing.T) {
	r := NewRegistry()
	r.RegisterEnum("colour", red, parseColour)

	data, err := r.Marshal(green)
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.(colour) != green {
		t.Fatalf("round-trip mismatch: got %v want %v", got, green)
	}
}

func TestRoundTripTimeAndBytes(t *testing.T) {
	now := time.Unix(1_700_000_000, 123_000_000)
	data, err := MarshalTime(now)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalTime(data)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(now) {
		t.Fatalf("time round-trip mismatch: got %v want %v", got, now)
	}

	b := []byte{0, 1, 2, 250, 251}
	bdata, err := MarshalBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	gotBytes, err := UnmarshalBytes(bdata)
	if err != nil {
		t.Fatal(err)
	}
	if string(gotBytes) != string(b) {
		t.Fatalf("bytes round-trip mismatch: got %v want %v", gotBytes, b)
	}
}

func TestUnknownTypeDegradesToMap(t *testing.T) {
	r := NewRegistry()
	data := []byte(`{"__type":"SomethingElse","SomethingElse":{"a":1}}`)
	got, err := r.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("expected plain map, got %T", got)
	}
	if m[TypeKey] != "SomethingElse" {
		t.Fatalf("unexpected map: %+v", m)
	}
}
