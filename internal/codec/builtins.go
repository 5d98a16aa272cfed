package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Time and Bytes give time.Time/[]byte values an explicit envelope
// (__type: "datetime" / "bytes") instead of relying on encoding/json's
// built-in (and language-specific) RFC3339 / base64 rendering, matching
// misc/extended_json_codec.py's special-cased datetime/bytes handling.
type wireTime struct {
	Unix float64 `json:"datetime"`
}

type wireBytes struct {
	B64 string `json:"bytes"`
}

// MarshalTime renders t as the envelope {"__type":"datetime","datetime":<unix seconds>}.
func MarshalTime(t time.Time) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		TypeKey:  "datetime",
		"datetime": float64(t.UnixNano()) / 1e9,
	})
}

// UnmarshalTime reverses MarshalTime.
func UnmarshalTime(data []byte) (time.Time, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return time.Time{}, err
	}
	raw, ok := probe["datetime"]
	if !ok {
		return time.Time{}, fmt.Errorf("codec: not a datetime envelope")
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, err
	}
	whole := int64(secs)
	frac := secs - float64(whole)
	return time.Unix(whole, int64(frac*1e9)), nil
}

// MarshalBytes renders b as the envelope {"__type":"bytes","bytes":<base64>}.
func MarshalBytes(b []byte) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		TypeKey: "bytes",
		"bytes": base64.StdEncoding.EncodeToString(b),
	})
}

// UnmarshalBytes reverses MarshalBytes.
func UnmarshalBytes(data []byte) ([]byte, error) {
	var w wireBytes
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(w.B64)
}
