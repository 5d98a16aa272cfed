// Package codec implements the extended, type-tagged JSON envelope used
// to move values across process boundaries (internal/rpc) and to persist
// them to disk (internal/chatauth). It is grounded on
// misc/extended_json_codec.py: every custom-typed value is wrapped as
// {"__type": "TypeName", "TypeName": payload}; built-ins cover time.Time
// (as a Unix timestamp) and []byte (base64, which encoding/json already
// does — we still route it through the envelope so a receiver that only
// knows the envelope format can tell a byte string apart from a plain
// JSON string). Unknown __type values degrade to a plain map.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
)

const TypeKey = "__type"

// Enum is satisfied by types the codec can round-trip as a tagged scalar
// rather than a full struct (e.g. plugin.Process).
type Enum interface {
	String() string
}

// EnumParser parses the String() form of an Enum back into a value;
// registered per-type alongside the Enum itself.
type EnumParser func(s string) (interface{}, error)

type typeInfo struct {
	rtype      reflect.Type
	enumParser EnumParser
}

// Registry is a set of named, round-trippable types. A process builds one
// at start-up (typically a package-level default, registered from init()
// in each package that defines a codec-visible type) and shares it between
// the RPC transport and any persistence layer.
type Registry struct {
	byName map[string]typeInfo
	byType map[reflect.Type]string
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]typeInfo),
		byType: make(map[reflect.Type]string),
	}
}

// Register a struct or record type under name. Values are marshalled with
// encoding/json's default struct encoding inside the envelope payload.
func (r *Registry) Register(name string, sample interface{}) {
	t := reflect.TypeOf(sample)
	r.byName[name] = typeInfo{rtype: t}
	r.byType[t] = name
}

// RegisterEnum registers a type whose wire payload is its String() form,
// synthesising to_json/from_json the way the Python codec does for
// Enum/namedtuple types it has no custom hooks for.
func (r *Registry) RegisterEnum(name string, sample Enum, parse EnumParser) {
	t := reflect.TypeOf(sample)
	r.byName[name] = typeInfo{rtype: t, enumParser: parse}
	r.byType[t] = name
}

type envelope struct {
	Type    string          `json:"__type"`
	Payload json.RawMessage `json:"-"`
}

// Marshal encodes v, wrapping it in the {"__type":...} envelope when v's
// runtime type is registered; otherwise it falls back to plain
// encoding/json.
func (r *Registry) Marshal(v interface{}) ([]byte, error) {
	rv := reflect.ValueOf(v)
	t := rv.Type()
	name, ok := r.byType[t]
	if !ok {
		return json.Marshal(v)
	}
	info := r.byName[name]
	var payload json.RawMessage
	var err error
	if info.enumParser != nil {
		payload, err = json.Marshal(v.(Enum).String())
	} else {
		payload, err = json.Marshal(v)
	}
	if err != nil {
		return nil, err
	}
	wrapper := map[string]json.RawMessage{
		TypeKey: mustMarshal(name),
		name:    payload,
	}
	return json.Marshal(wrapper)
}

// Unmarshal decodes data into a fresh value for the given declared __type
// name if data carries an envelope, or plain JSON otherwise. The returned
// value is addressable (a pointer) so callers can type-assert or further
// populate it.
func (r *Registry) Unmarshal(data []byte) (interface{}, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		// Not an object at all (scalar, array): plain value.
		var plain interface{}
		if err2 := json.Unmarshal(data, &plain); err2 != nil {
			return nil, err
		}
		return plain, nil
	}
	rawType, ok := probe[TypeKey]
	if !ok {
		// Plain map, no envelope.
		var plain interface{}
		if err := json.Unmarshal(data, &plain); err != nil {
			return nil, err
		}
		return plain, nil
	}
	var name string
	if err := json.Unmarshal(rawType, &name); err != nil {
		return nil, fmt.Errorf("codec: malformed %s: %w", TypeKey, err)
	}
	info, ok := r.byName[name]
	if !ok {
		// Unknown __type: degrade to a plain map, per spec.
		var plain map[string]interface{}
		if err := json.Unmarshal(data, &plain); err != nil {
			return nil, err
		}
		return plain, nil
	}
	payload, ok := probe[name]
	if !ok {
		return nil, fmt.Errorf("codec: envelope for %q missing payload field", name)
	}
	if info.enumParser != nil {
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
		return info.enumParser(s)
	}
	out := reflect.New(info.rtype)
	if err := json.Unmarshal(payload, out.Interface()); err != nil {
		return nil, err
	}
	return out.Elem().Interface(), nil
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
