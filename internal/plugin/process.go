// Package plugin holds the vocabulary shared by every process-host
// component: the process tag enum, plugin definitions/instances, and the
// small capability interfaces plugins opt into (MediaReceiver,
// MotionDetectorResponder, ...).
package plugin

import "fmt"

// Process is the closed enumeration of cooperating OS processes.
type Process int

const (
	MAIN Process = iota
	CAMERA
	CHAT
)

// All lists every process tag, in a stable order used wherever a
// ProcessPack-shaped triple is built.
var All = [3]Process{MAIN, CAMERA, CHAT}

func (p Process) String() string {
	switch p {
	case MAIN:
		return "main"
	case CAMERA:
		return "camera"
	case CHAT:
		return "chat"
	default:
		return fmt.Sprintf("process(%d)", int(p))
	}
}

// ParseProcess parses the stable string value used as socket-file stems
// and RPC housekeeping keys.
func ParseProcess(s string) (Process, error) {
	for _, p := range All {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("plugin: unknown process tag %q", s)
}

// MarshalJSON/UnmarshalJSON let Process survive the extended-JSON codec
// (internal/codec) as a tagged enum rather than a bare integer, matching
// spec.md's requirement that enum identity is preserved across processes.
func (p Process) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

func (p *Process) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseProcess(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Triple is a per-process array of T, the recurring shape used both for
// plugin definitions (T = TypeName) and plugin instances (T = any).
type Triple[T any] [3]T

func (t Triple[T]) Get(p Process) T     { return t[p] }
func (t *Triple[T]) Set(p Process, v T) { t[p] = v }
