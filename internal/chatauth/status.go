// Package chatauth implements the per-chat authentication state machine
// (component J, spec.md §4.10): password issuance, retry/expiry
// semantics, and a JSON-persisted store reloaded on external edits.
// Grounded on the auth state machine in original_source's chat-bot
// authentication module, rendered in the teacher's "small typed enum +
// mutex-guarded map + JSON snapshot" style.
package chatauth

import "fmt"

// Status is a chat's current auth state.
type Status string

const (
	Unknown    Status = "UNKNOWN"
	Ongoing    Status = "ONGOING"
	Authorized Status = "AUTHORIZED"
	Denied     Status = "DENIED"
)

func (s Status) String() string { return string(s) }

// ParseStatus parses Status.String()'s output, for codec.RegisterEnum.
func ParseStatus(s string) (interface{}, error) {
	switch Status(s) {
	case Unknown, Ongoing, Authorized, Denied:
		return Status(s), nil
	default:
		return nil, fmt.Errorf("chatauth: unknown status %q", s)
	}
}

// Result is try_auth's outcome, spec.md §4.10's table.
type Result string

const (
	Authenticated   Result = "AUTHENTICATED"
	WrongToken      Result = "WRONG_TOKEN"
	TooManyRetries  Result = "TOO_MANY_RETRIES"
	Expired         Result = "EXPIRED"
	ProtocolViolation Result = "PROTOCOL_VIOLATION"
)

func (r Result) String() string { return string(r) }

// ParseResult parses Result.String()'s output, for codec.RegisterEnum.
func ParseResult(s string) (interface{}, error) {
	switch Result(s) {
	case Authenticated, WrongToken, TooManyRetries, Expired, ProtocolViolation:
		return Result(s), nil
	default:
		return nil, fmt.Errorf("chatauth: unknown result %q", s)
	}
}
