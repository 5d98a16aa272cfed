package chatauth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warpcomdev/ratcam/internal/codec"
)

// enumRegistry wraps Status through internal/codec's tagged envelope when
// an Entry is persisted to disk, so the on-disk Status value round-trips
// as the named enum it is rather than degrading to a bare string once the
// file is read back through anything that doesn't know the Go type (an
// operator's editor, a future tool reading the store directly).
var enumRegistry = codec.NewRegistry()

func init() {
	enumRegistry.RegisterEnum("chatauth.Status", Status(""), ParseStatus)
}

// Transaction is the chat auth transaction of spec.md §4.10: the
// in-flight password challenge for one chat. PasswordHash is cleared
// (Entry.Transaction set to nil) the moment the transaction concludes,
// one way or the other.
type Transaction struct {
	RequestingUser string    `json:"requesting_user"`
	IssueTime      time.Time `json:"issue_time"`
	Retries        int       `json:"retries"`
	PasswordHash   string    `json:"password_hash"`
}

// Entry is one chat's auth state. Invariant: Transaction is non-nil iff
// Status == Ongoing; User/AuthorisedAt are set iff Status == Authorized.
type Entry struct {
	ChatID       int64
	Status       Status
	User         string
	AuthorisedAt *time.Time
	Transaction  *Transaction
}

type entryWire struct {
	ChatID       int64           `json:"chat_id"`
	Status       json.RawMessage `json:"status"`
	User         string          `json:"user,omitempty"`
	AuthorisedAt *time.Time      `json:"authorised_at,omitempty"`
	Transaction  *Transaction    `json:"transaction,omitempty"`
}

// MarshalJSON implements the wire format: Status goes out through
// enumRegistry's envelope, everything else is plain encoding/json.
func (e Entry) MarshalJSON() ([]byte, error) {
	statusJSON, err := enumRegistry.Marshal(e.Status)
	if err != nil {
		return nil, fmt.Errorf("chatauth: marshal status: %w", err)
	}
	return json.Marshal(entryWire{
		ChatID:       e.ChatID,
		Status:       statusJSON,
		User:         e.User,
		AuthorisedAt: e.AuthorisedAt,
		Transaction:  e.Transaction,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var wire entryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	decoded, err := enumRegistry.Unmarshal(wire.Status)
	if err != nil {
		return fmt.Errorf("chatauth: unmarshal status: %w", err)
	}
	status, ok := decoded.(Status)
	if !ok {
		return fmt.Errorf("chatauth: status field decoded to %T, not Status", decoded)
	}
	e.ChatID = wire.ChatID
	e.Status = status
	e.User = wire.User
	e.AuthorisedAt = wire.AuthorisedAt
	e.Transaction = wire.Transaction
	return nil
}
