package chatauth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

func newTestStore(t *testing.T, now func() time.Time) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatauth.json")
	return New(ratcamlog.Nop(), path, now)
}

// TestSuccessfulAuthFlow exercises spec.md S1: start_auth then a correct
// try_auth reaches AUTHORIZED, with User/AuthorisedAt set and the
// transaction cleared.
func TestSuccessfulAuthFlow(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	store := newTestStore(t, func() time.Time { return clock })

	password, err := store.StartAuth(42, "alice")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}
	if store.Status(42) != Ongoing {
		t.Fatalf("expected ONGOING after StartAuth, got %v", store.Status(42))
	}

	result, err := store.TryAuth(42, password)
	if err != nil {
		t.Fatalf("TryAuth: %v", err)
	}
	if result != Authenticated {
		t.Fatalf("expected AUTHENTICATED, got %v", result)
	}
	if store.Status(42) != Authorized {
		t.Fatalf("expected AUTHORIZED, got %v", store.Status(42))
	}
	ids := store.AuthorisedChatIDs()
	if len(ids) != 1 || ids[0] != 42 {
		t.Fatalf("expected [42] authorised, got %v", ids)
	}

	// AUTHORIZED -> try_auth(*) always fails with PROTOCOL_VIOLATION and
	// leaves status unchanged.
	result, err = store.TryAuth(42, password)
	if err != nil {
		t.Fatalf("TryAuth on authorised chat: %v", err)
	}
	if result != ProtocolViolation {
		t.Fatalf("expected PROTOCOL_VIOLATION, got %v", result)
	}
	if store.Status(42) != Authorized {
		t.Fatalf("expected status to remain AUTHORIZED, got %v", store.Status(42))
	}
}

// TestPasswordExpiry exercises spec.md S2: start_auth at t0, advance the
// virtual clock by 181s, try_auth returns EXPIRED and status becomes
// DENIED.
func TestPasswordExpiry(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	store := newTestStore(t, func() time.Time { return clock })

	password, err := store.StartAuth(7, "bob")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}

	clock = clock.Add(181 * time.Second)

	result, err := store.TryAuth(7, password)
	if err != nil {
		t.Fatalf("TryAuth: %v", err)
	}
	if result != Expired {
		t.Fatalf("expected EXPIRED, got %v", result)
	}
	if store.Status(7) != Denied {
		t.Fatalf("expected DENIED, got %v", store.Status(7))
	}
}

// TestRetryExhaustionDenies checks that MaxRetries consecutive wrong
// guesses deny the chat, and that each wrong guess short of the limit
// keeps it ONGOING.
func TestRetryExhaustionDenies(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	store := newTestStore(t, func() time.Time { return clock })

	if _, err := store.StartAuth(99, "eve"); err != nil {
		t.Fatalf("StartAuth: %v", err)
	}

	for i := 0; i < MaxRetries-1; i++ {
		result, err := store.TryAuth(99, "definitely-wrong")
		if err != nil {
			t.Fatalf("TryAuth attempt %d: %v", i, err)
		}
		if result != WrongToken {
			t.Fatalf("attempt %d: expected WRONG_TOKEN, got %v", i, result)
		}
		if store.Status(99) != Ongoing {
			t.Fatalf("attempt %d: expected ONGOING, got %v", i, store.Status(99))
		}
	}

	result, err := store.TryAuth(99, "definitely-wrong")
	if err != nil {
		t.Fatalf("final TryAuth: %v", err)
	}
	if result != TooManyRetries {
		t.Fatalf("expected TOO_MANY_RETRIES, got %v", result)
	}
	if store.Status(99) != Denied {
		t.Fatalf("expected DENIED, got %v", store.Status(99))
	}
}

// TestRevokeAuthResetsToUnknown checks revoke_auth's "any -> UNKNOWN"
// transition from an authorised chat.
func TestRevokeAuthResetsToUnknown(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	store := newTestStore(t, func() time.Time { return clock })

	password, _ := store.StartAuth(5, "carol")
	if _, err := store.TryAuth(5, password); err != nil {
		t.Fatalf("TryAuth: %v", err)
	}
	if store.Status(5) != Authorized {
		t.Fatalf("expected AUTHORIZED before revoke, got %v", store.Status(5))
	}

	store.RevokeAuth(5)
	if store.Status(5) != Unknown {
		t.Fatalf("expected UNKNOWN after revoke, got %v", store.Status(5))
	}
	if len(store.AuthorisedChatIDs()) != 0 {
		t.Fatal("expected no authorised chats after revoke")
	}
}

// TestMigrateChatIDCarriesStateForward checks that a mid-transaction chat
// migrates to its new id with the transaction intact.
func TestMigrateChatIDCarriesStateForward(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	store := newTestStore(t, func() time.Time { return clock })

	password, err := store.StartAuth(1, "dave")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}

	if err := store.MigrateChatID(1, 2); err != nil {
		t.Fatalf("MigrateChatID: %v", err)
	}
	if store.Status(1) != Unknown {
		t.Fatalf("expected old chat id to be gone, got %v", store.Status(1))
	}
	if store.Status(2) != Ongoing {
		t.Fatalf("expected new chat id to carry ONGOING forward, got %v", store.Status(2))
	}

	result, err := store.TryAuth(2, password)
	if err != nil {
		t.Fatalf("TryAuth after migration: %v", err)
	}
	if result != Authenticated {
		t.Fatalf("expected AUTHENTICATED after migration, got %v", result)
	}
}

// TestLoadRecoversPersistedState checks that Save/Load round-trips an
// AUTHORIZED entry, including the codec-wrapped Status field.
func TestLoadRecoversPersistedState(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	path := filepath.Join(t.TempDir(), "chatauth.json")
	store := New(ratcamlog.Nop(), path, func() time.Time { return clock })

	password, _ := store.StartAuth(11, "frank")
	if _, err := store.TryAuth(11, password); err != nil {
		t.Fatalf("TryAuth: %v", err)
	}

	reloaded := New(ratcamlog.Nop(), path, func() time.Time { return clock })
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Status(11) != Authorized {
		t.Fatalf("expected AUTHORIZED to survive reload, got %v", reloaded.Status(11))
	}
	ids := reloaded.AuthorisedChatIDs()
	if len(ids) != 1 || ids[0] != 11 {
		t.Fatalf("expected [11] authorised after reload, got %v", ids)
	}
}
