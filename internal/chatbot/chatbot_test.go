package chatbot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/warpcomdev/ratcam/internal/chatauth"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

// testCommandSink, when non-nil, receives every update dispatched to
// testCommand; it lets individual tests observe whether a gated command
// actually ran without wiring a fresh registration per test.
var testCommandSink chan Update

type testCommand struct{}

func (testCommand) Command() string { return "photo" }

func (testCommand) HandleCommand(ctx context.Context, root *Root, update Update) error {
	if testCommandSink != nil {
		testCommandSink <- update
	}
	return nil
}

func init() {
	RegisterCommand(func() CommandHandler { return testCommand{} })
}

func newTestStore(t *testing.T) *chatauth.Store {
	t.Helper()
	dir := t.TempDir()
	return chatauth.New(ratcamlog.Nop(), filepath.Join(dir, "auth.json"), nil)
}

func authorizeChat(t *testing.T, store *chatauth.Store, chatID int64) {
	t.Helper()
	password, err := store.StartAuth(chatID, "tester")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}
	result, err := store.TryAuth(chatID, password)
	if err != nil {
		t.Fatalf("TryAuth: %v", err)
	}
	if result != chatauth.Authenticated {
		t.Fatalf("expected Authenticated, got %v", result)
	}
}

// fakeTransport is a Transport test double recording every send and
// letting tests queue canned errors per method.
type fakeTransport struct {
	sendPhotoCalls     int
	sendPhotoByIDCalls int
	sendVideoCalls     int
	sendVideoByIDCalls int

	photoFileID string
	videoFileID string
}

func (f *fakeTransport) SendMessage(chatID int64, text string) error { return nil }

func (f *fakeTransport) SendPhoto(chatID int64, jpegData []byte) (string, error) {
	f.sendPhotoCalls++
	return f.photoFileID, nil
}

func (f *fakeTransport) SendPhotoByFileID(chatID int64, fileID string) error {
	f.sendPhotoByIDCalls++
	return nil
}

func (f *fakeTransport) SendVideo(chatID int64, mp4Data []byte) (string, error) {
	f.sendVideoCalls++
	return f.videoFileID, nil
}

func (f *fakeTransport) SendVideoByFileID(chatID int64, fileID string) error {
	f.sendVideoByIDCalls++
	return nil
}

func (f *fakeTransport) HandleUpdates(ctx context.Context, handle func(Update)) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatchBlocksUnauthorisedCommandExceptStart(t *testing.T) {
	store := newTestStore(t)
	ft := &fakeTransport{photoFileID: "photo-1"}
	root := New(ratcamlog.Nop(), ft, store)

	testCommandSink = make(chan Update, 1)
	defer func() { testCommandSink = nil }()

	root.dispatch(Update{ChatID: 1, Command: "photo"})

	select {
	case <-testCommandSink:
		t.Fatal("expected photo command to be blocked for an unauthorised chat")
	default:
	}
}

func TestDispatchAllowsCommandAfterAuthorization(t *testing.T) {
	store := newTestStore(t)
	ft := &fakeTransport{}
	root := New(ratcamlog.Nop(), ft, store)
	authorizeChat(t, store, 42)

	testCommandSink = make(chan Update, 1)
	defer func() { testCommandSink = nil }()

	root.dispatch(Update{ChatID: 42, Command: "photo"})

	select {
	case u := <-testCommandSink:
		if u.ChatID != 42 {
			t.Fatalf("unexpected chat id: %d", u.ChatID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected photo command to run for an authorised chat")
	}
}

func TestStartCommandFlowsThroughEachStatus(t *testing.T) {
	store := newTestStore(t)
	ft := &fakeTransport{}
	root := New(ratcamlog.Nop(), ft, store)

	// UNKNOWN -> starts a fresh challenge and leaves the chat ONGOING.
	root.dispatch(Update{ChatID: 7, Command: "start"})
	if status := store.Status(7); status != chatauth.Ongoing {
		t.Fatalf("expected ONGOING after first /start, got %v", status)
	}

	// ONGOING -> reminder, status unchanged.
	root.dispatch(Update{ChatID: 7, Command: "start"})
	if status := store.Status(7); status != chatauth.Ongoing {
		t.Fatalf("expected ONGOING to persist across a repeated /start, got %v", status)
	}

	// Free-text now completes the challenge via authMessage.
	result, err := store.TryAuth(7, "")
	if err != nil {
		t.Fatalf("TryAuth: %v", err)
	}
	if result != chatauth.WrongToken {
		t.Fatalf("expected WrongToken for an empty guess, got %v", result)
	}

	// AUTHORIZED -> already-authorised reply, no new challenge.
	authorizeChat(t, store, 8)
	root.dispatch(Update{ChatID: 8, Command: "start"})
	if status := store.Status(8); status != chatauth.Authorized {
		t.Fatalf("expected /start on an authorised chat to leave status AUTHORIZED, got %v", status)
	}
}

func TestAuthMessageHandlesPasswordGuessesOnly(t *testing.T) {
	store := newTestStore(t)
	ft := &fakeTransport{}
	root := New(ratcamlog.Nop(), ft, store)

	// No ongoing transaction: the message falls through unhandled.
	handled, err := authMessage{}.HandleMessage(context.Background(), root, Update{ChatID: 1, Text: "hello"})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if handled {
		t.Fatal("expected authMessage to decline a chat with no ongoing transaction")
	}

	password, err := store.StartAuth(1, "tester")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}
	handled, err = authMessage{}.HandleMessage(context.Background(), root, Update{ChatID: 1, Text: password})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !handled {
		t.Fatal("expected authMessage to consume a password guess on an ongoing chat")
	}
	if store.Status(1) != chatauth.Authorized {
		t.Fatalf("expected AUTHORIZED after a correct guess, got %v", store.Status(1))
	}
}

func TestBroadcastPhotoUploadsOnceThenResendsByFileID(t *testing.T) {
	store := newTestStore(t)
	ft := &fakeTransport{photoFileID: "cached-photo-id"}
	root := New(ratcamlog.Nop(), ft, store)

	authorizeChat(t, store, 1)
	authorizeChat(t, store, 2)
	authorizeChat(t, store, 3)

	if err := root.BroadcastPhoto([]byte("jpeg")); err != nil {
		t.Fatalf("BroadcastPhoto: %v", err)
	}
	if ft.sendPhotoCalls != 1 {
		t.Fatalf("expected exactly one upload, got %d", ft.sendPhotoCalls)
	}
	if ft.sendPhotoByIDCalls != 2 {
		t.Fatalf("expected the remaining two recipients resent by file id, got %d", ft.sendPhotoByIDCalls)
	}
}

func TestBroadcastVideoUploadsOnceThenResendsByFileID(t *testing.T) {
	store := newTestStore(t)
	ft := &fakeTransport{videoFileID: "cached-video-id"}
	root := New(ratcamlog.Nop(), ft, store)

	authorizeChat(t, store, 1)
	authorizeChat(t, store, 2)

	if err := root.BroadcastVideo([]byte("mp4")); err != nil {
		t.Fatalf("BroadcastVideo: %v", err)
	}
	if ft.sendVideoCalls != 1 {
		t.Fatalf("expected exactly one upload, got %d", ft.sendVideoCalls)
	}
	if ft.sendVideoByIDCalls != 1 {
		t.Fatalf("expected the remaining recipient resent by file id, got %d", ft.sendVideoByIDCalls)
	}
}

func TestCallWithRetryBadRequestNeverRetries(t *testing.T) {
	root := &Root{logger: ratcamlog.Nop()}
	attempts := 0
	_, err := root.callWithRetry(1, func(id int64) (string, error) {
		attempts++
		return "", &TransportError{Kind: KindBadRequest, Err: errors.New("bad token")}
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt, got %d", attempts)
	}
}

func TestCallWithRetryRateLimitedWaitsThenSucceeds(t *testing.T) {
	root := &Root{logger: ratcamlog.Nop()}
	attempts := 0
	result, err := root.callWithRetry(1, func(id int64) (string, error) {
		attempts++
		if attempts < 2 {
			return "", &TransportError{Kind: KindRateLimited, RetryAfter: time.Millisecond, Err: errors.New("slow down")}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("callWithRetry: %v", err)
	}
	if result != "ok" {
		t.Fatalf("unexpected result: %q", result)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestCallWithRetryChatMigratedRetriesImmediatelyAgainstNewID(t *testing.T) {
	store := newTestStore(t)
	authorizeChat(t, store, 100)
	root := &Root{logger: ratcamlog.Nop(), auth: store}

	var seenIDs []int64
	_, err := root.callWithRetry(100, func(id int64) (string, error) {
		seenIDs = append(seenIDs, id)
		if id == 100 {
			return "", &TransportError{Kind: KindChatMigrated, NewChatID: 200, Err: errors.New("migrated")}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("callWithRetry: %v", err)
	}
	if len(seenIDs) != 2 || seenIDs[0] != 100 || seenIDs[1] != 200 {
		t.Fatalf("expected [100 200], got %v", seenIDs)
	}
	if store.Status(200) != chatauth.Authorized {
		t.Fatalf("expected auth entry migrated to the new chat id, got status %v", store.Status(200))
	}
}

func TestCallWithRetryExhaustsRetryBudget(t *testing.T) {
	root := &Root{logger: ratcamlog.Nop()}
	attempts := 0
	_, err := root.callWithRetry(1, func(id int64) (string, error) {
		attempts++
		return "", &TransportError{Kind: KindRateLimited, RetryAfter: time.Millisecond, Err: errors.New("still slow")}
	})
	if err == nil {
		t.Fatal("expected the retry budget to be exhausted")
	}
	if attempts != maxSendRetries+1 {
		t.Fatalf("expected %d attempts, got %d", maxSendRetries+1, attempts)
	}
}
