package chatbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/warpcomdev/ratcam/internal/chatauth"
	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

const maxSendRetries = 3

// Root is the CHAT-resident root plugin: it owns the Transport, the auth
// store, and every registered command/message handler.
type Root struct {
	logger    ratcamlog.Logger
	transport Transport
	auth      *chatauth.Store

	commands map[string]CommandHandler
	messages []MessageHandler

	table plugin.Lookup

	mu       sync.Mutex
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs Root from the package-level handler registry populated
// by every CHAT-side plugin's init().
func New(logger ratcamlog.Logger, transport Transport, auth *chatauth.Store) *Root {
	r := &Root{
		logger:    logger.With(ratcamlog.String("component", "chatbot")),
		transport: transport,
		auth:      auth,
		commands:  make(map[string]CommandHandler),
	}
	for _, ctor := range commandCtors {
		h := ctor()
		r.commands[h.Command()] = h
	}
	for _, ctor := range messageCtors {
		r.messages = append(r.messages, ctor())
	}
	return r
}

// Activate implements plugin.Plugin: starts the auth store's watcher and
// the update-handling loop.
func (r *Root) Activate(ctx context.Context, pctx *plugin.Context) error {
	r.table = pctx.Table
	if err := r.auth.StartWatching(); err != nil {
		return fmt.Errorf("chatbot: start auth store watcher: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancelFn = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.transport.HandleUpdates(runCtx, r.dispatch); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("chat transport update loop exited with error", ratcamlog.Error(err))
		}
	}()
	return nil
}

// Deactivate implements plugin.Plugin.
func (r *Root) Deactivate(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancelFn
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.auth.StopWatching()
	return nil
}

// dispatch routes one inbound update: left_chat_member first (any auth
// status), then commands (gated on AUTHORIZED except /start), then
// free-text to the message handler chain (ONGOING password guesses).
func (r *Root) dispatch(update Update) {
	ctx := context.Background()

	if update.MigratedFromChatID != 0 && update.MigratedToChatID != 0 {
		if err := r.auth.MigrateChatID(update.MigratedFromChatID, update.MigratedToChatID); err != nil {
			r.logger.Error("failed to migrate chat auth entry", ratcamlog.Error(err))
		}
		return
	}

	if update.LeftChatMemberSelf {
		r.auth.RevokeAuth(update.ChatID)
		return
	}

	if update.Command != "" {
		r.dispatchCommand(ctx, update)
		return
	}

	for _, handler := range r.messages {
		handled, err := handler.HandleMessage(ctx, r, update)
		if err != nil {
			r.logger.Error("message handler failed", ratcamlog.Error(err))
		}
		if handled {
			return
		}
	}
}

func (r *Root) dispatchCommand(ctx context.Context, update Update) {
	handler, ok := r.commands[strings.ToLower(update.Command)]
	if !ok {
		return
	}
	status := r.auth.Status(update.ChatID)
	if update.Command != "start" && status != chatauth.Authorized {
		if err := r.SendMessage(update.ChatID, "not authorised"); err != nil {
			r.logger.Error("failed to send not-authorised notice", ratcamlog.Error(err))
		}
		return
	}
	if err := handler.HandleCommand(ctx, r, update); err != nil {
		r.logger.Error("command handler failed", ratcamlog.String("command", update.Command), ratcamlog.Error(err))
	}
}

// Auth exposes the chat auth store to command handlers.
func (r *Root) Auth() *chatauth.Store { return r.auth }

// Table exposes the plugin-lookup table to command handlers defined
// outside this package (cmd/ratcam's /photo, /video, /detect and /light
// handlers), so they can resolve the CAMERA- and MAIN-resident
// collaborators those commands drive, the same way every other
// cross-process caller in this codebase does.
func (r *Root) Table() plugin.Lookup { return r.table }

// SendMessage sends a plain text message, retrying per spec.md §4.11.
func (r *Root) SendMessage(chatID int64, text string) error {
	_, err := r.callWithRetry(chatID, func(id int64) (string, error) {
		return "", r.transport.SendMessage(id, text)
	})
	return err
}

// BroadcastPhoto sends jpegData to every currently authorised chat,
// uploading once and resending the remaining recipients by file id
// (spec.md §4.11's broadcast-media optimisation).
func (r *Root) BroadcastPhoto(jpegData []byte) error {
	return r.broadcast(func(id int64) (string, error) {
		return r.callWithRetry(id, func(target int64) (string, error) {
			return r.transport.SendPhoto(target, jpegData)
		})
	}, func(id int64, fileID string) error {
		_, err := r.callWithRetry(id, func(target int64) (string, error) {
			return "", r.transport.SendPhotoByFileID(target, fileID)
		})
		return err
	})
}

// BroadcastVideo is BroadcastPhoto's video counterpart.
func (r *Root) BroadcastVideo(mp4Data []byte) error {
	return r.broadcast(func(id int64) (string, error) {
		return r.callWithRetry(id, func(target int64) (string, error) {
			return r.transport.SendVideo(target, mp4Data)
		})
	}, func(id int64, fileID string) error {
		_, err := r.callWithRetry(id, func(target int64) (string, error) {
			return "", r.transport.SendVideoByFileID(target, fileID)
		})
		return err
	})
}

func (r *Root) broadcast(uploadFirst func(chatID int64) (fileID string, err error), sendByFileID func(chatID int64, fileID string) error) error {
	ids := r.auth.AuthorisedChatIDs()
	var errs []error
	var fileID string
	for _, chatID := range ids {
		if fileID == "" {
			id, err := uploadFirst(chatID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			fileID = id
			continue
		}
		if err := sendByFileID(chatID, fileID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// classifyingBackOff drives backoff.Retry's wait between attempts from
// the TransportError classification of the last failure, rather than a
// fixed exponential curve: KindRateLimited honours the server's requested
// wait (capped at 10s per spec.md §4.11), everything else waits 1s.
type classifyingBackOff struct {
	lastErr        error
	forceImmediate bool
}

func (b *classifyingBackOff) NextBackOff() time.Duration {
	if b.forceImmediate {
		b.forceImmediate = false
		return 0
	}
	var terr *TransportError
	if errors.As(b.lastErr, &terr) && terr.Kind == KindRateLimited {
		wait := terr.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		if wait > 10*time.Second {
			wait = 10 * time.Second
		}
		return wait
	}
	return time.Second
}

func (b *classifyingBackOff) Reset() {}

// callWithRetry drives op through spec.md §4.11's classification table.
// op is re-invoked with a possibly-updated chat id after a
// KindChatMigrated classification, which re-points the auth store at the
// new id and retries immediately (no backoff wait) exactly once more
// before falling back into the normal retry budget.
func (r *Root) callWithRetry(chatID int64, op func(chatID int64) (string, error)) (string, error) {
	current := chatID
	cb := &classifyingBackOff{}
	var result string

	attempt := func() error {
		out, err := op(current)
		if err == nil {
			result = out
			return nil
		}
		cb.lastErr = err

		var terr *TransportError
		if errors.As(err, &terr) {
			switch terr.Kind {
			case KindBadRequest:
				r.logger.Error("chat send failed, not retrying", ratcamlog.Any("chat_id", current), ratcamlog.Error(err))
				return backoff.Permanent(err)
			case KindChatMigrated:
				r.logger.Info("chat migrated, updating auth store", ratcamlog.Any("old_chat_id", current), ratcamlog.Any("new_chat_id", terr.NewChatID))
				if migErr := r.auth.MigrateChatID(current, terr.NewChatID); migErr != nil {
					r.logger.Error("failed to migrate chat auth entry", ratcamlog.Error(migErr))
				}
				current = terr.NewChatID
				cb.forceImmediate = true
				return err
			}
		}
		r.logger.Warn("chat send failed, retrying", ratcamlog.Any("chat_id", current), ratcamlog.Error(err))
		return err
	}

	err := backoff.Retry(attempt, backoff.WithMaxRetries(cb, maxSendRetries))
	return result, err
}
