package chatauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/bcrypt"

	"github.com/warpcomdev/ratcam/internal/metrics"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

// MaxRetries and MaxPwdLife are spec.md §4.10's constants.
const (
	MaxRetries = 3
	MaxPwdLife = 180 * time.Second
)

// ErrNoActiveTransaction is returned by TryAuth when the chat has no
// ongoing challenge to answer (UNKNOWN or DENIED status): the table only
// defines try_auth's behaviour for ONGOING and AUTHORIZED, so any other
// status is, like AUTHORIZED, a protocol violation rather than a no-op.
var ErrNoActiveTransaction = errors.New("chatauth: no active transaction for this chat")

// Store is the mutex-guarded, JSON-persisted table of per-chat auth
// state. One Store is owned by the CHAT process (spec.md §2's ownership
// rule); it is never addressed over RPC.
type Store struct {
	logger ratcamlog.Logger
	path   string
	now    func() time.Time

	mu      sync.Mutex
	entries map[int64]*Entry

	watcher     *fsnotify.Watcher
	stopCh      chan struct{}
	doneCh      chan struct{}
	selfWriteAt time.Time
}

// New constructs a Store backed by path. now defaults to time.Now; tests
// inject a virtual clock to exercise §4.10's expiry semantics (spec.md
// S2) without sleeping.
func New(logger ratcamlog.Logger, path string, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		logger:  logger.With(ratcamlog.String("component", "chatauth")),
		path:    path,
		now:     now,
		entries: make(map[int64]*Entry),
	}
}

// Load reads the persisted table from disk. A missing file is treated as
// an empty store; a malformed file is renamed aside (with a timestamp
// suffix) and the store starts empty, per spec.md §4.10.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("chatauth: read store: %w", err)
	}
	var onDisk map[string]*Entry
	if err := json.Unmarshal(data, &onDisk); err != nil {
		s.logger.Error("malformed chat auth store, moving aside", ratcamlog.Error(err))
		aside := fmt.Sprintf("%s.malformed.%d", s.path, s.now().Unix())
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			s.logger.Error("failed to move aside malformed store", ratcamlog.Error(renameErr))
		}
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[int64]*Entry, len(onDisk))
	for key, entry := range onDisk {
		chatID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		entry.ChatID = chatID
		s.entries[chatID] = entry
	}
	return nil
}

// save writes the whole table to disk via a temp-file-then-rename, the
// same atomic-write idiom the teacher's FileHistory.Save uses, and
// records the resulting file's mtime so the watch loop can tell its own
// write apart from an external edit.
func (s *Store) save() error {
	s.mu.Lock()
	onDisk := make(map[string]*Entry, len(s.entries))
	for chatID, entry := range s.entries {
		copied := *entry
		if entry.Transaction != nil {
			tx := *entry.Transaction
			copied.Transaction = &tx
		}
		onDisk[strconv.FormatInt(chatID, 10)] = &copied
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("chatauth: marshal store: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".chatauth-*.tmp")
	if err != nil {
		return fmt.Errorf("chatauth: create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chatauth: write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chatauth: close temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chatauth: rename temp store file: %w", err)
	}
	if stat, err := os.Stat(s.path); err == nil {
		s.mu.Lock()
		s.selfWriteAt = stat.ModTime()
		s.mu.Unlock()
	}
	return nil
}

// StartAuth implements UNKNOWN -> start_auth(user) -> ONGOING. Called
// from any prior status (an operator re-running /start on a denied or
// stale chat is the common real case; the spec table only documents the
// UNKNOWN origin because it is the only one that matters for the
// invariant-preservation proof, not because other origins are
// forbidden), it always discards whatever transaction was there and
// issues a fresh password.
func (s *Store) StartAuth(chatID int64, user string) (password string, err error) {
	password, err = generatePassword()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("chatauth: hash password: %w", err)
	}

	s.mu.Lock()
	s.entries[chatID] = &Entry{
		ChatID: chatID,
		Status: Ongoing,
		Transaction: &Transaction{
			RequestingUser: user,
			IssueTime:      s.now(),
			Retries:        0,
			PasswordHash:   string(hash),
		},
	}
	s.mu.Unlock()

	if err := s.save(); err != nil {
		s.logger.Error("failed to persist chat auth store", ratcamlog.Error(err))
	}
	return password, nil
}

// TryAuth implements ONGOING's try_auth table, including the
// AUTHORIZED/PROTOCOL_VIOLATION row.
func (s *Store) TryAuth(chatID int64, password string) (Result, error) {
	s.mu.Lock()
	entry, ok := s.entries[chatID]
	if !ok {
		s.mu.Unlock()
		return "", ErrNoActiveTransaction
	}

	switch entry.Status {
	case Authorized:
		s.mu.Unlock()
		return ProtocolViolation, nil
	case Ongoing:
		// fall through below
	default:
		s.mu.Unlock()
		return "", ErrNoActiveTransaction
	}

	tx := entry.Transaction
	now := s.now()

	if tx.Retries >= MaxRetries {
		entry.Status = Denied
		entry.Transaction = nil
		s.mu.Unlock()
		s.persistAfterMutation()
		metrics.ChatAuthOutcomes.WithLabelValues("too_many_retries").Inc()
		return TooManyRetries, nil
	}
	if now.Sub(tx.IssueTime) > MaxPwdLife {
		entry.Status = Denied
		entry.Transaction = nil
		s.mu.Unlock()
		s.persistAfterMutation()
		metrics.ChatAuthOutcomes.WithLabelValues("expired").Inc()
		return Expired, nil
	}

	if bcrypt.CompareHashAndPassword([]byte(tx.PasswordHash), []byte(password)) == nil {
		entry.Status = Authorized
		entry.User = tx.RequestingUser
		entry.AuthorisedAt = &now
		entry.Transaction = nil
		s.mu.Unlock()
		s.persistAfterMutation()
		metrics.ChatAuthOutcomes.WithLabelValues("ok").Inc()
		return Authenticated, nil
	}

	if tx.Retries+1 >= MaxRetries {
		entry.Status = Denied
		entry.Transaction = nil
		s.mu.Unlock()
		s.persistAfterMutation()
		metrics.ChatAuthOutcomes.WithLabelValues("too_many_retries").Inc()
		return TooManyRetries, nil
	}
	tx.Retries++
	s.mu.Unlock()
	s.persistAfterMutation()
	metrics.ChatAuthOutcomes.WithLabelValues("wrong_token").Inc()
	return WrongToken, nil
}

// RevokeAuth implements "any -> revoke_auth() -> UNKNOWN": clears all
// transient fields regardless of current status.
func (s *Store) RevokeAuth(chatID int64) {
	s.mu.Lock()
	s.entries[chatID] = &Entry{ChatID: chatID, Status: Unknown}
	s.mu.Unlock()
	s.persistAfterMutation()
}

// AuthorisedChatIDs returns every chat currently AUTHORIZED, sorted for
// deterministic broadcast ordering.
func (s *Store) AuthorisedChatIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for chatID, entry := range s.entries {
		if entry.Status == Authorized {
			ids = append(ids, chatID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Status reports a chat's current status (Unknown if no entry exists).
func (s *Store) Status(chatID int64) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[chatID]
	if !ok {
		return Unknown
	}
	return entry.Status
}

// MigrateChatID moves an entry to a new chat id, carrying its
// transaction forward atomically, per spec.md §4.10's chat-migration
// handling.
func (s *Store) MigrateChatID(oldID, newID int64) error {
	s.mu.Lock()
	entry, ok := s.entries[oldID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("chatauth: no entry for chat id %d to migrate", oldID)
	}
	delete(s.entries, oldID)
	entry.ChatID = newID
	s.entries[newID] = entry
	s.mu.Unlock()
	return s.save()
}

func (s *Store) persistAfterMutation() {
	if err := s.save(); err != nil {
		s.logger.Error("failed to persist chat auth store", ratcamlog.Error(err))
	}
}
