package chatbot

import (
	"context"
	"time"
)

// ErrorKind classifies a Transport error for Root's retry policy
// (spec.md §4.11's table).
type ErrorKind int

const (
	// KindTransient covers timeouts and other transport hiccups: retry
	// after a fixed 1s wait.
	KindTransient ErrorKind = iota
	// KindRateLimited carries a server-suggested wait in RetryAfter.
	KindRateLimited
	// KindChatMigrated carries the chat's new id in NewChatID; the auth
	// store is updated and the call is re-issued once against it.
	KindChatMigrated
	// KindBadRequest covers malformed/unauthorized/invalid-token errors:
	// never retried.
	KindBadRequest
)

// TransportError is the structured error every Transport implementation
// is expected to return for send failures, classifying the underlying
// SDK error so Root's retry loop never has to sniff SDK-specific error
// strings.
type TransportError struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	NewChatID  int64
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "chatbot: transport error"
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport is the external chat-SDK collaborator spec.md §4.11 names:
// send primitives plus update delivery. Send methods returning a fileID
// support the broadcast-media optimisation (upload once, resend by id).
type Transport interface {
	SendMessage(chatID int64, text string) error
	SendPhoto(chatID int64, jpegData []byte) (fileID string, err error)
	SendPhotoByFileID(chatID int64, fileID string) error
	SendVideo(chatID int64, mp4Data []byte) (fileID string, err error)
	SendVideoByFileID(chatID int64, fileID string) error

	// HandleUpdates blocks, invoking handle for every inbound update,
	// until ctx is cancelled.
	HandleUpdates(ctx context.Context, handle func(Update)) error
}
