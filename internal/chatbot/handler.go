// Package chatbot implements the CHAT-resident root plugin (component K,
// spec.md §4.11): a handler registry aggregated from every CHAT-side
// plugin, a retrying send/broadcast layer over a transport-agnostic SDK
// interface, and the auth-gated command dispatch spec.md §6 lists.
// Grounded on the CHAT root plugin in
// original_source/specialized/bot_root_plugin.py, rendered as the
// compile-time "inventory"-style registry the Design Note "Decorator-
// registered handlers" calls for (init()-populated slices standing in
// for Python's class-decorator bookkeeping), matching the pattern
// internal/plugin.Registry already uses for plugin type constructors.
package chatbot

import "context"

// Update is one inbound chat event, transport-agnostic.
type Update struct {
	ChatID   int64
	UserID   int64
	UserName string
	Text     string

	// Command and Args are populated when Text parses as a "/command
	// arg1 arg2" message; Command is empty otherwise.
	Command string
	Args    []string

	// LeftChatMemberSelf is set when the bot itself was reported as the
	// member who left (spec.md §6's left_chat_member handling).
	LeftChatMemberSelf bool

	// MigratedFromChatID/MigratedToChatID are set when the transport
	// reports a chat-id migration alongside this update.
	MigratedFromChatID int64
	MigratedToChatID   int64
}

// CommandHandler answers one named slash command (spec.md §6: /start,
// /photo, /video, /detect, /light, ...).
type CommandHandler interface {
	Command() string
	HandleCommand(ctx context.Context, root *Root, update Update) error
}

// MessageHandler is offered every free-text update that isn't a
// recognised command (e.g. the auth transaction's password-guess
// handler); it reports whether it consumed the update.
type MessageHandler interface {
	HandleMessage(ctx context.Context, root *Root, update Update) (handled bool, err error)
}

var (
	commandCtors []func() CommandHandler
	messageCtors []func() MessageHandler
)

// RegisterCommand appends a command handler constructor to the registry.
// CHAT-side plugin packages call this from their own init().
func RegisterCommand(ctor func() CommandHandler) {
	commandCtors = append(commandCtors, ctor)
}

// RegisterMessage appends a message handler constructor to the registry.
func RegisterMessage(ctor func() MessageHandler) {
	messageCtors = append(messageCtors, ctor)
}
