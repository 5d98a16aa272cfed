package chatbot

import (
	"context"
	"fmt"

	"github.com/warpcomdev/ratcam/internal/chatauth"
)

// authCommand implements spec.md §6's /start: greets an already
// AUTHORIZED chat, reminds an ONGOING one to send its password, and
// starts a fresh challenge from UNKNOWN (or DENIED, see
// chatauth.Store.StartAuth's doc comment), printing the password to the
// operator console rather than back into the chat.
type authCommand struct{}

func init() {
	RegisterCommand(func() CommandHandler { return authCommand{} })
	RegisterMessage(func() MessageHandler { return authMessage{} })
}

func (authCommand) Command() string { return "start" }

func (authCommand) HandleCommand(ctx context.Context, root *Root, update Update) error {
	switch root.Auth().Status(update.ChatID) {
	case chatauth.Authorized:
		return root.SendMessage(update.ChatID, "already authorised")
	case chatauth.Ongoing:
		return root.SendMessage(update.ChatID, "send the password you were given")
	default:
		password, err := root.Auth().StartAuth(update.ChatID, update.UserName)
		if err != nil {
			return fmt.Errorf("chatbot: start auth: %w", err)
		}
		fmt.Printf("ratcam: chat %d password: %s\n", update.ChatID, password)
		return root.SendMessage(update.ChatID, "password required: check the operator console")
	}
}

// authMessage interprets free-text messages on ONGOING chats as
// authentication attempts, per spec.md §6.
type authMessage struct{}

func (authMessage) HandleMessage(ctx context.Context, root *Root, update Update) (bool, error) {
	if root.Auth().Status(update.ChatID) != chatauth.Ongoing {
		return false, nil
	}
	result, err := root.Auth().TryAuth(update.ChatID, update.Text)
	if err != nil {
		return true, err
	}
	var reply string
	switch result {
	case chatauth.Authenticated:
		reply = "authenticated"
	case chatauth.WrongToken:
		reply = "wrong password, try again"
	case chatauth.TooManyRetries:
		reply = "too many attempts, access denied"
	case chatauth.Expired:
		reply = "password expired, access denied"
	default:
		reply = "authentication failed"
	}
	return true, root.SendMessage(update.ChatID, reply)
}
