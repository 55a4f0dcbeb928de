package transport

import (
	"context"
	"errors"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// SenderID returns the id of the user behind the update, or 0.
func (u Update) SenderID() int64 {
	switch {
	case u.Message != nil:
		return u.Message.FromID
	case u.Callback != nil:
		return u.Callback.FromID
	}
	return 0
}

// SenderHandle returns the sender's username without "@", if known.
func (u Update) SenderHandle() string {
	switch {
	case u.Message != nil:
		return u.Message.FromUsername
	case u.Callback != nil:
		return u.Callback.FromUsername
	}
	return ""
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

type Callback struct {
	ID           string
	FromID       int64
	FromUsername string
	ChatID       int64
	ThreadID     int
	MessageID    int
	Data         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // Telegram: *telebot.ReplyMarkup
}

// Adapter is the chat transport.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// Sender is the subset of Adapter used by handlers and fan-out.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// InviteLinker creates a fresh invite link for a chat the bot administers.
type InviteLinker interface {
	InviteLink(ctx context.Context, chatID int64) (string, error)
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	Delivered Outcome = "delivered"
	Blocked   Outcome = "blocked"
	Failed    Outcome = "failed"
)

// ErrBlocked means the recipient blocked the bot or no longer exists.
var ErrBlocked = errors.New("recipient blocked the bot")

// OutcomeOf classifies a SendText error.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, ErrBlocked):
		return Blocked
	default:
		return Failed
	}
}
