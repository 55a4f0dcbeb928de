// Package bot holds the chat handlers: menus, content editing, broadcast
// authoring and staff management. Handlers are registered on a
// router.Router, which has already checked the sender's capabilities.
package bot

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"quizbot/internal/broadcast"
	"quizbot/internal/conversation"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	"quizbot/internal/transport/telegram/router"
	"quizbot/pkg/logx"
	"quizbot/pkg/tgui"
)

// Store is the persistence used by the handlers.
type Store interface {
	SetContact(ctx context.Context, id int64, email string) error
	GetContent(ctx context.Context, name string) (string, error)
	SetContent(ctx context.Context, name, body string) error
	CountUsers(ctx context.Context) (int, error)

	AssignStaff(ctx context.Context, m storage.StaffMember) (bool, error)
	RemoveStaff(ctx context.Context, userID int64, role storage.StaffRole) error
	GetStaff(ctx context.Context, userID int64) (storage.StaffMember, error)
	ListStaff(ctx context.Context, role storage.StaffRole) ([]storage.StaffMember, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// ItemStore is a news or quiz table.
type ItemStore interface {
	Add(ctx context.Context, body string) (int64, error)
	Update(ctx context.Context, id int64, body string) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (storage.Item, error)
	List(ctx context.Context) ([]storage.Item, error)
}

// Broadcaster is the broadcast engine as seen by the handlers.
type Broadcaster interface {
	Create(ctx context.Context, text string) (int64, error)
	Acknowledge(ctx context.Context, id, userID int64) (bool, error)
	Describe(ctx context.Context, id int64) (broadcast.Description, error)
	Retire(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context) ([]storage.Broadcast, error)
	DistributeAsync(id int64, notify kit.ChatTarget)
	MailAsync(text string, notify kit.ChatTarget)
}

type Deps struct {
	Sender     kit.Sender
	Store      Store
	News       ItemStore
	Quizzes    ItemStore
	Broadcasts Broadcaster
	Machine    *conversation.Machine
	// Linker creates questions chat invite links. Optional.
	Linker kit.InviteLinker
	Logger logx.Logger
	// QuestionsChatID receives forwarded questions; 0 disables forwarding.
	QuestionsChatID int64
	Now             func() time.Time
}

type Bot struct {
	sender  kit.Sender
	store   Store
	news    ItemStore
	quizzes ItemStore
	bc      Broadcaster
	machine *conversation.Machine
	linker  kit.InviteLinker
	log     logx.Logger
	now     func() time.Time

	questionsChat atomic.Int64
	router        *router.Router
}

func New(d Deps) *Bot {
	b := &Bot{
		sender:  d.Sender,
		store:   d.Store,
		news:    d.News,
		quizzes: d.Quizzes,
		bc:      d.Broadcasts,
		machine: d.Machine,
		linker:  d.Linker,
		log:     d.Logger,
		now:     d.Now,
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.log = b.log.With(logx.String("comp", "bot"))
	b.questionsChat.Store(d.QuestionsChatID)
	return b
}

// SetQuestionsChat changes where questions go. Safe during operation.
func (b *Bot) SetQuestionsChat(id int64) { b.questionsChat.Store(id) }

// Register installs every command, callback and step handler on r.
func (b *Bot) Register(r *router.Router) {
	b.router = r
	b.registerCommands(r)
	b.registerUser(r)
	b.registerContent(r)
	b.registerBroadcasts(r)
	b.registerStaff(r)
	b.registerSteps(r)
	r.Fallback(b.onIdleText)
}

// show edits the message a callback came from, or sends a new one.
func (b *Bot) show(ctx context.Context, req *router.Request, m tgui.Message) {
	if cb := req.Update.Callback; cb != nil && cb.MessageID != 0 {
		ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
		if err := m.Edit(ctx, b.sender, ref); err == nil {
			return
		}
	}
	b.send(ctx, req, m)
}

func (b *Bot) send(ctx context.Context, req *router.Request, m tgui.Message) {
	if _, err := m.Send(ctx, b.sender, req.Chat); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
}

// say replies with plain text and a back-to-menu keyboard.
func (b *Bot) say(ctx context.Context, req *router.Request, text string) {
	b.show(ctx, req, tgui.New().Line(text).Inline(backKB()).Build())
}

// fail replies to a failed operation. The returned error is the one given,
// so the request log records it.
func (b *Bot) fail(ctx context.Context, req *router.Request, err error) error {
	text := "Operation failed."
	if errors.Is(err, storage.ErrNotFound) {
		text = "Not found."
	}
	b.say(ctx, req, text)
	return err
}

// audit records a privileged action; a failing audit write is only logged.
func (b *Bot) audit(ctx context.Context, req *router.Request, action, target string, err error) {
	e := storage.AuditEntry{
		At:          b.now(),
		ActorID:     req.FromID,
		ActorHandle: req.Handle,
		Action:      action,
		Target:      target,
		OK:          err == nil,
	}
	if err != nil {
		e.Detail = err.Error()
	}
	if aerr := b.store.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		req.Logger.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

func payloadID(req *router.Request) (int64, error) {
	id, err := tgui.PayloadID(req.Payload)
	if err != nil || id <= 0 {
		return 0, storage.ErrNotFound
	}
	return id, nil
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
