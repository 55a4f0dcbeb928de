package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"quizbot/internal/broadcast"
	"quizbot/internal/conversation"
	"quizbot/internal/storage"
	"quizbot/internal/transport/telegram/router"
	"quizbot/pkg/logx"
	"quizbot/pkg/tgui"
)

func (b *Bot) registerCommands(r *router.Router) {
	r.Command(router.Command{Name: "start", Description: "Open the menu", Capability: router.CapViewInfo, Menu: true, Handle: b.cmdStart})
	r.Command(router.Command{Name: "cancel", Description: "Leave the current dialog", Capability: router.CapViewInfo, Menu: true, Handle: b.cmdCancel})
	r.Command(router.Command{Name: "id", Description: "Show your user id", Capability: router.CapShowID, Menu: true, Handle: b.cmdID})
	r.Command(router.Command{Name: "help", Description: "List commands", Capability: router.CapViewInfo, Menu: true, Handle: b.cmdHelp})
}

func (b *Bot) registerUser(r *router.Router) {
	cb := func(scope, action string, c router.Capability, h router.HandlerFunc) {
		r.Callback(router.CallbackRoute{Scope: scope, Action: action, Capability: c, Handle: h})
	}
	cb(scopeMenu, "main", router.CapViewInfo, b.cbMain)
	cb(scopeMenu, "user", router.CapViewInfo, b.cbUserMode)
	cb(scopeInfo, "about", router.CapViewInfo, b.contentViewer(storage.ContentAbout, "About the quiz"))
	cb(scopeInfo, "faq", router.CapViewInfo, b.contentViewer(storage.ContentFAQ, "Frequently asked questions"))
	cb(scopeInfo, "rules", router.CapViewInfo, b.contentViewer(storage.ContentRules, "Rules"))
	cb(scopeInfo, "quizzes", router.CapViewInfo, b.itemsViewer(b.quizzes, "Upcoming quizzes", "No upcoming quizzes."))
	cb(scopeInfo, "news", router.CapViewInfo, b.itemsViewer(b.news, "News", "No news yet."))
	cb(scopeUser, "ask", router.CapAskQuestion, b.enter(conversation.StepAskQuestion))
	cb(scopeUser, "email", router.CapChangeContact, b.enter(conversation.StepChangeContact))
	cb(scopeUser, "id", router.CapShowID, b.cmdID)
	cb(broadcast.AckScope, broadcast.AckAction, router.CapAcknowledge, b.cbAcknowledge)
}

func (b *Bot) mainMenu(req *router.Request) tgui.Message {
	if req.Role.Can(router.CapStaffMenu) {
		return tgui.New().
			Title("🛠", "Staff menu").
			Line("Signed in as "+req.Role.String()+". Choose an action.").
			Inline(staffKB(req.Role)).
			Build()
	}
	return tgui.New().Line("Hello! Choose an action.").Inline(userKB(req.Role)).Build()
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	b.send(ctx, req, b.mainMenu(req))
	return nil
}

func (b *Bot) cmdCancel(ctx context.Context, req *router.Request) error {
	m := b.mainMenu(req)
	m.Text = "Cancelled.\n\n" + m.Text
	b.send(ctx, req, m)
	return nil
}

func (b *Bot) cmdID(ctx context.Context, req *router.Request) error {
	b.show(ctx, req, tgui.New().
		RawLine(tgui.JoinH(" ", tgui.Esc("Your ID:"), tgui.Code(itoa(req.FromID)))).
		Inline(backKB()).
		Build())
	return nil
}

func (b *Bot) cmdHelp(ctx context.Context, req *router.Request) error {
	if b.router == nil {
		return nil
	}
	mb := tgui.New().Title("📖", "Commands")
	for _, c := range b.router.Commands(req.Role) {
		mb.RawLine(tgui.JoinH(" ", tgui.Code("/"+c.Name), tgui.Esc(c.Description)))
	}
	b.send(ctx, req, mb.Inline(backKB()).Build())
	return nil
}

func (b *Bot) cbMain(ctx context.Context, req *router.Request) error {
	b.machine.Clear(req.FromID)
	b.show(ctx, req, b.mainMenu(req))
	return nil
}

func (b *Bot) cbUserMode(ctx context.Context, req *router.Request) error {
	b.machine.Clear(req.FromID)
	b.show(ctx, req, tgui.New().Line("Choose an action.").Inline(userKB(req.Role)).Build())
	return nil
}

func (b *Bot) onIdleText(ctx context.Context, req *router.Request) error {
	m := b.mainMenu(req)
	m.Text = "Please use the menu.\n\n" + m.Text
	b.send(ctx, req, m)
	return nil
}

func (b *Bot) contentViewer(key, title string) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		body, err := b.store.GetContent(ctx, key)
		switch {
		case errors.Is(err, storage.ErrNotFound) || (err == nil && strings.TrimSpace(body) == ""):
			b.say(ctx, req, title+": no information yet.")
			return nil
		case err != nil:
			return b.fail(ctx, req, err)
		}
		b.show(ctx, req, tgui.New().Title("", title).Blank().Line(body).Inline(backKB()).Build())
		return nil
	}
}

func (b *Bot) itemsViewer(items ItemStore, title, empty string) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		list, err := items.List(ctx)
		if err != nil {
			return b.fail(ctx, req, err)
		}
		if len(list) == 0 {
			b.say(ctx, req, empty)
			return nil
		}
		mb := tgui.New().Title("", title)
		for _, it := range list {
			mb.Blank().Line(tgui.TruncRunes(it.Body, 600))
		}
		b.show(ctx, req, mb.Inline(backKB()).Build())
		return nil
	}
}

// enter moves the sender into step and shows its prompt.
func (b *Bot) enter(step conversation.Step) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		b.machine.Enter(req.FromID, step, 0)
		b.show(ctx, req, tgui.New().Line(prompt(step)).Inline(backKB()).Build())
		return nil
	}
}

func (b *Bot) cbAcknowledge(ctx context.Context, req *router.Request) error {
	cb := req.Update.Callback
	id, err := payloadID(req)
	if err != nil {
		_ = b.sender.AnswerCallback(ctx, cb.ID, "This broadcast is no longer active.")
		return nil
	}
	added, err := b.bc.Acknowledge(ctx, id, req.FromID)
	var text string
	switch {
	case errors.Is(err, storage.ErrNotFound):
		text = "This broadcast is no longer active."
		err = nil
	case err != nil:
		text = "Operation failed, please try again."
	case added:
		text = "Thank you, your confirmation is recorded."
	default:
		text = "You have already confirmed."
	}
	if aerr := b.sender.AnswerCallback(ctx, cb.ID, text); aerr != nil {
		req.Logger.Debug("answer callback failed", logx.Err(aerr))
	}
	if err != nil {
		return fmt.Errorf("acknowledge %d: %w", id, err)
	}
	return nil
}
