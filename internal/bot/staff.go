package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"quizbot/internal/conversation"
	"quizbot/internal/storage"
	"quizbot/internal/transport/telegram/router"
	"quizbot/pkg/tgui"
)

// staffSection is the admin UI over one staff role.
type staffSection struct {
	scope string
	title string
	role  storage.StaffRole
	step  conversation.Step
	need  router.Capability
}

var staffSections = []staffSection{
	{scope: scopeMod, title: "Moderators", role: storage.StaffModerator, step: conversation.StepAddModerator, need: router.CapManageModerators},
	{scope: scopeSub, title: "Sub-admins", role: storage.StaffSubAdmin, step: conversation.StepAddSubAdmin, need: router.CapManageSubAdmins},
}

func (b *Bot) registerStaff(r *router.Router) {
	for _, s := range staffSections {
		for action, h := range map[string]router.HandlerFunc{
			"list": func(ctx context.Context, req *router.Request) error { return b.staffList(ctx, req, s) },
			"show": func(ctx context.Context, req *router.Request) error { return b.staffShow(ctx, req, s) },
			"add":  b.enter(s.step),
			"del":  func(ctx context.Context, req *router.Request) error { return b.staffDelete(ctx, req, s) },
		} {
			r.Callback(router.CallbackRoute{Scope: s.scope, Action: action, Capability: s.need, Handle: h})
		}
	}
	r.Callback(router.CallbackRoute{Scope: scopeStaff, Action: "chat", Capability: router.CapViewQuestionsChat, Handle: b.cbQuestionsChat})
	r.Callback(router.CallbackRoute{Scope: scopeChat, Action: "reset", Capability: router.CapResetQuestionsChat, Handle: b.cbResetAsk})
	r.Callback(router.CallbackRoute{Scope: scopeChat, Action: "confirm", Capability: router.CapResetQuestionsChat, Handle: b.cbResetConfirm})
}

func memberLabel(m storage.StaffMember) string {
	if m.Handle != "" {
		return "@" + m.Handle + " (" + itoa(m.UserID) + ")"
	}
	return itoa(m.UserID)
}

func (b *Bot) staffList(ctx context.Context, req *router.Request, s staffSection) error {
	list, err := b.store.ListStaff(ctx, s.role)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	idx, _ := strconv.Atoi(req.Payload)
	page := tgui.Paginate(list, idx, pageSize)
	kb := listKB(s.scope, page, func(m storage.StaffMember) (int64, string) {
		return m.UserID, memberLabel(m)
	}, tgui.Btn("➕ Add", tgui.Data(s.scope, "add", "")))
	mb := tgui.New().Title("", s.title)
	if len(list) == 0 {
		mb.Line("Nobody yet.")
	}
	b.show(ctx, req, mb.Inline(kb).Build())
	return nil
}

func (b *Bot) staffShow(ctx context.Context, req *router.Request, s staffSection) error {
	id, err := payloadID(req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	m, err := b.store.GetStaff(ctx, id)
	if err == nil && m.Role != s.role {
		err = storage.ErrNotFound
	}
	if err != nil {
		return b.fail(ctx, req, err)
	}
	kb := tgui.NewInline().
		Row(tgui.Btn("🗑 Remove", tgui.DataID(s.scope, "del", id))).
		Row(tgui.Btn("⬅️ Back", tgui.Data(s.scope, "list", "")))
	b.show(ctx, req, tgui.New().
		Title("", memberLabel(m)).
		KV("Role", string(m.Role)).
		Inline(kb).
		Build())
	return nil
}

func (b *Bot) staffDelete(ctx context.Context, req *router.Request, s staffSection) error {
	id, err := payloadID(req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	err = b.store.RemoveStaff(ctx, id, s.role)
	b.audit(ctx, req, "staff.remove."+string(s.role), itoa(id), err)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	kb := tgui.NewInline().Row(tgui.Btn("⬅️ Back", tgui.Data(s.scope, "list", "")))
	b.show(ctx, req, tgui.New().Line(fmt.Sprintf("User %d is no longer a %s.", id, s.role)).Inline(kb).Build())
	return nil
}

// questionsLink returns the stored invite link, creating one when fresh is
// set or nothing is stored yet.
func (b *Bot) questionsLink(ctx context.Context, fresh bool) (string, error) {
	if !fresh {
		link, err := b.store.GetContent(ctx, storage.ContentQuestionsLink)
		if err == nil && strings.TrimSpace(link) != "" {
			return link, nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return "", err
		}
	}
	chat := b.questionsChat.Load()
	if b.linker == nil || chat == 0 {
		return "", storage.ErrNotFound
	}
	link, err := b.linker.InviteLink(ctx, chat)
	if err != nil {
		return "", err
	}
	if err := b.store.SetContent(ctx, storage.ContentQuestionsLink, link); err != nil {
		return "", err
	}
	return link, nil
}

func (b *Bot) cbQuestionsChat(ctx context.Context, req *router.Request) error {
	link, err := b.questionsLink(ctx, false)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.say(ctx, req, "The questions chat is not set up.")
		return nil
	case err != nil:
		return b.fail(ctx, req, err)
	}
	kb := tgui.NewInline().
		Row(tgui.URLBtn("💬 Open chat", link)).
		Row(tgui.Btn("⬅️ Menu", tgui.Data(scopeMenu, "main", "")))
	b.show(ctx, req, tgui.New().Line("Questions chat link: "+link).Inline(kb).Build())
	return nil
}

func (b *Bot) cbResetAsk(ctx context.Context, req *router.Request) error {
	kb := tgui.ConfirmInline(
		tgui.Btn("Yes, reset", tgui.Data(scopeChat, "confirm", "")),
		tgui.Btn("No", tgui.Data(scopeMenu, "main", "")),
	)
	b.show(ctx, req, tgui.New().
		Line("Reset the questions chat invite link? The current link stops being handed out.").
		Inline(kb).
		Build())
	return nil
}

func (b *Bot) cbResetConfirm(ctx context.Context, req *router.Request) error {
	link, err := b.questionsLink(ctx, true)
	b.audit(ctx, req, "questions_chat.reset", itoa(b.questionsChat.Load()), err)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	b.say(ctx, req, "Questions chat link reset. New link: "+link)
	return nil
}
