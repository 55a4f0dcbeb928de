package bot

import (
	"context"
	"strconv"

	"github.com/dustin/go-humanize"

	"quizbot/internal/conversation"
	"quizbot/internal/storage"
	"quizbot/internal/transport/telegram/router"
	"quizbot/pkg/logx"
	"quizbot/pkg/tgui"
)

func (b *Bot) registerBroadcasts(r *router.Router) {
	r.Callback(router.CallbackRoute{Scope: scopeMail, Action: "start", Capability: router.CapMailing, Handle: b.cbMailStart})
	for action, h := range map[string]router.HandlerFunc{
		"list":   b.cbBroadcastList,
		"show":   b.cbBroadcastShow,
		"add":    b.cbBroadcastAdd,
		"retire": b.cbBroadcastRetire,
	} {
		r.Callback(router.CallbackRoute{Scope: scopeBC, Action: action, Capability: router.CapConfirmBroadcasts, Handle: h})
	}
}

// recipients is shown before an operator writes a mass message.
func (b *Bot) recipients(ctx context.Context, req *router.Request) string {
	n, err := b.store.CountUsers(ctx)
	if err != nil {
		req.Logger.Warn("count users failed", logx.Err(err))
		return ""
	}
	return "It will be sent to " + humanize.Comma(int64(n)) + " users."
}

func (b *Bot) cbMailStart(ctx context.Context, req *router.Request) error {
	b.machine.Enter(req.FromID, conversation.StepMakeMailing, 0)
	mb := tgui.New().Line(prompt(conversation.StepMakeMailing))
	if s := b.recipients(ctx, req); s != "" {
		mb.Line(s)
	}
	b.show(ctx, req, mb.Inline(backKB()).Build())
	return nil
}

func (b *Bot) cbBroadcastList(ctx context.Context, req *router.Request) error {
	list, err := b.bc.List(ctx)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	idx, _ := strconv.Atoi(req.Payload)
	page := tgui.Paginate(list, idx, pageSize)
	kb := listKB(scopeBC, page, func(bc storage.Broadcast) (int64, string) {
		return bc.ID, "#" + itoa(bc.ID) + " " + bc.Body
	}, tgui.Btn("➕ New broadcast", tgui.Data(scopeBC, "add", "")))

	mb := tgui.New().Title("✅", "Confirm broadcasts")
	if page.Total == 0 {
		mb.Line("No active broadcasts.")
	} else {
		mb.Line(page.Label())
	}
	b.show(ctx, req, mb.Inline(kb).Build())
	return nil
}

func (b *Bot) cbBroadcastShow(ctx context.Context, req *router.Request) error {
	id, err := payloadID(req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	d, err := b.bc.Describe(ctx, id)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	mb := tgui.New().
		Title("✅", "Broadcast #"+itoa(d.ID)).
		KV("Created", humanize.Time(d.CreatedAt)).
		Blank().
		Line(d.Body).
		Blank().
		Title("", "Confirmed by "+humanize.Comma(int64(len(d.Acknowledged))))
	refs := make([]tgui.H, 0, len(d.Acknowledged))
	for _, u := range d.Acknowledged {
		refs = append(refs, tgui.UserRef(u.Handle, u.ID))
	}
	mb.Bullets(refs...)
	kb := tgui.NewInline().
		Row(tgui.Btn("🗑 Retire", tgui.DataID(scopeBC, "retire", id))).
		Row(tgui.Btn("⬅️ Back", tgui.Data(scopeBC, "list", "0")))
	b.show(ctx, req, mb.Inline(kb).Build())
	return nil
}

func (b *Bot) cbBroadcastAdd(ctx context.Context, req *router.Request) error {
	b.machine.Enter(req.FromID, conversation.StepAddConfirmBroadcast, 0)
	mb := tgui.New().Line(prompt(conversation.StepAddConfirmBroadcast))
	if s := b.recipients(ctx, req); s != "" {
		mb.Line(s)
	}
	b.show(ctx, req, mb.Inline(backKB()).Build())
	return nil
}

func (b *Bot) cbBroadcastRetire(ctx context.Context, req *router.Request) error {
	id, err := payloadID(req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	ok, err := b.bc.Retire(ctx, id)
	if err == nil && !ok {
		err = storage.ErrNotFound
	}
	b.audit(ctx, req, "broadcast.retire", itoa(id), err)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	kb := tgui.NewInline().Row(tgui.Btn("⬅️ Back", tgui.Data(scopeBC, "list", "0")))
	b.show(ctx, req, tgui.New().Line("Broadcast #"+itoa(id)+" retired.").Inline(kb).Build())
	return nil
}
