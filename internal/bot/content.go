package bot

import (
	"context"
	"errors"
	"strconv"

	"github.com/dustin/go-humanize"

	"quizbot/internal/conversation"
	"quizbot/internal/storage"
	"quizbot/internal/transport/telegram/router"
	"quizbot/pkg/tgui"
)

// contentSteps maps an editable block to its edit step.
var contentSteps = map[string]conversation.Step{
	storage.ContentAbout: conversation.StepEditAbout,
	storage.ContentFAQ:   conversation.StepEditFAQ,
	storage.ContentRules: conversation.StepEditRules,
}

// itemSection is the list/show/add/edit/delete UI over one item table.
type itemSection struct {
	scope    string
	noun     string
	items    ItemStore
	addStep  conversation.Step
	editStep conversation.Step
}

func (b *Bot) registerContent(r *router.Router) {
	r.Callback(router.CallbackRoute{Scope: scopeContent, Action: "edit", Capability: router.CapEditContent, Handle: b.cbEditContent})
	for _, s := range []itemSection{
		{scope: scopeNews, noun: "news", items: b.news, addStep: conversation.StepAddNews, editStep: conversation.StepEditNews},
		{scope: scopeQuiz, noun: "quiz", items: b.quizzes, addStep: conversation.StepAddQuiz, editStep: conversation.StepEditQuiz},
	} {
		for action, h := range map[string]router.HandlerFunc{
			"list": func(ctx context.Context, req *router.Request) error { return b.itemList(ctx, req, s) },
			"show": func(ctx context.Context, req *router.Request) error { return b.itemShow(ctx, req, s) },
			"add":  b.enter(s.addStep),
			"edit": func(ctx context.Context, req *router.Request) error { return b.itemEdit(ctx, req, s) },
			"del":  func(ctx context.Context, req *router.Request) error { return b.itemDelete(ctx, req, s) },
		} {
			r.Callback(router.CallbackRoute{Scope: s.scope, Action: action, Capability: router.CapEditContent, Handle: h})
		}
	}
}

func (b *Bot) cbEditContent(ctx context.Context, req *router.Request) error {
	step, ok := contentSteps[req.Payload]
	if !ok {
		return b.fail(ctx, req, storage.ErrNotFound)
	}
	cur, err := b.store.GetContent(ctx, req.Payload)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return b.fail(ctx, req, err)
	}
	b.machine.Enter(req.FromID, step, 0)
	mb := tgui.New()
	if cur != "" {
		mb.Title("", "Current text").Line(cur).Blank()
	}
	b.show(ctx, req, mb.Line(prompt(step)).Inline(backKB()).Build())
	return nil
}

func (b *Bot) itemList(ctx context.Context, req *router.Request, s itemSection) error {
	list, err := s.items.List(ctx)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	idx, _ := strconv.Atoi(req.Payload)
	page := tgui.Paginate(list, idx, pageSize)
	kb := listKB(s.scope, page, func(it storage.Item) (int64, string) {
		return it.ID, "#" + itoa(it.ID) + " " + it.Body
	}, tgui.Btn("➕ Add "+s.noun, tgui.Data(s.scope, "add", "")))

	mb := tgui.New().Title("", "Manage "+s.noun)
	if page.Total == 0 {
		mb.Line("Nothing here yet.")
	} else {
		mb.Line(page.Label())
	}
	b.show(ctx, req, mb.Inline(kb).Build())
	return nil
}

func (b *Bot) itemShow(ctx context.Context, req *router.Request, s itemSection) error {
	id, err := payloadID(req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	it, err := s.items.Get(ctx, id)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	kb := tgui.NewInline().
		Row(
			tgui.Btn("✏️ Edit", tgui.DataID(s.scope, "edit", id)),
			tgui.Btn("🗑 Delete", tgui.DataID(s.scope, "del", id)),
		).
		Row(tgui.Btn("⬅️ Back", tgui.Data(s.scope, "list", "0")))
	b.show(ctx, req, tgui.New().
		Title("", s.noun+" #"+itoa(id)).
		KV("Created", humanize.Time(it.CreatedAt)).
		Blank().
		Line(it.Body).
		Inline(kb).
		Build())
	return nil
}

func (b *Bot) itemEdit(ctx context.Context, req *router.Request, s itemSection) error {
	id, err := payloadID(req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	if _, err := s.items.Get(ctx, id); err != nil {
		return b.fail(ctx, req, err)
	}
	b.machine.Enter(req.FromID, s.editStep, id)
	b.show(ctx, req, tgui.New().Line(prompt(s.editStep)).Inline(backKB()).Build())
	return nil
}

func (b *Bot) itemDelete(ctx context.Context, req *router.Request, s itemSection) error {
	id, err := payloadID(req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	err = s.items.Delete(ctx, id)
	b.audit(ctx, req, s.noun+".delete", itoa(id), err)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	kb := tgui.NewInline().Row(tgui.Btn("⬅️ Back", tgui.Data(s.scope, "list", "0")))
	b.show(ctx, req, tgui.New().Line(s.noun+" #"+itoa(id)+" deleted.").Inline(kb).Build())
	return nil
}
