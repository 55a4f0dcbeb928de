package bot

import (
	"context"
	"fmt"

	"quizbot/internal/conversation"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	"quizbot/internal/transport/telegram/router"
	"quizbot/pkg/tgui"
)

var prompts = map[conversation.Step]string{
	conversation.StepAskQuestion:         "Write your question.",
	conversation.StepChangeContact:       "Send your new e-mail address.",
	conversation.StepAddModerator:        "Send the new moderator as <id> <username>, for example: 123 @username",
	conversation.StepAddSubAdmin:         "Send the new sub-admin as <id> <username>, for example: 123 @username",
	conversation.StepMakeMailing:         "Send the text of the mailing.",
	conversation.StepAddConfirmBroadcast: "Send the text of the broadcast. Recipients get an \"I confirm\" button.",
	conversation.StepAddNews:             "Send the news text.",
	conversation.StepEditNews:            "Send the new news text.",
	conversation.StepAddQuiz:             "Send the quiz announcement.",
	conversation.StepEditQuiz:            "Send the new quiz announcement.",
	conversation.StepEditAbout:           "Send the new text about the quiz.",
	conversation.StepEditFAQ:             "Send the new FAQ text.",
	conversation.StepEditRules:           "Send the new rules.",
}

func prompt(s conversation.Step) string {
	if p, ok := prompts[s]; ok {
		return p
	}
	return "Send your answer."
}

// stepAction performs a step's terminal action and returns the reply.
type stepAction func(ctx context.Context, req *router.Request, in conversation.Input) (string, error)

// step validates the input against the step's shape. Malformed input is
// re-prompted and the step kept; anything else returns the user to idle
// before the action runs, whatever its outcome.
func (b *Bot) step(fn stepAction) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		in, err := conversation.Parse(req.State.Step, req.Text)
		if err != nil {
			b.send(ctx, req, tgui.New().Line("Invalid format. "+prompt(req.State.Step)).Inline(backKB()).Build())
			return nil
		}
		b.machine.Clear(req.FromID)
		reply, err := fn(ctx, req, in)
		if err != nil {
			return b.fail(ctx, req, err)
		}
		b.say(ctx, req, reply)
		return nil
	}
}

func (b *Bot) registerSteps(r *router.Router) {
	r.Step(conversation.StepAskQuestion, router.CapAskQuestion, b.step(b.stepAskQuestion))
	r.Step(conversation.StepChangeContact, router.CapChangeContact, b.step(b.stepChangeContact))
	r.Step(conversation.StepAddModerator, router.CapManageModerators, b.step(b.stepAddStaff(storage.StaffModerator)))
	r.Step(conversation.StepAddSubAdmin, router.CapManageSubAdmins, b.step(b.stepAddStaff(storage.StaffSubAdmin)))
	r.Step(conversation.StepMakeMailing, router.CapMailing, b.step(b.stepMailing))
	r.Step(conversation.StepAddConfirmBroadcast, router.CapConfirmBroadcasts, b.step(b.stepAddBroadcast))
	r.Step(conversation.StepAddNews, router.CapEditContent, b.step(b.stepAddItem(b.news, "news")))
	r.Step(conversation.StepEditNews, router.CapEditContent, b.step(b.stepEditItem(b.news, "news")))
	r.Step(conversation.StepAddQuiz, router.CapEditContent, b.step(b.stepAddItem(b.quizzes, "quiz")))
	r.Step(conversation.StepEditQuiz, router.CapEditContent, b.step(b.stepEditItem(b.quizzes, "quiz")))
	r.Step(conversation.StepEditAbout, router.CapEditContent, b.step(b.stepSetContent(storage.ContentAbout)))
	r.Step(conversation.StepEditFAQ, router.CapEditContent, b.step(b.stepSetContent(storage.ContentFAQ)))
	r.Step(conversation.StepEditRules, router.CapEditContent, b.step(b.stepSetContent(storage.ContentRules)))
}

func (b *Bot) stepAskQuestion(ctx context.Context, req *router.Request, in conversation.Input) (string, error) {
	chat := b.questionsChat.Load()
	if chat == 0 {
		return "Questions are not accepted right now.", nil
	}
	m := tgui.New().
		RawLine(tgui.JoinH(" ", tgui.Esc("❓ Question from"), tgui.UserRef(req.Handle, req.FromID))).
		Blank().
		Line(in.Text).
		Build()
	if _, err := m.Send(ctx, b.sender, kit.ChatTarget{ChatID: chat}); err != nil {
		return "", fmt.Errorf("forward question: %w", err)
	}
	return "Your question has been sent. We will answer soon.", nil
}

func (b *Bot) stepChangeContact(ctx context.Context, req *router.Request, in conversation.Input) (string, error) {
	if err := b.store.SetContact(ctx, req.FromID, in.Text); err != nil {
		return "", err
	}
	return "Your e-mail is now " + in.Text + ".", nil
}

func (b *Bot) stepAddStaff(role storage.StaffRole) stepAction {
	return func(ctx context.Context, req *router.Request, in conversation.Input) (string, error) {
		added, err := b.store.AssignStaff(ctx, storage.StaffMember{UserID: in.UserID, Handle: in.Handle, Role: role})
		b.audit(ctx, req, "staff.assign."+string(role), itoa(in.UserID), err)
		if err != nil {
			return "", err
		}
		if !added {
			return fmt.Sprintf("User %d is already a %s.", in.UserID, role), nil
		}
		return fmt.Sprintf("User %d (@%s) is now a %s.", in.UserID, in.Handle, role), nil
	}
}

func (b *Bot) stepMailing(ctx context.Context, req *router.Request, in conversation.Input) (string, error) {
	b.bc.MailAsync(in.Text, req.Chat)
	b.audit(ctx, req, "mailing.send", "", nil)
	return "Mailing started. You will get a report when it is done.", nil
}

func (b *Bot) stepAddBroadcast(ctx context.Context, req *router.Request, in conversation.Input) (string, error) {
	id, err := b.bc.Create(ctx, in.Text)
	b.audit(ctx, req, "broadcast.create", itoa(id), err)
	if err != nil {
		return "", err
	}
	b.bc.DistributeAsync(id, req.Chat)
	return fmt.Sprintf("Broadcast #%d created and is being sent. You will get a report when it is done.", id), nil
}

func (b *Bot) stepAddItem(items ItemStore, noun string) stepAction {
	return func(ctx context.Context, req *router.Request, in conversation.Input) (string, error) {
		id, err := items.Add(ctx, in.Text)
		b.audit(ctx, req, noun+".add", itoa(id), err)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Added %s #%d.", noun, id), nil
	}
}

func (b *Bot) stepEditItem(items ItemStore, noun string) stepAction {
	return func(ctx context.Context, req *router.Request, in conversation.Input) (string, error) {
		id := req.State.ItemID
		err := items.Update(ctx, id, in.Text)
		b.audit(ctx, req, noun+".update", itoa(id), err)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Updated %s #%d.", noun, id), nil
	}
}

func (b *Bot) stepSetContent(key string) stepAction {
	return func(ctx context.Context, req *router.Request, in conversation.Input) (string, error) {
		err := b.store.SetContent(ctx, key, in.Text)
		b.audit(ctx, req, "content.set", key, err)
		if err != nil {
			return "", err
		}
		return "Saved.", nil
	}
}
