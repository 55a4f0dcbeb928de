package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"quizbot/internal/broadcast"
	"quizbot/internal/conversation"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	"quizbot/internal/transport/telegram/router"
	"quizbot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sent struct {
	chat int64
	text string
	opt  *kit.SendOptions
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sent
	answers []string
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chat: to.ChatID, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return errors.New("edit not supported")
}

func (f *fakeSender) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

// last returns the latest text sent to chat.
func (f *fakeSender) last(chat int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].chat == chat {
			return f.sent[i].text
		}
	}
	return ""
}

// saw reports whether any text sent to chat contains sub.
func (f *fakeSender) saw(chat int64, sub string) bool {
	for _, s := range f.to(chat) {
		if strings.Contains(s.text, sub) {
			return true
		}
	}
	return false
}

func (f *fakeSender) to(chat int64) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sent {
		if s.chat == chat {
			out = append(out, s)
		}
	}
	return out
}

// firstAnswer returns the first non-empty callback answer since mark.
func (f *fakeSender) firstAnswer(mark int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.answers[mark:] {
		if a != "" {
			return a
		}
	}
	return ""
}

func (f *fakeSender) answerMark() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.answers)
}

type linker struct{ n int }

func (l *linker) InviteLink(_ context.Context, chatID int64) (string, error) {
	l.n++
	return fmt.Sprintf("https://t.me/+chat%d_%d", chatID, l.n), nil
}

const (
	admin     = int64(1)
	subAdmin  = int64(2)
	moderator = int64(3)
	questions = int64(-100500)
)

type harness struct {
	t      *testing.T
	sender *fakeSender
	store  *storage.Store
	m      *conversation.Machine
	r      *router.Router
	link   *linker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	for id, role := range map[int64]storage.StaffRole{subAdmin: storage.StaffSubAdmin, moderator: storage.StaffModerator} {
		if _, err := st.AssignStaff(ctx, storage.StaffMember{UserID: id, Handle: fmt.Sprintf("h%d", id), Role: role}); err != nil {
			t.Fatal(err)
		}
	}

	h := &harness{t: t, sender: &fakeSender{}, store: st, m: conversation.NewMachine(), link: &linker{}}
	engine := broadcast.New(st, h.sender, broadcast.Config{Workers: 2, RatePerSec: 1000})
	h.r = router.New(h.sender, h.m, router.NewResolver([]int64{admin}, st), router.Config{}, router.WithRegistrar(st))
	New(Deps{
		Sender:          h.sender,
		Store:           st,
		News:            st.News(),
		Quizzes:         st.Quizzes(),
		Broadcasts:      engine,
		Machine:         h.m,
		Linker:          h.link,
		QuestionsChatID: questions,
	}).Register(h.r)
	return h
}

func (h *harness) text(from int64, text string) {
	h.r.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: from, FromID: from, FromUsername: fmt.Sprintf("h%d", from), Text: text, IsPrivate: true,
	}})
}

func (h *harness) press(from int64, data string) {
	h.r.Handle(context.Background(), kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb", ChatID: from, FromID: from, FromUsername: fmt.Sprintf("h%d", from), Data: data,
	}})
}

func (h *harness) step(user int64) conversation.Step {
	return h.m.Read(user).Step
}

func TestConfirmBroadcastLifecycle(t *testing.T) {
	h := newHarness(t)
	for _, u := range []int64{10, 11, 12} {
		h.text(u, "/start")
	}

	h.press(subAdmin, "bc:add")
	if h.step(subAdmin) != conversation.StepAddConfirmBroadcast {
		t.Fatalf("step = %s", h.step(subAdmin))
	}
	h.text(subAdmin, "vote now")
	if !h.m.Read(subAdmin).Idle() {
		t.Fatal("step not cleared after broadcast text")
	}

	list, err := h.store.ListBroadcasts(context.Background())
	if err != nil || len(list) != 1 || list[0].Body != "vote now" {
		t.Fatalf("broadcasts = %+v, %v", list, err)
	}
	id := list[0].ID

	got := h.sender.to(11)
	if len(got) != 2 || got[1].text != "vote now" || got[1].opt == nil || got[1].opt.ReplyMarkupAdapter == nil {
		t.Fatalf("recipient 11 got %+v", got)
	}
	if !h.sender.saw(subAdmin, fmt.Sprintf("Broadcast #%d sent to 4 recipients", id)) {
		t.Fatalf("no report for the operator: %+v", h.sender.to(subAdmin))
	}

	ack := fmt.Sprintf("ack:confirm:%d", id)
	mark := h.sender.answerMark()
	h.press(10, ack)
	if a := h.sender.firstAnswer(mark); !strings.HasPrefix(a, "Thank you") {
		t.Fatalf("first ack answer = %q", a)
	}
	mark = h.sender.answerMark()
	h.press(10, ack)
	if a := h.sender.firstAnswer(mark); a != "You have already confirmed." {
		t.Fatalf("second ack answer = %q", a)
	}
	h.press(12, ack)

	refs, err := h.store.AcknowledgedUsers(context.Background(), id)
	if err != nil || len(refs) != 2 || refs[0].ID != 10 || refs[1].ID != 12 {
		t.Fatalf("acknowledged = %+v, %v", refs, err)
	}

	h.press(subAdmin, fmt.Sprintf("bc:show:%d", id))
	if s := h.sender.last(subAdmin); !strings.Contains(s, "Confirmed by 2") || !strings.Contains(s, "• <a href=\"tg://user?id=12\">@h12</a>") {
		t.Fatalf("describe = %q", s)
	}

	h.press(subAdmin, fmt.Sprintf("bc:retire:%d", id))
	if s := h.sender.last(subAdmin); !strings.Contains(s, "retired") {
		t.Fatalf("retire reply = %q", s)
	}
	mark = h.sender.answerMark()
	h.press(11, ack)
	if a := h.sender.firstAnswer(mark); a != "This broadcast is no longer active." {
		t.Fatalf("ack after retire = %q", a)
	}
	if refs, _ := h.store.AcknowledgedUsers(context.Background(), id); len(refs) != 0 {
		t.Fatalf("acknowledgements survived retire: %+v", refs)
	}
}

func TestMalformedStaffInputKeepsStep(t *testing.T) {
	h := newHarness(t)
	h.press(admin, "mod:add")
	h.text(admin, "not an id")
	if h.step(admin) != conversation.StepAddModerator {
		t.Fatalf("step = %s", h.step(admin))
	}
	if s := h.sender.last(admin); !strings.HasPrefix(s, "Invalid format.") {
		t.Fatalf("reprompt = %q", s)
	}

	h.text(admin, "77 @newmod")
	if !h.m.Read(admin).Idle() {
		t.Fatal("step not cleared")
	}
	m, err := h.store.GetStaff(context.Background(), 77)
	if err != nil || m.Role != storage.StaffModerator || m.Handle != "newmod" {
		t.Fatalf("staff = %+v, %v", m, err)
	}

	h.press(admin, "mod:add")
	h.text(admin, "77 newmod")
	if s := h.sender.last(admin); !strings.Contains(s, "already") {
		t.Fatalf("repeat assign reply = %q", s)
	}
}

func TestSubAdminCannotManageStaff(t *testing.T) {
	h := newHarness(t)
	mark := h.sender.answerMark()
	h.press(subAdmin, "sub:add")
	if a := h.sender.firstAnswer(mark); a != "forbidden" {
		t.Fatalf("answer = %q", a)
	}
	if !h.m.Read(subAdmin).Idle() {
		t.Fatal("forbidden callback changed state")
	}
}

func TestStepAfterDemotionFallsBack(t *testing.T) {
	h := newHarness(t)
	h.press(subAdmin, "mail:start")
	if h.step(subAdmin) != conversation.StepMakeMailing {
		t.Fatalf("step = %s", h.step(subAdmin))
	}
	if err := h.store.RemoveStaff(context.Background(), subAdmin, storage.StaffSubAdmin); err != nil {
		t.Fatal(err)
	}
	h.text(subAdmin, "hello everyone")
	if !h.m.Read(subAdmin).Idle() {
		t.Fatal("state kept after demotion")
	}
	if s := h.sender.last(subAdmin); !strings.HasPrefix(s, "Please use the menu.") {
		t.Fatalf("reply = %q", s)
	}
}

func TestMailingReachesEveryone(t *testing.T) {
	h := newHarness(t)
	h.text(20, "/start")
	h.text(21, "/start")
	h.press(admin, "mail:start")
	h.text(admin, "quiz tonight")

	for _, u := range []int64{20, 21} {
		if s := h.sender.last(u); s != "quiz tonight" {
			t.Fatalf("user %d got %q", u, s)
		}
	}
	if !h.sender.saw(admin, "Mailing sent to 3 recipients") {
		t.Fatalf("no report for the operator: %+v", h.sender.to(admin))
	}
	if list, _ := h.store.ListBroadcasts(context.Background()); len(list) != 0 {
		t.Fatalf("mailing created broadcasts: %+v", list)
	}
}

func TestAskQuestionIsForwarded(t *testing.T) {
	h := newHarness(t)
	h.press(10, "user:ask")
	h.text(10, "   ")
	if h.step(10) != conversation.StepAskQuestion {
		t.Fatal("blank question accepted")
	}
	h.text(10, "when is the final?")
	fwd := h.sender.last(questions)
	if !strings.Contains(fwd, "when is the final?") || !strings.Contains(fwd, "tg://user?id=10") {
		t.Fatalf("forwarded = %q", fwd)
	}
	if !h.m.Read(10).Idle() {
		t.Fatal("step not cleared")
	}
}

func TestChangeContact(t *testing.T) {
	h := newHarness(t)
	h.press(10, "user:email")
	h.text(10, "not-an-email")
	if h.step(10) != conversation.StepChangeContact {
		t.Fatal("bad e-mail accepted")
	}
	h.text(10, "a@example.org")
	u, err := h.store.GetUser(context.Background(), 10)
	if err != nil || u.Email != "a@example.org" {
		t.Fatalf("user = %+v, %v", u, err)
	}
}

func TestNewsEditingAndFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.press(subAdmin, "news:add")
	h.text(subAdmin, "Season opens")
	items, err := h.store.News().List(ctx)
	if err != nil || len(items) != 1 {
		t.Fatalf("news = %+v, %v", items, err)
	}
	id := items[0].ID

	h.press(subAdmin, fmt.Sprintf("news:edit:%d", id))
	if st := h.m.Read(subAdmin); st.Step != conversation.StepEditNews || st.ItemID != id {
		t.Fatalf("state = %+v", st)
	}
	h.text(subAdmin, "Season opens Monday")
	if it, _ := h.store.News().Get(ctx, id); it.Body != "Season opens Monday" {
		t.Fatalf("body = %q", it.Body)
	}

	// the item disappears while the editor is typing
	h.m.Enter(subAdmin, conversation.StepEditNews, 999)
	h.text(subAdmin, "ghost")
	if s := h.sender.last(subAdmin); s != "Not found." {
		t.Fatalf("reply = %q", s)
	}
	if !h.m.Read(subAdmin).Idle() {
		t.Fatal("failed action kept the step")
	}

	h.press(10, "info:news")
	if s := h.sender.last(10); !strings.Contains(s, "Season opens Monday") {
		t.Fatalf("user news = %q", s)
	}
}

func TestContentEditing(t *testing.T) {
	h := newHarness(t)
	h.press(10, "info:rules")
	if s := h.sender.last(10); !strings.Contains(s, "no information yet") {
		t.Fatalf("empty rules = %q", s)
	}
	h.press(admin, "content:edit:rules")
	h.text(admin, "Be nice")
	h.press(10, "info:rules")
	if s := h.sender.last(10); !strings.Contains(s, "Be nice") {
		t.Fatalf("rules = %q", s)
	}
}

func TestQuestionsChatLink(t *testing.T) {
	h := newHarness(t)
	h.press(moderator, "staff:chat")
	first := h.sender.last(moderator)
	if !strings.Contains(first, "https://t.me/+chat-100500_1") {
		t.Fatalf("link = %q", first)
	}
	h.press(moderator, "staff:chat")
	if h.link.n != 1 {
		t.Fatalf("link created %d times", h.link.n)
	}

	mark := h.sender.answerMark()
	h.press(moderator, "chat:confirm")
	if a := h.sender.firstAnswer(mark); a != "forbidden" {
		t.Fatalf("moderator reset answer = %q", a)
	}
	h.press(admin, "chat:confirm")
	if s := h.sender.last(admin); !strings.Contains(s, "_2") {
		t.Fatalf("reset reply = %q", s)
	}
	if l, _ := h.store.GetContent(context.Background(), storage.ContentQuestionsLink); !strings.HasSuffix(l, "_2") {
		t.Fatalf("stored link = %q", l)
	}
}

func TestCommands(t *testing.T) {
	h := newHarness(t)
	h.press(admin, "news:add")
	h.text(admin, "/cancel")
	if !h.m.Read(admin).Idle() {
		t.Fatal("/cancel kept the step")
	}
	if s := h.sender.last(admin); !strings.HasPrefix(s, "Cancelled.") {
		t.Fatalf("cancel reply = %q", s)
	}
	h.text(10, "/id")
	if s := h.sender.last(10); !strings.Contains(s, "<code>10</code>") {
		t.Fatalf("id reply = %q", s)
	}
	h.text(10, "/help")
	if s := h.sender.last(10); !strings.Contains(s, "/start") || !strings.Contains(s, "/cancel") {
		t.Fatalf("help = %q", s)
	}
	h.text(moderator, "/start")
	if s := h.sender.last(moderator); !strings.Contains(s, "Staff menu") {
		t.Fatalf("moderator start = %q", s)
	}
}
