package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"quizbot/internal/conversation"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSender struct {
	mu      sync.Mutex
	texts   []string
	answers []string
}

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{}, nil
}

func (f *fakeSender) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeSender) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

type roles map[int64]Role

func (r roles) Resolve(_ context.Context, id int64) (Role, error) {
	if id == 666 {
		return RoleAdmin, errors.New("db down")
	}
	return r[id], nil
}

type registrar struct {
	mu   sync.Mutex
	seen map[int64]string
}

func (r *registrar) UpsertUser(_ context.Context, id int64, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[id] = handle
	return nil
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: from, FromID: from, FromUsername: fmt.Sprintf("u%d", from), Text: text, IsPrivate: true,
	}}
}

func cb(from int64, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb1", ChatID: from, FromID: from, Data: data,
	}}
}

func TestCapabilityNesting(t *testing.T) {
	for i := 1; i < len(Roles); i++ {
		lo, hi := Roles[i-1].Capabilities(), Roles[i].Capabilities()
		if hi&lo != lo || hi == lo {
			t.Fatalf("%s must strictly contain %s", Roles[i], Roles[i-1])
		}
	}
	tests := []struct {
		cap  Capability
		want map[Role]bool
	}{
		{CapAcknowledge, map[Role]bool{RoleUser: true, RoleModerator: true, RoleSubAdmin: true, RoleAdmin: true}},
		{CapViewQuestionsChat, map[Role]bool{RoleModerator: true, RoleSubAdmin: true, RoleAdmin: true}},
		{CapMailing, map[Role]bool{RoleSubAdmin: true, RoleAdmin: true}},
		{CapConfirmBroadcasts, map[Role]bool{RoleSubAdmin: true, RoleAdmin: true}},
		{CapManageSubAdmins, map[Role]bool{RoleAdmin: true}},
		{CapResetQuestionsChat, map[Role]bool{RoleAdmin: true}},
	}
	for _, tt := range tests {
		for _, r := range Roles {
			if got := r.Can(tt.cap); got != tt.want[r] {
				t.Fatalf("%s.Can(%b) = %v", r, tt.cap, got)
			}
		}
	}
}

func newTestRouter(s *fakeSender, m *conversation.Machine, rs roles) *Router {
	return New(s, m, rs, Config{Workers: 4, QueueSize: 16})
}

func TestForbiddenCallbackIsAnsweredAndSkipped(t *testing.T) {
	s := &fakeSender{}
	r := newTestRouter(s, conversation.NewMachine(), roles{1: RoleModerator})
	called := false
	r.Callback(CallbackRoute{Scope: "mailing", Action: "start", Capability: CapMailing, Handle: func(context.Context, *Request) error {
		called = true
		return nil
	}})

	r.Handle(context.Background(), cb(1, "mailing:start"))
	if called {
		t.Fatal("handler ran for a moderator")
	}
	if len(s.answers) != 1 || s.answers[0] != "forbidden" {
		t.Fatalf("answers = %q", s.answers)
	}
}

func TestCallbackPayload(t *testing.T) {
	s := &fakeSender{}
	r := newTestRouter(s, conversation.NewMachine(), roles{})
	var got string
	r.Callback(CallbackRoute{Scope: "ack", Action: "confirm", Capability: CapAcknowledge, Handle: func(_ context.Context, req *Request) error {
		got = req.Payload
		return nil
	}})
	r.Handle(context.Background(), cb(5, "ack:confirm:42"))
	if got != "42" {
		t.Fatalf("payload = %q", got)
	}
	r.Handle(context.Background(), cb(5, "unknown:thing"))
	if len(s.answers) != 2 || s.answers[1] != "" {
		t.Fatalf("answers = %q", s.answers)
	}
}

func TestStepWithoutCapabilityFallsBackToIdle(t *testing.T) {
	s := &fakeSender{}
	m := conversation.NewMachine()
	r := newTestRouter(s, m, roles{2: RoleUser})
	stepRan, fallbackRan := false, false
	r.Step(conversation.StepMakeMailing, CapMailing, func(context.Context, *Request) error {
		stepRan = true
		return nil
	})
	r.Fallback(func(_ context.Context, req *Request) error {
		fallbackRan = req.State.Idle()
		return nil
	})

	// user 2 entered the step while still a sub-admin, then was demoted
	m.Enter(2, conversation.StepMakeMailing, 0)
	r.Handle(context.Background(), msg(2, "hello everyone"))

	if stepRan || !fallbackRan {
		t.Fatalf("stepRan=%v fallbackRan=%v", stepRan, fallbackRan)
	}
	if !m.Read(2).Idle() {
		t.Fatal("state not cleared")
	}
}

func TestStepHandlerReceivesState(t *testing.T) {
	m := conversation.NewMachine()
	r := newTestRouter(&fakeSender{}, m, roles{3: RoleSubAdmin})
	var st conversation.State
	r.Step(conversation.StepEditNews, CapEditContent, func(_ context.Context, req *Request) error {
		st = req.State
		return nil
	})
	m.Enter(3, conversation.StepEditNews, 9)
	r.Handle(context.Background(), msg(3, "new text"))
	if st.Step != conversation.StepEditNews || st.ItemID != 9 {
		t.Fatalf("state = %+v", st)
	}
}

func TestCommandsClearStateAndCheckRole(t *testing.T) {
	s := &fakeSender{}
	m := conversation.NewMachine()
	reg := &registrar{seen: map[int64]string{}}
	r := New(s, m, roles{1: RoleAdmin}, Config{}, WithRegistrar(reg))
	var args []string
	r.Command(Command{Name: "cancel", Capability: CapViewInfo, Handle: func(_ context.Context, req *Request) error {
		args = req.Args
		return nil
	}})
	r.Command(Command{Name: "staff", Capability: CapStaffMenu, Handle: func(context.Context, *Request) error { return nil }})

	m.Enter(1, conversation.StepAddModerator, 0)
	r.Handle(context.Background(), msg(1, "/cancel@quiz_bot now"))
	if !m.Read(1).Idle() || len(args) != 1 || args[0] != "now" {
		t.Fatalf("state=%+v args=%v", m.Read(1), args)
	}
	if reg.seen[1] != "u1" {
		t.Fatalf("sender not registered: %v", reg.seen)
	}

	r.Handle(context.Background(), msg(2, "/staff"))
	r.Handle(context.Background(), msg(2, "/nope"))
	if len(s.texts) != 2 || s.texts[0] != "This command is not available to you." || s.texts[1] != "Unknown command. Try /help." {
		t.Fatalf("replies = %q", s.texts)
	}
	if names := r.Commands(RoleUser); len(names) != 1 || names[0].Name != "cancel" {
		t.Fatalf("user commands = %+v", names)
	}
}

func TestResolveErrorDegradesToUser(t *testing.T) {
	r := newTestRouter(&fakeSender{}, conversation.NewMachine(), roles{})
	var role Role = -1
	r.Fallback(func(_ context.Context, req *Request) error {
		role = req.Role
		return nil
	})
	r.Handle(context.Background(), msg(666, "hi"))
	if role != RoleUser {
		t.Fatalf("role = %s", role)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	m := conversation.NewMachine()
	r := newTestRouter(&fakeSender{}, m, roles{3: RoleSubAdmin})
	r.Fallback(func(context.Context, *Request) error { panic("boom") })
	r.Step(conversation.StepEditNews, CapEditContent, func(context.Context, *Request) error { panic("boom") })

	r.Handle(context.Background(), msg(1, "x"))

	m.Enter(3, conversation.StepEditNews, 9)
	r.Handle(context.Background(), msg(3, "new text"))
	if st := m.Read(3); !st.Idle() {
		t.Fatalf("a panicking step must return the sender to idle, got %+v", st)
	}
}

func TestRunKeepsPerUserOrder(t *testing.T) {
	r := newTestRouter(&fakeSender{}, conversation.NewMachine(), roles{})
	var (
		mu  sync.Mutex
		got = map[int64][]string{}
	)
	r.Fallback(func(_ context.Context, req *Request) error {
		mu.Lock()
		got[req.FromID] = append(got[req.FromID], req.Text)
		mu.Unlock()
		return nil
	})

	updates := make(chan kit.Update)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), updates) }()
	for i := 0; i < 10; i++ {
		for _, u := range []int64{1, 2, 3} {
			updates <- msg(u, fmt.Sprint(i))
		}
	}
	close(updates)

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	for _, u := range []int64{1, 2, 3} {
		if len(got[u]) != 10 {
			t.Fatalf("user %d got %d updates", u, len(got[u]))
		}
		for i, s := range got[u] {
			if s != fmt.Sprint(i) {
				t.Fatalf("user %d order = %v", u, got[u])
			}
		}
	}
}

type staffMap map[int64]storage.StaffRole

func (s staffMap) GetStaff(_ context.Context, id int64) (storage.StaffMember, error) {
	if id == 13 {
		return storage.StaffMember{}, storage.ErrUnavailable
	}
	r, ok := s[id]
	if !ok {
		return storage.StaffMember{}, storage.ErrNotFound
	}
	return storage.StaffMember{UserID: id, Role: r}, nil
}

func TestShardOfStaysInRange(t *testing.T) {
	ids := []int64{0, 1, -1, 7, -7, 1 << 40, math.MaxInt64, math.MinInt64, math.MinInt64 + 1}
	for _, n := range []int{1, 3, 5, 8} {
		for _, id := range ids {
			if got := shardOf(id, n); got < 0 || got >= n {
				t.Fatalf("shardOf(%d, %d) = %d", id, n, got)
			}
		}
	}
	if shardOf(42, 5) != shardOf(42, 5) {
		t.Fatal("shard must be stable for a user")
	}
}

func TestResolver(t *testing.T) {
	res := NewResolver([]int64{1}, staffMap{2: storage.StaffSubAdmin, 3: storage.StaffModerator})
	ctx := context.Background()
	for id, want := range map[int64]Role{1: RoleAdmin, 2: RoleSubAdmin, 3: RoleModerator, 4: RoleUser} {
		if got, err := res.Resolve(ctx, id); err != nil || got != want {
			t.Fatalf("Resolve(%d) = %s, %v", id, got, err)
		}
	}
	if got, err := res.Resolve(ctx, 13); err == nil || got != RoleUser {
		t.Fatalf("Resolve on store failure = %s, %v", got, err)
	}
	res.SetAdmins([]int64{4})
	if got, _ := res.Resolve(ctx, 4); got != RoleAdmin {
		t.Fatalf("after SetAdmins = %s", got)
	}
}

func TestParseCommandAndSanitize(t *testing.T) {
	name, args, ok := parseCommand("/Start@QuizBot  a b")
	if !ok || name != "start" || len(args) != 2 {
		t.Fatalf("parseCommand = %q %v %v", name, args, ok)
	}
	if _, _, ok := parseCommand("hello"); ok {
		t.Fatal("plain text parsed as command")
	}
	for in, want := range map[string]string{"Add-News": "add_news", "9lives": "cmd_9lives", "a  b": "a_b"} {
		if got := sanitizeCommand(in); got != want {
			t.Fatalf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}
