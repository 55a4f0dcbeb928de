package broadcast

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"
	tele "gopkg.in/telebot.v4"

	"quizbot/internal/eventbus"
	rtsup "quizbot/internal/runtime/supervisor"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	"quizbot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sent struct {
	to   int64
	text string
	opt  *kit.SendOptions
}

// fakeSender delivers to everyone except the blocked and failing ids.
type fakeSender struct {
	mu      sync.Mutex
	blocked map[int64]bool
	failing map[int64]bool
	sent    []sent
	ch      chan sent
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocked[to.ChatID] {
		return kit.MessageRef{}, fmt.Errorf("%w: forbidden", kit.ErrBlocked)
	}
	if f.failing[to.ChatID] {
		return kit.MessageRef{}, errors.New("timeout")
	}
	s := sent{to: to.ChatID, text: text, opt: opt}
	f.sent = append(f.sent, s)
	if f.ch != nil {
		f.ch <- s
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeSender) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeSender) recipients() map[int64]sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]sent, len(f.sent))
	for _, s := range f.sent {
		out[s.to] = s
	}
	return out
}

func newStore(t *testing.T, users ...int64) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bc.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	for _, id := range users {
		if err := s.UpsertUser(context.Background(), id, fmt.Sprintf("h%d", id)); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestTruncateBody(t *testing.T) {
	exact := strings.Repeat("a", MaxBodyRunes)
	long := strings.Repeat("b", MaxBodyRunes+1)
	cyr := strings.Repeat("ж", 200)

	if got := TruncateBody(exact); got != exact {
		t.Fatalf("body at the limit changed: %d runes", len([]rune(got)))
	}
	if got := TruncateBody(long); got != strings.Repeat("b", MaxBodyRunes)+"..." {
		t.Fatalf("long body = %q", got)
	}
	if got := TruncateBody(cyr); got != strings.Repeat("ж", MaxBodyRunes)+"..." {
		t.Fatalf("multibyte body cut at %d runes", len([]rune(got)))
	}
	if got := TruncateBody("vote now"); got != "vote now" {
		t.Fatalf("short body = %q", got)
	}
}

func TestCreateAppliesBodyPolicy(t *testing.T) {
	ctx := context.Background()
	e := New(newStore(t), &fakeSender{}, Config{})
	id, err := e.Create(ctx, strings.Repeat("x", 300))
	if err != nil {
		t.Fatal(err)
	}
	d, err := e.Describe(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(d.Body)); n != MaxBodyRunes+3 {
		t.Fatalf("stored %d runes", n)
	}
}

func TestCreateFailureReturnsZero(t *testing.T) {
	s := newStore(t)
	_ = s.Close()
	id, err := New(s, &fakeSender{}, Config{}).Create(context.Background(), "x")
	if id != 0 || !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("Create on closed store = %d, %v", id, err)
	}
}

func TestScenarioCreateDistributeAcknowledgeRetire(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 1, 2, 3)
	sender := &fakeSender{blocked: map[int64]bool{2: true}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	e := New(store, sender, Config{Workers: 2, RatePerSec: 1000}, WithBus(bus))

	id, err := e.Create(ctx, "vote now")
	if err != nil || id == 0 {
		t.Fatalf("Create = %d, %v", id, err)
	}

	rep, err := e.Distribute(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Total != 3 || rep.Delivered != 2 || rep.Blocked != 1 || rep.Failed != 0 || rep.BroadcastID != id {
		t.Fatalf("report = %+v", rep)
	}
	got := sender.recipients()
	if _, ok := got[2]; ok || len(got) != 2 {
		t.Fatalf("recipients = %v", got)
	}
	rm, _ := got[1].opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	if rm == nil || rm.InlineKeyboard[0][0].Data != fmt.Sprintf("ack:confirm:%d", id) {
		t.Fatalf("confirm button missing: %+v", got[1].opt)
	}

	for _, uid := range []int64{1, 3, 3} {
		if _, err := e.Acknowledge(ctx, id, uid); err != nil {
			t.Fatalf("Acknowledge(%d): %v", uid, err)
		}
	}

	d, err := e.Describe(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	want := []storage.UserRef{{ID: 1, Handle: "h1"}, {ID: 3, Handle: "h3"}}
	if d.Body != "vote now" || len(d.Acknowledged) != 2 || d.Acknowledged[0] != want[0] || d.Acknowledged[1] != want[1] {
		t.Fatalf("Describe = %+v", d)
	}

	if ok, err := e.Retire(ctx, id); err != nil || !ok {
		t.Fatalf("Retire = %v, %v", ok, err)
	}
	list, err := e.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range list {
		if b.ID == id {
			t.Fatal("retired broadcast still listed")
		}
	}
	if refs, err := store.AcknowledgedUsers(ctx, id); err != nil || len(refs) != 0 {
		t.Fatalf("acknowledgements after retire = %+v, %v", refs, err)
	}
	if _, err := e.Acknowledge(ctx, id, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Acknowledge after retire: %v", err)
	}

	var topics []string
	for len(events) > 0 {
		topics = append(topics, (<-events).Type)
	}
	wantTopics := []string{
		eventbus.BroadcastCreated, eventbus.BroadcastDistributed,
		eventbus.BroadcastAcknowledged, eventbus.BroadcastAcknowledged,
		eventbus.BroadcastRetired,
	}
	if strings.Join(topics, ",") != strings.Join(wantTopics, ",") {
		t.Fatalf("events = %v", topics)
	}
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := New(newStore(t, 1), &fakeSender{}, Config{})
	id, _ := e.Create(ctx, "b")
	first, err := e.Acknowledge(ctx, id, 1)
	if err != nil || !first {
		t.Fatalf("first = %v, %v", first, err)
	}
	second, err := e.Acknowledge(ctx, id, 1)
	if err != nil || second {
		t.Fatalf("second = %v, %v", second, err)
	}
	if d, _ := e.Describe(ctx, id); len(d.Acknowledged) != 1 {
		t.Fatalf("acknowledged = %+v", d.Acknowledged)
	}
}

// ackingSender acknowledges from several goroutines as soon as a recipient
// receives the message, while the fan-out is still running.
type ackingSender struct {
	*fakeSender
	e   *Engine
	id  int64
	wg  sync.WaitGroup
	mu  sync.Mutex
	err error
}

func (a *ackingSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	ref, err := a.fakeSender.SendText(ctx, to, text, opt)
	if err != nil {
		return ref, err
	}
	for range 3 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if _, err := a.e.Acknowledge(context.Background(), a.id, to.ChatID); err != nil {
				a.mu.Lock()
				a.err = err
				a.mu.Unlock()
			}
		}()
	}
	return ref, nil
}

func TestAcknowledgeDuringDistribute(t *testing.T) {
	ctx := context.Background()
	users := make([]int64, 0, 60)
	for i := int64(1); i <= 60; i++ {
		users = append(users, i)
	}
	store := newStore(t, users...)
	sender := &ackingSender{fakeSender: &fakeSender{blocked: map[int64]bool{7: true}}}
	e := New(store, sender, Config{Workers: 8, RatePerSec: 10000})
	sender.e = e

	id, err := e.Create(ctx, "confirm please")
	if err != nil {
		t.Fatal(err)
	}
	sender.id = id

	rep, err := e.Distribute(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	sender.wg.Wait()
	if sender.err != nil {
		t.Fatalf("acknowledge during fan-out: %v", sender.err)
	}
	if rep.Total != 60 || rep.Delivered != 59 || rep.Blocked != 1 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}

	d, err := e.Describe(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Acknowledged) != rep.Delivered {
		t.Fatalf("acknowledged %d, delivered %d", len(d.Acknowledged), rep.Delivered)
	}
	seen := make(map[int64]bool, len(d.Acknowledged))
	for _, u := range d.Acknowledged {
		if seen[u.ID] || u.ID == 7 {
			t.Fatalf("unexpected acknowledgement from %d", u.ID)
		}
		seen[u.ID] = true
	}
}

func TestDistributeIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	users := make([]int64, 0, 40)
	failing := map[int64]bool{}
	for i := int64(1); i <= 40; i++ {
		users = append(users, i)
		if i%5 == 0 {
			failing[i] = true
		}
	}
	reg := prometheus.NewRegistry()
	e := New(newStore(t, users...), &fakeSender{failing: failing}, Config{Workers: 4, RatePerSec: 1000, FailureSample: 3}, WithMetrics(NewMetrics(reg)))
	id, _ := e.Create(ctx, "quiz at noon")

	rep, err := e.Distribute(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Delivered != 32 || rep.Failed != 8 || len(rep.FailedIDs) != 3 {
		t.Fatalf("report = %+v", rep)
	}
	// Delivered recipients can still confirm.
	if ok, err := e.Acknowledge(ctx, id, 1); err != nil || !ok {
		t.Fatalf("ack by delivered user = %v, %v", ok, err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var sends float64
	for _, mf := range mfs {
		if mf.GetName() == "quizbot_broadcast_sends_total" {
			for _, m := range mf.GetMetric() {
				sends += m.GetCounter().GetValue()
			}
		}
	}
	if sends != 40 {
		t.Fatalf("sends metric = %v", sends)
	}
}

func TestDistributeUnknownBroadcast(t *testing.T) {
	e := New(newStore(t, 1), &fakeSender{}, Config{})
	if _, err := e.Distribute(context.Background(), 99); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestDistributeCanceledCountsUnsent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(newStore(t, 1, 2, 3), &fakeSender{}, Config{})
	rep := e.fanout(ctx, kindMailing, []int64{1, 2, 3}, "x", nil)
	if rep.Total != 3 || rep.Delivered != 0 || rep.Failed != 3 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestMailAsyncReportsToOperator(t *testing.T) {
	sender := &fakeSender{ch: make(chan sent, 8)}
	sup := rtsup.New(context.Background())
	e := New(newStore(t, 1, 2), sender, Config{RatePerSec: 1000}, WithSupervisor(sup))

	e.MailAsync("hello", kit.ChatTarget{ChatID: 500})

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-sender.ch:
			if s.to != 500 {
				continue
			}
			if !strings.HasPrefix(s.text, "Mailing sent to 2 recipients: 2 delivered") {
				t.Fatalf("report text = %q", s.text)
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := sup.Stop(ctx); err != nil {
				t.Fatal(err)
			}
			return
		case <-deadline:
			t.Fatal("no report")
		}
	}
}

func TestReportSummary(t *testing.T) {
	r := Report{BroadcastID: 7, Total: 12345, Delivered: 12000, Blocked: 300, Failed: 45, Took: 1500 * time.Millisecond}
	want := "Broadcast #7 sent to 12,345 recipients: 12,000 delivered, 300 blocked, 45 failed (took 1.5s)."
	if got := r.Summary(); got != want {
		t.Fatalf("Summary = %q", got)
	}
}
