// Package broadcast creates, fans out, tracks and retires
// confirmation-tracked broadcasts, and sends untracked mailings.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"quizbot/internal/eventbus"
	rtsup "quizbot/internal/runtime/supervisor"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	"quizbot/pkg/logx"
	"quizbot/pkg/tgui"
)

// MaxBodyRunes is the longest body stored without truncation.
const MaxBodyRunes = 125

// Callback data of the "I confirm" button is AckScope:AckAction:<id>.
const (
	AckScope  = "ack"
	AckAction = "confirm"
)

// Store is the persistence the engine needs.
type Store interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
	CreateBroadcast(ctx context.Context, body string) (int64, error)
	ListBroadcasts(ctx context.Context) ([]storage.Broadcast, error)
	GetBroadcast(ctx context.Context, id int64) (storage.Broadcast, error)
	RecordAcknowledgement(ctx context.Context, broadcastID, userID int64) (bool, error)
	AcknowledgedUsers(ctx context.Context, broadcastID int64) ([]storage.UserRef, error)
	RetireBroadcast(ctx context.Context, id int64) (bool, error)
}

type Config struct {
	Workers       int
	RatePerSec    int
	FailureSample int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	if c.FailureSample <= 0 {
		c.FailureSample = 200
	}
	return c
}

type Option func(*Engine)

func WithLogger(log logx.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithBus(b eventbus.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.m = m }
}

// WithSupervisor runs background distributions under sup.
func WithSupervisor(sup *rtsup.Supervisor) Option {
	return func(e *Engine) { e.sup = sup }
}

type Engine struct {
	store  Store
	sender kit.Sender
	log    logx.Logger
	bus    eventbus.Bus
	m      *Metrics
	sup    *rtsup.Supervisor

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(store Store, sender kit.Sender, cfg Config, opts ...Option) *Engine {
	e := &Engine{store: store, sender: sender, log: logx.Nop()}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With(logx.String("comp", "broadcast"))
	e.Apply(cfg)
	return e
}

// Apply swaps worker count and rate. Running fan-outs keep their settings.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (e *Engine) settings() (Config, *rate.Limiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.limiter
}

// TruncateBody cuts text longer than MaxBodyRunes to its first MaxBodyRunes
// runes followed by "...". Shorter text is returned unchanged.
func TruncateBody(text string) string {
	n := 0
	for i := range text {
		if n == MaxBodyRunes {
			return text[:i] + "..."
		}
		n++
	}
	return text
}

// AckMarkup is the keyboard attached to a distributed broadcast.
func AckMarkup(id int64) *tele.ReplyMarkup {
	return tgui.NewInline().Row(tgui.Btn("✅ I confirm", tgui.DataID(AckScope, AckAction, id))).Markup()
}

// Create stores text under the body policy and returns the new id.
// On failure the id is 0.
func (e *Engine) Create(ctx context.Context, text string) (int64, error) {
	id, err := e.store.CreateBroadcast(ctx, TruncateBody(text))
	if err != nil {
		return 0, fmt.Errorf("create broadcast: %w", err)
	}
	e.m.created()
	e.publish(eventbus.BroadcastCreated, id)
	e.log.Info("broadcast created", logx.Int64("broadcast_id", id))
	return id, nil
}

// Acknowledge records that userID confirmed broadcast id. It reports false
// for a repeated confirmation and returns storage.ErrNotFound once the
// broadcast is retired.
func (e *Engine) Acknowledge(ctx context.Context, id, userID int64) (bool, error) {
	added, err := e.store.RecordAcknowledgement(ctx, id, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		e.m.ack("not_found")
		return false, err
	case err != nil:
		e.m.ack("error")
		return false, fmt.Errorf("acknowledge broadcast %d: %w", id, err)
	case !added:
		e.m.ack("duplicate")
		return false, nil
	}
	e.m.ack("new")
	e.publish(eventbus.BroadcastAcknowledged, Ack{BroadcastID: id, UserID: userID})
	return true, nil
}

type Ack struct {
	BroadcastID int64
	UserID      int64
}

// Description is a broadcast with everyone who confirmed it.
type Description struct {
	storage.Broadcast
	Acknowledged []storage.UserRef
}

func (e *Engine) Describe(ctx context.Context, id int64) (Description, error) {
	b, err := e.store.GetBroadcast(ctx, id)
	if err != nil {
		return Description{}, err
	}
	refs, err := e.store.AcknowledgedUsers(ctx, id)
	if err != nil {
		return Description{}, err
	}
	return Description{Broadcast: b, Acknowledged: refs}, nil
}

// Retire deletes the broadcast and its acknowledgements. It reports whether
// the broadcast existed.
func (e *Engine) Retire(ctx context.Context, id int64) (bool, error) {
	ok, err := e.store.RetireBroadcast(ctx, id)
	if err != nil {
		return false, fmt.Errorf("retire broadcast %d: %w", id, err)
	}
	if ok {
		e.publish(eventbus.BroadcastRetired, id)
		e.log.Info("broadcast retired", logx.Int64("broadcast_id", id))
	}
	return ok, nil
}

func (e *Engine) List(ctx context.Context) ([]storage.Broadcast, error) {
	return e.store.ListBroadcasts(ctx)
}

func (e *Engine) publish(topic string, data any) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: topic, Time: time.Now(), Data: data})
	}
}
