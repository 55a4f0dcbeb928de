// Package router dispatches inbound updates by the sender's role and
// conversation step.
//
// Updates are sharded by sender id onto a fixed set of queues, each drained
// by one worker, so a user's updates are handled one at a time and in
// arrival order while different users proceed concurrently.
package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizbot/internal/conversation"
	rtsup "quizbot/internal/runtime/supervisor"
	kit "quizbot/internal/transport"
	"quizbot/pkg/logx"
	"quizbot/pkg/tgui"
)

// Command is a slash command. Every command returns the sender to idle
// before it runs.
type Command struct {
	Name        string
	Description string
	Capability  Capability
	// Menu publishes the command in the platform command menu.
	Menu   bool
	Handle HandlerFunc
}

// CallbackRoute handles "scope:action[:payload]" button data.
type CallbackRoute struct {
	Scope      string
	Action     string
	Capability Capability
	Handle     HandlerFunc
}

type stepRoute struct {
	cap    Capability
	handle HandlerFunc
}

// Request is one routed update.
type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64
	Handle string
	Role   Role

	Route   string
	Text    string // message text, without the command word for commands
	Args    []string
	Payload string // callback payload
	State   conversation.State

	ReqID  string
	Logger logx.Logger
}

// Registrar records every sender.
type Registrar interface {
	UpsertUser(ctx context.Context, id int64, handle string) error
}

type Config struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

type Option func(*Router)

func WithLogger(log logx.Logger) Option {
	return func(r *Router) { r.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Router) { r.m = m }
}

// WithRegistrar upserts every sender before routing.
func WithRegistrar(u Registrar) Option {
	return func(r *Router) { r.users = u }
}

// WithSupervisor runs background work such as the menu update under s.
func WithSupervisor(s *rtsup.Supervisor) Option {
	return func(r *Router) { r.appSup = s }
}

type Router struct {
	cfg      Config
	sender   kit.Sender
	machine  *conversation.Machine
	resolver RoleResolver
	users    Registrar
	log      logx.Logger
	m        *Metrics
	appSup   *rtsup.Supervisor

	mu        sync.RWMutex
	commands  map[string]Command
	order     []string
	callbacks map[string]map[string]CallbackRoute
	steps     map[conversation.Step]stepRoute
	fallback  HandlerFunc
}

func New(sender kit.Sender, machine *conversation.Machine, resolver RoleResolver, cfg Config, opts ...Option) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	r := &Router{
		cfg:       cfg,
		sender:    sender,
		machine:   machine,
		resolver:  resolver,
		log:       logx.Nop(),
		commands:  map[string]Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		steps:     map[conversation.Step]stepRoute{},
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With(logx.String("comp", "telegram.router"))
	return r
}

// Command registers c under its sanitized name.
func (r *Router) Command(c Command) {
	name := sanitizeCommand(c.Name)
	if name == "" || c.Handle == nil {
		return
	}
	c.Name = name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; !ok {
		r.order = append(r.order, name)
	}
	r.commands[name] = c
}

func (r *Router) Callback(cb CallbackRoute) {
	s, a := strings.TrimSpace(cb.Scope), strings.TrimSpace(cb.Action)
	if s == "" || a == "" || cb.Handle == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.callbacks[s] == nil {
		r.callbacks[s] = map[string]CallbackRoute{}
	}
	r.callbacks[s][a] = cb
}

// Step registers the handler for text arriving while a user is in step.
func (r *Router) Step(step conversation.Step, need Capability, h HandlerFunc) {
	if h == nil || step == conversation.StepIdle {
		return
	}
	r.mu.Lock()
	r.steps[step] = stepRoute{cap: need, handle: h}
	r.mu.Unlock()
}

// Fallback handles idle text that is not a command.
func (r *Router) Fallback(h HandlerFunc) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

// Commands lists the commands role may run, in registration order.
func (r *Router) Commands(role Role) []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, n := range r.order {
		if c := r.commands[n]; role.Can(c.Capability) {
			out = append(out, c)
		}
	}
	return out
}

// Run drains updates until ctx ends or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	shards := make([]chan kit.Update, r.cfg.Workers)
	for i := range shards {
		q := make(chan kit.Update, r.cfg.QueueSize)
		shards[i] = q
		idx := i
		sup.GoRestart("router.shard."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-q:
					if !ok {
						return nil
					}
					r.safeHandle(c, idx, up)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}
	r.log.Info("dispatcher started", logx.Int("shards", len(shards)), logx.Int("queue_cap", r.cfg.QueueSize))

	defer func() {
		// Closed queues let the workers drain what was accepted; a canceled
		// ctx stops them right away.
		for _, q := range shards {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sup.Wait(wctx); err != nil {
			r.log.Warn("dispatcher drain incomplete", logx.Err(err))
		}
		sup.Cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			from := up.SenderID()
			if from == 0 {
				continue
			}
			q := shards[shardOf(from, len(shards))]
			select {
			case q <- up:
			default:
				r.m.drop()
				r.log.Warn("shard queue full; update dropped", logx.Int64("from_id", from))
				r.busy(ctx, up)
			}
		}
	}
}

// shardOf maps any id, negative chat-style ids included, into [0, n).
func shardOf(userID int64, n int) int {
	return int(uint64(userID) % uint64(n))
}

func (r *Router) busy(ctx context.Context, up kit.Update) {
	switch {
	case up.Callback != nil:
		_ = r.sender.AnswerCallback(ctx, up.Callback.ID, "busy, try again")
	case up.Message != nil:
		_, _ = r.sender.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}, "Busy, please try again in a moment.", nil)
	}
}

// safeHandle keeps the shard worker alive if routing itself panics.
func (r *Router) safeHandle(ctx context.Context, shard int, up kit.Update) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in router", logx.Int("shard", shard), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	r.Handle(ctx, up)
}

// Handle routes one update synchronously.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	from := up.SenderID()
	if r.users != nil {
		if err := r.users.UpsertUser(ctx, from, up.SenderHandle()); err != nil {
			r.log.Warn("register user failed", logx.Int64("from_id", from), logx.Err(err))
		}
	}
	role, err := r.resolver.Resolve(ctx, from)
	if err != nil {
		r.log.Warn("role lookup failed; treating sender as user", logx.Int64("from_id", from), logx.Err(err))
		role = RoleUser
	}
	r.m.update(string(up.Kind), role)

	rid := uuid.NewString()[:8]
	req := &Request{
		Update: up,
		FromID: from,
		Handle: up.SenderHandle(),
		Role:   role,
		ReqID:  rid,
	}
	req.Logger = r.log.With(
		logx.String("rid", rid),
		logx.Int64("from_id", from),
		logx.String("role", role.String()),
	)

	switch {
	case up.Message != nil:
		req.Chat = kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}
		r.routeMessage(ctx, req)
	case up.Callback != nil:
		req.Chat = kit.ChatTarget{ChatID: up.Callback.ChatID, ThreadID: up.Callback.ThreadID}
		r.routeCallback(ctx, req)
	}
}

func (r *Router) routeMessage(ctx context.Context, req *Request) {
	msg := req.Update.Message
	if !msg.IsPrivate {
		return
	}
	text := msg.Text
	req.Text = text

	if name, args, ok := parseCommand(text); ok {
		r.mu.RLock()
		cmd, found := r.commands[name]
		r.mu.RUnlock()
		if !found {
			r.reply(ctx, req, "Unknown command. Try /help.")
			return
		}
		if !req.Role.Can(cmd.Capability) {
			r.reply(ctx, req, "This command is not available to you.")
			return
		}
		// commands always leave the current dialog
		r.machine.Clear(req.FromID)
		req.Route = "/" + name
		req.Args = args
		req.Text = strings.Join(args, " ")
		r.run(ctx, req, cmd.Handle)
		return
	}

	st := r.machine.Read(req.FromID)
	if !st.Idle() {
		r.mu.RLock()
		sr, found := r.steps[st.Step]
		r.mu.RUnlock()
		if found && req.Role.Can(sr.cap) {
			req.State = st
			req.Route = "step:" + string(st.Step)
			r.run(ctx, req, sr.handle)
			return
		}
		// Role lost since the step was entered, or nothing handles it.
		r.machine.Clear(req.FromID)
		req.Logger.Info("step cleared", logx.String("step", string(st.Step)))
	}

	r.mu.RLock()
	fb := r.fallback
	r.mu.RUnlock()
	if fb != nil {
		req.Route = "text"
		req.State = conversation.State{Step: conversation.StepIdle}
		r.run(ctx, req, fb)
	}
}

func (r *Router) routeCallback(ctx context.Context, req *Request) {
	cb := req.Update.Callback
	scope, action, payload, ok := tgui.ParseData(strings.TrimSpace(cb.Data))
	if !ok {
		_ = r.sender.AnswerCallback(ctx, cb.ID, "")
		return
	}
	r.mu.RLock()
	route, found := r.callbacks[scope][action]
	r.mu.RUnlock()
	if !found {
		_ = r.sender.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if !req.Role.Can(route.Capability) {
		r.m.forbid()
		req.Logger.Info("callback forbidden", logx.String("scope", scope), logx.String("action", action))
		_ = r.sender.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}
	req.Route = "cb:" + scope + ":" + action
	req.Payload = payload
	req.State = r.machine.Read(req.FromID)
	r.run(ctx, req, route.Handle)
	// stop the client's loading indicator; a handler that answered already wins
	_ = r.sender.AnswerCallback(ctx, cb.ID, "")
}

func (r *Router) run(ctx context.Context, req *Request, h HandlerFunc) {
	final := Chain(h,
		MWObserve(r.log, r.m),
		MWPanicRecover(r.log, func(id int64) { r.machine.Clear(id) }),
		MWTimeout(r.cfg.HandlerTimeout),
	)
	_ = final(ctx, req)
}

func (r *Router) reply(ctx context.Context, req *Request, text string) {
	if _, err := r.sender.SendText(ctx, req.Chat, text, nil); err != nil {
		req.Logger.Debug("reply failed", logx.Err(err))
	}
}

// PublishMenu pushes the Menu commands to the platform, if supported.
func (r *Router) PublishMenu(ctx context.Context) {
	up, ok := r.sender.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	var cmds []kit.BotCommand
	for _, c := range r.Commands(RoleAdmin) {
		if c.Menu {
			cmds = append(cmds, kit.BotCommand{Command: c.Name, Description: c.Description})
		}
	}
	run := func(parent context.Context) error {
		cctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(cctx, cmds); err != nil {
			r.log.Warn("menu update failed", logx.Err(err))
		}
		return nil
	}
	if r.appSup != nil {
		r.appSup.Go("telegram.menu.update", run)
		return
	}
	_ = run(ctx)
}
