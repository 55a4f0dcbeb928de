package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"quizbot/internal/eventbus"
	kit "quizbot/internal/transport"
	"quizbot/pkg/logx"
)

const (
	kindBroadcast = "broadcast"
	kindMailing   = "mailing"
)

// Report is the outcome of one fan-out. FailedIDs holds at most
// Config.FailureSample recipients.
type Report struct {
	BroadcastID int64
	Total       int
	Delivered   int
	Blocked     int
	Failed      int
	FailedIDs   []int64
	Took        time.Duration
}

func (r *Report) add(userID int64, out kit.Outcome, sample int) {
	switch out {
	case kit.Delivered:
		r.Delivered++
	case kit.Blocked:
		r.Blocked++
	default:
		r.Failed++
		if len(r.FailedIDs) < sample {
			r.FailedIDs = append(r.FailedIDs, userID)
		}
	}
}

// Summary renders the report for the operator.
func (r Report) Summary() string {
	what := "Mailing"
	if r.BroadcastID > 0 {
		what = fmt.Sprintf("Broadcast #%d", r.BroadcastID)
	}
	return fmt.Sprintf("%s sent to %s recipients: %s delivered, %s blocked, %s failed (took %s).",
		what,
		humanize.Comma(int64(r.Total)),
		humanize.Comma(int64(r.Delivered)),
		humanize.Comma(int64(r.Blocked)),
		humanize.Comma(int64(r.Failed)),
		r.Took.Round(time.Millisecond))
}

// Distribute sends broadcast id with the confirm button to every registered
// user. Recipients are independent: a failure is counted, never retried, and
// does not stop the others.
func (e *Engine) Distribute(ctx context.Context, id int64) (Report, error) {
	b, err := e.store.GetBroadcast(ctx, id)
	if err != nil {
		return Report{}, err
	}
	ids, err := e.store.ListUserIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("distribute broadcast %d: %w", id, err)
	}
	opt := &kit.SendOptions{ReplyMarkupAdapter: AckMarkup(id)}
	rep := e.fanout(ctx, kindBroadcast, ids, b.Body, opt)
	rep.BroadcastID = id
	e.publish(eventbus.BroadcastDistributed, rep)
	return rep, nil
}

// Mail sends text to every registered user without tracking.
func (e *Engine) Mail(ctx context.Context, text string) (Report, error) {
	ids, err := e.store.ListUserIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("mailing: %w", err)
	}
	rep := e.fanout(ctx, kindMailing, ids, text, nil)
	e.publish(eventbus.MailingSent, rep)
	return rep, nil
}

// DistributeAsync runs Distribute in the background and sends the summary to
// notify. Without a supervisor it runs inline.
func (e *Engine) DistributeAsync(id int64, notify kit.ChatTarget) {
	e.background(fmt.Sprintf("broadcast.distribute.%d", id), notify, func(ctx context.Context) (Report, error) {
		return e.Distribute(ctx, id)
	})
}

// MailAsync is the background form of Mail.
func (e *Engine) MailAsync(text string, notify kit.ChatTarget) {
	e.background("broadcast.mailing", notify, func(ctx context.Context) (Report, error) {
		return e.Mail(ctx, text)
	})
}

func (e *Engine) background(name string, notify kit.ChatTarget, run func(ctx context.Context) (Report, error)) {
	job := func(ctx context.Context) error {
		rep, err := run(ctx)
		msg := rep.Summary()
		if err != nil {
			e.log.Error("fan-out failed", logx.String("job", name), logx.Err(err))
			msg = "Sending failed: the recipient list could not be loaded."
		}
		if notify.ChatID != 0 {
			if _, serr := e.sender.SendText(context.WithoutCancel(ctx), notify, msg, nil); serr != nil {
				e.log.Warn("report not delivered", logx.String("job", name), logx.Err(serr))
			}
		}
		return nil
	}
	if e.sup == nil {
		_ = job(context.Background())
		return
	}
	e.sup.Go(name, job)
}

func (e *Engine) fanout(ctx context.Context, kind string, ids []int64, text string, opt *kit.SendOptions) Report {
	cfg, lim := e.settings()
	start := time.Now()
	rep := Report{Total: len(ids)}
	log := e.log.With(logx.String("kind", kind))
	log.Info("fan-out started", logx.Int("total", len(ids)), logx.Int("workers", cfg.Workers))

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan int64)
	)
	for range min(cfg.Workers, len(ids)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for uid := range jobs {
				out := e.sendOne(ctx, lim, log, uid, text, opt)
				e.m.send(kind, out)
				mu.Lock()
				rep.add(uid, out, cfg.FailureSample)
				mu.Unlock()
			}
		}()
	}

	queued := 0
feed:
	for _, uid := range ids {
		select {
		case jobs <- uid:
			queued++
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	// recipients never reached because ctx ended
	for _, uid := range ids[queued:] {
		rep.add(uid, kit.Failed, cfg.FailureSample)
		e.m.send(kind, kit.Failed)
	}
	rep.Took = time.Since(start)

	fields := []logx.Field{
		logx.Int("total", rep.Total),
		logx.Int("delivered", rep.Delivered),
		logx.Int("blocked", rep.Blocked),
		logx.Int("failed", rep.Failed),
		logx.Duration("dur", rep.Took),
	}
	if rep.Failed > 0 {
		log.Warn("fan-out finished with failures", fields...)
	} else {
		log.Info("fan-out finished", fields...)
	}
	return rep
}

func (e *Engine) sendOne(ctx context.Context, lim *rate.Limiter, log logx.Logger, userID int64, text string, opt *kit.SendOptions) kit.Outcome {
	if err := lim.Wait(ctx); err != nil {
		return kit.Failed
	}
	_, err := e.sender.SendText(ctx, kit.ChatTarget{ChatID: userID}, text, opt)
	out := kit.OutcomeOf(err)
	switch out {
	case kit.Blocked:
		log.Debug("recipient unreachable", logx.Int64("user_id", userID), logx.Err(err))
	case kit.Failed:
		log.Warn("send failed", logx.Int64("user_id", userID), logx.Err(err))
	}
	return out
}
