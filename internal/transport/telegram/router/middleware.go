package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"quizbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func loggerFor(req *Request, fallback logx.Logger) logx.Logger {
	if req.Logger.IsZero() {
		return fallback
	}
	return req.Logger
}

// MWTimeout bounds a handler, including the store and transport calls it makes.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error and drops the
// sender's step so the next message starts from the menu.
func MWPanicRecover(log logx.Logger, reset func(userID int64)) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				loggerFor(req, log).Error("handler panic",
					logx.String("route", req.Route),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				if reset != nil {
					reset(req.FromID)
				}
				err = fmt.Errorf("panic in %s: %v", req.Route, r)
			}()
			return next(ctx, req)
		}
	}
}

// MWObserve logs every request and records its latency. Failed and slow
// requests log above debug.
func MWObserve(log logx.Logger, m *Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)
			m.observe(req.Route, err != nil, took)

			l := loggerFor(req, log)
			fields := []logx.Field{
				logx.String("route", req.Route),
				logx.String("step", string(req.State.Step)),
				logx.Duration("took", took),
			}
			switch {
			case err != nil:
				l.Warn("request failed", append(fields, logx.Err(err))...)
			case took >= 750*time.Millisecond:
				l.Info("slow request", fields...)
			default:
				l.Debug("request ok", fields...)
			}
			return err
		}
	}
}
