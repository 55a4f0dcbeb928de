package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"quizbot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAddValidates(t *testing.T) {
	s := New(Config{}, logx.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.Add("", "@daily", 0, noop); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := s.Add("x", "not a spec", 0, noop); err == nil {
		t.Fatal("bad spec accepted")
	}
	for _, spec := range []string{"@daily", "@every 5m", "*/5 * * * *", "0 */5 * * * *"} {
		if err := s.Add("x", spec, 0, noop); err != nil {
			t.Fatalf("Add(%q): %v", spec, err)
		}
	}
	if got := s.Snapshot(); len(got) != 1 || got[0].Spec != "0 */5 * * * *" {
		t.Fatalf("re-adding a name must replace it: %+v", got)
	}
}

func TestScheduledJobFires(t *testing.T) {
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	fired := make(chan struct{}, 4)
	if err := s.Add("tick", "@every 1s", time.Second, func(context.Context) error {
		fired <- struct{}{}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
	if snap := s.Snapshot(); snap[0].Next.IsZero() {
		t.Fatalf("next run unknown: %+v", snap[0])
	}
}

func TestRunNowRecordsErrorsAndSkipsOverlap(t *testing.T) {
	s := New(Config{}, logx.Nop())
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	_ = s.Add("slow", "@daily", 0, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return errors.New("boom")
	})
	if s.RunNow("slow") {
		t.Fatal("RunNow before Start")
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	done := make(chan struct{})
	go func() {
		s.RunNow("slow")
		close(done)
	}()
	<-entered
	s.RunNow("slow") // overlaps the first run
	close(release)
	<-done

	snap := s.Snapshot()[0]
	if snap.Runs != 1 || snap.Skipped != 1 || snap.LastErr != "boom" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	s := New(Config{}, logx.Nop())
	started := make(chan struct{})
	_ = s.Add("wait", "@every 1s", 0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	s.Start(context.Background())
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if ctx.Err() != nil {
		t.Fatal("Stop waited for the full timeout")
	}
}
