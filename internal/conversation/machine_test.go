package conversation

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestEnterReadClear(t *testing.T) {
	m := NewMachine()
	if st := m.Read(1); !st.Idle() {
		t.Fatalf("new user state = %+v", st)
	}
	m.Enter(1, StepEditNews, 42)
	if st := m.Read(1); st.Step != StepEditNews || st.ItemID != 42 {
		t.Fatalf("Read = %+v", st)
	}
	m.Enter(1, StepMakeMailing, 0)
	if st := m.Read(1); st.Step != StepMakeMailing || st.ItemID != 0 {
		t.Fatalf("Enter must overwrite, got %+v", st)
	}
	if prev := m.Clear(1); prev.Step != StepMakeMailing {
		t.Fatalf("Clear returned %+v", prev)
	}
	if m.Len() != 0 {
		t.Fatalf("Len = %d", m.Len())
	}
}

func TestMalformedInputKeepsStep(t *testing.T) {
	m := NewMachine()
	m.Enter(7, StepMakeMailing, 0)

	if _, err := Parse(m.Read(7).Step, "   "); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("blank text: %v", err)
	}
	if m.Read(7).Step != StepMakeMailing {
		t.Fatal("step changed on malformed input")
	}

	in, err := Parse(m.Read(7).Step, "hello all")
	if err != nil || in.Text != "hello all" {
		t.Fatalf("Parse = %+v, %v", in, err)
	}
	m.Clear(7)
	if !m.Read(7).Idle() {
		t.Fatal("well-formed input must end in idle")
	}
}

func TestEveryStepHasOneShape(t *testing.T) {
	for _, s := range Steps {
		if !s.Valid() {
			t.Fatalf("%s not valid", s)
		}
		if s.Shape() == ShapeNone {
			t.Fatalf("%s has no input shape", s)
		}
	}
	if Step("bogus").Valid() {
		t.Fatal("bogus step valid")
	}
}

func TestParseIDHandle(t *testing.T) {
	tests := []struct {
		in     string
		id     int64
		handle string
		ok     bool
	}{
		{"123 alice", 123, "alice", true},
		{"123 @alice", 123, "alice", true},
		{"  5   bob ", 5, "bob", true},
		{"alice 123", 0, "", false},
		{"123", 0, "", false},
		{"123 a b", 0, "", false},
		{"-1 x", 0, "", false},
		{"1 @", 0, "", false},
	}
	for _, tt := range tests {
		id, h, err := ParseIDHandle(tt.in)
		if tt.ok != (err == nil) || id != tt.id || h != tt.handle {
			t.Fatalf("ParseIDHandle(%q) = %d, %q, %v", tt.in, id, h, err)
		}
	}
}

func TestParseEmail(t *testing.T) {
	for _, ok := range []string{"a@example.com", " user.name+tag@sub.example.org "} {
		if _, err := ParseEmail(ok); err != nil {
			t.Fatalf("ParseEmail(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "plain", "a@b", "Alice <a@example.com>", "a@@example.com"} {
		if _, err := ParseEmail(bad); !errors.Is(err, ErrMalformedInput) {
			t.Fatalf("ParseEmail(%q) accepted", bad)
		}
	}
}

func TestExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMachine(WithClock(func() time.Time { return now }))
	m.Enter(1, StepAddNews, 0)
	now = now.Add(20 * time.Minute)
	m.Enter(2, StepAddQuiz, 0)
	now = now.Add(15 * time.Minute)

	if n := m.Expire(30 * time.Minute); n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	if !m.Read(1).Idle() || m.Read(2).Step != StepAddQuiz {
		t.Fatalf("wrong user expired: 1=%+v 2=%+v", m.Read(1), m.Read(2))
	}
}

type lastGauge struct {
	prometheus.Gauge
	v float64
}

func (g *lastGauge) Set(v float64) { g.v = v }

func TestActiveGauge(t *testing.T) {
	g := &lastGauge{Gauge: prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_active"})}
	m := NewMachine(WithActiveGauge(g))
	m.Enter(1, StepAddNews, 0)
	m.Enter(2, StepAddNews, 0)
	m.Clear(1)
	if g.v != 1 {
		t.Fatalf("gauge = %v", g.v)
	}
}

func TestConcurrentUsers(t *testing.T) {
	m := NewMachine()
	var wg sync.WaitGroup
	for i := int64(1); i <= 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			m.Enter(id, StepAskQuestion, id)
			if st := m.Read(id); st.ItemID != id {
				t.Errorf("user %d read %+v", id, st)
			}
			m.Clear(id)
		}(i)
	}
	wg.Wait()
	if m.Len() != 0 {
		t.Fatalf("Len = %d", m.Len())
	}
}
