package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int64("user_id", 42), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["comp"] != "test" || m["message"] != "hello" {
		t.Fatalf("unexpected line: %v", m)
	}
	if m["user_id"].(float64) != 42 {
		t.Fatalf("user_id=%v", m["user_id"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err=%v", m["err"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	log.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn missing: %q", buf.String())
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
}

func TestFormatLine(t *testing.T) {
	got := formatLine([]byte(`{"level":"warn","message":"send failed","user_id":7,"comp":"broadcast","time":"x"}`))
	want := "[WARN] send failed\n- comp=broadcast\n- user_id=7"
	if got != want {
		t.Fatalf("formatLine:\n got %q\nwant %q", got, want)
	}
	if got := formatLine([]byte("not json\n")); got != "not json" {
		t.Fatalf("raw line: %q", got)
	}
}

type captureSender struct{ ch chan string }

func (c captureSender) SendLog(_ context.Context, chatID int64, _ int, text string) error {
	if chatID == -100 {
		c.ch <- text
	}
	return nil
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	sender := captureSender{ch: make(chan string, 4)}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{MinLevel: "error", RatePerSec: 10}}, sender)
	defer svc.Close()
	svc.SetTelegramTarget(-100, 0)
	svc.Apply(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, MinLevel: "error", RatePerSec: 10}})

	log.Warn("below threshold")
	log.Error("store down")

	msg := <-sender.ch
	if !strings.HasPrefix(msg, "[ERROR] store down") {
		t.Fatalf("unexpected log chat message %q", msg)
	}
	select {
	case extra := <-sender.ch:
		t.Fatalf("unexpected extra message %q", extra)
	default:
	}
}
