package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-risk-alerts/internal/tasks"
)

func testNote() Notification {
	return Notification{
		Kind:     "alerts.process",
		TaskID:   "task-1",
		GroupID:  "group-1",
		Attempt:  4,
		Error:    "connection refused",
		FailedAt: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if !strings.Contains(r.URL.Path, "bottoken") {
			t.Fatalf("路径应包含 bot token, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	for _, want := range []string{"alerts.process", "task-1 (attempt 4)", "group-1", "connection refused"} {
		if !strings.Contains(received["text"], want) {
			t.Fatalf("text 缺少 %q: %s", want, received["text"])
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("502 应报错")
	}
}

type captureNotifier struct {
	notes []Notification
}

func (c *captureNotifier) Notify(_ context.Context, note Notification) error {
	c.notes = append(c.notes, note)
	return nil
}

func TestDeadLetterNotifier(t *testing.T) {
	capture := &captureNotifier{}
	sink := NewDeadLetterNotifier(capture, "production")

	letter := tasks.DeadLetter{
		Task: tasks.Task{
			ID:      "task-9",
			Kind:    "stats.aggregate_daily",
			Payload: json.RawMessage(`{"date":"2026-10-13"}`),
			Attempt: 1,
		},
		Error:    "aggregate 2026-10-13: connection refused",
		FailedAt: time.Now(),
	}
	if err := sink.DeadLetter(context.Background(), letter); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	if len(capture.notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(capture.notes))
	}
	note := capture.notes[0]
	if note.Kind != "stats.aggregate_daily" || note.TaskID != "task-9" || note.Environment != "production" {
		t.Fatalf("unexpected notification: %#v", note)
	}
	if !strings.Contains(renderMessage(note), `Payload: {"date":"2026-10-13"}`) {
		t.Fatalf("payload should be quoted for replay: %s", renderMessage(note))
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
