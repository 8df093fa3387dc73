package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testNotification() Notification {
	return Notification{
		StationID:   "08GA072",
		StationName: "Cheakamus River",
		Discharge:   decimal.NewFromFloat(34.5),
		BandMin:     decimal.NewFromInt(20),
		BandMax:     decimal.NewFromInt(60),
		State:       StateRunnable,
		Previous:    StateTooLow,
		ObservedAt:  time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
	}
}

func TestClassify(t *testing.T) {
	min := decimal.NewFromInt(20)
	max := decimal.NewFromInt(60)

	cases := []struct {
		discharge float64
		want      State
	}{
		{10, StateTooLow},
		{20, StateRunnable},
		{34.5, StateRunnable},
		{60, StateRunnable},
		{60.1, StateTooHigh},
	}
	for _, tc := range cases {
		if got := Classify(decimal.NewFromFloat(tc.discharge), min, max); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.discharge, got, tc.want)
		}
	}
}

func TestTelegramNotifySendsToAllChats(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.Contains(r.URL.Path, "/bottest-token/sendMessage") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if !strings.Contains(body["text"], "Cheakamus River") {
			t.Errorf("expected station name in message, got %q", body["text"])
		}
		if !strings.Contains(body["text"], "34.5") {
			t.Errorf("expected discharge in message, got %q", body["text"])
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramOptions{
		BotToken: "test-token",
		ChatIDs:  []string{"1", "2"},
		BaseURL:  srv.URL,
		Timeout:  time.Second,
	}, zerolog.Nop())

	if err := tg.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", calls.Load())
	}
}

func TestTelegramNotifyPartialFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramOptions{
		BotToken: "test-token",
		ChatIDs:  []string{"1", "2"},
		BaseURL:  srv.URL,
		Timeout:  time.Second,
	}, zerolog.Nop())

	err := tg.Notify(context.Background(), testNotification())
	if err == nil {
		t.Fatal("expected an error from the failed chat")
	}
	if calls.Load() != 2 {
		t.Fatalf("failed chat must not stop the rest, got %d calls", calls.Load())
	}
}

func TestTelegramNotifyUnconfiguredIsNoop(t *testing.T) {
	tg := NewTelegram(TelegramOptions{}, zerolog.Nop())
	if err := tg.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("unconfigured notifier must be a no-op: %v", err)
	}
}

func TestRenderMessageStates(t *testing.T) {
	n := testNotification()
	msg := renderMessage(n)
	if !strings.Contains(msg, "Runnable") {
		t.Fatalf("expected runnable headline, got %q", msg)
	}
	if !strings.Contains(msg, "Was: too_low") {
		t.Fatalf("expected previous state line, got %q", msg)
	}

	n.State = StateTooHigh
	n.Previous = StateRunnable
	if msg := renderMessage(n); !strings.Contains(msg, "Too high") {
		t.Fatalf("expected too-high headline, got %q", msg)
	}
}
