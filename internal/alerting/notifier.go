// Package alerting notifies paddlers when a tracked station crosses into or
// out of its runnable discharge band.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// State classifies a discharge reading against a runnable band.
type State string

const (
	StateRunnable State = "runnable"
	StateTooLow   State = "too_low"
	StateTooHigh  State = "too_high"
)

// Classify places a discharge value relative to [min, max]. Band edges count
// as runnable.
func Classify(discharge, min, max decimal.Decimal) State {
	if discharge.LessThan(min) {
		return StateTooLow
	}
	if discharge.GreaterThan(max) {
		return StateTooHigh
	}
	return StateRunnable
}

// Notification describes one band transition for one station.
type Notification struct {
	StationID   string
	StationName string
	Discharge   decimal.Decimal
	BandMin     decimal.Decimal
	BandMax     decimal.Decimal
	State       State
	Previous    State
	ObservedAt  time.Time
}

// Notifier delivers a band-transition notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// TelegramOptions configures the Telegram notifier.
type TelegramOptions struct {
	BotToken string
	ChatIDs  []string
	BaseURL  string
	Timeout  time.Duration
}

// Telegram sends band transitions as Telegram messages via the Bot API.
type Telegram struct {
	opts    TelegramOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewTelegram constructs a Telegram notifier.
func NewTelegram(opts TelegramOptions, logger zerolog.Logger) *Telegram {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &Telegram{
		opts:    opts,
		logger:  logger.With().Str("component", "telegram_notifier").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Notify delivers the notification to every configured chat. A failed chat
// does not stop delivery to the rest; the first failure is returned.
func (t *Telegram) Notify(ctx context.Context, n Notification) error {
	if t.opts.BotToken == "" || len(t.opts.ChatIDs) == 0 {
		return nil
	}

	text := renderMessage(n)
	var firstErr error
	for _, chatID := range t.opts.ChatIDs {
		if err := t.sendMessage(ctx, chatID, text); err != nil {
			t.logger.Error().Err(err).
				Str("chat_id", chatID).
				Str("station_id", n.StationID).
				Msg("telegram delivery failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (t *Telegram) sendMessage(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.opts.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func renderMessage(n Notification) string {
	name := n.StationName
	if name == "" {
		name = n.StationID
	}

	var headline string
	switch n.State {
	case StateRunnable:
		headline = "🟢 Runnable"
	case StateTooLow:
		headline = "🔵 Too low"
	case StateTooHigh:
		headline = "🔴 Too high"
	default:
		headline = string(n.State)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s* — %s\n", name, headline)
	fmt.Fprintf(&b, "Discharge: %s m³/s (band %s–%s)\n", n.Discharge, n.BandMin, n.BandMax)
	if n.Previous != "" && n.Previous != n.State {
		fmt.Fprintf(&b, "Was: %s\n", n.Previous)
	}
	fmt.Fprintf(&b, "Observed: %s", n.ObservedAt.UTC().Format("2006-01-02 15:04 MST"))
	return b.String()
}

var _ Notifier = (*Telegram)(nil)
