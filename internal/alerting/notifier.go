package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-scanner/internal/model"
)

// Notification carries the context of one delivery.
type Notification struct {
	Symbol    string
	Kind      model.Kind
	PreScore  int
	Verdict   model.Verdict
	CreatedAt time.Time
}

// Title is the short heading used by push channels.
func (n Notification) Title() string {
	return fmt.Sprintf("Opportunity: %s — %d", n.Symbol, n.Verdict.Score)
}

// Notifier delivers a notification over one channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// ErrPartialDelivery is returned by MultiNotifier when at least one channel
// delivered and at least one failed.
var ErrPartialDelivery = errors.New("partial delivery")

// MultiNotifier fans out to every channel.
type MultiNotifier []Notifier

// Notify sends to all channels and joins their errors. When some channels
// delivered the joined error also wraps ErrPartialDelivery.
func (m MultiNotifier) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	joined := errors.Join(errs...)
	if len(errs) < len(m) {
		return fmt.Errorf("%w: %w", ErrPartialDelivery, joined)
	}
	return joined
}

// TelegramNotifier pushes messages via the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().Str("symbol", note.Symbol).Int("score", note.Verdict.Score).Msg("notification sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s]\n", note.Title()))
	builder.WriteString(fmt.Sprintf("Type: %s\n", note.Kind))
	builder.WriteString(fmt.Sprintf("Pre-score: %d\n", note.PreScore))
	builder.WriteString(fmt.Sprintf("Confidence: %s\n", decimal.NewFromFloat(note.Verdict.Confidence).StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Risk: %s\n", note.Verdict.Risk))
	if len(note.Verdict.Tags) > 0 {
		builder.WriteString(fmt.Sprintf("Tags: %s\n", strings.Join(note.Verdict.Tags, ", ")))
	}
	if note.Verdict.Reason != "" {
		builder.WriteString(note.Verdict.Reason)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = MultiNotifier(nil)
)
