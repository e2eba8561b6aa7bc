package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultOneSignalURL = "https://onesignal.com/api/v1/notifications"

// OneSignalOptions configure push delivery.
type OneSignalOptions struct {
	AppID     string
	RESTKey   string
	APIURL    string
	TargetURL string
	TagKey    string
	Timeout   time.Duration
}

// OneSignalNotifier sends web push notifications to subscribers tagged with
// TagKey=true.
type OneSignalNotifier struct {
	opts   OneSignalOptions
	client *http.Client
	logger zerolog.Logger
}

// NewOneSignalNotifier constructs the push notifier.
func NewOneSignalNotifier(opts OneSignalOptions, logger zerolog.Logger) *OneSignalNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.APIURL == "" {
		opts.APIURL = defaultOneSignalURL
	}
	if opts.TagKey == "" {
		opts.TagKey = "signals"
	}
	return &OneSignalNotifier{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "alert_onesignal").Logger(),
	}
}

type oneSignalFilter struct {
	Field    string `json:"field"`
	Key      string `json:"key"`
	Relation string `json:"relation"`
	Value    string `json:"value"`
}

type oneSignalPayload struct {
	AppID    string            `json:"app_id"`
	Filters  []oneSignalFilter `json:"filters"`
	Headings map[string]string `json:"headings"`
	Contents map[string]string `json:"contents"`
	URL      string            `json:"url,omitempty"`
}

// Notify posts one push notification.
func (n *OneSignalNotifier) Notify(ctx context.Context, note Notification) error {
	content := note.Verdict.Reason
	if content == "" {
		content = fmt.Sprintf("%s scored %d", note.Symbol, note.Verdict.Score)
	}
	payload := oneSignalPayload{
		AppID:    n.opts.AppID,
		Filters:  []oneSignalFilter{{Field: "tag", Key: n.opts.TagKey, Relation: "=", Value: "true"}},
		Headings: map[string]string{"en": note.Title()},
		Contents: map[string]string{"en": content},
		URL:      n.opts.TargetURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal onesignal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.opts.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create onesignal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+n.opts.RESTKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send onesignal request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("onesignal responded %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	n.logger.Info().Str("symbol", note.Symbol).Int("score", note.Verdict.Score).Msg("notification sent (onesignal)")
	return nil
}

var _ Notifier = (*OneSignalNotifier)(nil)
