package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-scanner/internal/model"
)

func testNote() Notification {
	return Notification{
		Symbol:    "NVDA",
		Kind:      model.KindEquity,
		PreScore:  80,
		CreatedAt: time.Now(),
		Verdict: model.Verdict{
			Decision:   model.DecisionEscalate,
			Score:      88,
			Confidence: 0.75,
			Risk:       model.RiskMedium,
			Reason:     "Breakout on volume",
			Tags:       []string{"momentum"},
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "sendMessage")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	require.NoError(t, notifier.Notify(context.Background(), testNote()))

	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "Opportunity: NVDA — 88")
	assert.Contains(t, received["text"], "Confidence: 0.75")
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	assert.Error(t, notifier.Notify(context.Background(), testNote()))
}

func TestOneSignalNotifierPayload(t *testing.T) {
	var got oneSignalPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Basic rest-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	n := NewOneSignalNotifier(OneSignalOptions{AppID: "app", RESTKey: "rest-key", APIURL: srv.URL, TargetURL: "https://example.com/"}, testLogger())
	require.NoError(t, n.Notify(context.Background(), testNote()))

	assert.Equal(t, "app", got.AppID)
	assert.Equal(t, "Opportunity: NVDA — 88", got.Headings["en"])
	assert.Equal(t, "Breakout on volume", got.Contents["en"])
	require.Len(t, got.Filters, 1)
	assert.Equal(t, "signals", got.Filters[0].Key)
}

func TestOneSignalNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":["bad app"]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewOneSignalNotifier(OneSignalOptions{AppID: "app", RESTKey: "k", APIURL: srv.URL}, testLogger())
	err := n.Notify(context.Background(), testNote())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "400"))
}

type stubNotifier struct {
	sent []Notification
	err  error
}

func (s *stubNotifier) Notify(_ context.Context, n Notification) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func TestMultiNotifierJoinsErrors(t *testing.T) {
	ok := &stubNotifier{}
	bad := &stubNotifier{err: errors.New("down")}
	err := MultiNotifier{ok, bad}.Notify(context.Background(), testNote())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialDelivery)
	assert.Len(t, ok.sent, 1)

	err = MultiNotifier{bad, &stubNotifier{err: errors.New("also down")}}.Notify(context.Background(), testNote())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPartialDelivery)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
