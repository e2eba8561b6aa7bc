package judge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-scanner/internal/model"
)

func completion(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	return body
}

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestClient(url string, policy RetryPolicy, sleeps *recordedSleeps) *Client {
	return NewClient(Options{BaseURL: url, APIKey: "k", Retry: policy}, zerolog.Nop()).WithSleep(sleeps.sleep)
}

func testRequest() Request {
	return RequestFor(model.Candidate{Symbol: "AAPL", Kind: model.KindEquity, Score: 75})
}

func TestJudgeRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write(completion(`{"decision":"push","score":82,"confidence":0.7,"risk":"low","reason":"breakout","tags":["momentum"]}`))
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	policy := RetryPolicy{MaxRetries: 4, BaseDelay: time.Second, Step: 500 * time.Millisecond}
	v, err := newTestClient(srv.URL, policy, sleeps).Judge(context.Background(), testRequest())
	require.NoError(t, err)

	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond}, sleeps.delays)
	assert.Equal(t, model.DecisionEscalate, v.Decision)
	assert.Equal(t, 82, v.Score)
	assert.Equal(t, model.RiskLow, v.Risk)
	assert.Equal(t, []string{"momentum"}, v.Tags)
}

func TestJudgeHonoursAdvertisedRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write(completion(`{"decision":"hold","score":40}`))
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	_, err := newTestClient(srv.URL, DefaultRetryPolicy(), sleeps).Judge(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeps.delays)
}

func TestJudgeGivesUpAfterRetryBound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	_, err := newTestClient(srv.URL, DefaultRetryPolicy(), sleeps).Judge(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.EqualValues(t, 5, calls.Load())
	assert.Len(t, sleeps.delays, 4)
}

func TestJudgeOtherFailureIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	_, err := newTestClient(srv.URL, DefaultRetryPolicy(), sleeps).Judge(context.Background(), testRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, sleeps.delays)
}

func TestJudgeMalformedBodyDegradesToHold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completion("I think this looks great!"))
	}))
	defer srv.Close()

	v, err := newTestClient(srv.URL, DefaultRetryPolicy(), &recordedSleeps{}).Judge(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, v.Degraded)
	assert.Equal(t, model.DecisionHold, v.Decision)
	assert.InDelta(t, 0.1, v.Confidence, 1e-9)
}

func TestJudgeSendsCandidatePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var chat chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&chat))
		require.Len(t, chat.Messages, 2)
		assert.Equal(t, "system", chat.Messages[0].Role)

		var req map[string]any
		require.NoError(t, json.Unmarshal([]byte(chat.Messages[1].Content), &req))
		assert.Equal(t, "AAPL", req["symbol"])
		assert.Equal(t, "stock", req["type"])
		assert.EqualValues(t, 75, req["preScore"])
		assert.Nil(t, req["fundamentals"])
		features := req["features"].(map[string]any)
		assert.Nil(t, features["rs20"])
		_, _ = w.Write(completion(`{"decision":"hold"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, DefaultRetryPolicy(), &recordedSleeps{}).Judge(context.Background(), testRequest())
	require.NoError(t, err)
}

func TestParseVerdict(t *testing.T) {
	v := ParseVerdict("```json\n{\"decision\":\"push\",\"score\":140,\"confidence\":3,\"risk\":\"extreme\"}\n```")
	assert.False(t, v.Degraded)
	assert.Equal(t, model.DecisionEscalate, v.Decision)
	assert.Equal(t, 100, v.Score)
	assert.InDelta(t, 1, v.Confidence, 1e-9)
	assert.Equal(t, model.RiskMedium, v.Risk)

	assert.Equal(t, 100, ParseVerdict(`{"decision":"escalate","score":1e20}`).Score)
	assert.Equal(t, 0, ParseVerdict(`{"decision":"escalate","score":-1e20}`).Score)
	assert.Equal(t, 73, ParseVerdict(`{"decision":"hold","score":72.5}`).Score)

	assert.True(t, ParseVerdict("[1,2]").Degraded)
	assert.True(t, ParseCompletion([]byte("not json")).Degraded)
	assert.True(t, ParseCompletion([]byte(`{"choices":[]}`)).Degraded)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, Step: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, p.Delay(0, 0))
	assert.Equal(t, 2*time.Second, p.Delay(1, 0))
	assert.Equal(t, 3*time.Second, p.Delay(5, 0))
	assert.Equal(t, 500*time.Millisecond, p.Delay(3, 500*time.Millisecond))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, parseRetryAfter(h, now))

	h.Set("Retry-After", now.Add(10*time.Second).Format(http.TimeFormat))
	assert.Equal(t, 10*time.Second, parseRetryAfter(h, now))

	h = http.Header{}
	h.Set("Retry-After-Ms", "250")
	assert.Equal(t, 250*time.Millisecond, parseRetryAfter(h, now))

	assert.Zero(t, parseRetryAfter(http.Header{}, now))
}
