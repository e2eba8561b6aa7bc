package judge

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
	"golang.org/x/time/rate"

	"market-scanner/internal/model"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	chatCompletionPath = "/chat/completions"

	systemPrompt = "You are an investment research assistant. Decide if this is a timely opportunity. " +
		"Consider technicals, trend, relative strength and news. Be concise, no financial advice. " +
		`Return strict JSON only: {"decision":"push|hold","score":0-100,"confidence":0-1,"risk":"low|medium|high","reason":"<=300 chars","tags":[...]}`
)

// Request is the payload of one judgment call.
type Request struct {
	Type         model.Kind          `json:"type"`
	Symbol       string              `json:"symbol"`
	Features     model.FeatureSet    `json:"features"`
	Fundamentals *model.Fundamentals `json:"fundamentals"`
	PreScore     int                 `json:"preScore"`
	Headlines    []string            `json:"headlines"`
}

// RequestFor builds the judgment payload for a scored candidate.
func RequestFor(c model.Candidate) Request {
	headlines := c.Headlines
	if headlines == nil {
		headlines = []string{}
	}
	return Request{
		Type:         c.Kind,
		Symbol:       c.Symbol,
		Features:     c.Features.Rounded(4),
		Fundamentals: c.Fundamentals,
		PreScore:     c.Score,
		Headlines:    headlines,
	}
}

// Judge issues one logical judgment request.
type Judge interface {
	Judge(ctx context.Context, req Request) (model.Verdict, error)
}

// Options parameterise the chat-completions judge.
type Options struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             RetryPolicy
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	sleep   SleepFunc
	now     func() time.Time
	logger  zerolog.Logger
}

// NewClient constructs a judge client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Client{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
		sleep:   ContextSleep,
		now:     time.Now,
		logger:  logger.With().Str("component", "judge").Logger(),
	}
}

// WithSleep replaces the backoff sleeper, used by tests.
func (c *Client) WithSleep(fn SleepFunc) *Client {
	c.sleep = fn
	return c
}

// Judge sends the request, retrying rate-limit responses per the policy.
func (c *Client) Judge(ctx context.Context, req Request) (model.Verdict, error) {
	body, err := c.buildBody(req)
	if err != nil {
		return model.Verdict{}, err
	}

	var verdict model.Verdict
	retries, err := c.opts.Retry.Do(ctx, c.sleep, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		v, callErr := c.call(ctx, body)
		if callErr != nil {
			c.logger.Debug().Err(callErr).Str("symbol", req.Symbol).Msg("judge call failed")
			return callErr
		}
		verdict = v
		return nil
	})
	if err != nil {
		return model.Verdict{}, fmt.Errorf("judge %s: %w", req.Symbol, err)
	}
	if retries > 0 {
		c.logger.Info().Str("symbol", req.Symbol).Int("retries", retries).Msg("judge succeeded after rate limiting")
	}
	return verdict, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

func (c *Client) buildBody(req Request) ([]byte, error) {
	user, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal judge request: %w", err)
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.opts.Model,
		Temperature: c.opts.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(user)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}
	return body, nil
}

func (c *Client) call(ctx context.Context, body []byte) (model.Verdict, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+chatCompletionPath, bytes.NewReader(body))
	if err != nil {
		return model.Verdict{}, fmt.Errorf("create judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("send judge request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("read judge response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return model.Verdict{}, &RateLimitError{Status: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header, c.now())}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(payload))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return model.Verdict{}, fmt.Errorf("judge responded %d: %s", resp.StatusCode, msg)
	}

	v := ParseCompletion(payload)
	if v.Degraded {
		c.logger.Warn().Int("bytes", len(payload)).Msg("judge response malformed; holding")
	}
	return v, nil
}

var _ Judge = (*Client)(nil)
