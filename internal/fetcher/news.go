package fetcher

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultGoogleNewsURL = "https://news.google.com/rss/search"
	defaultYahooNewsURL  = "https://feeds.finance.yahoo.com/rss/2.0/headline"
	headlineSeparator    = " — "
)

// NewsOptions parameterise the RSS headline adapter.
type NewsOptions struct {
	GoogleURL string
	YahooURL  string
	Timeout   time.Duration
	UserAgent string
}

// RSSNews collects headlines from the Google News and Yahoo Finance feeds.
type RSSNews struct {
	feeds  []func(query string) string
	opts   NewsOptions
	client *http.Client
	logger zerolog.Logger
}

// NewRSSNews constructs the headline adapter.
func NewRSSNews(opts NewsOptions, logger zerolog.Logger) *RSSNews {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.GoogleURL == "" {
		opts.GoogleURL = defaultGoogleNewsURL
	}
	if opts.YahooURL == "" {
		opts.YahooURL = defaultYahooNewsURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "market-scanner/1.0"
	}
	n := &RSSNews{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "news_fetcher").Logger(),
	}
	n.feeds = []func(string) string{
		func(q string) string {
			return fmt.Sprintf("%s?q=%s&hl=en&gl=US&ceid=US:en", opts.GoogleURL, url.QueryEscape(q))
		},
		func(q string) string {
			return fmt.Sprintf("%s?s=%s&region=US&lang=en-US", opts.YahooURL, url.QueryEscape(q))
		},
	}
	return n
}

// Headlines returns title and link entries from every feed, de-duplicated by
// title and truncated to max. Feed failures are skipped.
func (n *RSSNews) Headlines(ctx context.Context, query string, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}
	var all []string
	for _, feed := range n.feeds {
		endpoint := feed(query)
		body, err := getBytes(ctx, n.client, endpoint, n.opts.UserAgent)
		if err != nil {
			n.logger.Debug().Err(err).Str("query", query).Msg("news feed failed")
			continue
		}
		items, err := parseRSS(body)
		if err != nil {
			n.logger.Debug().Err(err).Str("query", query).Msg("news feed unparsable")
			continue
		}
		all = append(all, items...)
	}
	return UniqueHeadlines(all, max), nil
}

type rssDocument struct {
	Channel struct {
		Items []struct {
			Title string `xml:"title"`
			Link  string `xml:"link"`
		} `xml:"item"`
	} `xml:"channel"`
}

func parseRSS(body []byte) ([]string, error) {
	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode rss: %w", err)
	}
	out := make([]string, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		title := strings.TrimSpace(html.UnescapeString(it.Title))
		if title == "" {
			continue
		}
		out = append(out, title+headlineSeparator+strings.TrimSpace(it.Link))
	}
	return out, nil
}

// UniqueHeadlines keeps the first occurrence of each leading title, in order,
// up to max entries.
func UniqueHeadlines(items []string, max int) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, max)
	for _, it := range items {
		if len(out) >= max {
			break
		}
		key, _, _ := strings.Cut(it, headlineSeparator)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

var _ NewsSource = (*RSSNews)(nil)
