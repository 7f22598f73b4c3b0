// Package forum reads the monitored forum: which item is newest, and what a
// given item page says.
//
// Listing detection runs on a CSS selector over the listing page (kind html)
// or on the newest entry of an RSS/Atom feed (kind feed). Item text comes from
// a CSS selector, or from readability main-content extraction when no selector
// is configured.
package forum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "patchwatch/pkg/logx"
)

var (
	ErrNoItem    = errors.New("forum: no item found")
	ErrNoContent = errors.New("forum: no content found")
)

const (
	KindHTML = "html"
	KindFeed = "feed"

	FormatText     = "text"
	FormatMarkdown = "markdown"

	DefaultFetchTimeout = 60 * time.Second
	maxPageBytes        = 8 << 20
)

type Config struct {
	Kind            string
	URL             string
	BaseURL         string
	ItemSelector    string
	ContentSelector string
	ContentFormat   string
	FetchTimeout    time.Duration
	UserAgent       string
}

// Scraper fetches the listing and item pages over plain HTTP.
// Every call is bounded by Config.FetchTimeout.
type Scraper struct {
	cfg    Config
	base   *url.URL
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) (*Scraper, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("forum: source url is required")
	}
	if cfg.Kind == "" {
		cfg.Kind = KindHTML
	}
	if cfg.Kind != KindHTML && cfg.Kind != KindFeed {
		return nil, fmt.Errorf("forum: unknown source kind %q", cfg.Kind)
	}
	if cfg.Kind == KindHTML && strings.TrimSpace(cfg.ItemSelector) == "" {
		return nil, errors.New("forum: item selector is required for kind html")
	}
	if cfg.ContentFormat == "" {
		cfg.ContentFormat = FormatText
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	baseRaw := cfg.BaseURL
	if strings.TrimSpace(baseRaw) == "" {
		baseRaw = cfg.URL
	}
	base, err := url.Parse(baseRaw)
	if err != nil {
		return nil, fmt.Errorf("forum: base url: %w", err)
	}

	return &Scraper{
		cfg:  cfg,
		base: base,
		client: &http.Client{
			Timeout:   cfg.FetchTimeout,
			Transport: &uaTransport{base: http.DefaultTransport, ua: cfg.UserAgent},
		},
		log: log.With(logx.String("comp", "forum"), logx.String("kind", cfg.Kind)),
	}, nil
}

// LatestItemURL returns the absolute URL of the newest item.
func (s *Scraper) LatestItemURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	var (
		href string
		err  error
	)
	switch s.cfg.Kind {
	case KindFeed:
		href, err = s.latestFromFeed(ctx)
	default:
		href, err = s.latestFromListing(ctx)
	}
	if err != nil {
		return "", err
	}
	abs, err := s.resolve(href)
	if err != nil {
		return "", err
	}
	s.log.Debug("latest item", logx.String("url", abs))
	return abs, nil
}

// PageText returns the readable content of the item page at pageURL.
func (s *Scraper) PageText(ctx context.Context, pageURL string) (string, error) {
	if strings.TrimSpace(pageURL) == "" {
		return "", ErrNoContent
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	body, err := s.fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("forum: page url: %w", err)
	}
	if strings.TrimSpace(s.cfg.ContentSelector) == "" {
		return s.readableText(body, u)
	}
	return s.selectedText(body, u)
}

func (s *Scraper) resolve(href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", ErrNoItem
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("forum: item href %q: %w", href, err)
	}
	return s.base.ResolveReference(ref).String(), nil
}

// fetch issues a GET and returns the (size-limited) body. Callers close it.
func (s *Scraper) fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	return limitedBody{Reader: io.LimitReader(resp.Body, maxPageBytes), Closer: resp.Body}, nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}

type uaTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.ua != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}
