package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	logx "patchwatch/pkg/logx"
)

var (
	ErrEmptyPage   = errors.New("page has no content")
	ErrEmptyFormat = errors.New("formatter returned nothing")
	// ErrCredentialRejected is wrapped by Formatter errors caused by an
	// invalid or revoked credential.
	ErrCredentialRejected = errors.New("credential rejected")
)

// Extractor turns an item URL into a formatted Document.
type Extractor struct {
	scraper   Scraper
	formatter Formatter
	timeout   time.Duration
	log       logx.Logger
}

func NewExtractor(s Scraper, f Formatter, timeout time.Duration, log logx.Logger) *Extractor {
	return &Extractor{scraper: s, formatter: f, timeout: timeout, log: log.With(logx.String("comp", "extractor"))}
}

// Extract returns the document for url, or false when any step failed.
// The cause is logged. Credentials are tried in order; see ExtractAny.
func (e *Extractor) Extract(ctx context.Context, url string, credentials ...string) (Document, bool) {
	doc, err := e.ExtractAny(ctx, url, credentials)
	if err != nil {
		e.log.Warn("extraction failed", logx.String("url", url), logx.Err(err))
		return Document{}, false
	}
	return doc, true
}

// ExtractErr is Extract with a single credential and the failure cause
// returned instead of logged.
func (e *Extractor) ExtractErr(ctx context.Context, url, credential string) (Document, error) {
	return e.ExtractAny(ctx, url, []string{credential})
}

// ExtractAny fetches the page once and formats it with the first credential.
// When the formatter rejects a credential, the next distinct one is tried;
// any other formatter error ends the attempt.
func (e *Extractor) ExtractAny(ctx context.Context, url string, credentials []string) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = Document{}, fmt.Errorf("extract panicked: %v", r)
		}
	}()

	creds := lo.Uniq(lo.Compact(lo.Map(credentials, func(c string, _ int) string { return strings.TrimSpace(c) })))
	if len(creds) == 0 {
		creds = []string{""}
	}

	started := time.Now()
	raw, err := e.pageText(ctx, url)
	if err != nil {
		return Document{}, fmt.Errorf("fetch page: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return Document{}, ErrEmptyPage
	}

	var out string
	for i, cred := range creds {
		out, err = e.formatter.Format(ctx, raw, cred)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrCredentialRejected) || i == len(creds)-1 {
			return Document{}, fmt.Errorf("format: %w", err)
		}
		e.log.Warn("credential rejected; trying the next one",
			logx.String("url", url),
			logx.Int("attempt", i+1),
			logx.Int("credentials", len(creds)),
		)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return Document{}, ErrEmptyFormat
	}

	e.log.Info("item extracted",
		logx.String("url", url),
		logx.Int("raw_len", len(raw)),
		logx.Int("text_len", len(out)),
		logx.Duration("took", time.Since(started)),
	)
	return Document{SourceURL: url, Text: out}, nil
}

// RawText fetches the page text for url without formatting it.
func (e *Extractor) RawText(ctx context.Context, url string) (string, error) {
	raw, err := e.pageText(ctx, url)
	if err != nil {
		return "", err
	}
	if raw = strings.TrimSpace(raw); raw == "" {
		return "", ErrEmptyPage
	}
	return raw, nil
}

func (e *Extractor) pageText(ctx context.Context, url string) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.scraper.PageText(ctx, url)
}
