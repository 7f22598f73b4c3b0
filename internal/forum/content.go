package forum

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

var (
	blankRunRe = regexp.MustCompile(`\n{3,}`)
	spaceRunRe = regexp.MustCompile(`[ \t\x{00a0}]+`)
	lineTrimRe = regexp.MustCompile(`(?m)^[ \t]+|[ \t]+$`)
)

// selectedText extracts the first ContentSelector match.
func (s *Scraper) selectedText(body io.Reader, page *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	sel := doc.Find(s.cfg.ContentSelector).First()
	if sel.Length() == 0 {
		return "", ErrNoContent
	}
	sel.Find("script, style, noscript").Remove()

	if s.cfg.ContentFormat == FormatMarkdown {
		return finishMarkdown(newMarkdownConverter(page).Convert(sel))
	}
	return finish(sel.Text())
}

// readableText runs readability over the whole page.
func (s *Scraper) readableText(body io.Reader, page *url.URL) (string, error) {
	article, err := readability.FromReader(body, page)
	if err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return "", ErrNoContent
	}

	if s.cfg.ContentFormat == FormatMarkdown {
		out, err := newMarkdownConverter(page).ConvertString(article.Content)
		if err != nil {
			return "", fmt.Errorf("convert markdown: %w", err)
		}
		return finishMarkdown(out)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return "", fmt.Errorf("parse article: %w", err)
	}
	return finish(doc.Text())
}

func newMarkdownConverter(page *url.URL) *md.Converter {
	domain := ""
	if page != nil {
		domain = page.Scheme + "://" + page.Host
	}
	conv := md.NewConverter(domain, true, nil)
	conv.Use(plugin.GitHubFlavored())
	return conv
}

// finish normalizes whitespace and rejects empty output.
func finish(text string) (string, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = lineTrimRe.ReplaceAllString(text, "")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoContent
	}
	return text, nil
}

// finishMarkdown keeps indentation, which carries list nesting and code blocks.
func finishMarkdown(text string) (string, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoContent
	}
	return text, nil
}
