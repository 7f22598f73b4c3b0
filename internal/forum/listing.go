package forum

import (
	"context"
	"fmt"
	"sort"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// latestFromListing returns the href of the first ItemSelector match.
func (s *Scraper) latestFromListing(ctx context.Context) (string, error) {
	body, err := s.fetch(ctx, s.cfg.URL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("parse listing: %w", err)
	}
	sel := doc.Find(s.cfg.ItemSelector).First()
	if sel.Length() == 0 {
		return "", ErrNoItem
	}
	href, ok := sel.Attr("href")
	if !ok {
		// selector may point at a row wrapping the link
		href, ok = sel.Find("a[href]").First().Attr("href")
	}
	if !ok {
		return "", ErrNoItem
	}
	return href, nil
}

// latestFromFeed returns the link of the most recently published entry.
// Entries without dates keep feed order.
func (s *Scraper) latestFromFeed(ctx context.Context) (string, error) {
	fp := gofeed.NewParser()
	fp.Client = s.client
	fp.UserAgent = s.cfg.UserAgent

	feed, err := fp.ParseURLWithContext(s.cfg.URL, ctx)
	if err != nil {
		return "", fmt.Errorf("fetch feed %s: %w", s.cfg.URL, err)
	}
	items := make([]*gofeed.Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it != nil && it.Link != "" {
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		return "", ErrNoItem
	}
	sort.SliceStable(items, func(i, j int) bool {
		ti, tj := items[i].PublishedParsed, items[j].PublishedParsed
		if ti == nil || tj == nil {
			return false
		}
		return ti.After(*tj)
	})
	return items[0].Link, nil
}
