// Package pipeline detects new forum items and fans their reformatted text out
// to every registered destination.
//
// A cycle runs detection, adopts a new item before extracting it (so a failing
// item is attempted at most once), extracts exactly once, and delivers the
// same chunk sequence to each destination independently.
package pipeline

import (
	"context"

	"patchwatch/internal/registry"
	kit "patchwatch/internal/transport"
)

// SourceItem identifies a forum post by URL. Equal URLs mean the same post.
type SourceItem struct {
	URL string
}

// Document is extracted, reformatted post text ready for chunking.
type Document struct {
	SourceURL string
	Text      string
}

// Scraper reads the monitored forum.
type Scraper interface {
	LatestItemURL(ctx context.Context) (string, error)
	PageText(ctx context.Context, url string) (string, error)
}

// Formatter rewrites raw post text using the caller's credential.
type Formatter interface {
	Format(ctx context.Context, raw, credential string) (string, error)
}

// Sender delivers messages to chat targets.
type Sender interface {
	ResolveTarget(ctx context.Context, to kit.ChatTarget) (kit.ChatTarget, error)
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Destinations is the read side of the registry.
type Destinations interface {
	All() []registry.Destination
	Get(id string) (registry.Destination, bool)
}

// Observer receives finished cycle and trigger reports (metrics, status page).
type Observer interface {
	CycleFinished(r CycleReport)
	TriggerFinished(destinationID string, err error)
}

type nopObserver struct{}

func (nopObserver) CycleFinished(CycleReport)     {}
func (nopObserver) TriggerFinished(string, error) {}
