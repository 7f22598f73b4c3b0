package pipeline

import (
	"context"
	"strings"
	"time"

	logx "patchwatch/pkg/logx"
)

// Detector asks the forum for its newest item. It never fails loudly: any
// error or empty answer means "no item".
type Detector struct {
	scraper Scraper
	timeout time.Duration
	log     logx.Logger
}

func NewDetector(s Scraper, timeout time.Duration, log logx.Logger) *Detector {
	return &Detector{scraper: s, timeout: timeout, log: log.With(logx.String("comp", "detector"))}
}

func (d *Detector) DetectLatest(ctx context.Context) (item SourceItem, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("latest item lookup panicked", logx.Any("panic", r))
			item, ok = SourceItem{}, false
		}
	}()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	url, err := d.scraper.LatestItemURL(ctx)
	if err != nil {
		d.log.Warn("latest item lookup failed", logx.Err(err))
		return SourceItem{}, false
	}
	url = strings.TrimSpace(url)
	if url == "" {
		d.log.Warn("latest item lookup returned nothing")
		return SourceItem{}, false
	}
	return SourceItem{URL: url}, true
}
