package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"patchwatch/internal/config"
	"patchwatch/internal/pipeline"
	logx "patchwatch/pkg/logx"
)

// CheckOptions drives a one-shot dry run.
type CheckOptions struct {
	ConfigPath string
	// Credential formats the page; empty prints the scraped text instead.
	Credential  string
	MaxChunkLen int
}

// Check detects the latest item, extracts it and writes the resulting chunks
// to w. Nothing is delivered and no state is kept.
func Check(ctx context.Context, opts CheckOptions, w io.Writer, log logx.Logger) error {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return err
	}
	fc, err := mapForumConfig(cfg)
	if err != nil {
		return err
	}
	det, ext, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}

	item, ok := det.DetectLatest(ctx)
	if !ok {
		return fmt.Errorf("no item found at %s", fc.URL)
	}
	fmt.Fprintf(w, "latest: %s\n", item.URL)

	var text string
	if strings.TrimSpace(opts.Credential) == "" {
		text, err = ext.RawText(ctx, item.URL)
	} else {
		var doc pipeline.Document
		doc, err = ext.ExtractErr(ctx, item.URL, opts.Credential)
		text = doc.Text
	}
	if err != nil {
		return err
	}

	maxLen := opts.MaxChunkLen
	if maxLen <= 0 {
		maxLen = cfg.Delivery.MaxChunkLen
	}
	chunks := pipeline.Chunk(text, maxLen)
	fmt.Fprintf(w, "chunks: %d (max %d)\n", len(chunks), maxLen)
	for i, c := range chunks {
		fmt.Fprintf(w, "\n--- chunk %d/%d (%d chars) ---\n%s\n", i+1, len(chunks), len([]rune(c)), c)
	}
	return nil
}
