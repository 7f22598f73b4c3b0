package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"patchwatch/internal/config"
	"patchwatch/internal/forum"
	"patchwatch/internal/generate"
	"patchwatch/internal/observability/status"
	"patchwatch/internal/pipeline"
	"patchwatch/internal/storage"
	logx "patchwatch/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapForumConfig(cfg *config.Config) (forum.Config, error) {
	s := cfg.Source
	timeout, err := config.ParseDurationOrDefault("source.fetch_timeout", s.FetchTimeout, forum.DefaultFetchTimeout)
	if err != nil {
		return forum.Config{}, err
	}
	return forum.Config{
		Kind:            s.Kind,
		URL:             s.URL,
		BaseURL:         s.BaseURL,
		ItemSelector:    s.ItemSelector,
		ContentSelector: s.ContentSelector,
		ContentFormat:   s.ContentFormat,
		FetchTimeout:    timeout,
		UserAgent:       s.UserAgent,
	}, nil
}

func mapGenerateConfig(cfg *config.Config) (generate.Config, error) {
	g := cfg.Generation
	timeout, err := config.ParseDurationOrDefault("generation.timeout", g.Timeout, 2*time.Minute)
	if err != nil {
		return generate.Config{}, err
	}
	return generate.Config{Model: g.Model, MaxTokens: g.MaxTokens, BaseURL: g.BaseURL, Timeout: timeout}, nil
}

func mapPipelineConfig(cfg *config.Config) pipeline.Config {
	d := cfg.Delivery
	return pipeline.Config{
		MaxChunkLen: d.MaxChunkLen,
		Workers:     d.Workers,
		RatePerSec:  d.RatePerSec,
		Title:       d.Title,
		ParseMode:   d.ParseMode,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStatusConfig(cfg *config.Config) status.Config {
	if cfg.HTTP == nil {
		return status.Config{}
	}
	return status.Config{
		Enabled:       cfg.HTTP.Enabled,
		Addr:          cfg.HTTP.Addr,
		Token:         cfg.HTTP.Token,
		AllowInsecure: cfg.HTTP.AllowInsecure,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  30 * time.Second,
	}
}

// logChatID parses telegram.group_log; 0 disables the chat sink target.
func logChatID(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
