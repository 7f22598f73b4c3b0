package config

import "strings"

const (
	DefaultSchedule        = "@every 60s"
	DefaultModel           = "gpt-4o-mini"
	DefaultMaxTokens       = 3500
	DefaultMaxChunkLen     = 2000
	DefaultWorkers         = 4
	DefaultRatePerSec      = 10
	DefaultStoragePath     = "./data/destinations.json"
	DefaultSQLitePath      = "./data/patchwatch.db"
	DefaultHTTPAddr        = "127.0.0.1:8089"
	DefaultItemSelector    = "a.thread-subject"
	DefaultContentSelector = "div.content-main"
	DefaultUserAgent       = "patchwatch/1.0 (+https://github.com/patchwatch)"
)

// ApplyDefaults fills zero values. It never overrides explicit settings.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}

	s := &cfg.Source
	if s.Kind == "" {
		s.Kind = "html"
	}
	if s.Kind == "html" && strings.TrimSpace(s.ItemSelector) == "" {
		s.ItemSelector = DefaultItemSelector
	}
	if s.ContentFormat == "" {
		s.ContentFormat = "text"
	}
	if strings.TrimSpace(s.UserAgent) == "" {
		s.UserAgent = DefaultUserAgent
	}

	if strings.TrimSpace(cfg.Poll.Schedule) == "" {
		cfg.Poll.Schedule = DefaultSchedule
	}
	if cfg.Poll.BaselineOnStart == nil {
		on := true
		cfg.Poll.BaselineOnStart = &on
	}

	g := &cfg.Generation
	if strings.TrimSpace(g.Model) == "" {
		g.Model = DefaultModel
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = DefaultMaxTokens
	}

	d := &cfg.Delivery
	if d.MaxChunkLen == 0 {
		d.MaxChunkLen = DefaultMaxChunkLen
	}
	if d.Workers == 0 {
		d.Workers = DefaultWorkers
	}
	if d.RatePerSec == 0 {
		d.RatePerSec = DefaultRatePerSec
	}

	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{}
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		if cfg.Storage.Driver == "file" {
			cfg.Storage.Path = DefaultStoragePath
		} else {
			cfg.Storage.Path = DefaultSQLitePath
		}
	}

	if cfg.HTTP != nil && strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
}

// BaselineEnabled reports the effective poll.baseline_on_start value (default on).
func (p PollConfig) BaselineEnabled() bool {
	return p.BaselineOnStart == nil || *p.BaselineOnStart
}
