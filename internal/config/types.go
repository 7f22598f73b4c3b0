package config

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Source     SourceConfig     `json:"source"`
	Poll       PollConfig       `json:"poll"`
	Generation GenerationConfig `json:"generation"`
	Delivery   DeliveryConfig   `json:"delivery"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	HTTP       *HTTPConfig      `json:"http,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token" validate:"required"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// SourceConfig describes the monitored forum.
//
// Kind "html" scrapes the listing page at URL with ItemSelector (first match's
// href is the latest item) and the item page with ContentSelector. Kind "feed"
// reads the latest entry of an RSS/Atom feed at URL instead.
//
// An empty ContentSelector falls back to readability main-content extraction.
type SourceConfig struct {
	Kind            string `json:"kind" validate:"omitempty,oneof=html feed"`
	URL             string `json:"url" validate:"required,url"`
	BaseURL         string `json:"base_url" validate:"omitempty,url"`
	ItemSelector    string `json:"item_selector"`
	ContentSelector string `json:"content_selector"`
	// ContentFormat is "text" (default) or "markdown".
	ContentFormat string `json:"content_format" validate:"omitempty,oneof=text markdown"`
	FetchTimeout  string `json:"fetch_timeout"`
	UserAgent     string `json:"user_agent"`
}

// PollConfig controls the detection trigger.
//
// Schedule accepts a cron expression ("*/5 * * * *", "@every 60s"),
// a Go duration ("60s") or HH:MM ("00:01").
type PollConfig struct {
	Schedule        string `json:"schedule"`
	BaselineOnStart *bool  `json:"baseline_on_start,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}

type GenerationConfig struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens" validate:"gte=0"`
	BaseURL   string `json:"base_url" validate:"omitempty,url"`
	Timeout   string `json:"timeout"`
}

type DeliveryConfig struct {
	MaxChunkLen int    `json:"max_chunk_len" validate:"gte=0"`
	Workers     int    `json:"workers" validate:"gte=0"`
	RatePerSec  int    `json:"rate_per_sec" validate:"gte=0"`
	Title       string `json:"title"` // product name in the header, e.g. "Star Citizen"
	ParseMode   string `json:"parse_mode" validate:"omitempty,oneof=Markdown MarkdownV2 HTML"`
}

// StorageConfig controls destination persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/destinations.json" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HTTPConfig controls the optional status server (/healthz, /status, /metrics).
// Prefer binding to localhost.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8089"
	// Token guards /status and /metrics; required for non-loopback binds
	// unless AllowInsecure is set.
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
