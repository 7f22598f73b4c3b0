package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override (PATCHWATCH_TELEGRAM_TOKEN, ...).
const EnvPrefix = "PATCHWATCH"

// envOverrides holds secrets and paths that deployments prefer to keep out of
// the config file.
type envOverrides struct {
	TelegramToken     string `envconfig:"TELEGRAM_TOKEN"`
	StoragePath       string `envconfig:"STORAGE_PATH"`
	LogLevel          string `envconfig:"LOG_LEVEL"`
	GenerationBaseURL string `envconfig:"GENERATION_BASE_URL"`
	HTTPAddr          string `envconfig:"HTTP_ADDR"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Missing files are ignored; variables already
// set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays PATCHWATCH_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return err
	}
	if v := strings.TrimSpace(o.TelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(o.GenerationBaseURL); v != "" {
		cfg.Generation.BaseURL = v
	}
	if v := strings.TrimSpace(o.StoragePath); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		cfg.Storage.Path = v
	}
	if v := strings.TrimSpace(o.HTTPAddr); v != "" {
		if cfg.HTTP == nil {
			cfg.HTTP = &HTTPConfig{}
		}
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = v
	}
	return nil
}
