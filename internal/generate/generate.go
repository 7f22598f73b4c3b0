// Package generate reformats raw patch-note text with an OpenAI-compatible
// chat completion API. The API key is supplied per call: every destination
// brings its own.
package generate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"patchwatch/internal/pipeline"
	logx "patchwatch/pkg/logx"
)

var (
	ErrNoCredential = errors.New("generate: credential is required")
	ErrEmptyOutput  = errors.New("generate: empty completion")
)

const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 3500
	defaultTimeout   = 2 * time.Minute

	systemInstruction = "You are a helpful assistant that formats game patch notes."

	formatInstruction = "Format the patch notes below. Do not include a release date or time. " +
		"You must include everything from the title at the top to the end of the Technical section. " +
		"Keep any special requests and any testing or feedback focus. " +
		"Include all Known Issues, Features & Gameplay, Bug Fixes and Technical entries. " +
		"Use markdown for formatting.\n\n"
)

type Config struct {
	Model     string
	MaxTokens int
	// BaseURL overrides the API endpoint (OpenRouter, a local gateway, ...).
	BaseURL string
	Timeout time.Duration
}

// Client is safe for concurrent use; it holds no credential.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(logx.String("comp", "generate"), logx.String("model", cfg.Model)),
	}
}

// Format returns the reformatted text, trimmed. It never returns an empty
// string with a nil error.
func (c *Client) Format(ctx context.Context, raw, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", ErrNoCredential
	}
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("generate: empty input")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cc := openai.DefaultConfig(credential)
	if c.cfg.BaseURL != "" {
		cc.BaseURL = strings.TrimSuffix(c.cfg.BaseURL, "/")
	}
	cc.HTTPClient = c.http
	api := openai.NewClientWithConfig(cc)

	started := time.Now()
	resp, err := api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: formatInstruction + raw},
		},
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		if credentialRejected(err) {
			return "", fmt.Errorf("chat completion: %w: %w", pipeline.ErrCredentialRejected, err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyOutput
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyOutput
	}
	c.log.Debug("completion done",
		logx.Duration("took", time.Since(started)),
		logx.Int("prompt_tokens", resp.Usage.PromptTokens),
		logx.Int("completion_tokens", resp.Usage.CompletionTokens),
		logx.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return out, nil
}

func credentialRejected(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusUnauthorized || reqErr.HTTPStatusCode == http.StatusForbidden
	}
	return false
}
