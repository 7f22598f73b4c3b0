package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchwatch/internal/pipeline"
	logx "patchwatch/pkg/logx"
)

type capturedRequest struct {
	Auth string
	Body struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
}

func completionServer(t *testing.T, content string, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			got.Auth = r.Header.Get("Authorization")
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got.Body))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFormatSendsInstructionAndCredential(t *testing.T) {
	var got capturedRequest
	srv := completionServer(t, "  # Alpha 4.1\n- fixed things  \n", &got)
	c := New(Config{BaseURL: srv.URL + "/v1"}, logx.Nop())

	out, err := c.Format(context.Background(), "RAW NOTES", "sk-dest-1")
	require.NoError(t, err)
	assert.Equal(t, "# Alpha 4.1\n- fixed things", out)

	assert.Equal(t, "Bearer sk-dest-1", got.Auth)
	assert.Equal(t, DefaultModel, got.Body.Model)
	assert.Equal(t, DefaultMaxTokens, got.Body.MaxTokens)
	require.Len(t, got.Body.Messages, 2)
	assert.Equal(t, "system", got.Body.Messages[0].Role)
	assert.True(t, strings.HasSuffix(got.Body.Messages[1].Content, "RAW NOTES"))
	assert.Contains(t, got.Body.Messages[1].Content, "Do not include a release date")
}

func TestFormatUsesPerCallCredential(t *testing.T) {
	var got capturedRequest
	srv := completionServer(t, "ok", &got)
	c := New(Config{BaseURL: srv.URL + "/v1"}, logx.Nop())

	_, err := c.Format(context.Background(), "x", "sk-a")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-a", got.Auth)

	_, err = c.Format(context.Background(), "x", "sk-b")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-b", got.Auth)
}

func TestFormatEmptyCompletion(t *testing.T) {
	srv := completionServer(t, "   ", nil)
	c := New(Config{BaseURL: srv.URL + "/v1"}, logx.Nop())

	_, err := c.Format(context.Background(), "x", "sk")
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestFormatRejectsMissingCredential(t *testing.T) {
	c := New(Config{}, logx.Nop())
	_, err := c.Format(context.Background(), "x", " ")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestFormatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL + "/v1"}, logx.Nop())

	_, err := c.Format(context.Background(), "x", "sk")
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrCredentialRejected)
}

func TestFormatServerErrorIsNotCredentialRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"context too long","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL + "/v1"}, logx.Nop())

	_, err := c.Format(context.Background(), "x", "sk")
	require.Error(t, err)
	assert.NotErrorIs(t, err, pipeline.ErrCredentialRejected)
}
