// Package llm talks to an OpenAI-compatible chat-completions backend and
// turns the model's untrusted text output into file writes and structured
// JSON. Every recovery layer here exists because the model's output is not
// trustworthy.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxResponseSize bounds the response body read to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Providers.
const (
	ProviderOpenAI   = "openai"
	ProviderLMStudio = "lmstudio"
	ProviderOllama   = "ollama"
)

// Config is the environment snapshot the client runs with.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// ConfigFromEnv reads the recognised environment variables:
//
//	CODEX_PROVIDER  openai | lmstudio | ollama (default openai)
//	CODEX_MODEL     model name
//	OPENAI_API_KEY  bearer token (openai)
//	LMSTUDIO_API_BASE / OLLAMA_API_BASE  endpoint overrides
func ConfigFromEnv() Config {
	cfg := Config{
		Provider: os.Getenv("CODEX_PROVIDER"),
		Model:    os.Getenv("CODEX_MODEL"),
		APIKey:   os.Getenv("OPENAI_API_KEY"),
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	switch cfg.Provider {
	case ProviderLMStudio:
		cfg.BaseURL = os.Getenv("LMSTUDIO_API_BASE")
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:1234/v1"
		}
		if cfg.Model == "" {
			cfg.Model = "local-model"
		}
	case ProviderOllama:
		cfg.BaseURL = os.Getenv("OLLAMA_API_BASE")
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434/v1"
		}
		if cfg.Model == "" {
			cfg.Model = "llama3"
		}
	default:
		cfg.BaseURL = "https://api.openai.com/v1"
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
	}
	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	return cfg
}

// normalizeBaseURL strips trailing slashes and a "/chat/completions" suffix
// so the path is never doubled when the client appends it.
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

// Client is a stateless, reentrant chat-completions client. Each pipeline
// serialises its own calls; cancellation flows through the context.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Client for the given configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Result holds one model invocation's output.
type Result struct {
	RequestID    string
	Content      string
	AppliedFiles []string
}

// Invoke enriches the prompt for the role, performs the chat-completion
// call, and applies any file blocks in the response under workdir. A
// non-empty workdir is required for roles that may emit file blocks.
func (c *Client) Invoke(ctx context.Context, role Role, prompt, workdir string) (*Result, error) {
	content, err := c.complete(ctx, role.enrich(prompt))
	if err != nil {
		return nil, err
	}

	res := &Result{
		RequestID: uuid.NewString(),
		Content:   content,
	}
	if workdir != "" {
		res.AppliedFiles = c.applyFileBlocks(content, workdir)
	}
	return res, nil
}

// complete performs the raw chat-completion HTTP call.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	payload := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMsg{{Role: "user", Content: prompt}},
		Temperature: 0.1,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	url := c.cfg.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("llm: unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("llm: API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("llm: no choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
