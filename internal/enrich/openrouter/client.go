// Package openrouter implements enrich.Client on the OpenRouter chat-completions API.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/shpitdev/vocab-enricher/internal/enrich"
)

const (
	Provider = "openrouter"

	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultModel       = "google/gemini-2.5-flash"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000

	maxResponseBytes = 10 * 1024 * 1024
)

var errNoContent = errors.New("response has no choices[0].message.content")

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int

	// SiteURL and SiteName are sent as HTTP-Referer / X-Title when set.
	SiteURL  string
	SiteName string

	HTTPClient *http.Client
}

type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	siteURL     string
	siteName    string
	httpClient  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY is required")
	}
	c := &Client{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		siteURL:     strings.TrimSpace(cfg.SiteURL),
		siteName:    strings.TrimSpace(cfg.SiteName),
		httpClient:  cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.httpClient == nil {
		// Per-request deadlines come from the caller's context.
		c.httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return c, nil
}

func (c *Client) Model() string { return c.model }

// Complete posts prompt as a single user message and returns choices[0].message.content.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", enrich.Unreachable(Provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", enrich.Unreachable(Provider, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", enrich.Declined(Provider, resp.StatusCode, body, nil)
	}

	if !gjson.ValidBytes(body) {
		return "", enrich.Declined(Provider, resp.StatusCode, body, errors.New("response is not valid json"))
	}
	parsed := gjson.ParseBytes(body)
	if msg := parsed.Get("error.message"); msg.Exists() {
		return "", enrich.Declined(Provider, resp.StatusCode, nil, fmt.Errorf("api error: %s", msg.String()))
	}
	content := parsed.Get("choices.0.message.content")
	if content.Type != gjson.String {
		return "", enrich.Declined(Provider, resp.StatusCode, body, errNoContent)
	}
	return content.String(), nil
}
