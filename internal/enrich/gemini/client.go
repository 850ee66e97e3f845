// Package gemini implements enrich.Client on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/shpitdev/vocab-enricher/internal/enrich"
)

const (
	Provider     = "gemini"
	DefaultModel = "gemini-2.5-flash"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	Temperature float64
	MaxTokens   int

	HTTPClient *http.Client
}

type Client struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	if cfg.HTTPClient != nil {
		cc.HTTPClient = cfg.HTTPClient
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Client{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

func (c *Client) Model() string { return c.model }

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	gc := &genai.GenerateContentConfig{
		CandidateCount:   1,
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(c.temperature),
	}
	if c.maxTokens > 0 {
		gc.MaxOutputTokens = c.maxTokens
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), gc)
	if err != nil {
		return "", classifyErr(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", enrich.Declined(Provider, 200, nil, errors.New("empty candidate text"))
	}
	return text, nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return enrich.Declined(Provider, apiErr.Code, []byte(apiErr.Message), err)
	}
	return enrich.Unreachable(Provider, err)
}
