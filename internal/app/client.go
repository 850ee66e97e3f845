package app

import (
	"context"
	"net/http"

	"github.com/shpitdev/vocab-enricher/internal/config"
	"github.com/shpitdev/vocab-enricher/internal/enrich"
	"github.com/shpitdev/vocab-enricher/internal/enrich/anthropic"
	"github.com/shpitdev/vocab-enricher/internal/enrich/gemini"
	"github.com/shpitdev/vocab-enricher/internal/enrich/openrouter"
	"github.com/shpitdev/vocab-enricher/pkg/httpclient"
)

// ModelClient is a backend that knows which model it talks to.
type ModelClient interface {
	enrich.Client
	Model() string
}

// NewClient builds the backend selected by cfg.Provider. An empty model selects the
// backend default.
func NewClient(ctx context.Context, cfg *config.Config, model string, hc *http.Client) (ModelClient, error) {
	if hc == nil {
		var err error
		if hc, err = httpclient.New(httpclient.Options{CAFile: cfg.HTTP.CAFile}); err != nil {
			return nil, &config.ConfigError{Err: err}
		}
	}
	baseURL := func(raw string) string {
		// An unparseable URL is left for the backend to reject.
		if u, err := httpclient.NormalizeLoopback(raw); err == nil {
			return u
		}
		return raw
	}

	var (
		c   ModelClient
		err error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		c, err = gemini.New(ctx, gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			BaseURL:     baseURL(cfg.Gemini.BaseURL),
			Model:       model,
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			HTTPClient:  hc,
		})
	case config.ProviderAnthropic:
		c, err = anthropic.New(anthropic.Config{
			APIKey:      cfg.Anthropic.APIKey,
			BaseURL:     baseURL(cfg.Anthropic.BaseURL),
			Model:       model,
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			HTTPClient:  hc,
		})
	case config.ProviderOpenRouter:
		c, err = openrouter.New(openrouter.Config{
			APIKey:      cfg.OpenRouter.APIKey,
			BaseURL:     baseURL(cfg.OpenRouter.BaseURL),
			SiteURL:     cfg.OpenRouter.SiteURL,
			SiteName:    cfg.OpenRouter.SiteName,
			Model:       model,
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			HTTPClient:  hc,
		})
	default:
		return nil, &config.ConfigError{Problems: []string{"unsupported provider " + cfg.Provider}}
	}
	if err != nil {
		return nil, &config.ConfigError{Err: err}
	}
	return c, nil
}
