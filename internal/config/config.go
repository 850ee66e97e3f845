// Package config loads the enricher configuration from YAML, the environment and .env.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/shpitdev/vocab-enricher/pkg/pipeline/schema"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderAnthropic  = "anthropic"
)

// Providers lists the supported enrichment backends.
var Providers = []string{ProviderOpenRouter, ProviderGemini, ProviderAnthropic}

// Config is the root enricher configuration.
type Config struct {
	Provider   string           `yaml:"provider" env:"ENRICHER_PROVIDER" env-default:"openrouter"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Generation GenerationConfig `yaml:"generation"`
	Prompt     PromptConfig     `yaml:"prompt"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
}

// OpenRouterConfig holds OpenRouter credentials and endpoint.
type OpenRouterConfig struct {
	APIKey   string `yaml:"api_key"   env:"OPENROUTER_API_KEY"`
	BaseURL  string `yaml:"base_url"  env:"OPENROUTER_BASE_URL"  env-default:"https://openrouter.ai/api/v1"`
	SiteURL  string `yaml:"site_url"  env:"OPENROUTER_SITE_URL"`
	SiteName string `yaml:"site_name" env:"OPENROUTER_SITE_NAME" env-default:"vocab-enricher"`
}

// GeminiConfig holds Gemini API credentials.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"  env:"GEMINI_API_KEY"`
	BaseURL string `yaml:"base_url" env:"GEMINI_BASE_URL"`
}

// AnthropicConfig holds Anthropic API credentials.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"  env:"ANTHROPIC_API_KEY"`
	BaseURL string `yaml:"base_url" env:"ANTHROPIC_BASE_URL"`
}

// GenerationConfig holds request parameters shared by all providers.
// An empty Model falls back to the prompt variant's model, then the provider default.
type GenerationConfig struct {
	Model       string  `yaml:"model"       env:"ENRICHER_MODEL"`
	Temperature float64 `yaml:"temperature" env:"ENRICHER_TEMPERATURE" env-default:"0.7"`
	MaxTokens   int     `yaml:"max_tokens"  env:"ENRICHER_MAX_TOKENS"  env-default:"1000"`
}

// PromptConfig selects the prompt variant and how strictly responses are checked.
type PromptConfig struct {
	Variant    string `yaml:"variant"    env:"ENRICHER_PROMPT"`
	File       string `yaml:"file"       env:"ENRICHER_PROMPT_FILE"`
	Validation string `yaml:"validation" env:"ENRICHER_VALIDATION" env-default:"lenient"`
}

// PipelineConfig controls concurrency, retries and timeouts.
type PipelineConfig struct {
	Workers        int           `yaml:"workers"         env:"ENRICHER_WORKERS"         env-default:"1"`
	Window         int           `yaml:"window"          env:"ENRICHER_WINDOW"          env-default:"0"`
	MaxRetries     int           `yaml:"max_retries"     env:"ENRICHER_MAX_RETRIES"     env-default:"2"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"ENRICHER_REQUEST_TIMEOUT" env-default:"60s"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"  env:"ENRICHER_RATE_LIMIT_RPS"  env-default:"0"`
}

// HTTPConfig tunes the client shared by the backends.
type HTTPConfig struct {
	CAFile string `yaml:"ca_file" env:"ENRICHER_CA_FILE"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"console"`
}

// ConfigError reports configuration that cannot start a run.
type ConfigError struct {
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "config error"
	}
	if e.Err != nil {
		return "config: " + e.Err.Error()
	}
	return "config: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LoadOptions locate the optional config and .env files.
type LoadOptions struct {
	// Path is a YAML config file. When empty, ENRICHER_CONFIG is consulted; a missing
	// file is only an error when the path was given explicitly.
	Path string
	// DotEnv is loaded into the process environment first, without overriding variables
	// that are already set. Defaults to ".env"; a missing file is ignored.
	DotEnv string
}

// Load reads configuration with priority ENV > YAML > defaults. It does not validate;
// callers apply flag overrides and then call Validate.
func Load(opts LoadOptions) (*Config, error) {
	dotenv := opts.DotEnv
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &ConfigError{Err: fmt.Errorf("load %s: %w", dotenv, err)}
	}

	var cfg Config
	path := opts.Path
	explicit := path != ""
	if !explicit {
		path = os.Getenv("ENRICHER_CONFIG")
		explicit = path != ""
	}

	if explicit {
		if _, err := os.Stat(path); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("file %s: %w", path, err)}
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("read %s: %w", path, err)}
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("read env: %w", err)}
	}
	return &cfg, nil
}

// APIKey returns the credential of the selected provider.
func (c *Config) APIKey() string {
	switch c.Provider {
	case ProviderGemini:
		return strings.TrimSpace(c.Gemini.APIKey)
	case ProviderAnthropic:
		return strings.TrimSpace(c.Anthropic.APIKey)
	default:
		return strings.TrimSpace(c.OpenRouter.APIKey)
	}
}

// ValidationMode is the parsed prompt.validation setting.
func (c *Config) ValidationMode() schema.Mode {
	return schema.NormalizeMode(c.Prompt.Validation)
}

// Validate checks the configuration and returns a *ConfigError listing every problem.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if !slices.Contains(Providers, c.Provider) {
		add("provider %q is not one of %s", c.Provider, strings.Join(Providers, ", "))
	} else if c.APIKey() == "" {
		add("%s is required for provider %s (set it in the environment or a .env file)", apiKeyEnv(c.Provider), c.Provider)
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		add("generation.temperature must be within [0, 2], got %g", c.Generation.Temperature)
	}
	if c.Generation.MaxTokens <= 0 {
		add("generation.max_tokens must be positive, got %d", c.Generation.MaxTokens)
	}
	switch strings.ToLower(strings.TrimSpace(c.Prompt.Validation)) {
	case "", "lenient", "strict":
	default:
		add("prompt.validation must be lenient or strict, got %q", c.Prompt.Validation)
	}

	if c.Pipeline.Workers < 1 {
		add("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.Window < 0 {
		add("pipeline.window must not be negative, got %d", c.Pipeline.Window)
	}
	if c.Pipeline.MaxRetries < 0 {
		add("pipeline.max_retries must not be negative, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.RequestTimeout <= 0 {
		add("pipeline.request_timeout must be positive, got %s", c.Pipeline.RequestTimeout)
	}
	if c.Pipeline.RateLimitRPS < 0 {
		add("pipeline.rate_limit_rps must not be negative, got %g", c.Pipeline.RateLimitRPS)
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", "json", "console":
	default:
		add("log.format must be json or console, got %q", c.Log.Format)
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

func apiKeyEnv(provider string) string {
	switch provider {
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return "OPENROUTER_API_KEY"
	}
}
