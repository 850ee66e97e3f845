// Package app wires configuration, the prompt catalog, a text-generation backend and the
// local checkpoint store into one enrichment run.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shpitdev/vocab-enricher/internal/config"
	"github.com/shpitdev/vocab-enricher/internal/enrich"
	"github.com/shpitdev/vocab-enricher/internal/pipeline"
	"github.com/shpitdev/vocab-enricher/internal/prompt"
	localio "github.com/shpitdev/vocab-enricher/pkg/pipeline/io/local"
)

// ErrInputNotFound is returned when the input path does not name a readable file.
var ErrInputNotFound = errors.New("input file not found")

// RunParams describe one run. Config must already be validated.
type RunParams struct {
	Input string
	// Output defaults to localio.OutputPath(Input).
	Output string
	Config *config.Config
	Logger *zap.Logger

	// HTTPClient is handed to backends that accept one.
	HTTPClient *http.Client
}

// Run enriches every record of p.Input that the checkpoint does not cover yet.
func Run(ctx context.Context, p RunParams) (pipeline.Summary, error) {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := p.Config
	if cfg == nil {
		return pipeline.Summary{}, &config.ConfigError{Problems: []string{"no configuration"}}
	}

	if err := CheckInput(p.Input); err != nil {
		return pipeline.Summary{}, err
	}
	output, err := resolveOutput(p.Input, p.Output)
	if err != nil {
		return pipeline.Summary{}, err
	}

	variant, err := ResolveVariant(cfg)
	if err != nil {
		return pipeline.Summary{}, err
	}
	client, err := NewClient(ctx, cfg, ResolveModel(cfg, variant), p.HTTPClient)
	if err != nil {
		return pipeline.Summary{}, err
	}

	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID))
	contract := variant.Contract(cfg.ValidationMode())
	log.Info("run start",
		zap.String("input", p.Input),
		zap.String("output", output),
		zap.String("provider", cfg.Provider),
		zap.String("model", client.Model()),
		zap.String("prompt", variant.Name),
		zap.String("validation", string(contract.Mode)),
		zap.Int("workers", cfg.Pipeline.Workers),
		zap.Int("max_retries", cfg.Pipeline.MaxRetries),
		zap.Duration("timeout", cfg.Pipeline.RequestTimeout),
		zap.Float64("rate_limit_rps", cfg.Pipeline.RateLimitRPS),
	)

	store := localio.NewStore(p.Input, output)
	ctrl := &pipeline.Controller{
		Input:      store,
		Store:      store,
		Enricher:   newTracedEnricher(enrich.New(client, variant), log.Named("enrich"), cfg.Pipeline.MaxRetries, cfg.Pipeline.RequestTimeout),
		Logger:     log,
		OutputPath: output,
		Options: pipeline.Options{
			Workers:        cfg.Pipeline.Workers,
			Window:         cfg.Pipeline.Window,
			MaxRetries:     cfg.Pipeline.MaxRetries,
			RequestTimeout: cfg.Pipeline.RequestTimeout,
			RateLimitRPS:   cfg.Pipeline.RateLimitRPS,
			Contract:       contract,
		},
	}

	start := time.Now()
	sum, err := ctrl.Run(ctx)
	fields := []zap.Field{
		zap.String("output", sum.OutputPath),
		zap.Int("total", sum.Total),
		zap.Int("resumed", sum.Resumed),
		zap.Int("processed", sum.Processed()),
		zap.Int("ok", sum.OK),
		zap.Int("parse_failures", sum.ParseFailures),
		zap.Int("request_failures", sum.RequestFailures),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	}
	if err != nil {
		log.Error("run stopped", append(fields, zap.Error(err))...)
		return sum, err
	}
	log.Info("run complete", fields...)
	return sum, nil
}

// resolveOutput applies the default output path and refuses an output that is the input
// file itself, under any spelling of its path.
func resolveOutput(input, output string) (string, error) {
	if output == "" {
		output = localio.OutputPath(input)
	}
	in, err := os.Stat(input)
	if err != nil {
		return output, nil
	}
	out, err := os.Stat(output)
	if err != nil {
		return output, nil
	}
	if os.SameFile(in, out) {
		return "", &config.ConfigError{Problems: []string{fmt.Sprintf("output %q is the input file", output)}}
	}
	return output, nil
}

// CheckInput reports ErrInputNotFound unless path names a regular file.
func CheckInput(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: no path given", ErrInputNotFound)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInputNotFound, path)
	}
	return nil
}

// ResolveVariant loads the configured prompt catalog and selects the variant. Problems are
// reported as *config.ConfigError.
func ResolveVariant(cfg *config.Config) (*prompt.Variant, error) {
	var (
		catalog *prompt.Catalog
		err     error
	)
	if f := strings.TrimSpace(cfg.Prompt.File); f != "" {
		catalog, err = prompt.LoadFile(f)
	} else {
		catalog, err = prompt.Builtin()
	}
	if err != nil {
		return nil, &config.ConfigError{Err: err}
	}
	v, err := catalog.Get(cfg.Prompt.Variant)
	if err != nil {
		return nil, &config.ConfigError{Err: err}
	}
	return v, nil
}

// ResolveModel picks the model: the configured one, else the variant's model on
// OpenRouter, else "" for the backend default. Variant models are OpenRouter ids.
func ResolveModel(cfg *config.Config, v *prompt.Variant) string {
	if m := strings.TrimSpace(cfg.Generation.Model); m != "" {
		return m
	}
	if cfg.Provider == config.ProviderOpenRouter && v != nil {
		return strings.TrimSpace(v.Model)
	}
	return ""
}
