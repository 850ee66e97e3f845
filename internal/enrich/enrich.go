// Package enrich sends vocabulary records to a text-generation backend.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/shpitdev/vocab-enricher/pkg/record"
)

// Client sends one prompt to a text-generation backend and returns the primary completion
// text. Implementations must not retry; failures are reported as *RequestFailure.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Prompter renders the prompt for one record.
type Prompter interface {
	Render(rec record.Record) (string, error)
}

// Enricher turns a record into raw completion text.
type Enricher interface {
	Enrich(ctx context.Context, rec record.Record) (string, error)
}

// PromptEnricher renders a prompt for each record and sends it through Client.
type PromptEnricher struct {
	Client   Client
	Prompter Prompter
}

func New(client Client, prompter Prompter) *PromptEnricher {
	return &PromptEnricher{Client: client, Prompter: prompter}
}

func (e *PromptEnricher) Enrich(ctx context.Context, rec record.Record) (string, error) {
	prompt, err := e.Prompter.Render(rec)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("render prompt: empty prompt")
	}
	return e.Client.Complete(ctx, prompt)
}
