// Package parse turns free-form completion text into a record.
package parse

import (
	"fmt"
	"strings"

	"github.com/shpitdev/vocab-enricher/pkg/pipeline/redact"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/schema"
	"github.com/shpitdev/vocab-enricher/pkg/record"
)

// Reason classifies a parse failure.
type Reason string

const (
	ReasonEmpty      Reason = "empty"
	ReasonNoObject   Reason = "no_object"
	ReasonInvalid    Reason = "invalid_json"
	ReasonValidation Reason = "validation"
)

// ParseFailure reports a completion that did not yield a usable JSON object.
type ParseFailure struct {
	Reason  Reason
	Missing []string
	// Snippet is a short prefix of the raw completion.
	Snippet string
	Err     error
}

func (e *ParseFailure) Error() string {
	if e == nil {
		return "parse failure"
	}
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("parse failure (%s): missing %s", e.Reason, strings.Join(e.Missing, ", "))
	case e.Err != nil:
		return fmt.Sprintf("parse failure (%s): %v", e.Reason, e.Err)
	default:
		return fmt.Sprintf("parse failure (%s)", e.Reason)
	}
}

func (e *ParseFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

const snippetLen = 120

// Parse decodes raw as a JSON object. When the whole text is not an object, the span from
// the first '{' to the last '}' is tried instead. No other repair is attempted.
func Parse(raw string) (record.Record, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return record.Record{}, &ParseFailure{Reason: ReasonEmpty}
	}

	rec, err := record.Parse([]byte(text))
	if err == nil {
		return rec, nil
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return record.Record{}, &ParseFailure{Reason: ReasonNoObject, Snippet: snippet(text), Err: err}
	}
	rec, err = record.Parse([]byte(text[start : end+1]))
	if err != nil {
		return record.Record{}, &ParseFailure{Reason: ReasonInvalid, Snippet: snippet(text), Err: err}
	}
	return rec, nil
}

// Validate checks rec against the contract.
func Validate(rec record.Record, c schema.Contract) error {
	if missing := c.Missing(rec); len(missing) > 0 {
		return &ParseFailure{Reason: ReasonValidation, Missing: missing}
	}
	return nil
}

// ParseValid parses raw and validates the result.
func ParseValid(raw string, c schema.Contract) (record.Record, error) {
	rec, err := Parse(raw)
	if err != nil {
		return record.Record{}, err
	}
	if err := Validate(rec, c); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

func snippet(s string) string {
	if len(s) <= snippetLen {
		return s
	}
	return redact.Cut(s, snippetLen) + "..."
}
