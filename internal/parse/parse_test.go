package parse_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/vocab-enricher/internal/parse"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/schema"
)

func TestParse_Accepts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		id   string
	}{
		{name: "bare object", raw: `{"id":"x","term_es":"gato"}`, id: "x"},
		{name: "surrounding whitespace", raw: "\n  {\"id\":\"x\"}\n", id: "x"},
		{name: "noise around object", raw: `noise {"id":"x"} more noise`, id: "x"},
		{name: "markdown fence", raw: "```json\n{\"id\":\"x\",\"example\":\"The cat {sleeps}.\"}\n```", id: "x"},
		{name: "array of one object", raw: `[{"id":"x"}]`, id: "x"},
		{name: "nested braces", raw: `Here: {"id":"x","meta":{"a":{"b":1}}} done`, id: "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, err := parse.Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.id, rec.String("id"))
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    string
		reason parse.Reason
	}{
		{name: "empty", raw: "   ", reason: parse.ReasonEmpty},
		{name: "prose", raw: "not json at all", reason: parse.ReasonNoObject},
		{name: "reversed braces", raw: "} oops {", reason: parse.ReasonNoObject},
		{name: "two objects", raw: `{"id":"a"} and {"id":"b"}`, reason: parse.ReasonInvalid},
		{name: "truncated", raw: `{"id":"x","example":"The cat`, reason: parse.ReasonNoObject},
		{name: "trailing comma", raw: `{"id":"x",}`, reason: parse.ReasonInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := parse.Parse(tt.raw)
			var pf *parse.ParseFailure
			require.ErrorAs(t, err, &pf)
			assert.Equal(t, tt.reason, pf.Reason)
		})
	}
}

func TestParse_SnippetKeepsCharactersWhole(t *testing.T) {
	t.Parallel()

	// The odd leading byte puts every multi-byte character boundary on an odd offset.
	raw := "a" + strings.Repeat("é", 100)
	_, err := parse.Parse(raw)
	var pf *parse.ParseFailure
	require.ErrorAs(t, err, &pf)
	assert.True(t, utf8.ValidString(pf.Snippet), "snippet %q", pf.Snippet)
	assert.True(t, strings.HasSuffix(pf.Snippet, "..."))
	assert.True(t, strings.HasPrefix(raw, strings.TrimSuffix(pf.Snippet, "...")))
}

func TestParseValid(t *testing.T) {
	t.Parallel()

	contract := schema.Contract{Mode: schema.ModeStrict, Required: []string{"term_es", "example", "example_es"}}

	rec, err := parse.ParseValid(`{"id":"1","term_es":"gato","example":"The cat sleeps.","example_es":"El gato duerme."}`, contract)
	require.NoError(t, err)
	assert.Equal(t, "gato", rec.String("term_es"))

	_, err = parse.ParseValid(`{"id":"1","term_es":"gato","example":""}`, contract)
	var pf *parse.ParseFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, parse.ReasonValidation, pf.Reason)
	assert.Equal(t, []string{"example", "example_es"}, pf.Missing)
	assert.Contains(t, pf.Error(), "missing example, example_es")

	lenient := schema.Contract{Mode: schema.ModeLenient, Required: contract.Required}
	_, err = parse.ParseValid(`{"id":"1"}`, lenient)
	assert.NoError(t, err)
}
