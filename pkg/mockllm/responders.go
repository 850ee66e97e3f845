package mockllm

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SourceRecord returns the JSON object embedded in a prompt: the content of a
// <source_json> block when present, otherwise the span between the first '{' and the
// last '}'.
func SourceRecord(prompt string) (string, bool) {
	text := prompt
	if _, after, ok := strings.Cut(prompt, "<source_json>"); ok {
		if inner, _, ok := strings.Cut(after, "</source_json>"); ok {
			text = inner
		}
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	obj := text[start : end+1]
	if !gjson.Valid(obj) || !gjson.Parse(obj).IsObject() {
		return "", false
	}
	return obj, true
}

// EchoEnrich returns the source record with deterministic term_es, example and example_es
// fields appended, the way a cooperative model answers the default prompt.
func EchoEnrich(req Request) Reply {
	src, ok := SourceRecord(req.Prompt)
	if !ok {
		return Reply{Content: "I could not find a word to enrich."}
	}
	term := gjson.Get(src, "term").String()
	if term == "" {
		term = gjson.Get(src, "term_source").String()
	}

	out := src
	var err error
	for _, kv := range [][2]string{
		{"term_es", term + " (es)"},
		{"example", "This is a " + term + "."},
		{"example_es", "Esto es un " + term + " (es)."},
	} {
		if gjson.Get(out, kv[0]).Exists() {
			continue
		}
		if out, err = sjson.Set(out, kv[0], kv[1]); err != nil {
			return Reply{Status: http.StatusInternalServerError}
		}
	}
	return Reply{Content: out}
}

// FailEvery wraps next so that every nth call answers with status.
func FailEvery(n, status int, next Responder) Responder {
	return func(req Request) Reply {
		if n > 0 && req.N%n == 0 {
			return Reply{Status: status}
		}
		return next(req)
	}
}

// GarbleEvery wraps next so that every nth call answers 200 with text that holds no JSON.
func GarbleEvery(n int, next Responder) Responder {
	return func(req Request) Reply {
		if n > 0 && req.N%n == 0 {
			return Reply{Content: "Sorry, as a language model I prefer prose."}
		}
		return next(req)
	}
}

// FailTerms answers with status for records whose term is in terms.
func FailTerms(status int, next Responder, terms ...string) Responder {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return func(req Request) Reply {
		if src, ok := SourceRecord(req.Prompt); ok {
			if _, hit := set[gjson.Get(src, "term").String()]; hit {
				return Reply{Status: status}
			}
		}
		return next(req)
	}
}
