package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|x-api-key|(?:openrouter|gemini|anthropic)[_-]?api[_-]?key)\b\s*[:=]\s*[^\s"']+`)

	// Provider key shapes (OpenRouter sk-or-..., Anthropic sk-ant-..., OpenAI-style sk-...).
	providerKeyRe = regexp.MustCompile(`\bsk-(?:or-|ant-)?[A-Za-z0-9_\-]{8,}`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = providerKeyRe.ReplaceAllString(out, "<redacted_key>")
	return strings.TrimSpace(out)
}

// Truncate redacts s and caps it at max bytes, marking the cut.
func Truncate(s string, max int) string {
	s = Secrets(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	return Cut(s, max) + "...(truncated)"
}

// Cut returns the longest prefix of s that fits in max bytes without splitting a
// multi-byte character.
func Cut(s string, max int) string {
	if max < 0 {
		max = 0
	}
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
