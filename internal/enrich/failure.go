package enrich

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"

	"github.com/shpitdev/vocab-enricher/pkg/pipeline/redact"
)

// FailureKind separates backends that could not be reached from backends that answered
// with a refusal.
type FailureKind string

const (
	KindUnreachable FailureKind = "unreachable"
	KindDeclined    FailureKind = "declined"
)

// RequestFailure is a sanitized summary of a failed completion request.
//
// Body never carries the raw response; it is redacted and truncated.
type RequestFailure struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

// Unreachable wraps a transport-level failure (connection error, timeout, cancellation).
func Unreachable(provider string, err error) *RequestFailure {
	return &RequestFailure{Provider: provider, Err: err}
}

// Declined builds a failure from a response the backend did send.
func Declined(provider string, status int, body []byte, err error) *RequestFailure {
	return &RequestFailure{Provider: provider, StatusCode: status, Body: Snippet(body), Err: err}
}

func (e *RequestFailure) Error() string {
	if e == nil {
		return "request failure"
	}
	provider := strings.TrimSpace(e.Provider)
	if provider == "" {
		provider = "backend"
	}
	parts := []string{fmt.Sprintf("%s request %s", provider, e.Kind())}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Err != nil {
		parts = append(parts, "err="+redact.Secrets(e.Err.Error()))
	}
	if strings.TrimSpace(e.Body) != "" {
		parts = append(parts, "body="+e.Body)
	}
	return strings.Join(parts, " ")
}

func (e *RequestFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Kind reports whether the backend was reached at all.
func (e *RequestFailure) Kind() FailureKind {
	if e == nil || e.StatusCode == 0 {
		return KindUnreachable
	}
	return KindDeclined
}

// Transient reports whether retrying the same request may succeed: rate limiting, server
// errors, timeouts and transport failures. Cancellation is never transient.
func (e *RequestFailure) Transient() bool {
	if e == nil {
		return false
	}
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode/100 == 5:
		return true
	case e.StatusCode != 0:
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(e.Err, &ne) {
		return true
	}
	return e.Err != nil
}

// timeoutRetries bounds retries of a request that hit its own deadline. A backend that
// is too slow once is usually too slow again.
const timeoutRetries = 1

// MaxExtraRetries caps the retry budget for requests that timed out locally. Other
// failures leave the configured budget alone.
func (e *RequestFailure) MaxExtraRetries() int {
	if e != nil && e.StatusCode == 0 && errors.Is(e.Err, context.DeadlineExceeded) {
		return timeoutRetries
	}
	return math.MaxInt
}

const maxSnippet = 256

// Snippet returns a small, redacted single-line hint of a response body.
func Snippet(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	s := redact.Secrets(redact.Cut(string(body), maxSnippet))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > maxSnippet {
		return s + "..."
	}
	return s
}
