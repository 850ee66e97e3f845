// Package mockllm serves a minimal OpenAI-compatible chat-completions endpoint for local
// runs and tests.
package mockllm

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
	Model  string
	Prompt string
}

// Request is what a Responder sees for each completion call.
type Request struct {
	// N is the 1-based call number across the server's lifetime.
	N      int
	Model  string
	Prompt string
}

// Reply is the scripted answer to one call. A zero Status means 200.
type Reply struct {
	Status  int
	Content string
	// Body replaces the whole response body when set.
	Body  string
	Delay time.Duration
}

// Responder decides the reply for a request.
type Responder func(Request) Reply

// Server implements the chat-completions surface used by the enricher.
type Server struct {
	mu        sync.Mutex
	calls     []Call
	responder Responder

	expectedAuthorization string
}

// New constructs a server answering with EchoEnrich.
func New() *Server {
	return &Server{responder: EchoEnrich}
}

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// SetResponder replaces the reply logic.
func (s *Server) SetResponder(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		r = EchoEnrich
	}
	s.responder = r
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	expected := s.expectedAuthorization
	responder := s.responder
	s.mu.Unlock()

	if expected != "" && r.Header.Get("Authorization") != expected {
		writeError(w, http.StatusUnauthorized, "No auth credentials found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil || !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req := gjson.ParseBytes(body)
	model := req.Get("model").String()
	prompt := req.Get("messages.#(role==\"user\").content").String()
	if model == "" || prompt == "" {
		writeError(w, http.StatusBadRequest, "model and a user message are required")
		return
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Model: model, Prompt: prompt})
	n := len(s.calls)
	s.mu.Unlock()

	reply := responder(Request{N: n, Model: model, Prompt: prompt})
	if reply.Delay > 0 {
		t := time.NewTimer(reply.Delay)
		select {
		case <-t.C:
		case <-r.Context().Done():
			t.Stop()
			return
		}
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	if reply.Body != "" {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply.Body)
		return
	}
	if status != http.StatusOK {
		writeError(w, status, http.StatusText(status))
		return
	}

	out, err := completion(n, model, reply.Content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func completion(n int, model, content string) ([]byte, error) {
	out := []byte(`{}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			out, err = sjson.SetBytes(out, path, v)
		}
	}
	set("id", fmt.Sprintf("gen-mock-%d", n))
	set("object", "chat.completion")
	set("model", model)
	set("choices.0.index", 0)
	set("choices.0.message.role", "assistant")
	set("choices.0.message.content", content)
	set("choices.0.finish_reason", "stop")
	return out, err
}

func writeError(w http.ResponseWriter, status int, msg string) {
	body, _ := sjson.SetBytes([]byte(`{}`), "error.message", msg)
	body, _ = sjson.SetBytes(body, "error.code", status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
