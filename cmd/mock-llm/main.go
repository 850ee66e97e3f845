package main

import (
	"errors"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/vocab-enricher/internal/logging"
	"github.com/shpitdev/vocab-enricher/pkg/mockllm"
)

func main() {
	addr := defaultString("MOCK_LLM_ADDR", ":8080")
	token := defaultString("MOCK_LLM_TOKEN", "")

	fs := flag.NewFlagSet("mock-llm", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address (env: MOCK_LLM_ADDR)")
	fs.StringVar(&token, "token", token, "Require this bearer token (env: MOCK_LLM_TOKEN)")
	failEvery := fs.Int("fail-every", 0, "Answer every nth call with -fail-status")
	failStatus := fs.Int("fail-status", http.StatusServiceUnavailable, "Status used by -fail-every")
	garbleEvery := fs.Int("garble-every", 0, "Answer every nth call with text that holds no JSON")
	delay := fs.Duration("delay", 0, "Delay before each reply")
	_ = fs.Parse(os.Args[1:])

	log, err := logging.New("info", logging.FormatConsole)
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	var responder mockllm.Responder = mockllm.EchoEnrich
	if *delay > 0 {
		responder = withDelay(*delay, responder)
	}
	responder = mockllm.GarbleEvery(*garbleEvery, responder)
	responder = mockllm.FailEvery(*failEvery, *failStatus, responder)

	srv := mockllm.New()
	srv.RequireBearerToken(token)
	srv.SetResponder(responder)

	log.Info("mock-llm listening",
		zap.String("addr", addr),
		zap.String("endpoint", "/api/v1/chat/completions"),
		zap.Bool("auth", token != ""),
		zap.Int("fail_every", *failEvery),
		zap.Int("garble_every", *garbleEvery),
	)
	hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func withDelay(d time.Duration, next mockllm.Responder) mockllm.Responder {
	return func(req mockllm.Request) mockllm.Reply {
		r := next(req)
		r.Delay = d
		return r
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
