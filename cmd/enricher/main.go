package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/shpitdev/vocab-enricher/internal/app"
	"github.com/shpitdev/vocab-enricher/internal/config"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/redact"
)

const (
	exitOK          = 0
	exitRunFailure  = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	code := exitCode(ctx, err)
	_, _ = fmt.Fprintf(stderr, "enricher: %s\n", redact.Secrets(err.Error()))
	return code
}

func exitCode(ctx context.Context, err error) int {
	var ce *config.ConfigError
	var ue *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ce), errors.As(err, &ue), errors.Is(err, app.ErrInputNotFound):
		return exitUsage
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitRunFailure
	}
}

// usageError marks bad arguments or flags.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }
