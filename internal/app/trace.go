package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/vocab-enricher/internal/enrich"
	"github.com/shpitdev/vocab-enricher/internal/pipeline"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/redact"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/worker"
	"github.com/shpitdev/vocab-enricher/pkg/record"
)

const maxLoggedResponse = 512

type tracedEnricher struct {
	next           enrich.Enricher
	logger         *zap.Logger
	maxRetries     int
	requestTimeout time.Duration
}

func newTracedEnricher(next enrich.Enricher, logger *zap.Logger, maxRetries int, requestTimeout time.Duration) *tracedEnricher {
	return &tracedEnricher{
		next:           next,
		logger:         logger,
		maxRetries:     maxRetries,
		requestTimeout: requestTimeout,
	}
}

func (t *tracedEnricher) Enrich(ctx context.Context, rec record.Record) (string, error) {
	item := pipeline.Label(rec)
	attempt := worker.Attempt(ctx)
	if attempt == 0 {
		attempt = 1
	}

	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.logger.Debug("enrich request",
		zap.String("item", item),
		zap.Int("attempt", attempt),
		zap.Duration("timeout", t.requestTimeout),
		zap.String("deadline_in", deadlineIn),
	)

	start := time.Now()
	out, err := t.next.Enrich(ctx, rec)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		retryable := worker.IsTransient(err)
		fields := []zap.Field{
			zap.String("item", item),
			zap.Int("attempt", attempt),
			zap.Duration("duration", elapsed),
			zap.Bool("retryable", retryable),
			zap.Bool("will_retry", worker.WillRetry(err, attempt, t.maxRetries) && !errors.Is(ctx.Err(), context.Canceled)),
			zap.Error(err),
		}
		var rf *enrich.RequestFailure
		if errors.As(err, &rf) {
			fields = append(fields, zap.String("kind", string(rf.Kind())), zap.Int("http_status", rf.StatusCode))
		}
		t.logger.Debug("enrich response", fields...)
		return out, err
	}

	t.logger.Debug("enrich response",
		zap.String("item", item),
		zap.Int("attempt", attempt),
		zap.Duration("duration", elapsed),
		zap.Int("bytes", len(out)),
		zap.String("response", redact.Truncate(out, maxLoggedResponse)),
	)
	return out, nil
}
