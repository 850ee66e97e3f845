// Package pipeline runs the resumable enrichment loop over a list of records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/vocab-enricher/internal/enrich"
	"github.com/shpitdev/vocab-enricher/internal/parse"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/core"
	localio "github.com/shpitdev/vocab-enricher/pkg/pipeline/io/local"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/schema"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/worker"
	"github.com/shpitdev/vocab-enricher/pkg/record"
)

// Status is the per-item result committed to the checkpoint.
type Status string

const (
	StatusOK             Status = "ok"
	StatusParseFailure   Status = "parse_failure"
	StatusRequestFailure Status = "request_failure"
)

type Options struct {
	Workers        int
	Window         int
	MaxRetries     int
	RequestTimeout time.Duration
	RateLimitRPS   float64

	// Contract is applied to every parsed response.
	Contract schema.Contract
}

// Outcome describes one committed item.
type Outcome struct {
	Index    int
	Status   Status
	Record   record.Record
	Err      error
	Attempts int
	Duration time.Duration
}

// Summary reports what a run did.
type Summary struct {
	OutputPath      string
	Total           int
	Resumed         int
	OK              int
	ParseFailures   int
	RequestFailures int
}

// Processed is the number of items committed during this run.
func (s Summary) Processed() int {
	return s.OK + s.ParseFailures + s.RequestFailures
}

// Controller drives a run: load input, resume from the checkpoint, enrich the remaining
// records and persist the checkpoint after every committed item.
type Controller struct {
	Input    core.InputAdapter
	Store    core.CheckpointStore
	Enricher enrich.Enricher
	Logger   *zap.Logger
	Options  Options

	// OutputPath is reported in the summary only.
	OutputPath string
}

// Run processes every record that the checkpoint does not yet cover.
//
// Per-item failures never fail the run: the original record is committed in place of the
// enriched one. Run returns an error only when the input cannot be loaded, the checkpoint
// cannot be read or written, or ctx is cancelled. Records committed before the error stay
// in the checkpoint.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sum := Summary{OutputPath: c.OutputPath}

	inputs, err := c.Input.LoadInput(ctx)
	if err != nil {
		return sum, fmt.Errorf("load input: %w", err)
	}
	sum.Total = len(inputs)

	progress, err := c.Store.LoadProgress(ctx)
	var corrupt *localio.CheckpointCorruptionError
	switch {
	case errors.As(err, &corrupt):
		log.Warn("checkpoint unreadable, starting from the beginning", zap.Error(err))
		progress = nil
	case err != nil:
		return sum, fmt.Errorf("load checkpoint: %w", err)
	}

	offset := len(progress)
	sum.Resumed = offset
	if offset > len(inputs) {
		log.Warn("checkpoint has more records than the input; nothing to do",
			zap.Int("checkpoint", offset),
			zap.Int("input", len(inputs)),
		)
		return sum, nil
	}
	warnIDMismatches(log, inputs, progress)

	log.Info("resuming",
		zap.Int("total", len(inputs)),
		zap.Int("completed", offset),
		zap.Int("remaining", len(inputs)-offset),
	)
	if offset == len(inputs) {
		if offset == 0 {
			// An empty input still leaves an empty array at the output path.
			if err := c.Store.Persist(ctx, []record.Record{}); err != nil {
				return sum, fmt.Errorf("persist checkpoint: %w", err)
			}
		}
		return sum, nil
	}

	out := make([]record.Record, 0, len(inputs))
	out = append(out, progress...)
	contract := c.Options.Contract

	process := core.ProcessFunc[record.Record, record.Record](func(ctx context.Context, in record.Record) (record.Record, error) {
		raw, err := c.Enricher.Enrich(ctx, in)
		if err != nil {
			return record.Record{}, err
		}
		parsed, err := parse.ParseValid(raw, contract)
		if err != nil {
			return record.Record{}, err
		}
		return record.Merge(in, parsed), nil
	})

	commit := func(i int, res worker.Result[record.Record, record.Record]) error {
		o := classify(offset+i, res)
		next := append(out, o.Record)
		if err := c.Store.Persist(ctx, next); err != nil {
			return fmt.Errorf("persist checkpoint at item %d: %w", o.Index+1, err)
		}
		out = next
		sum.count(o.Status)
		logOutcome(log, o, len(inputs))
		return nil
	}

	err = worker.ProcessInOrder(ctx, inputs[offset:], process.Process, commit, worker.Options{
		Workers:           c.Options.Workers,
		Window:            c.Options.Window,
		MaxRetries:        c.Options.MaxRetries,
		RequestTimeout:    c.Options.RequestTimeout,
		RateLimitRPS:      c.Options.RateLimitRPS,
		BackoffInitial:    200 * time.Millisecond,
		BackoffMax:        5 * time.Second,
		BackoffJitterFrac: 0.2,
		OnRetry: func(attempt int, err error, sleep time.Duration) {
			log.Debug("retrying request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", sleep),
				zap.Error(err),
			)
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("run interrupted", zap.Int("committed", len(out)), zap.Int("total", len(inputs)))
		}
		return sum, err
	}
	return sum, nil
}

func (s *Summary) count(st Status) {
	switch st {
	case StatusOK:
		s.OK++
	case StatusParseFailure:
		s.ParseFailures++
	default:
		s.RequestFailures++
	}
}

func classify(idx int, res worker.Result[record.Record, record.Record]) Outcome {
	o := Outcome{
		Index:    idx,
		Err:      res.Err,
		Attempts: res.Attempts,
		Duration: res.Duration,
	}
	var pf *parse.ParseFailure
	switch {
	case res.Err == nil:
		o.Status = StatusOK
		o.Record = res.Output
		return o
	case errors.As(res.Err, &pf):
		o.Status = StatusParseFailure
	default:
		o.Status = StatusRequestFailure
	}
	o.Record = res.Input
	return o
}

func logOutcome(log *zap.Logger, o Outcome, total int) {
	fields := []zap.Field{
		zap.String("item", Label(o.Record)),
		zap.Int("index", o.Index+1),
		zap.Int("total", total),
		zap.String("status", string(o.Status)),
		zap.Int("attempts", o.Attempts),
		zap.Duration("duration", o.Duration),
	}
	switch o.Status {
	case StatusOK:
		log.Info("item enriched", fields...)
	case StatusParseFailure:
		log.Warn("unparseable response, kept original record", append(fields, zap.Error(o.Err))...)
	default:
		kind := enrich.KindUnreachable
		var rf *enrich.RequestFailure
		if errors.As(o.Err, &rf) {
			kind = rf.Kind()
			fields = append(fields, zap.Int("http_status", rf.StatusCode))
		}
		fields = append(fields, zap.String("kind", string(kind)), zap.Error(o.Err))
		log.Warn("request failed, kept original record", fields...)
	}
}

// Label picks a human-readable name for a record.
func Label(rec record.Record) string {
	for _, k := range []string{"term", "term_source", "word", "id"} {
		if v := rec.String(k); v != "" {
			return v
		}
	}
	return "unknown"
}

func warnIDMismatches(log *zap.Logger, inputs, progress []record.Record) {
	const maxReported = 5
	reported := 0
	mismatches := 0
	for i, p := range progress {
		if !p.Has("id") || !inputs[i].Has("id") {
			continue
		}
		got, want := p.String("id"), inputs[i].String("id")
		if got == want {
			continue
		}
		mismatches++
		if reported < maxReported {
			log.Warn("checkpoint record does not match input position",
				zap.Int("index", i+1),
				zap.String("checkpoint_id", got),
				zap.String("input_id", want),
			)
			reported++
		}
	}
	if mismatches > reported {
		log.Warn("further checkpoint id mismatches suppressed", zap.Int("count", mismatches-reported))
	}
}
