package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/shpitdev/vocab-enricher/pkg/pipeline/core"
)

type Options struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration

	// Window caps how far dispatch may run ahead of the last committed item.
	// Defaults to 2*Workers.
	Window int

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64

	// BackoffInitial is the initial sleep before retrying a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64

	// OnRetry, when set, is called before sleeping ahead of a retry.
	OnRetry func(attempt int, err error, sleep time.Duration)
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	Input    In
	Output   Out
	Err      error
	Attempts int
	Duration time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Window < o.Workers {
		o.Window = 2 * o.Workers
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 10 * time.Second
	}
	if o.BackoffJitterFrac < 0 {
		o.BackoffJitterFrac = 0
	}
	return o
}

// ProcessInOrder runs the processor over items with up to opts.Workers in flight and
// calls commit exactly once per item, in input order, from a single goroutine.
//
// Completions that arrive out of order are buffered until every earlier item has been
// committed. Dispatch never runs more than opts.Window items ahead of the last commit.
// Item errors are handed to commit like any other result. A commit error or cancellation
// of ctx stops the run; items that were processed but not yet committed are dropped.
func ProcessInOrder[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	commit func(idx int, res Result[In, Out]) error,
	opts Options,
) error {
	opts = opts.withDefaults()
	if len(items) == 0 {
		return ctx.Err()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	type job struct {
		idx int
		in  In
	}
	type completion struct {
		idx int
		res Result[In, Out]
	}

	jobs := make(chan job)
	done := make(chan completion, opts.Workers)
	slots := make(chan struct{}, opts.Window)

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < opts.Workers; i++ {
		g.Go(func() error {
			for j := range jobs {
				if gctx.Err() != nil {
					return nil
				}
				res := processOne(gctx, j.in, processor, limiter, opts)
				select {
				case done <- completion{idx: j.idx, res: res}:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case slots <- struct{}{}:
			case <-runCtx.Done():
				return
			}
			select {
			case jobs <- job{idx: i, in: item}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		_ = g.Wait()
		close(done)
	}()

	pending := make(map[int]Result[In, Out])
	next := 0
	var stopErr error
	for c := range done {
		if stopErr != nil || runCtx.Err() != nil {
			continue
		}
		pending[c.idx] = c.res
		for {
			res, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if err := commit(next, res); err != nil {
				stopErr = err
				cancel()
				break
			}
			next++
			<-slots
		}
	}

	if stopErr != nil {
		return stopErr
	}
	if next == len(items) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return context.Canceled
}

func processOne[In any, Out any](
	ctx context.Context,
	item In,
	processor func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) Result[In, Out] {
	start := time.Now()
	res, attempts, err := processWithRetry(ctx, item, processor, limiter, opts)
	return Result[In, Out]{
		Input:    item,
		Output:   res,
		Err:      err,
		Attempts: attempts,
		Duration: time.Since(start),
	}
}

func processWithRetry[In any, Out any](
	ctx context.Context,
	item In,
	processor func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) (Out, int, error) {
	var lastOut Out
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastOut, attempt, err
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return lastOut, attempt, err
			}
		}

		reqCtx := context.WithValue(ctx, attemptKey{}, attempt+1)
		var cancel context.CancelFunc
		if opts.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(reqCtx, opts.RequestTimeout)
		}
		result, err := processor(reqCtx, item)
		lastOut = result
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, attempt + 1, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return lastOut, attempt + 1, ctx.Err()
		}
		if !WillRetry(err, attempt+1, opts.MaxRetries) {
			return lastOut, attempt + 1, err
		}

		sleep := backoffSleep(opts.BackoffInitial, opts.BackoffMax, opts.BackoffJitterFrac, attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err, sleep)
		}
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return lastOut, attempt + 1, ctx.Err()
		}
	}
}

type attemptKey struct{}

// Attempt returns the 1-based attempt number of the call carrying ctx, or 0 when ctx
// did not come from ProcessInOrder.
func Attempt(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}

// retryCap lets an error lower the retry budget for itself.
type retryCap interface {
	MaxExtraRetries() int
}

type transienter interface {
	Transient() bool
}

func maxExtraRetries(defaultRetries int, err error) int {
	if defaultRetries < 0 {
		defaultRetries = 0
	}
	var capErr retryCap
	if errors.As(err, &capErr) {
		limited := capErr.MaxExtraRetries()
		if limited < 0 {
			limited = 0
		}
		if limited < defaultRetries {
			return limited
		}
	}
	return defaultRetries
}

// WillRetry reports whether a call that failed with err on the given 1-based attempt is
// retried under a budget of maxRetries extra attempts.
func WillRetry(err error, attempt, maxRetries int) bool {
	return isTransient(err) && attempt <= maxExtraRetries(maxRetries, err)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return isTransient(err)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	var tr transienter
	if errors.As(err, &tr) {
		return tr.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func backoffSleep(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	// Apply +/- jitterFrac.
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
