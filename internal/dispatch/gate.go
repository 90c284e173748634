// Package dispatch guards every outbound send. The gate owns the three
// safety mechanisms of the pipeline: the dry-run switch, the process-wide
// send rate limit, and bounded retry with exponential backoff. Stage code
// never talks to a Transport directly.
package dispatch

import (
	"context"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"leadflow/internal/logging"
	"leadflow/internal/types"
)

// Options configures a Gate.
type Options struct {
	DryRun        bool
	RatePerMinute int
	MaxAttempts   int
	RetryBase     time.Duration
	RetryMax      time.Duration
}

// SendResult reports how a send concluded. Attempts counts transport calls
// made (a dry run counts as one); Simulated marks sends that never touched
// the wire.
type SendResult struct {
	Attempts  int
	Simulated bool
}

// Gate wraps a Transport with dry-run, rate limiting and retry.
type Gate struct {
	transport   types.Transport
	limiter     *rate.Limiter
	dryRun      bool
	maxAttempts int
	retryBase   time.Duration
	retryMax    time.Duration
}

// NewGate builds a gate around transport. DRY_RUN_MODE in the environment
// forces dry-run regardless of opts, so a misconfigured caller cannot send
// live mail from a test environment.
func NewGate(transport types.Transport, opts Options) *Gate {
	if opts.RatePerMinute < 1 {
		opts.RatePerMinute = 12
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 30 * time.Second
	}

	return &Gate{
		transport:   transport,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1),
		dryRun:      opts.DryRun || envDryRun(),
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
		retryMax:    opts.RetryMax,
	}
}

// DryRun reports whether the gate is in dry-run mode.
func (g *Gate) DryRun() bool {
	return g.dryRun
}

// Send delivers one message through the gate. Transient failures are
// retried with exponential backoff up to the attempt bound; permanent and
// auth failures return immediately. The result is non-nil even on error so
// callers can record attempts used.
func (g *Gate) Send(ctx context.Context, to, subject, body string) (*SendResult, error) {
	if g.dryRun {
		logging.Dispatch("[dry-run] would send to=%s subject=%q bytes=%d", to, subject, len(body))
		return &SendResult{Attempts: 1, Simulated: true}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff(g.retryBase, g.retryMax, attempt-1)
			logging.DispatchDebug("backing off %v before attempt %d to %s", delay, attempt, to)
			if err := sleepCtx(ctx, delay); err != nil {
				return &SendResult{Attempts: attempt - 1}, err
			}
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return &SendResult{Attempts: attempt - 1}, err
		}

		err := g.transport.Send(ctx, to, subject, body)
		if err == nil {
			logging.Dispatch("sent to=%s subject=%q attempts=%d", to, subject, attempt)
			return &SendResult{Attempts: attempt}, nil
		}
		lastErr = err

		if !types.IsTransient(err) {
			logging.DispatchError("send to %s failed permanently on attempt %d: %v", to, attempt, err)
			return &SendResult{Attempts: attempt}, err
		}
		logging.DispatchWarn("transient send failure to %s (attempt %d/%d): %v", to, attempt, g.maxAttempts, err)
	}

	logging.DispatchError("send to %s exhausted %d attempts: %v", to, g.maxAttempts, lastErr)
	return &SendResult{Attempts: g.maxAttempts}, lastErr
}

// backoff returns the delay after n consecutive failures:
// base * 2^(n-1), capped at max.
func backoff(base, max time.Duration, failures int) time.Duration {
	shift := failures - 1
	if shift > 20 {
		shift = 20
	}
	d := base << uint(shift)
	if d > max || d <= 0 {
		return max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func envDryRun() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DRY_RUN_MODE"))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
