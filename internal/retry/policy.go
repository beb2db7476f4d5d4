package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config holds the tunables for one retried operation.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero means a single attempt with no retries.
	MaxRetries int

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// BackoffMultiplier scales the delay on each subsequent retry.
	// Values below 1.0 are treated as 1.0 (constant delay).
	BackoffMultiplier float64

	// MaxDelay caps the computed delay. Zero means no cap.
	MaxDelay time.Duration

	// JitterRatio perturbs each delay by up to +/- this fraction.
	// 0.2 means the actual delay lands within 80-120% of the computed
	// value. Zero disables jitter.
	JitterRatio float64
}

// AttemptFunc is invoked after each failed attempt with the attempt
// number (starting at 1) and the error it produced.
type AttemptFunc func(attempt int, err error)

// Logger is the minimal logging interface the policy needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Warn(msg string, args ...any)  {}

// Policy executes operations with bounded retries and jittered
// exponential backoff. The zero value is not usable; construct with New.
type Policy struct {
	rng       func() float64
	sleep     func(ctx context.Context, d time.Duration) error
	onAttempt AttemptFunc
	logger    Logger
}

// New returns a Policy backed by the default randomness source and
// real timers.
func New() *Policy {
	return &Policy{
		rng:    rand.Float64,
		sleep:  sleepContext,
		logger: noopLogger{},
	}
}

// SetLogger attaches a logger for per-attempt diagnostics.
func (p *Policy) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// SetOnAttempt registers a callback invoked after every failed attempt.
// Used to surface per-attempt failures to the error reporter.
func (p *Policy) SetOnAttempt(fn AttemptFunc) {
	p.onAttempt = fn
}

// Execute runs op until it succeeds, returns a permanent error, the
// context is cancelled, or the attempt budget is spent.
//
// Returns:
//   - nil when op succeeds on any attempt
//   - the unwrapped cause when op returns an error marked Permanent
//   - the context error if cancelled while waiting between attempts
//   - an *ExhaustedError wrapping the final failure otherwise
func (p *Policy) Execute(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				p.logger.Debug("operation recovered", "attempt", attempt)
			}
			return nil
		}

		if IsPermanent(err) {
			p.logger.Debug("permanent error, not retrying", "attempt", attempt, "error", err)
			if p.onAttempt != nil {
				p.onAttempt(attempt, err)
			}
			return err
		}

		last = err
		p.logger.Warn("attempt failed", "attempt", attempt, "max_attempts", attempts, "error", err)
		if p.onAttempt != nil {
			p.onAttempt(attempt, err)
		}

		if attempt == attempts {
			break
		}

		delay := p.delayFor(cfg, attempt)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: last}
}

// delayFor computes the jittered backoff delay after the given failed
// attempt (1-based).
func (p *Policy) delayFor(cfg Config, attempt int) time.Duration {
	multiplier := cfg.BackoffMultiplier
	if multiplier < 1.0 {
		multiplier = 1.0
	}

	delay := float64(cfg.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.JitterRatio > 0 {
		// Spread the delay uniformly across [1-ratio, 1+ratio].
		factor := 1.0 + cfg.JitterRatio*(2.0*p.rng()-1.0)
		delay *= factor
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
