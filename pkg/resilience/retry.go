package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrRetriesExhausted is returned when all attempts of a retried call failed.
var ErrRetriesExhausted = errors.New("all retry attempts failed")

// Verdict classifies a failed attempt.
type Verdict int

const (
	// Fatal stops retrying immediately and returns the error.
	Fatal Verdict = iota
	// Transient retries after the next backoff step.
	Transient
	// Throttled retries after the provider-supplied delay when one is
	// known, otherwise after the next backoff step.
	Throttled
)

// Classifier inspects an attempt error and decides how to proceed.
// The returned duration is a provider hint (e.g. a Retry-After header)
// and is only honored for Throttled verdicts; zero means no hint.
type Classifier func(err error) (Verdict, time.Duration)

// DefaultBackoff mirrors the provider backoff ladder used across the
// pipeline: 5s, 15s, 30s, 60s.
var DefaultBackoff = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// Retryer runs an operation with bounded retries and a backoff schedule.
// The same instance is shared by every LLM-calling site so retry behavior
// cannot drift between them.
type Retryer struct {
	schedule []time.Duration
	attempts int
	classify Classifier
	logger   *zap.Logger
}

// NewRetryer creates a Retryer. attempts <= 0 defaults to 3; a nil
// schedule uses DefaultBackoff; a nil classifier treats every error as
// transient.
func NewRetryer(attempts int, schedule []time.Duration, classify Classifier, logger *zap.Logger) *Retryer {
	if attempts <= 0 {
		attempts = 3
	}
	if len(schedule) == 0 {
		schedule = DefaultBackoff
	}
	if classify == nil {
		classify = func(error) (Verdict, time.Duration) { return Transient, 0 }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{schedule: schedule, attempts: attempts, classify: classify, logger: logger}
}

// Do invokes fn until it succeeds, a fatal error occurs, the attempt
// budget is exhausted, or ctx is cancelled. The last attempt error is
// wrapped under ErrRetriesExhausted when the budget runs out.
func (r *Retryer) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < r.attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		verdict, hint := r.classify(err)
		if verdict == Fatal {
			return err
		}
		if attempt == r.attempts-1 {
			break
		}

		wait := r.schedule[min(attempt, len(r.schedule)-1)]
		if verdict == Throttled && hint > 0 {
			wait = hint
		}
		r.logger.Warn("retrying operation",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	return errors.Join(ErrRetriesExhausted, lastErr)
}

// sleep waits cooperatively, returning early on context cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
