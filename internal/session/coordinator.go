// Package session implements the Session/Transaction Coordinator
// (SPEC_FULL.md §4.8/§5): the choke point every write operation passes
// through for bounded concurrency, per-request correlation, and bounded
// retry on a transient store conflict. Grounded on the teacher's
// dialect/sql.Tx begin/commit/rollback discipline for "one unit of work,
// one outcome", generalized with a pool bound and retry policy adapted
// from bittoy-rule's chain_engine worker-pool shape
// (engine/chain_engine.go's bounded goroutine dispatch).
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	catalog "github.com/syssam/metacatalog"
)

// Default retry policy (SPEC_FULL.md §4.8): five attempts, 10-200ms
// jittered exponential backoff.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 10 * time.Millisecond
	DefaultMaxDelay    = 200 * time.Millisecond
)

type correlationKey struct{}

// WithCorrelationID attaches id to ctx for downstream logging.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the correlation ID attached by the
// Coordinator, if any.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationKey{}).(string)
	return id, ok
}

// Coordinator bounds concurrent write sessions and retries operations that
// fail with a transient store conflict.
type Coordinator struct {
	sem         *semaphore.Weighted
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger attaches a zap logger; defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithRetryPolicy overrides the default attempt count and backoff bounds.
func WithRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Coordinator) {
		c.maxAttempts = maxAttempts
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// New builds a Coordinator that admits at most maxConcurrent sessions at
// once.
func New(maxConcurrent int64, opts ...Option) *Coordinator {
	c := &Coordinator{
		sem:         semaphore.NewWeighted(maxConcurrent),
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do acquires a session slot, stamps ctx with a fresh correlation ID, and
// runs fn, retrying with jittered exponential backoff while fn returns an
// error matching *catalog.StoreConflictError. Returns
// *catalog.StoreUnavailableError if the pool slot can't be acquired before
// ctx is done.
func (c *Coordinator) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return &catalog.StoreUnavailableError{Err: fmt.Errorf("session pool: %w", err), Transient: true}
	}
	defer c.sem.Release(1)

	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("session: generate correlation id: %w", err)
	}
	ctx = WithCorrelationID(ctx, id.String())
	log := c.logger.With(zap.String("correlation_id", id.String()))

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var conflict *catalog.StoreConflictError
		if !errors.As(lastErr, &conflict) {
			return lastErr
		}
		conflict.Attempts = attempt
		if attempt == c.maxAttempts {
			break
		}

		delay := backoffDelay(c.baseDelay, c.maxDelay, attempt)
		log.Debug("retrying after store conflict",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// backoffDelay computes a jittered exponential delay capped at maxDelay.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) + 1))
	half := d / 2
	return half + jitter/2
}
