// Package retry runs storage operations with exponential backoff on
// transient failures.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/attendance-check/internal/logging"
)

// Policy controls how many attempts are made and how long to wait between
// them.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Expected marks errors that are a normal outcome of the operation,
	// such as a cache miss. They are returned as usual but logged at debug.
	Expected func(error) bool
}

// DefaultPolicy is used by the repository and the cache.
var DefaultPolicy = Policy{
	Attempts:       3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     time.Second,
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempts run out. Failures come back as *logging.OperationError.
func Do(ctx context.Context, logger *zap.Logger, policy Policy, operation, requestID string, fn func() error) error {
	if policy.Attempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := policy.InitialBackoff
	opLogger := logging.WithOperation(logger, operation, requestID)
	var err error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= policy.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !IsTransient(err) || attempt == policy.Attempts-1 {
			if policy.Expected != nil && policy.Expected(err) {
				opLogger.Debug("operation returned expected error", zap.Error(err))
			} else {
				opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewRetriedError(operation, requestID, attempt+1, err)
		}

		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewRetriedError(operation, requestID, policy.Attempts, err)
}

// IsTransient reports whether err is worth retrying: deadlines and network
// errors that report themselves as timeouts or temporary.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
