package stockcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// runWithConflictRetry runs fn, retrying on optimistic-lock conflicts up
// to the configured bound. Each retry is announced on the publisher; only
// RetryExhausted reaches the caller once the bound is spent.
// fnを実行し、楽観的ロック競合時は設定上限まで再試行する。再試行ごとに
// イベントを発行し、上限到達後はRetryExhaustedのみを返す。
func runWithConflictRetry(ctx context.Context, logger *zap.Logger, publisher EventPublisher, config *Config, operation, resource string, fn func() error) error {
	attempts := config.MaxConflictRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}

		logger.Warn("競合を検出しました。再試行します",
			zap.String("operation", operation),
			zap.String("resource", resource),
			zap.Int("attempt", attempt),
		)
		if publisher != nil {
			_ = publisher.PublishConflictRetry(ctx, ConflictRetryEvent{
				Operation: operation,
				Resource:  resource,
				Attempt:   attempt,
				Timestamp: time.Now(),
			})
		}
	}
	return NewBusinessRuleError(ErrRetryExhausted, CodeRetryExhausted,
		fmt.Sprintf("operation=%s resource=%s attempts=%d", operation, resource, attempts))
}
