package expiry

import (
	"context"
	"time"

	"cipherstore/internal/domain/message"
	"cipherstore/internal/domain/perf"
	"cipherstore/internal/metrics"
	"cipherstore/internal/repository"
	"cipherstore/pkg/logger"

	"go.uber.org/zap"
)

// Engine identifies and removes messages whose retention window has elapsed.
// Expiry is best effort, eventually: a missed tick delays deletion but a
// message is never removed before its deadline.
type Engine struct {
	messages repository.MessageRepository
	perfRepo repository.PerfRepository
	log      *logger.Logger
	met      *metrics.Metrics
	clock    func() time.Time
}

func NewEngine(messages repository.MessageRepository, perfRepo repository.PerfRepository, log *logger.Logger, met *metrics.Metrics) *Engine {
	return &Engine{
		messages: messages,
		perfRepo: perfRepo,
		log:      log,
		met:      met,
		clock:    time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// SweepOnce deletes every message that is armed and past its deadline,
// returning the number removed. Errors are reported to the caller; the
// runner treats them as non-fatal and retries next tick.
func (e *Engine) SweepOnce(ctx context.Context) (int64, error) {
	now := e.clock()
	start := now

	deleted, err := e.messages.DeleteExpired(ctx, now)
	elapsed := e.clock().Sub(start)

	if e.met != nil {
		e.met.ExpirySweepDuration.Observe(elapsed.Seconds())
		if err != nil {
			e.met.ExpirySweepErrors.Inc()
		} else {
			e.met.MessagesExpired.Add(float64(deleted))
		}
	}
	if err != nil {
		return 0, err
	}
	if deleted > 0 && e.log != nil {
		e.log.InfoCtx(ctx, "expiry sweep removed messages", zap.Int64("deleted", deleted))
	}
	if e.perfRepo != nil {
		_ = e.perfRepo.RecordMetric(ctx, &perf.Metric{
			Name:       "expiry_sweep_duration_ms",
			Value:      float64(elapsed.Milliseconds()),
			Unit:       "ms",
			RecordedAt: now,
		})
	}
	return deleted, nil
}

// Upcoming returns messages whose deadline falls strictly inside
// (now, now+horizon], for UI countdowns.
func (e *Engine) Upcoming(ctx context.Context, horizon time.Duration) ([]message.Message, error) {
	now := e.clock()
	return e.messages.ExpiringBefore(ctx, now, now.Add(horizon))
}

// Expired exposes the sweep predicate without deleting anything.
func (e *Engine) Expired(ctx context.Context) ([]message.Message, error) {
	return e.messages.Expired(ctx, e.clock())
}
