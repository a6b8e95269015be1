package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cipherstore/internal/crypto"
	"cipherstore/internal/domain/message"
	"cipherstore/internal/domain/queue"
	"cipherstore/internal/metrics"
	"cipherstore/internal/repository"
	store_errors "cipherstore/pkg/errors"
	"cipherstore/pkg/logger"
)

// Service owns the offline delivery queue. It holds outbound messages until
// a transport confirms delivery, with bounded retry; entries leave the queue
// only through explicit acknowledgement or an explicit purge.
type Service struct {
	queue      repository.QueueRepository
	messages   repository.MessageRepository
	backoff    BackoffStrategy
	sealer     crypto.Sealer
	log        *logger.Logger
	met        *metrics.Metrics
	clock      func() time.Time
	maxRetries int
}

func NewService(queueRepo repository.QueueRepository, messages repository.MessageRepository, strategy BackoffStrategy, sealer crypto.Sealer, log *logger.Logger, met *metrics.Metrics) *Service {
	if strategy == nil {
		strategy = DefaultBackoff()
	}
	if sealer == nil {
		sealer = crypto.NoopSealer{}
	}
	return &Service{
		queue:    queueRepo,
		messages: messages,
		backoff:  strategy,
		sealer:   sealer,
		log:      log,
		met:      met,
		clock:    time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithMaxRetries sets the retry budget applied to entries enqueued without
// one of their own.
func (s *Service) WithMaxRetries(n int) *Service {
	s.maxRetries = n
	return s
}

// Enqueue seals the payload and stores the entry. The logical message and
// its queue entry are created together when a user sends; callers upsert the
// message first, then enqueue.
func (s *Service) Enqueue(ctx context.Context, entry *queue.QueuedMessage) error {
	if entry.MaxRetries <= 0 && s.maxRetries > 0 {
		entry.MaxRetries = s.maxRetries
	}
	sealed, err := s.sealer.Seal(entry.Payload)
	if err != nil {
		return fmt.Errorf("sealing payload: %w", err)
	}
	entry.Payload = sealed
	if err := s.queue.Enqueue(ctx, entry); err != nil {
		return err
	}
	s.observeDepth(ctx)
	return nil
}

// DequeueBatch returns up to limit entries that are inside their retry
// budget and past their backoff delay, in dequeue order, payloads unsealed.
// An entry that no longer unseals (key rotated underneath it) is charged a
// failed attempt and skipped; it never blocks the rest of the batch.
func (s *Service) DequeueBatch(ctx context.Context, limit int) ([]queue.QueuedMessage, error) {
	entries, err := s.queue.GetRetryable(ctx, 0)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	eligible := make([]queue.QueuedMessage, 0, len(entries))
	for _, e := range entries {
		if e.LastRetryAt.Valid {
			due := e.LastRetryAt.Time.Add(s.backoff.NextDelay(e.RetryCount))
			if now.Before(due) {
				continue
			}
		}
		payload, err := s.sealer.Open(e.Payload)
		if err != nil {
			if s.log != nil {
				s.log.Errorf("unsealing entry %s: %v", e.ID, err)
			}
			if recErr := s.RecordFailure(ctx, e, err); recErr != nil &&
				!errors.Is(recErr, store_errors.ErrQueueExhausted) && s.log != nil {
				s.log.Errorf("recording unseal failure for %s: %v", e.ID, recErr)
			}
			continue
		}
		e.Payload = payload
		eligible = append(eligible, e)
		if limit > 0 && len(eligible) >= limit {
			break
		}
	}
	return eligible, nil
}

// RecordSuccess acknowledges delivery: the entry is removed and the logical
// message moves to delivered.
func (s *Service) RecordSuccess(ctx context.Context, entry queue.QueuedMessage) error {
	if err := s.queue.Delete(ctx, entry.ID); err != nil {
		return err
	}
	if err := s.messages.UpdateStatus(ctx, []string{entry.MessageID}, message.StatusDelivered); err != nil {
		// The queue entry is gone; delivery already happened. Report but
		// do not resurrect the entry.
		if s.log != nil {
			s.log.Errorf("delivered message %s could not be marked: %v", entry.MessageID, err)
		}
	}
	if s.met != nil {
		s.met.QueueAttempts.WithLabelValues("success").Inc()
	}
	s.observeDepth(ctx)
	return nil
}

// RecordFailure bumps the retry bookkeeping. When the budget is exhausted
// the entry is retained for the failure purge and the logical message is
// marked failed so the UI can surface it; ErrQueueExhausted tells the caller
// to stop retrying.
func (s *Service) RecordFailure(ctx context.Context, entry queue.QueuedMessage, cause error) error {
	now := s.clock()
	entry.RetryCount++
	entry.LastRetryAt.Time = now
	entry.LastRetryAt.Valid = true
	if cause != nil {
		entry.LastError = cause.Error()
	}
	sealed, err := s.sealer.Seal(entry.Payload)
	if err != nil {
		return fmt.Errorf("sealing payload: %w", err)
	}
	entry.Payload = sealed
	if err := s.queue.Update(ctx, entry); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Warnf("delivery attempt %d/%d for entry %s failed: %v",
			entry.RetryCount, entry.MaxRetries, entry.ID, cause)
	}
	if s.met != nil {
		s.met.QueueAttempts.WithLabelValues("failure").Inc()
	}
	if entry.Failed() {
		if err := s.messages.UpdateStatus(ctx, []string{entry.MessageID}, message.StatusFailed); err != nil && s.log != nil {
			s.log.Errorf("exhausted message %s could not be marked failed: %v", entry.MessageID, err)
		}
		return store_errors.ErrQueueExhausted
	}
	return nil
}

// FailedCount counts entries past their retry budget, for the UI affordance
// that precedes a purge.
func (s *Service) FailedCount(ctx context.Context) (int64, error) {
	return s.queue.FailedCount(ctx)
}

// PurgeFailed discards exhausted entries after the caller has surfaced them.
func (s *Service) PurgeFailed(ctx context.Context) (int64, error) {
	purged, err := s.queue.DeleteFailed(ctx)
	if err != nil {
		return 0, err
	}
	if s.met != nil {
		s.met.QueuePurged.WithLabelValues("failed").Add(float64(purged))
	}
	s.observeDepth(ctx)
	return purged, nil
}

// PurgeStale drops entries older than maxAge regardless of retry state, the
// safety net against unbounded growth.
func (s *Service) PurgeStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	purged, err := s.queue.DeleteOlderThan(ctx, s.clock().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if s.met != nil {
		s.met.QueuePurged.WithLabelValues("stale").Add(float64(purged))
	}
	s.observeDepth(ctx)
	return purged, nil
}

func (s *Service) observeDepth(ctx context.Context) {
	if s.met == nil {
		return
	}
	if depth, err := s.queue.Depth(ctx); err == nil {
		s.met.QueueDepth.Set(float64(depth))
	}
	if failed, err := s.queue.FailedCount(ctx); err == nil {
		s.met.QueueFailedEntries.Set(float64(failed))
	}
}
