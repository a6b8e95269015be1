package delivery

import (
	"context"
	"errors"
	"time"

	"cipherstore/internal/domain/queue"
	store_errors "cipherstore/pkg/errors"
)

// Transport attempts delivery of one queue entry. Implemented outside this
// core by the sync orchestrator; the dispatcher only cares whether the
// attempt succeeded.
type Transport interface {
	Deliver(ctx context.Context, entry queue.QueuedMessage) error
}

// Dispatcher pulls eligible batches on a tick and reports each attempt's
// outcome back through the service. A failed iteration never stops the loop.
type Dispatcher struct {
	service   *Service
	transport Transport
	batchSize int
	interval  time.Duration
	maxAge    time.Duration
}

func NewDispatcher(service *Service, transport Transport, batchSize int, interval, maxAge time.Duration) *Dispatcher {
	return &Dispatcher{
		service:   service,
		transport: transport,
		batchSize: batchSize,
		interval:  interval,
		maxAge:    maxAge,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.processBatch(ctx)
		}
	}
}

func (d *Dispatcher) processBatch(ctx context.Context) {
	if d.maxAge > 0 {
		if _, err := d.service.PurgeStale(ctx, d.maxAge); err != nil && d.service.log != nil {
			d.service.log.Errorf("stale queue purge failed: %v", err)
		}
	}

	batch, err := d.service.DequeueBatch(ctx, d.batchSize)
	if err != nil {
		if d.service.log != nil {
			d.service.log.Errorf("dequeue failed: %v", err)
		}
		return
	}

	for _, entry := range batch {
		if err := d.transport.Deliver(ctx, entry); err != nil {
			if recErr := d.service.RecordFailure(ctx, entry, err); recErr != nil &&
				!errors.Is(recErr, store_errors.ErrQueueExhausted) && d.service.log != nil {
				d.service.log.Errorf("recording failure for %s: %v", entry.ID, recErr)
			}
			continue
		}
		if err := d.service.RecordSuccess(ctx, entry); err != nil && d.service.log != nil {
			d.service.log.Errorf("recording success for %s: %v", entry.ID, err)
		}
	}
}
