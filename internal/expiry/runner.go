package expiry

import (
	"context"
	"time"

	"cipherstore/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner drives the engine on a fixed tick. A failed sweep iteration only
// logs; the scheduler itself never stops on store errors.
type Runner struct {
	engine   *Engine
	interval time.Duration
}

func NewRunner(engine *Engine, interval time.Duration) *Runner {
	return &Runner{engine: engine, interval: interval}
}

func (r *Runner) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Runner) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Each tick carries its own sweep id so a failing sweep's log
			// lines correlate.
			tickCtx := context.WithValue(ctx, logger.SweepIdKey, uuid.NewString())
			if _, err := r.engine.SweepOnce(tickCtx); err != nil && r.engine.log != nil {
				r.engine.log.ErrorCtx(tickCtx, "expiry sweep failed", zap.Error(err))
			}
		}
	}
}
