package sqlite

import (
	"context"
	"sync"
	"time"

	"github.com/yegors/co-scribe/pkg/logger"
)

// Pruner periodically deletes outcomes older than the retention window
type Pruner struct {
	storage   *OutcomeStorage
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPruner creates a pruner. A non-positive retention disables pruning.
func NewPruner(storage *OutcomeStorage, retention, interval time.Duration, log *logger.Logger) *Pruner {
	if interval <= 0 {
		interval = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pruner{
		storage:   storage,
		retention: retention,
		interval:  interval,
		logger:    log.Named("outcome-pruner"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs one prune immediately, then one per interval
func (p *Pruner) Start() {
	if p.retention <= 0 {
		p.logger.Info("Outcome retention is disabled, not starting pruner")
		return
	}

	p.logger.Info("Starting outcome pruner",
		logger.Duration("retention", p.retention),
		logger.Duration("interval", p.interval))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.pruneOnce()
		for {
			select {
			case <-p.ctx.Done():
				p.logger.Info("Outcome pruner stopped")
				return
			case <-ticker.C:
				p.pruneOnce()
			}
		}
	}()
}

// Stop stops the loop and waits for it to exit
func (p *Pruner) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pruner) pruneOnce() {
	cutoff := p.storage.now().Add(-p.retention)

	n, err := p.storage.DeleteOlderThan(p.ctx, cutoff)
	if err != nil {
		if p.ctx.Err() == nil {
			p.logger.Error("Failed to prune outcomes", logger.Error(err))
		}
		return
	}
	if n > 0 {
		p.logger.Debug("Pruned old outcomes", logger.Int64("deleted", n))
	}
}
