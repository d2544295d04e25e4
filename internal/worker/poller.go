package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	applog "allowance/internal/log"
)

// PollerConfig holds configuration for the pending-sync poller
type PollerConfig struct {
	// Interval is how often to check for pending transactions (default: 30s)
	Interval time.Duration

	// BatchSize is the max number of transactions per cycle (default: 10)
	BatchSize int
}

func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:  30 * time.Second,
		BatchSize: 10,
	}
}

// pendingProcessor is satisfied by SyncWorker.
type pendingProcessor interface {
	ProcessPending(ctx context.Context, limit int) (synced, failed int, err error)
}

// Poller runs the pending pass on a ticker until stopped.
type Poller struct {
	worker pendingProcessor
	config PollerConfig
	logger *applog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewPoller(worker pendingProcessor, config PollerConfig, logger *applog.Logger) *Poller {
	def := DefaultPollerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &Poller{
		worker: worker,
		config: config,
		logger: logger.WithComponent(applog.ComponentWorker),
	}
}

// Start begins the polling loop. Returns an error if already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	p.logger.InfoContext(ctx, "Sync poller started",
		"interval", p.config.Interval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for it to finish or for ctx to expire.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Sync poller stopped")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Sync poller stop timed out")
		return ctx.Err()
	}
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	synced, failed, err := p.worker.ProcessPending(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Pending sync pass failed", applog.FieldError, err)
		return
	}
	if synced+failed > 0 {
		p.logger.InfoContext(ctx, "Pending sync pass finished",
			applog.FieldOperation, applog.OpSync,
			"synced", synced,
			"errors", failed)
	}
}
