package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval matches the dashboard's refresh cadence.
const DefaultPollInterval = 2 * time.Second

// WatchHandlers receives polling events. Any handler may be nil. OnDone fires
// exactly once per watch, when the batch reaches a terminal state; OnStopped
// fires when the loop stops without reaching one (a permanent rejection such
// as unauthorized, forbidden, or not found, or replaced by a newer watch).
type WatchHandlers struct {
	OnUpdate  func(status *BatchStatus)
	OnUsage   func(usage *Usage)
	OnDone    func(status *BatchStatus)
	OnHistory func(batches []Batch)
	OnStopped func(err error)
}

// Poller tracks one batch at a time against the API. Starting a new watch
// deterministically cancels the previous loop before the new one begins, so
// callbacks from two loops never interleave.
type Poller struct {
	client   *Client
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	notified map[string]bool
}

func NewPoller(client *Client, interval time.Duration, logger *zap.Logger) (*Poller, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Poller{
		client:   client,
		interval: interval,
		logger:   logger,
		notified: make(map[string]bool),
	}, nil
}

// Watch starts polling batchID until it reaches a terminal state, the
// credential is rejected, or the watch is replaced or closed. It returns once
// the loop is running; events arrive through handlers.
func (p *Poller) Watch(ctx context.Context, batchID string, handlers WatchHandlers) {
	p.stopCurrent()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.loop(loopCtx, batchID, handlers, done)
}

// Close stops the active watch, if any, and waits for its loop to exit.
func (p *Poller) Close() {
	p.stopCurrent()
}

func (p *Poller) stopCurrent() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (p *Poller) loop(ctx context.Context, batchID string, handlers WatchHandlers, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		finished, err := p.pollOnce(ctx, batchID, handlers)
		if finished {
			return
		}
		if err != nil {
			if handlers.OnStopped != nil {
				handlers.OnStopped(err)
			}
			return
		}

		select {
		case <-ctx.Done():
			if handlers.OnStopped != nil {
				handlers.OnStopped(ctx.Err())
			}
			return
		case <-ticker.C:
		}
	}
}

// pollOnce takes one status and usage snapshot. It reports finished when the
// batch is terminal, and returns an error only for conditions that should
// stop the loop; transient request failures are logged and retried on the
// next tick.
func (p *Poller) pollOnce(ctx context.Context, batchID string, handlers WatchHandlers) (bool, error) {
	status, err := p.client.GetBatchStatus(ctx, batchID)
	if err != nil {
		return false, p.classifyPollError(batchID, err)
	}

	if handlers.OnUpdate != nil {
		handlers.OnUpdate(status)
	}

	if usage, err := p.client.Usage(ctx); err != nil {
		if stopErr := p.classifyPollError(batchID, err); stopErr != nil {
			return false, stopErr
		}
	} else if handlers.OnUsage != nil {
		handlers.OnUsage(usage)
	}

	if status.Terminal() {
		if handlers.OnDone != nil && p.markNotified(batchID) {
			handlers.OnDone(status)
		}
		if handlers.OnHistory != nil {
			if batches, err := p.client.ListBatches(ctx); err != nil {
				p.logger.Debug("history refresh failed", zap.Error(err))
			} else {
				handlers.OnHistory(batches)
			}
		}
		return true, nil
	}
	return false, nil
}

// markNotified records the terminal notification for batchID and reports
// whether this was the first one this session.
func (p *Poller) markNotified(batchID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.notified[batchID] {
		return false
	}
	p.notified[batchID] = true
	return true
}

func (p *Poller) classifyPollError(batchID string, err error) error {
	// Permanent rejections stop the watch: a revoked credential, a batch
	// owned by someone else, or a deleted batch will never start resolving.
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	p.logger.Debug("poll failed, retrying on next tick",
		zap.String("batchId", batchID),
		zap.Error(err),
	)
	return nil
}
