package service

import (
	"context"
	"sync"
	"time"

	"face-checkout-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ChainWatcherParams tunes on-chain confirmation watching.
type ChainWatcherParams struct {
	ConfirmationDepth uint64
	PollInterval      time.Duration
	WatchTimeout      time.Duration // Upper bound on one watch (default 30m)
}

type chainWatch struct {
	cancel context.CancelFunc
}

// ChainWatcherImpl implements ports.ChainWatcher: one cancellable,
// deadline-bounded polling task per pending transfer. A transfer that does
// not reach the confirmation depth before the deadline reports failure.
type ChainWatcherImpl struct {
	client ports.ChainClient
	params ChainWatcherParams
	log    zerolog.Logger

	mu      sync.Mutex
	watches map[uuid.UUID]*chainWatch
	wg      sync.WaitGroup
	closed  bool
}

// NewChainWatcher creates a new ChainWatcherImpl.
func NewChainWatcher(client ports.ChainClient, params ChainWatcherParams, log zerolog.Logger) *ChainWatcherImpl {
	return &ChainWatcherImpl{
		client:  client,
		params:  params,
		log:     log,
		watches: make(map[uuid.UUID]*chainWatch),
	}
}

// Watch starts a background confirmation watch for an order's transfer.
// A second watch for the same order replaces the first.
func (w *ChainWatcherImpl) Watch(orderID uuid.UUID, txHash string, done func(confirmed bool)) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if prev, ok := w.watches[orderID]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.params.WatchTimeout)
	watch := &chainWatch{cancel: cancel}
	w.watches[orderID] = watch
	w.wg.Add(1)
	w.mu.Unlock()

	go w.poll(ctx, orderID, txHash, watch, done)
}

// Cancel stops the watch for an order without reporting an outcome.
func (w *ChainWatcherImpl) Cancel(orderID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if watch, ok := w.watches[orderID]; ok {
		watch.cancel()
	}
}

// Shutdown cancels every watch and waits for the tasks to drain.
func (w *ChainWatcherImpl) Shutdown() {
	w.mu.Lock()
	w.closed = true
	for _, watch := range w.watches {
		watch.cancel()
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *ChainWatcherImpl) poll(ctx context.Context, orderID uuid.UUID, txHash string, watch *chainWatch, done func(confirmed bool)) {
	defer w.wg.Done()
	defer w.forget(orderID, watch)
	defer watch.cancel()

	ticker := time.NewTicker(w.params.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				w.log.Warn().
					Str("order_id", orderID.String()).
					Str("tx_hash", txHash).
					Msg("chain confirmation timed out")
				done(false)
			}
			return
		case <-ticker.C:
			status, err := w.client.TxStatus(ctx, txHash)
			if err != nil {
				w.log.Warn().Err(err).Str("tx_hash", txHash).Msg("chain status check failed, retrying")
				continue
			}
			if !status.Found {
				continue
			}
			if status.Failed {
				done(false)
				return
			}
			if status.Confirmations >= w.params.ConfirmationDepth {
				done(true)
				return
			}
		}
	}
}

// forget removes the watch entry unless a replacement already took the slot.
func (w *ChainWatcherImpl) forget(orderID uuid.UUID, watch *chainWatch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watches[orderID] == watch {
		delete(w.watches, orderID)
	}
}
