package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

// MirrorRetrierConfig bounds the background mirror retries.
type MirrorRetrierConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed is how long one failed write is retried before it is dropped.
	MaxElapsed time.Duration
	QueueSize  int
}

// MirrorRetrier replays mirror-only writes that failed after a ledger
// confirmation. Issuance writes use insert-if-absent and revocations are
// first-write-wins, so repeated attempts never duplicate a record.
type MirrorRetrier struct {
	store  driven.MirrorStore
	cfg    MirrorRetrierConfig
	logger *slog.Logger
	jobs   chan *MirrorWriteError

	wg      sync.WaitGroup
	mu      sync.Mutex
	pending int
}

// NewMirrorRetrier creates a MirrorRetrier. Call Start to begin processing.
func NewMirrorRetrier(store driven.MirrorStore, cfg MirrorRetrierConfig, logger *slog.Logger) *MirrorRetrier {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = time.Minute
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 10 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MirrorRetrier{
		store:  store,
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan *MirrorWriteError, cfg.QueueSize),
	}
}

// Schedule queues a failed write. It never blocks; it returns false and logs
// the lost write when the queue is full.
func (r *MirrorRetrier) Schedule(mwErr *MirrorWriteError) bool {
	// Counted before the send so a worker finishing first never drives it negative.
	r.mu.Lock()
	r.pending++
	r.mu.Unlock()

	select {
	case r.jobs <- mwErr:
		return true
	default:
		r.done()
		r.logger.Error("mirror retry queue full, write needs manual replay",
			"credential_id", mwErr.CredentialID, "tx_hash", mwErr.TxHash)
		return false
	}
}

// Pending returns the number of writes queued or being retried.
func (r *MirrorRetrier) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Start processes scheduled writes until ctx is canceled, then waits for
// in-progress retries to observe the cancellation.
func (r *MirrorRetrier) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.logger.Info("mirror retrier stopped")
			return
		case mwErr := <-r.jobs:
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				defer r.done()
				if err := r.retry(ctx, mwErr); err != nil {
					r.logger.Error("mirror write abandoned, needs manual replay",
						"credential_id", mwErr.CredentialID, "tx_hash", mwErr.TxHash, "error", err)
				}
			}()
		}
	}
}

func (r *MirrorRetrier) done() {
	r.mu.Lock()
	r.pending--
	r.mu.Unlock()
}

func (r *MirrorRetrier) retry(ctx context.Context, mwErr *MirrorWriteError) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = r.cfg.MaxElapsed

	op := func() error {
		return r.apply(ctx, mwErr)
	}
	notify := func(err error, next time.Duration) {
		r.logger.Warn("mirror write retry failed",
			"credential_id", mwErr.CredentialID, "error", err, "retry_in", next)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return err
	}
	r.logger.Info("mirror write recovered", "credential_id", mwErr.CredentialID, "tx_hash", mwErr.TxHash)
	return nil
}

func (r *MirrorRetrier) apply(ctx context.Context, mwErr *MirrorWriteError) error {
	switch {
	case mwErr.Record != nil:
		_, err := r.store.UpsertByCredentialID(ctx, *mwErr.Record)
		return err
	case mwErr.Revocation != nil:
		found, err := r.store.UpdateRevocation(ctx, mwErr.CredentialID, *mwErr.Revocation)
		if err != nil {
			return err
		}
		if !found {
			return backoff.Permanent(&RecordNotFoundError{CredentialID: mwErr.CredentialID, TxHash: mwErr.TxHash})
		}
		return nil
	default:
		return backoff.Permanent(errors.New("nothing to replay"))
	}
}

// Replay runs one retry cycle for mwErr synchronously.
func (r *MirrorRetrier) Replay(ctx context.Context, mwErr *MirrorWriteError) error {
	if err := r.retry(ctx, mwErr); err != nil {
		return fmt.Errorf("replay mirror write for %s: %w", mwErr.CredentialID, err)
	}
	return nil
}
