// Package application contains the use-case services: the transaction
// sequencer that owns the issuer signer, and the coordinators built on it.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/degreeledger/internal/domain/model"
	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

// SequencerState is the worker's current activity.
type SequencerState string

const (
	SequencerIdle        SequencerState = "idle"
	SequencerSubmitting  SequencerState = "submitting"
	SequencerAwaiting    SequencerState = "awaiting"
	SequencerReconciling SequencerState = "reconciling"
	SequencerStopped     SequencerState = "stopped"
)

// SequencerStatus is a point-in-time snapshot for health reporting.
type SequencerStatus struct {
	State SequencerState
	// Synced is false while the signer's sequence position is unknown.
	Synced       bool
	NextSequence uint64
	QueueDepth   int
	LastTxHash   string
}

// SequencerConfig tunes the reconciliation barrier.
type SequencerConfig struct {
	ReconcileInitialInterval time.Duration
	ReconcileMaxInterval     time.Duration
}

// TxQueue accepts ledger write calls for ordered submission.
type TxQueue interface {
	Enqueue(ctx context.Context, call model.Call) *Future
}

// Future resolves once the sequencer has a definitive answer for a call.
type Future struct {
	done    chan struct{}
	receipt model.Receipt
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(receipt model.Receipt, err error) {
	f.receipt = receipt
	f.err = err
	close(f.done)
}

// Wait blocks until the call resolves or ctx ends. Abandoning the wait does not
// affect a call the sequencer already submitted.
func (f *Future) Wait(ctx context.Context) (model.Receipt, error) {
	select {
	case <-f.done:
		return f.receipt, f.err
	case <-ctx.Done():
		return model.Receipt{}, ctx.Err()
	}
}

type job struct {
	ctx    context.Context
	call   model.Call
	future *Future
}

// Sequencer serializes every write from the single issuer signer. One worker
// submits calls in FIFO order and never submits the next call before the
// previous one has a receipt or a definitive failure. After an unknown
// outcome it holds the queue until the ledger reports no in-flight signer
// transactions, then resumes at the ledger's confirmed sequence number.
type Sequencer struct {
	ledger driven.LedgerClient
	cfg    SequencerConfig
	logger *slog.Logger

	wake chan struct{}

	mu      sync.Mutex
	queue   []*job
	stopped bool
	status  SequencerStatus
}

// Compile-time interface satisfaction check.
var _ TxQueue = (*Sequencer)(nil)

// NewSequencer creates a Sequencer. The signer position starts unknown, so the
// first submission is preceded by reconciliation.
func NewSequencer(ledger driven.LedgerClient, cfg SequencerConfig, logger *slog.Logger) *Sequencer {
	if cfg.ReconcileInitialInterval <= 0 {
		cfg.ReconcileInitialInterval = 500 * time.Millisecond
	}
	if cfg.ReconcileMaxInterval <= 0 {
		cfg.ReconcileMaxInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
		wake:   make(chan struct{}, 1),
		status: SequencerStatus{State: SequencerIdle},
	}
}

// Enqueue appends call to the queue. If ctx ends before the call is submitted
// the call is skipped; once submitted it runs to completion regardless of ctx.
func (s *Sequencer) Enqueue(ctx context.Context, call model.Call) *Future {
	f := newFuture()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		f.resolve(model.Receipt{}, ErrSequencerStopped)
		return f
	}
	s.queue = append(s.queue, &job{ctx: ctx, call: call, future: f})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return f
}

// Submit enqueues call and waits for its receipt.
func (s *Sequencer) Submit(ctx context.Context, call model.Call) (model.Receipt, error) {
	return s.Enqueue(ctx, call).Wait(ctx)
}

// Status returns a snapshot of the sequencer.
func (s *Sequencer) Status() SequencerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.QueueDepth = len(s.queue)
	return st
}

// Start runs the worker loop. It blocks until ctx is canceled, then resolves
// every call still queued with ErrSequencerStopped.
func (s *Sequencer) Start(ctx context.Context) {
	s.logger.Info("transaction sequencer started")
	for {
		j, ok := s.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				s.stop()
				return
			case <-s.wake:
				continue
			}
		}

		if ctx.Err() != nil {
			j.future.resolve(model.Receipt{}, ErrSequencerStopped)
			s.stop()
			return
		}
		s.process(ctx, j)
	}
}

func (s *Sequencer) dequeue() (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	j := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return j, true
}

func (s *Sequencer) stop() {
	s.mu.Lock()
	s.stopped = true
	pending := s.queue
	s.queue = nil
	s.status.State = SequencerStopped
	s.mu.Unlock()

	for _, j := range pending {
		j.future.resolve(model.Receipt{}, ErrSequencerStopped)
	}
	s.logger.Info("transaction sequencer stopped", "abandoned", len(pending))
}

func (s *Sequencer) process(ctx context.Context, j *job) {
	if err := j.ctx.Err(); err != nil {
		s.logger.Info("skipping call canceled before submission", "method", j.call.Method, "error", err)
		j.future.resolve(model.Receipt{}, fmt.Errorf("%s not submitted: %w", j.call.Method, err))
		return
	}

	if !s.Status().Synced {
		if err := s.reconcile(ctx); err != nil {
			j.future.resolve(model.Receipt{}, ErrSequencerStopped)
			return
		}
	}

	sequence := s.Status().NextSequence
	s.setState(SequencerSubmitting)

	ptx, err := s.ledger.Submit(ctx, j.call, sequence)
	if err != nil {
		switch {
		case errors.Is(err, driven.ErrSequenceConflict):
			s.logger.Warn("ledger refused sequence, signer position stale",
				"method", j.call.Method, "sequence", sequence, "error", err)
			s.markUnsynced()
		case errors.Is(err, driven.ErrRejected) && !errors.Is(err, driven.ErrConnection):
			s.logger.Warn("ledger rejected call", "method", j.call.Method, "sequence", sequence, "error", err)
		default:
			s.logger.Error("submit failed, signer position unknown", "method", j.call.Method, "sequence", sequence, "error", err)
			s.markUnsynced()
		}
		s.setState(SequencerIdle)
		j.future.resolve(model.Receipt{}, err)
		return
	}

	s.mu.Lock()
	s.status.State = SequencerAwaiting
	s.status.LastTxHash = ptx.Hash
	s.mu.Unlock()
	s.logger.Info("transaction submitted", "method", j.call.Method, "tx_hash", ptx.Hash, "sequence", sequence)

	receipt, err := s.ledger.AwaitConfirmation(ctx, ptx)
	if err != nil {
		s.logger.Error("confirmation not observed, signer position unknown",
			"method", j.call.Method, "tx_hash", ptx.Hash, "sequence", sequence, "error", err)
		s.markUnsynced()
		s.setState(SequencerIdle)

		var timeoutErr *driven.TimeoutError
		if !errors.As(err, &timeoutErr) {
			err = &driven.TimeoutError{TxHash: ptx.Hash, Sequence: sequence, Cause: err}
		}
		j.future.resolve(model.Receipt{}, err)
		return
	}

	s.mu.Lock()
	s.status.NextSequence = sequence + 1
	s.status.State = SequencerIdle
	s.mu.Unlock()

	if !receipt.Succeeded {
		s.logger.Warn("transaction reverted", "method", j.call.Method, "tx_hash", ptx.Hash, "sequence", sequence)
		j.future.resolve(receipt, fmt.Errorf("%s %s: %w", j.call.Method, ptx.Hash, driven.ErrReverted))
		return
	}

	s.logger.Info("transaction confirmed",
		"method", j.call.Method, "tx_hash", ptx.Hash, "sequence", sequence, "block", receipt.BlockNumber)
	j.future.resolve(receipt, nil)
}

// reconcile polls the ledger until no signer transaction is in flight, then
// adopts the confirmed sequence number. It only fails when ctx ends.
func (s *Sequencer) reconcile(ctx context.Context) error {
	s.setState(SequencerReconciling)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconcileInitialInterval
	b.MaxInterval = s.cfg.ReconcileMaxInterval
	b.MaxElapsedTime = 0

	op := func() (model.SequenceState, error) {
		state, err := s.ledger.SignerSequence(ctx)
		if err != nil {
			return state, err
		}
		if n := state.InFlight(); n > 0 {
			return state, fmt.Errorf("%d signer transactions still in flight", n)
		}
		return state, nil
	}
	notify := func(err error, next time.Duration) {
		s.logger.Warn("signer sequence not settled, holding queue", "error", err, "retry_in", next)
	}

	state, err := backoff.RetryNotifyWithData(op, backoff.WithContext(b, ctx), notify)
	if err != nil {
		return fmt.Errorf("reconcile signer sequence: %w", err)
	}

	s.mu.Lock()
	s.status.Synced = true
	s.status.NextSequence = state.Confirmed
	s.status.State = SequencerIdle
	s.mu.Unlock()

	s.logger.Info("signer sequence reconciled", "sequence", state.Confirmed)
	return nil
}

func (s *Sequencer) setState(state SequencerState) {
	s.mu.Lock()
	s.status.State = state
	s.mu.Unlock()
}

func (s *Sequencer) markUnsynced() {
	s.mu.Lock()
	s.status.Synced = false
	s.mu.Unlock()
}
