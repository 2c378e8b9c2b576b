package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/degreeledger/internal/domain/model"
	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

// RevokeResult describes a confirmed ledger revocation.
type RevokeResult struct {
	CredentialID string
	TxHash       string
	RevokedAt    time.Time
}

// RevocationService revokes credentials on the ledger and flags the mirror
// record afterwards. Revocation status is never pre-checked against the
// mirror; the ledger rejects a second revoke.
type RevocationService struct {
	queue  TxQueue
	mirror driven.MirrorStore
	opts   coordinatorOptions
}

// NewRevocationService creates a RevocationService.
func NewRevocationService(queue TxQueue, mirror driven.MirrorStore, opts ...CoordinatorOption) *RevocationService {
	return &RevocationService{
		queue:  queue,
		mirror: mirror,
		opts:   buildOptions(opts),
	}
}

type revokeOutcome struct {
	result RevokeResult
	err    error
}

// Revoke submits a revoke for credentialID. Errors: ErrValidation; ledger
// errors from the sequencer (driven.ErrRejected when the ledger refuses, for
// example a second revoke); *RecordNotFoundError or *MirrorWriteError after
// the ledger revoke confirmed, in which case the result is populated.
func (s *RevocationService) Revoke(ctx context.Context, credentialID string) (RevokeResult, error) {
	credentialID = model.CanonicalCredentialID(credentialID)
	if credentialID == "" {
		return RevokeResult{}, fmt.Errorf("%w: credential id is required", ErrValidation)
	}

	future := s.queue.Enqueue(ctx, model.Call{
		Method: model.MethodRevokeDegree,
		Args:   []any{credentialID},
	})

	done := make(chan revokeOutcome, 1)
	go func() {
		result, err := s.complete(context.WithoutCancel(ctx), credentialID, future)
		done <- revokeOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return RevokeResult{}, ctx.Err()
	}
}

func (s *RevocationService) complete(ctx context.Context, credentialID string, future *Future) (RevokeResult, error) {
	receipt, err := future.Wait(ctx)
	if err != nil {
		return RevokeResult{}, fmt.Errorf("revoke credential %s: %w", credentialID, err)
	}

	update := model.RevocationUpdate{
		RevokedAt:    s.opts.now().UTC(),
		RevokeTxHash: receipt.TxHash,
	}
	result := RevokeResult{CredentialID: credentialID, TxHash: receipt.TxHash, RevokedAt: update.RevokedAt}

	if err := s.applyRevocation(ctx, credentialID, update); err != nil {
		var mwErr *MirrorWriteError
		if errors.As(err, &mwErr) && s.opts.retrier != nil {
			s.opts.retrier.Schedule(mwErr)
		}
		return result, err
	}

	s.opts.logger.Info("credential revoked", "credential_id", credentialID, "tx_hash", receipt.TxHash)
	return result, nil
}

func (s *RevocationService) applyRevocation(ctx context.Context, credentialID string, update model.RevocationUpdate) error {
	mirrorErr := func(err error) error {
		s.opts.logger.Error("mirror revocation failed after ledger confirmation",
			"credential_id", credentialID, "tx_hash", update.RevokeTxHash, "error", err)
		return &MirrorWriteError{
			CredentialID: credentialID,
			TxHash:       update.RevokeTxHash,
			Revocation:   &update,
			Err:          err,
		}
	}

	record, err := s.mirror.FindByCredentialID(ctx, credentialID)
	if err != nil {
		return mirrorErr(err)
	}
	if record == nil {
		s.opts.logger.Warn("ledger revoke confirmed for credential without mirror record",
			"credential_id", credentialID, "tx_hash", update.RevokeTxHash)
		return &RecordNotFoundError{CredentialID: credentialID, TxHash: update.RevokeTxHash}
	}

	found, err := s.mirror.UpdateRevocation(ctx, credentialID, update)
	if err != nil {
		return mirrorErr(err)
	}
	if !found {
		return &RecordNotFoundError{CredentialID: credentialID, TxHash: update.RevokeTxHash}
	}
	return nil
}
