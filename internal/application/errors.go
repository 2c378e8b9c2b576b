package application

import (
	"errors"
	"fmt"

	"github.com/ericfisherdev/degreeledger/internal/domain/model"
)

var (
	// ErrValidation wraps input failures detected before any ledger interaction.
	ErrValidation = errors.New("validation failed")
	// ErrSequencerStopped resolves calls still queued when the sequencer shuts down.
	ErrSequencerStopped = errors.New("transaction sequencer stopped")
)

// AssignmentError means an issuance transaction confirmed but did not yield
// exactly one credential identifier. It needs manual intervention; retrying
// the ledger call would issue a duplicate credential.
type AssignmentError struct {
	TxHash string
	Found  int
	Err    error
}

func (e *AssignmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("issuance %s confirmed but identifier could not be decoded: %v", e.TxHash, e.Err)
	}
	return fmt.Sprintf("issuance %s confirmed with %d issuance events, want 1", e.TxHash, e.Found)
}

func (e *AssignmentError) Unwrap() error {
	return e.Err
}

// MirrorWriteError means the ledger side of an operation confirmed but the
// mirror store could not be updated. It carries what a mirror-only retry needs.
type MirrorWriteError struct {
	CredentialID string
	TxHash       string
	// Exactly one of Record and Revocation is set.
	Record     *model.CredentialRecord
	Revocation *model.RevocationUpdate
	Err        error
}

func (e *MirrorWriteError) Error() string {
	return fmt.Sprintf("ledger transaction %s for credential %s confirmed, mirror write failed: %v",
		e.TxHash, e.CredentialID, e.Err)
}

func (e *MirrorWriteError) Unwrap() error {
	return e.Err
}

// RecordNotFoundError means a revoke confirmed on the ledger but the mirror
// holds no record for the credential. The ledger revocation stands.
type RecordNotFoundError struct {
	CredentialID string
	TxHash       string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("credential %s revoked on ledger by %s but has no mirror record", e.CredentialID, e.TxHash)
}
