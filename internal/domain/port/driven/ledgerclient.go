package driven

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericfisherdev/degreeledger/internal/domain/model"
)

// Ledger failure classes. Adapters wrap these so callers can classify with errors.Is.
var (
	// ErrConnection means the ledger endpoint could not be reached.
	ErrConnection = errors.New("ledger connection failed")
	// ErrRejected means the node refused the call before broadcast, or the
	// contract rejected it. The signer's sequence position did not advance
	// unless the error is ErrReverted.
	ErrRejected = errors.New("ledger rejected call")
	// ErrSequenceConflict means the ledger refused the call because its
	// sequence number was already used or is out of order. The signer's
	// position is stale and must be re-read before the next submission.
	ErrSequenceConflict = fmt.Errorf("%w: signer sequence conflict", ErrRejected)
	// ErrReverted means the transaction was included but its execution failed.
	// It consumes a sequence number.
	ErrReverted = fmt.Errorf("%w: transaction reverted", ErrRejected)
	// ErrTimeout means confirmation was not observed in time. The transaction
	// may still confirm later.
	ErrTimeout = errors.New("ledger confirmation timed out")
	// ErrNotFound means a read referenced an identifier the ledger does not hold.
	ErrNotFound = errors.New("ledger record not found")
	// ErrQuery means a read failed at the protocol level.
	ErrQuery = errors.New("ledger query failed")
)

// TimeoutError reports a submitted transaction whose outcome is unknown.
type TimeoutError struct {
	TxHash   string
	Sequence uint64
	Cause    error
}

func (e *TimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transaction %s (sequence %d) outcome unknown: %v", e.TxHash, e.Sequence, e.Cause)
	}
	return fmt.Sprintf("transaction %s (sequence %d) outcome unknown: %v", e.TxHash, e.Sequence, ErrTimeout)
}

// Is makes every TimeoutError match ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// LedgerReader is the read-only half of the ledger port.
type LedgerReader interface {
	// Read performs a non-mutating contract query. Returns an error wrapping
	// ErrNotFound for unknown identifiers, ErrQuery for protocol failures, or
	// ErrConnection when the endpoint is unreachable.
	Read(ctx context.Context, call model.Call) (model.Values, error)
}

// LedgerClient defines the driven port for the append-only ledger that holds
// authoritative credential state. Write access is only safe through the
// application Sequencer, which owns the signer's sequence position.
type LedgerClient interface {
	LedgerReader

	// Submit signs and broadcasts call at the given signer sequence number.
	// Returns ErrConnection or ErrRejected wrapped errors on failure.
	Submit(ctx context.Context, call model.Call, sequence uint64) (model.PendingTx, error)

	// AwaitConfirmation blocks until tx is included and final, or the adapter's
	// confirmation timeout elapses (*TimeoutError). A mined but failed
	// transaction yields a receipt with Succeeded=false and no error.
	AwaitConfirmation(ctx context.Context, tx model.PendingTx) (model.Receipt, error)

	// DecodeEvents returns every log in receipt that matches eventName.
	DecodeEvents(receipt model.Receipt, eventName string) ([]model.Event, error)

	// SignerSequence returns the signer account's confirmed and pending
	// sequence numbers.
	SignerSequence(ctx context.Context) (model.SequenceState, error)

	// ValidateAddress checks that addr is a syntactically valid account identifier.
	ValidateAddress(addr string) error
}
