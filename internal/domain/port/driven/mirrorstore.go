package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/degreeledger/internal/domain/model"
)

// ErrStoreUnavailable wraps every mirror store failure. Mirror failures are
// never fatal to a ledger operation that already confirmed.
var ErrStoreUnavailable = errors.New("mirror store unavailable")

// MirrorStore defines the driven port for the secondary credential index.
type MirrorStore interface {
	// UpsertByCredentialID inserts record unless a record with the same
	// CredentialID exists. created is false when the record was already present.
	UpsertByCredentialID(ctx context.Context, record model.CredentialRecord) (created bool, err error)

	// UpdateRevocation marks the record revoked. Returns (false, nil) when no
	// record exists for credentialID.
	UpdateRevocation(ctx context.Context, credentialID string, update model.RevocationUpdate) (bool, error)

	// FindByCredentialID returns nil, nil when the record does not exist.
	FindByCredentialID(ctx context.Context, credentialID string) (*model.CredentialRecord, error)

	// FindByHolderAddress returns the holder's records ordered by issue time, oldest first.
	FindByHolderAddress(ctx context.Context, holderAddress string) ([]model.CredentialRecord, error)
}
