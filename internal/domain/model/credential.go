package model

import (
	"strings"
	"time"
)

// CredentialState is the lifecycle position of a credential.
type CredentialState string

const (
	CredentialStateIssued  CredentialState = "issued"
	CredentialStateRevoked CredentialState = "revoked"
)

// CredentialRecord is the mirror (secondary index) copy of an issued credential.
// The ledger holds the authoritative state; this record exists for lookup by
// holder and for the descriptive metadata the ledger does not store.
type CredentialRecord struct {
	CredentialID   string
	HolderAddress  string
	IssuerName     string
	Institution    string
	CredentialName string
	StudentName    string
	StudentID      string // Optional.
	StudentEmail   string // Optional.
	IssueTxHash    string
	IssuedAt       time.Time
	IsRevoked      bool
	RevokedAt      *time.Time
	RevokeTxHash   string
}

// State reports the lifecycle state implied by the mirror record. Records are
// only created after ledger confirmation, so there is no pending mirror state.
func (r CredentialRecord) State() CredentialState {
	if r.IsRevoked {
		return CredentialStateRevoked
	}
	return CredentialStateIssued
}

// RevocationUpdate carries the fields written to the mirror after a confirmed
// revoke transaction.
type RevocationUpdate struct {
	RevokedAt    time.Time
	RevokeTxHash string
}

// CanonicalCredentialID returns id in the form the mirror keys records by.
// Ledger identifiers are hex and compare case-insensitively, so the canonical
// form is trimmed lowercase.
func CanonicalCredentialID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
