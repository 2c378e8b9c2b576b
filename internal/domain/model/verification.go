package model

import "time"

// VerificationStatus is the outcome class of a verification.
type VerificationStatus string

const (
	VerificationStatusSuccess VerificationStatus = "success"
	VerificationStatusError   VerificationStatus = "error"
)

// Certificate is the ledger view of a credential returned by verification.
type Certificate struct {
	ID               string
	RecipientAddress string
	DegreeName       string
	University       string
	IssueDate        string // Human-readable, UTC.
	IssuedAt         time.Time
	IsValid          bool
	Nonce            string // Verbatim decimal from the ledger record.
}

// VerificationResult is returned for every verification. A credential the
// ledger does not know yields Status error with a nil Certificate.
type VerificationResult struct {
	Status      VerificationStatus
	Message     string
	Certificate *Certificate
}

// Found reports whether the ledger returned a credential.
func (r VerificationResult) Found() bool {
	return r.Certificate != nil
}

// HolderCredential is one entry of a holder's ledger credential list.
type HolderCredential struct {
	ID         string
	DegreeName string
	University string
	IssueDate  string
	IsValid    bool
}
