package model

import "time"

// Contract vocabulary of the degree issuance program.
const (
	MethodIssueDegree      = "issueDegree"
	MethodRevokeDegree     = "revokeDegree"
	MethodVerifyDegree     = "verifyDegree"
	MethodDegreesByAddress = "getDegreesByAddress"
	EventDegreeIssued      = "DegreeIssued"
	EventDegreeRevoked     = "DegreeRevoked"
	FieldDegreeID          = "degreeId"
	FieldRecipient         = "recipient"
	FieldDegreeName        = "degreeName"
	FieldUniversity        = "university"
	FieldIssueDate         = "issueDate"
	FieldIsValid           = "isValid"
	FieldNonce             = "nonce"
	FieldRevokedAt         = "revokedAt"
	FieldDegreeIDs         = "degreeIds"
)

// Call names a contract function and its arguments. Arguments are domain
// primitives (strings for addresses and identifiers); the ledger adapter
// converts them to the wire types the contract expects.
type Call struct {
	Method string
	Args   []any
}

// PendingTx is the handle of a transaction accepted by the ledger node but not
// yet confirmed.
type PendingTx struct {
	Hash        string
	Sequence    uint64
	Method      string
	SubmittedAt time.Time
}

// Log is a raw event record emitted by a confirmed transaction.
type Log struct {
	Address string
	Topics  []string
	Data    []byte
	Index   uint
}

// Receipt is the ledger's confirmation record for a transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Sequence    uint64
	Succeeded   bool
	Logs        []Log
}

// Event is a decoded log matching a named contract event.
type Event struct {
	Name     string
	TxHash   string
	LogIndex uint
	Fields   Values
}

// SequenceState is the signer account's sequence position as seen by the
// ledger. Pending exceeds Confirmed while transactions from the signer are
// still waiting for inclusion.
type SequenceState struct {
	Confirmed uint64
	Pending   uint64
}

// InFlight returns the number of signer transactions not yet included.
func (s SequenceState) InFlight() uint64 {
	if s.Pending <= s.Confirmed {
		return 0
	}
	return s.Pending - s.Confirmed
}
