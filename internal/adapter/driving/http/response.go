package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/degreeledger/internal/application"
	"github.com/ericfisherdev/degreeledger/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	// TransactionHash is set when a ledger transaction exists despite the failure.
	TransactionHash string `json:"transactionHash,omitempty"`
}

// pendingResponse reports a submitted transaction whose outcome is not yet
// known. Callers must re-verify against the ledger, not assume failure.
type pendingResponse struct {
	Success         bool   `json:"success"`
	Outcome         string `json:"outcome"`
	Message         string `json:"message"`
	TransactionHash string `json:"transactionHash"`
}

// IssueDegreeRequest is the JSON body for the issue endpoint.
type IssueDegreeRequest struct {
	RecipientAddress string `json:"recipientAddress"`
	DegreeName       string `json:"degreeName"`
	University       string `json:"university"`
	StudentName      string `json:"studentName"`
	StudentID        string `json:"studentId,omitempty"`
	StudentEmail     string `json:"studentEmail,omitempty"`
	IssuerName       string `json:"issuerName,omitempty"`
}

func (r IssueDegreeRequest) toApplication() application.IssueRequest {
	return application.IssueRequest{
		HolderAddress:  r.RecipientAddress,
		CredentialName: r.DegreeName,
		Institution:    r.University,
		StudentName:    r.StudentName,
		StudentID:      r.StudentID,
		StudentEmail:   r.StudentEmail,
		IssuerName:     r.IssuerName,
	}
}

// IssueDegreeData echoes the issued credential.
type IssueDegreeData struct {
	DegreeID         string `json:"degreeId"`
	TransactionHash  string `json:"transactionHash"`
	DegreeName       string `json:"degreeName"`
	University       string `json:"university"`
	StudentName      string `json:"studentName"`
	RecipientAddress string `json:"recipientAddress"`
}

// IssueDegreeResponse is returned by the issue endpoint. Mirror is "pending"
// when the ledger confirmed but the mirror record is still being retried.
type IssueDegreeResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Mirror  string          `json:"mirror,omitempty"`
	Data    IssueDegreeData `json:"data"`
}

// RevokeDegreeData carries the revoke transaction.
type RevokeDegreeData struct {
	DegreeID        string `json:"degreeId"`
	TransactionHash string `json:"transactionHash"`
	RevokedAt       string `json:"revokedAt"`
}

// RevokeDegreeResponse is returned by the revoke endpoint.
type RevokeDegreeResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Mirror  string           `json:"mirror,omitempty"`
	Data    RevokeDegreeData `json:"data"`
}

// CertificateResponse is the ledger view of a credential.
type CertificateResponse struct {
	ID               string `json:"id"`
	RecipientAddress string `json:"recipientAddress"`
	DegreeName       string `json:"degreeName"`
	University       string `json:"university"`
	IssueDate        string `json:"issueDate"`
	IssueTimestamp   int64  `json:"issueTimestamp"`
	IsValid          bool   `json:"isValid"`
	Nonce            string `json:"nonce"`
}

// VerifyResponse is returned by the verify endpoint for found and unknown
// credentials alike.
type VerifyResponse struct {
	Status      string               `json:"status"`
	Message     string               `json:"message"`
	Certificate *CertificateResponse `json:"certificate,omitempty"`
}

// HolderDegreeResponse is one entry of a holder's ledger credential list.
type HolderDegreeResponse struct {
	ID         string `json:"id"`
	DegreeName string `json:"degreeName"`
	University string `json:"university"`
	IssueDate  string `json:"issueDate"`
	IsValid    bool   `json:"isValid"`
}

// ListResponse wraps list payloads.
type ListResponse[T any] struct {
	Success bool `json:"success"`
	Data    []T  `json:"data"`
}

// RecordResponse is the mirror view of a credential.
type RecordResponse struct {
	DegreeID         string `json:"degreeId"`
	RecipientAddress string `json:"recipientAddress"`
	IssuerName       string `json:"issuerName,omitempty"`
	University       string `json:"university"`
	DegreeName       string `json:"degreeName"`
	StudentName      string `json:"studentName"`
	StudentID        string `json:"studentId,omitempty"`
	StudentEmail     string `json:"studentEmail,omitempty"`
	TransactionHash  string `json:"transactionHash"`
	IssuedAt         string `json:"issuedAt"`
	State            string `json:"state"`
	IsRevoked        bool   `json:"isRevoked"`
	RevokedAt        string `json:"revokedAt,omitempty"`
	RevokeTxHash     string `json:"revokeTransactionHash,omitempty"`
}

// SequencerResponse reports the transaction sequencer.
type SequencerResponse struct {
	State        string `json:"state"`
	Synced       bool   `json:"synced"`
	NextSequence uint64 `json:"nextSequence"`
	QueueDepth   int    `json:"queueDepth"`
	LastTxHash   string `json:"lastTxHash,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status    string             `json:"status"`
	Time      string             `json:"time"`
	Sequencer *SequencerResponse `json:"sequencer,omitempty"`
}

func toIssueDegreeData(rec model.CredentialRecord) IssueDegreeData {
	return IssueDegreeData{
		DegreeID:         rec.CredentialID,
		TransactionHash:  rec.IssueTxHash,
		DegreeName:       rec.CredentialName,
		University:       rec.Institution,
		StudentName:      rec.StudentName,
		RecipientAddress: rec.HolderAddress,
	}
}

func toRevokeDegreeData(res application.RevokeResult) RevokeDegreeData {
	return RevokeDegreeData{
		DegreeID:        res.CredentialID,
		TransactionHash: res.TxHash,
		RevokedAt:       res.RevokedAt.UTC().Format(time.RFC3339),
	}
}

func toVerifyResponse(res model.VerificationResult) VerifyResponse {
	resp := VerifyResponse{
		Status:  string(res.Status),
		Message: res.Message,
	}
	if c := res.Certificate; c != nil {
		resp.Certificate = &CertificateResponse{
			ID:               c.ID,
			RecipientAddress: c.RecipientAddress,
			DegreeName:       c.DegreeName,
			University:       c.University,
			IssueDate:        c.IssueDate,
			IssueTimestamp:   c.IssuedAt.Unix(),
			IsValid:          c.IsValid,
			Nonce:            c.Nonce,
		}
	}
	return resp
}

func toHolderDegreeResponse(c model.HolderCredential) HolderDegreeResponse {
	return HolderDegreeResponse{
		ID:         c.ID,
		DegreeName: c.DegreeName,
		University: c.University,
		IssueDate:  c.IssueDate,
		IsValid:    c.IsValid,
	}
}

func toRecordResponse(rec model.CredentialRecord) RecordResponse {
	resp := RecordResponse{
		DegreeID:         rec.CredentialID,
		RecipientAddress: rec.HolderAddress,
		IssuerName:       rec.IssuerName,
		University:       rec.Institution,
		DegreeName:       rec.CredentialName,
		StudentName:      rec.StudentName,
		StudentID:        rec.StudentID,
		StudentEmail:     rec.StudentEmail,
		TransactionHash:  rec.IssueTxHash,
		IssuedAt:         rec.IssuedAt.UTC().Format(time.RFC3339),
		State:            string(rec.State()),
		IsRevoked:        rec.IsRevoked,
		RevokeTxHash:     rec.RevokeTxHash,
	}
	if rec.RevokedAt != nil {
		resp.RevokedAt = rec.RevokedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func toSequencerResponse(st application.SequencerStatus) *SequencerResponse {
	return &SequencerResponse{
		State:        string(st.State),
		Synced:       st.Synced,
		NextSequence: st.NextSequence,
		QueueDepth:   st.QueueDepth,
		LastTxHash:   st.LastTxHash,
	}
}
