// Package httphandler is the REST driving adapter for credential issuance,
// revocation, and verification.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/degreeledger/internal/application"
	"github.com/ericfisherdev/degreeledger/internal/domain/model"
	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

const maxBodyBytes = 64 << 10

// Issuer issues credentials.
type Issuer interface {
	Issue(ctx context.Context, req application.IssueRequest) (model.CredentialRecord, error)
}

// Revoker revokes credentials.
type Revoker interface {
	Revoke(ctx context.Context, credentialID string) (application.RevokeResult, error)
}

// Verifier answers from the ledger.
type Verifier interface {
	Verify(ctx context.Context, credentialID string) (model.VerificationResult, error)
	ListByHolder(ctx context.Context, holderAddress string) ([]model.HolderCredential, error)
}

// RecordFinder reads the mirror's secondary index.
type RecordFinder interface {
	FindByHolderAddress(ctx context.Context, holderAddress string) ([]model.CredentialRecord, error)
}

// StatusReporter reports the transaction sequencer.
type StatusReporter interface {
	Status() application.SequencerStatus
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	issuer    Issuer
	revoker   Revoker
	verifier  Verifier
	records   RecordFinder
	sequencer StatusReporter
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. sequencer may
// be nil, in which case health omits it.
func NewHandler(
	issuer Issuer,
	revoker Revoker,
	verifier Verifier,
	records RecordFinder,
	sequencer StatusReporter,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		issuer:    issuer,
		revoker:   revoker,
		verifier:  verifier,
		records:   records,
		sequencer: sequencer,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request id, logging, and recovery middleware. A non-empty apiSecret
// protects the write endpoints with HS256 bearer tokens.
func NewServeMux(h *Handler, logger *slog.Logger, apiSecret string) http.Handler {
	mux := http.NewServeMux()

	write := func(next http.HandlerFunc) http.HandlerFunc {
		if apiSecret == "" {
			return next
		}
		return requireBearer([]byte(apiSecret), logger, next)
	}

	mux.HandleFunc("POST /api/v1/degrees/issue", write(h.IssueDegree))
	mux.HandleFunc("POST /api/v1/degrees/revoke/{degreeId}", write(h.RevokeDegree))
	mux.HandleFunc("GET /api/v1/degrees/verify/{degreeId}", h.VerifyDegree)
	mux.HandleFunc("GET /api/v1/degrees/address/{address}", h.ListDegreesByAddress)
	mux.HandleFunc("GET /api/v1/degrees/records/{address}", h.ListRecordsByAddress)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// IssueDegree issues a credential on the ledger and mirrors it.
func (h *Handler) IssueDegree(w http.ResponseWriter, r *http.Request) {
	var body IssueDegreeRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.issuer.Issue(r.Context(), body.toApplication())
	if err != nil {
		var mwErr *application.MirrorWriteError
		if errors.As(err, &mwErr) {
			writeJSON(w, http.StatusAccepted, IssueDegreeResponse{
				Success: true,
				Message: "Degree issued on the ledger; mirror record pending",
				Mirror:  "pending",
				Data:    toIssueDegreeData(rec),
			})
			return
		}
		h.writeLedgerFailure(w, r, "issue degree", err, http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusCreated, IssueDegreeResponse{
		Success: true,
		Message: "Degree issued successfully",
		Data:    toIssueDegreeData(rec),
	})
}

// RevokeDegree revokes a credential on the ledger and flags its mirror record.
func (h *Handler) RevokeDegree(w http.ResponseWriter, r *http.Request) {
	degreeID := strings.TrimSpace(r.PathValue("degreeId"))
	if degreeID == "" {
		writeError(w, http.StatusBadRequest, "degree id is required")
		return
	}

	res, err := h.revoker.Revoke(r.Context(), degreeID)
	if err != nil {
		var mwErr *application.MirrorWriteError
		if errors.As(err, &mwErr) {
			writeJSON(w, http.StatusAccepted, RevokeDegreeResponse{
				Success: true,
				Message: "Degree revoked on the ledger; mirror update pending",
				Mirror:  "pending",
				Data:    toRevokeDegreeData(res),
			})
			return
		}
		h.writeLedgerFailure(w, r, "revoke degree", err, http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, RevokeDegreeResponse{
		Success: true,
		Message: "Degree revoked successfully",
		Data:    toRevokeDegreeData(res),
	})
}

// VerifyDegree verifies a credential against the ledger. An unknown id is a
// 200 response with status "error".
func (h *Handler) VerifyDegree(w http.ResponseWriter, r *http.Request) {
	degreeID := r.PathValue("degreeId")

	res, err := h.verifier.Verify(r.Context(), degreeID)
	if err != nil {
		h.writeReadFailure(w, r, "verify degree", err)
		return
	}

	writeJSON(w, http.StatusOK, toVerifyResponse(res))
}

// ListDegreesByAddress lists a holder's credentials as recorded on the ledger.
func (h *Handler) ListDegreesByAddress(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.PathValue("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	list, err := h.verifier.ListByHolder(r.Context(), address)
	if err != nil {
		h.writeReadFailure(w, r, "list degrees", err)
		return
	}

	resp := make([]HolderDegreeResponse, 0, len(list))
	for _, c := range list {
		resp = append(resp, toHolderDegreeResponse(c))
	}
	writeJSON(w, http.StatusOK, ListResponse[HolderDegreeResponse]{Success: true, Data: resp})
}

// ListRecordsByAddress lists a holder's mirror records, oldest first.
func (h *Handler) ListRecordsByAddress(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.PathValue("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	records, err := h.records.FindByHolderAddress(r.Context(), address)
	if err != nil {
		h.logger.Error("failed to list mirror records", "address", address, "error", err,
			"request_id", RequestID(r.Context()))
		writeError(w, http.StatusServiceUnavailable, "mirror store unavailable")
		return
	}

	resp := make([]RecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, ListResponse[RecordResponse]{Success: true, Data: resp})
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	if h.sequencer != nil {
		st := h.sequencer.Status()
		resp.Sequencer = toSequencerResponse(st)
		if st.State == application.SequencerStopped {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeLedgerFailure maps a write-path error to a response. rejectedStatus is
// used when the ledger refused the call.
func (h *Handler) writeLedgerFailure(w http.ResponseWriter, r *http.Request, op string, err error, rejectedStatus int) {
	var (
		timeoutErr  *driven.TimeoutError
		notFoundErr *application.RecordNotFoundError
		assignErr   *application.AssignmentError
	)

	switch {
	case errors.Is(err, application.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.As(err, &timeoutErr):
		h.logger.Warn(op+" outcome unknown", "tx_hash", timeoutErr.TxHash, "error", err,
			"request_id", RequestID(r.Context()))
		writeJSON(w, http.StatusAccepted, pendingResponse{
			Success:         false,
			Outcome:         "unknown",
			Message:         "Transaction submitted but not confirmed in time; verify against the ledger before retrying",
			TransactionHash: timeoutErr.TxHash,
		})
		return
	case errors.As(err, &notFoundErr):
		writeJSON(w, http.StatusNotFound, errorResponse{
			Success:         false,
			Error:           "Degree not found",
			Message:         "Revocation confirmed on the ledger but no mirror record exists",
			TransactionHash: notFoundErr.TxHash,
		})
		return
	}

	status := http.StatusInternalServerError
	message := "internal server error"
	switch {
	case errors.As(err, &assignErr):
		message = "transaction confirmed without a credential identifier; manual intervention required"
		writeJSON(w, status, errorResponse{Success: false, Error: message, TransactionHash: assignErr.TxHash})
		h.logger.Error(op+" failed", "error", err, "request_id", RequestID(r.Context()))
		return
	case errors.Is(err, driven.ErrConnection), errors.Is(err, application.ErrSequencerStopped):
		status, message = http.StatusServiceUnavailable, "ledger unavailable"
	case errors.Is(err, driven.ErrSequenceConflict):
		status, message = http.StatusServiceUnavailable, "signer sequence out of date; retry the request"
	case errors.Is(err, driven.ErrRejected):
		status, message = rejectedStatus, "ledger rejected the transaction"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, message = http.StatusServiceUnavailable, "request abandoned before confirmation"
	}

	h.logger.Error(op+" failed", "status", status, "error", err, "request_id", RequestID(r.Context()))
	writeJSON(w, status, errorResponse{Success: false, Error: message, Message: err.Error()})
}

// writeReadFailure maps a ledger read error to a response.
func (h *Handler) writeReadFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusBadGateway
	message := "ledger query failed"
	if errors.Is(err, driven.ErrConnection) {
		status, message = http.StatusServiceUnavailable, "ledger unavailable"
	}
	h.logger.Error(op+" failed", "status", status, "error", err, "request_id", RequestID(r.Context()))
	writeError(w, status, message)
}

// decodeBody decodes a single JSON object, rejecting unknown fields and
// trailing data.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}
