package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/ericfisherdev/degreeledger/internal/domain/model"
	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

// IssueRequest is the validated input of an issuance. The json tags name the
// fields in validation errors.
type IssueRequest struct {
	HolderAddress  string `json:"recipientAddress"`
	CredentialName string `json:"degreeName"`
	Institution    string `json:"university"`
	StudentName    string `json:"studentName"`
	StudentID      string `json:"studentId"`
	StudentEmail   string `json:"studentEmail"`
	IssuerName     string `json:"issuerName"`
}

func (r *IssueRequest) normalize() {
	r.HolderAddress = strings.TrimSpace(r.HolderAddress)
	r.CredentialName = strings.TrimSpace(r.CredentialName)
	r.Institution = strings.TrimSpace(r.Institution)
	r.StudentName = strings.TrimSpace(r.StudentName)
	r.StudentID = strings.TrimSpace(r.StudentID)
	r.StudentEmail = strings.TrimSpace(r.StudentEmail)
	r.IssuerName = strings.TrimSpace(r.IssuerName)
}

// Validate checks required fields and formats. It does not check the holder
// address syntax, which depends on the ledger.
func (r IssueRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.HolderAddress, validation.Required),
		validation.Field(&r.CredentialName, validation.Required, validation.Length(1, 256)),
		validation.Field(&r.Institution, validation.Required, validation.Length(1, 256)),
		validation.Field(&r.StudentName, validation.Required, validation.Length(1, 256)),
		validation.Field(&r.StudentID, validation.Length(0, 128)),
		validation.Field(&r.StudentEmail, is.EmailFormat),
		validation.Field(&r.IssuerName, validation.Length(0, 256)),
	)
}

// IssuanceService issues credentials on the ledger and records them in the
// mirror store once confirmed.
type IssuanceService struct {
	queue  TxQueue
	ledger driven.LedgerClient
	mirror driven.MirrorStore
	opts   coordinatorOptions
}

// NewIssuanceService creates an IssuanceService. Writes go through queue;
// ledger is used for address checks and event decoding only.
func NewIssuanceService(queue TxQueue, ledger driven.LedgerClient, mirror driven.MirrorStore, opts ...CoordinatorOption) *IssuanceService {
	return &IssuanceService{
		queue:  queue,
		ledger: ledger,
		mirror: mirror,
		opts:   buildOptions(opts),
	}
}

type issueOutcome struct {
	record model.CredentialRecord
	err    error
}

// Issue submits an issuance and returns the mirror record built from the
// confirmed receipt. Canceling ctx abandons the wait only: a submitted
// transaction is still confirmed and mirrored in the background.
//
// Errors: ErrValidation before submission; ledger errors from the sequencer
// (a *driven.TimeoutError means the outcome is unknown); *AssignmentError when
// no unique identifier was emitted; *MirrorWriteError when only the mirror
// write failed, in which case the returned record is complete.
func (s *IssuanceService) Issue(ctx context.Context, req IssueRequest) (model.CredentialRecord, error) {
	req.normalize()
	if err := req.Validate(); err != nil {
		return model.CredentialRecord{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := s.ledger.ValidateAddress(req.HolderAddress); err != nil {
		return model.CredentialRecord{}, fmt.Errorf("%w: recipientAddress: %w", ErrValidation, err)
	}

	future := s.queue.Enqueue(ctx, model.Call{
		Method: model.MethodIssueDegree,
		Args:   []any{req.HolderAddress, req.CredentialName, req.Institution},
	})

	done := make(chan issueOutcome, 1)
	go func() {
		record, err := s.complete(context.WithoutCancel(ctx), req, future)
		done <- issueOutcome{record: record, err: err}
	}()

	select {
	case out := <-done:
		return out.record, out.err
	case <-ctx.Done():
		return model.CredentialRecord{}, ctx.Err()
	}
}

func (s *IssuanceService) complete(ctx context.Context, req IssueRequest, future *Future) (model.CredentialRecord, error) {
	receipt, err := future.Wait(ctx)
	if err != nil {
		return model.CredentialRecord{}, fmt.Errorf("issue credential: %w", err)
	}

	credentialID, err := s.assignedID(receipt)
	if err != nil {
		s.opts.logger.Error("issuance confirmed without a usable identifier, manual intervention required",
			"tx_hash", receipt.TxHash, "error", err)
		return model.CredentialRecord{}, err
	}

	record := model.CredentialRecord{
		CredentialID:   credentialID,
		HolderAddress:  req.HolderAddress,
		IssuerName:     req.IssuerName,
		Institution:    req.Institution,
		CredentialName: req.CredentialName,
		StudentName:    req.StudentName,
		StudentID:      req.StudentID,
		StudentEmail:   req.StudentEmail,
		IssueTxHash:    receipt.TxHash,
		IssuedAt:       s.opts.now().UTC(),
	}

	if err := s.RetryMirrorWrite(ctx, record); err != nil {
		var mwErr *MirrorWriteError
		if errors.As(err, &mwErr) && s.opts.retrier != nil {
			s.opts.retrier.Schedule(mwErr)
		}
		return record, err
	}

	s.opts.logger.Info("credential issued", "credential_id", credentialID, "tx_hash", receipt.TxHash)
	return record, nil
}

// assignedID extracts the credential identifier from the single issuance
// event in receipt.
func (s *IssuanceService) assignedID(receipt model.Receipt) (string, error) {
	events, err := s.ledger.DecodeEvents(receipt, model.EventDegreeIssued)
	if err != nil {
		return "", &AssignmentError{TxHash: receipt.TxHash, Err: err}
	}
	if len(events) != 1 {
		return "", &AssignmentError{TxHash: receipt.TxHash, Found: len(events)}
	}

	id, err := events[0].Fields.String(model.FieldDegreeID)
	if err != nil {
		return "", &AssignmentError{TxHash: receipt.TxHash, Found: 1, Err: err}
	}
	id = model.CanonicalCredentialID(id)
	if id == "" {
		return "", &AssignmentError{TxHash: receipt.TxHash, Found: 1, Err: errors.New("empty credential identifier")}
	}
	return id, nil
}

// RetryMirrorWrite inserts record unless it already exists. It never touches
// the ledger, so it is safe to repeat.
func (s *IssuanceService) RetryMirrorWrite(ctx context.Context, record model.CredentialRecord) error {
	created, err := s.mirror.UpsertByCredentialID(ctx, record)
	if err != nil {
		s.opts.logger.Error("mirror write failed after ledger confirmation",
			"credential_id", record.CredentialID, "tx_hash", record.IssueTxHash, "error", err)
		return &MirrorWriteError{
			CredentialID: record.CredentialID,
			TxHash:       record.IssueTxHash,
			Record:       &record,
			Err:          err,
		}
	}
	if !created {
		s.opts.logger.Info("mirror record already present", "credential_id", record.CredentialID)
	}
	return nil
}
