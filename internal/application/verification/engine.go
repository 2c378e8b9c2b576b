// Package verification answers credential questions from the ledger alone.
// It depends on driven.LedgerReader only and cannot reach the mirror store,
// so a stale or missing mirror never affects a verification result.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/degreeledger/internal/domain/model"
	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

// Result messages.
const (
	MessageVerified = "Certificate successfully verified!"
	MessageRevoked  = "Certificate found but has been revoked."
	MessageNotFound = "Degree not found."
)

// IssueDateLayout formats the ledger issue timestamp.
const IssueDateLayout = "2006-01-02"

// Engine verifies credentials against the ledger.
type Engine struct {
	ledger      driven.LedgerReader
	limiter     *rate.Limiter
	concurrency int
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRateLimit caps ledger reads at rps per second. Zero disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(e *Engine) {
		if rps <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithConcurrency bounds parallel reads in ListByHolder.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine. Reads are unthrottled and list lookups run
// four at a time unless configured otherwise.
func NewEngine(ledger driven.LedgerReader, opts ...Option) *Engine {
	e := &Engine{
		ledger:      ledger,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify reads credentialID from the ledger. An unknown identifier is a
// result with status error, not an error. Errors are returned only when the
// ledger could not be queried.
func (e *Engine) Verify(ctx context.Context, credentialID string) (model.VerificationResult, error) {
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return notFound(), nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return model.VerificationResult{}, fmt.Errorf("verify %s: %w", credentialID, err)
	}

	values, err := e.ledger.Read(ctx, model.Call{
		Method: model.MethodVerifyDegree,
		Args:   []any{credentialID},
	})
	if err != nil {
		if errors.Is(err, driven.ErrNotFound) {
			e.logger.Debug("credential not on ledger", "credential_id", credentialID)
			return notFound(), nil
		}
		return model.VerificationResult{}, fmt.Errorf("verify %s: %w", credentialID, err)
	}

	cert, err := certificateFrom(values)
	if err != nil {
		return model.VerificationResult{}, fmt.Errorf("verify %s: %w: %w", credentialID, driven.ErrQuery, err)
	}

	message := MessageVerified
	if !cert.IsValid {
		message = MessageRevoked
	}
	return model.VerificationResult{
		Status:      model.VerificationStatusSuccess,
		Message:     message,
		Certificate: cert,
	}, nil
}

// ListByHolder returns the holder's credentials in ledger order. Each entry is
// verified individually; identifiers the ledger no longer resolves are skipped.
func (e *Engine) ListByHolder(ctx context.Context, holderAddress string) ([]model.HolderCredential, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("list credentials of %s: %w", holderAddress, err)
	}

	values, err := e.ledger.Read(ctx, model.Call{
		Method: model.MethodDegreesByAddress,
		Args:   []any{holderAddress},
	})
	if err != nil {
		if errors.Is(err, driven.ErrNotFound) {
			return []model.HolderCredential{}, nil
		}
		return nil, fmt.Errorf("list credentials of %s: %w", holderAddress, err)
	}

	ids, err := values.Strings(model.FieldDegreeIDs)
	if err != nil {
		return nil, fmt.Errorf("list credentials of %s: %w: %w", holderAddress, driven.ErrQuery, err)
	}

	entries := make([]*model.HolderCredential, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := e.Verify(gctx, id)
			if err != nil {
				return err
			}
			if !res.Found() {
				e.logger.Warn("listed credential no longer resolves", "credential_id", id, "holder", holderAddress)
				return nil
			}
			c := res.Certificate
			entries[i] = &model.HolderCredential{
				ID:         c.ID,
				DegreeName: c.DegreeName,
				University: c.University,
				IssueDate:  c.IssueDate,
				IsValid:    c.IsValid,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.HolderCredential, 0, len(entries))
	for _, entry := range entries {
		if entry != nil {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func notFound() model.VerificationResult {
	return model.VerificationResult{
		Status:  model.VerificationStatusError,
		Message: MessageNotFound,
	}
}

func certificateFrom(values model.Values) (*model.Certificate, error) {
	id, err := values.String(model.FieldDegreeID)
	if err != nil {
		return nil, err
	}
	recipient, err := values.String(model.FieldRecipient)
	if err != nil {
		return nil, err
	}
	name, err := values.String(model.FieldDegreeName)
	if err != nil {
		return nil, err
	}
	university, err := values.String(model.FieldUniversity)
	if err != nil {
		return nil, err
	}
	issued, err := values.BigInt(model.FieldIssueDate)
	if err != nil {
		return nil, err
	}
	valid, err := values.Bool(model.FieldIsValid)
	if err != nil {
		return nil, err
	}
	nonce, err := values.BigInt(model.FieldNonce)
	if err != nil {
		return nil, err
	}
	if !issued.IsInt64() {
		return nil, fmt.Errorf("issue date %s out of range", issued)
	}

	issuedAt := time.Unix(issued.Int64(), 0).UTC()
	return &model.Certificate{
		ID:               id,
		RecipientAddress: recipient,
		DegreeName:       name,
		University:       university,
		IssueDate:        issuedAt.Format(IssueDateLayout),
		IssuedAt:         issuedAt,
		IsValid:          valid,
		Nonce:            nonce.String(),
	}, nil
}
