package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/degreeledger/internal/domain/model"
	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.MirrorStore = (*CredentialRepo)(nil)

// timeLayout is fixed-width so TEXT ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// CredentialRepo is the SQLite implementation of the MirrorStore port interface.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo backed by the given DB.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// UpsertByCredentialID inserts the record if no record with the same credential
// ID exists. An existing record is left untouched, which makes the mirror-only
// retry path idempotent.
func (r *CredentialRepo) UpsertByCredentialID(ctx context.Context, rec model.CredentialRecord) (bool, error) {
	const query = `
		INSERT INTO credentials (
			credential_id, holder_address, issuer_name, institution, credential_name,
			student_name, student_id, student_email, issue_tx_hash, issued_at,
			is_revoked, revoked_at, revoke_tx_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(credential_id) DO NOTHING
	`

	isRevoked := 0
	if rec.IsRevoked {
		isRevoked = 1
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		rec.CredentialID, rec.HolderAddress, rec.IssuerName, rec.Institution, rec.CredentialName,
		rec.StudentName, rec.StudentID, rec.StudentEmail, rec.IssueTxHash, formatTime(rec.IssuedAt),
		isRevoked, formatNullTime(rec.RevokedAt), rec.RevokeTxHash,
	)
	if err != nil {
		return false, storeErr("upsert credential "+rec.CredentialID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("check rows affected", err)
	}

	return rows == 1, nil
}

// UpdateRevocation marks the credential revoked. A record that is already
// revoked keeps its first revocation timestamp and transaction hash.
func (r *CredentialRepo) UpdateRevocation(ctx context.Context, credentialID string, update model.RevocationUpdate) (bool, error) {
	const query = `
		UPDATE credentials
		SET is_revoked = 1, revoked_at = ?, revoke_tx_hash = ?
		WHERE credential_id = ? AND is_revoked = 0
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		formatTime(update.RevokedAt), update.RevokeTxHash, credentialID,
	)
	if err != nil {
		return false, storeErr("update revocation "+credentialID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("check rows affected", err)
	}
	if rows > 0 {
		return true, nil
	}

	// Nothing changed: either the record is missing or it was already revoked.
	const exists = `SELECT 1 FROM credentials WHERE credential_id = ?`
	var one int
	err = r.db.Writer.QueryRowContext(ctx, exists, credentialID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("check credential "+credentialID, err)
	}

	return true, nil
}

// FindByCredentialID retrieves a single record. Returns nil, nil if it does not exist.
func (r *CredentialRepo) FindByCredentialID(ctx context.Context, credentialID string) (*model.CredentialRecord, error) {
	const query = `
		SELECT credential_id, holder_address, issuer_name, institution, credential_name,
		       student_name, student_id, student_email, issue_tx_hash, issued_at,
		       is_revoked, revoked_at, revoke_tx_hash
		FROM credentials
		WHERE credential_id = ?
	`

	rec, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, credentialID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get credential "+credentialID, err)
	}

	return rec, nil
}

// FindByHolderAddress returns all records for a holder, oldest first. Address
// matching is case-insensitive.
func (r *CredentialRepo) FindByHolderAddress(ctx context.Context, holderAddress string) ([]model.CredentialRecord, error) {
	const query = `
		SELECT credential_id, holder_address, issuer_name, institution, credential_name,
		       student_name, student_id, student_email, issue_tx_hash, issued_at,
		       is_revoked, revoked_at, revoke_tx_hash
		FROM credentials
		WHERE holder_address = ?
		ORDER BY issued_at, id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, holderAddress)
	if err != nil {
		return nil, storeErr("query credentials for "+holderAddress, err)
	}
	defer rows.Close()

	records := []model.CredentialRecord{}
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, storeErr("scan credential", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate credentials", err)
	}

	return records, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*model.CredentialRecord, error) {
	var rec model.CredentialRecord
	var issuedAt string
	var isRevoked int
	var revokedAt sql.NullString

	err := s.Scan(
		&rec.CredentialID, &rec.HolderAddress, &rec.IssuerName, &rec.Institution, &rec.CredentialName,
		&rec.StudentName, &rec.StudentID, &rec.StudentEmail, &rec.IssueTxHash, &issuedAt,
		&isRevoked, &revokedAt, &rec.RevokeTxHash,
	)
	if err != nil {
		return nil, err
	}

	rec.IsRevoked = isRevoked != 0

	rec.IssuedAt, err = parseTime(issuedAt)
	if err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}

	if revokedAt.Valid && revokedAt.String != "" {
		t, err := parseTime(revokedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse revoked_at: %w", err)
		}
		rec.RevokedAt = &t
	}

	return &rec, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, driven.ErrStoreUnavailable, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		timeLayout,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
