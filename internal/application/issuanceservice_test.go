package application_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/degreeledger/internal/application"
	"github.com/ericfisherdev/degreeledger/internal/domain/model"
	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func validIssueRequest() application.IssueRequest {
	return application.IssueRequest{
		HolderAddress:  "0xA1",
		CredentialName: "BSc CS",
		Institution:    "Stanford",
		StudentName:    "Ada Lovelace",
		StudentID:      "S-100",
		StudentEmail:   "ada@example.edu",
	}
}

func newIssuanceService(t *testing.T, ledger *mockLedger, mirror *mockMirror, opts ...application.CoordinatorOption) *application.IssuanceService {
	t.Helper()
	seq := startSequencer(t, ledger)
	opts = append([]application.CoordinatorOption{application.WithClock(func() time.Time { return fixedNow })}, opts...)
	return application.NewIssuanceService(seq, ledger, mirror, opts...)
}

func TestIssuanceService_Issue(t *testing.T) {
	ledger := &mockLedger{}
	mirror := newMockMirror()
	svc := newIssuanceService(t, ledger, mirror)

	record, err := svc.Issue(context.Background(), validIssueRequest())
	require.NoError(t, err)

	assert.Equal(t, "0xid-0xtx0", record.CredentialID)
	assert.Equal(t, "0xtx0", record.IssueTxHash)
	assert.Equal(t, fixedNow, record.IssuedAt)
	assert.False(t, record.IsRevoked)

	require.Equal(t, 1, mirror.count())
	stored, ok := mirror.get(record.CredentialID)
	require.True(t, ok)
	assert.Equal(t, "0xA1", stored.HolderAddress)
	assert.Equal(t, "BSc CS", stored.CredentialName)
	assert.Equal(t, "Stanford", stored.Institution)
	assert.Equal(t, "ada@example.edu", stored.StudentEmail)

	submitted, _, _, _ := ledger.snapshot()
	require.Len(t, submitted, 1)
	assert.Equal(t, model.MethodIssueDegree, submitted[0].call.Method)
	assert.Equal(t, []any{"0xA1", "BSc CS", "Stanford"}, submitted[0].call.Args)
}

func TestIssuanceService_Issue_ValidationNeverReachesLedger(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *application.IssueRequest)
	}{
		{name: "missing holder", mutate: func(r *application.IssueRequest) { r.HolderAddress = "" }},
		{name: "blank credential name", mutate: func(r *application.IssueRequest) { r.CredentialName = "   " }},
		{name: "missing institution", mutate: func(r *application.IssueRequest) { r.Institution = "" }},
		{name: "missing student name", mutate: func(r *application.IssueRequest) { r.StudentName = "" }},
		{name: "malformed email", mutate: func(r *application.IssueRequest) { r.StudentEmail = "not-an-email" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ledger := &mockLedger{}
			mirror := newMockMirror()
			svc := newIssuanceService(t, ledger, mirror)

			req := validIssueRequest()
			tc.mutate(&req)

			_, err := svc.Issue(context.Background(), req)
			require.ErrorIs(t, err, application.ErrValidation)

			submitted, _, _, _ := ledger.snapshot()
			assert.Empty(t, submitted)
			assert.Equal(t, 0, mirror.count())
		})
	}
}

func TestIssuanceService_Issue_InvalidHolderAddress(t *testing.T) {
	ledger := &mockLedger{addressErr: errors.New("invalid account address")}
	svc := newIssuanceService(t, ledger, newMockMirror())

	_, err := svc.Issue(context.Background(), validIssueRequest())
	require.ErrorIs(t, err, application.ErrValidation)

	submitted, _, _, _ := ledger.snapshot()
	assert.Empty(t, submitted)
}

func TestIssuanceService_Issue_NoEventIsAssignmentError(t *testing.T) {
	ledger := &mockLedger{
		decodeFn: func(model.Receipt) ([]model.Event, error) { return nil, nil },
	}
	mirror := newMockMirror()
	svc := newIssuanceService(t, ledger, mirror)

	_, err := svc.Issue(context.Background(), validIssueRequest())

	var assignErr *application.AssignmentError
	require.True(t, errors.As(err, &assignErr))
	assert.Equal(t, 0, assignErr.Found)
	assert.Equal(t, "0xtx0", assignErr.TxHash)
	assert.Equal(t, 0, mirror.count())
}

func TestIssuanceService_Issue_StoresCanonicalID(t *testing.T) {
	ledger := &mockLedger{
		decodeFn: func(r model.Receipt) ([]model.Event, error) {
			return []model.Event{{Fields: model.Values{model.FieldDegreeID: "0xABCDEF01"}}}, nil
		},
	}
	mirror := newMockMirror()
	svc := newIssuanceService(t, ledger, mirror)

	record, err := svc.Issue(context.Background(), validIssueRequest())
	require.NoError(t, err)

	assert.Equal(t, "0xabcdef01", record.CredentialID)
	_, ok := mirror.get("0xabcdef01")
	assert.True(t, ok)
}

func TestIssuanceService_Issue_MultipleEventsIsAssignmentError(t *testing.T) {
	ledger := &mockLedger{
		decodeFn: func(r model.Receipt) ([]model.Event, error) {
			return []model.Event{
				{Fields: model.Values{model.FieldDegreeID: "0x01"}},
				{Fields: model.Values{model.FieldDegreeID: "0x02"}},
			}, nil
		},
	}
	mirror := newMockMirror()
	svc := newIssuanceService(t, ledger, mirror)

	_, err := svc.Issue(context.Background(), validIssueRequest())

	var assignErr *application.AssignmentError
	require.True(t, errors.As(err, &assignErr))
	assert.Equal(t, 2, assignErr.Found)
	assert.Equal(t, 0, mirror.count())
}

func TestIssuanceService_Issue_MirrorFailureCarriesIdentifiers(t *testing.T) {
	ledger := &mockLedger{}
	mirror := newMockMirror()
	mirror.failUpserts = 1
	svc := newIssuanceService(t, ledger, mirror)

	record, err := svc.Issue(context.Background(), validIssueRequest())

	var mwErr *application.MirrorWriteError
	require.True(t, errors.As(err, &mwErr))
	assert.ErrorIs(t, err, driven.ErrStoreUnavailable)
	assert.Equal(t, "0xid-0xtx0", mwErr.CredentialID)
	assert.Equal(t, "0xtx0", mwErr.TxHash)
	require.NotNil(t, mwErr.Record)
	assert.Equal(t, record, *mwErr.Record)
	assert.Equal(t, 0, mirror.count())

	// Mirror-only retry, twice: exactly one record, no new ledger call.
	require.NoError(t, svc.RetryMirrorWrite(context.Background(), *mwErr.Record))
	require.NoError(t, svc.RetryMirrorWrite(context.Background(), *mwErr.Record))
	assert.Equal(t, 1, mirror.count())

	submitted, _, _, _ := ledger.snapshot()
	assert.Len(t, submitted, 1)
}

func TestIssuanceService_Issue_TimeoutIsUnknownOutcome(t *testing.T) {
	ledger := &mockLedger{
		awaitFn: func(ptx model.PendingTx) (model.Receipt, error) {
			return model.Receipt{}, &driven.TimeoutError{TxHash: ptx.Hash, Sequence: ptx.Sequence}
		},
	}
	mirror := newMockMirror()
	svc := newIssuanceService(t, ledger, mirror)

	_, err := svc.Issue(context.Background(), validIssueRequest())

	require.ErrorIs(t, err, driven.ErrTimeout)
	var timeoutErr *driven.TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, "0xtx0", timeoutErr.TxHash)
	assert.Equal(t, 0, mirror.count())
}

func TestIssuanceService_Issue_CallerCancelStillMirrors(t *testing.T) {
	release := make(chan struct{})
	ledger := &mockLedger{
		awaitFn: func(ptx model.PendingTx) (model.Receipt, error) {
			<-release
			return model.Receipt{TxHash: ptx.Hash, Sequence: ptx.Sequence, Succeeded: true}, nil
		},
	}
	mirror := newMockMirror()
	seq := startSequencer(t, ledger)
	svc := application.NewIssuanceService(seq, ledger, mirror)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Issue(ctx, validIssueRequest())
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return seq.Status().State == application.SequencerAwaiting
	}, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	assert.Eventually(t, func() bool { return mirror.count() == 1 }, time.Second, time.Millisecond)
}

func TestIssuanceService_Issue_RetrierRecoversMirrorWrite(t *testing.T) {
	ledger := &mockLedger{}
	mirror := newMockMirror()
	mirror.failUpserts = 3

	retrier := application.NewMirrorRetrier(mirror, application.MirrorRetrierConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsed:      time.Second,
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go retrier.Start(ctx)

	svc := newIssuanceService(t, ledger, mirror, application.WithMirrorRetrier(retrier))

	_, err := svc.Issue(context.Background(), validIssueRequest())
	var mwErr *application.MirrorWriteError
	require.True(t, errors.As(err, &mwErr))

	assert.Eventually(t, func() bool { return mirror.count() == 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return retrier.Pending() == 0 }, time.Second, time.Millisecond)
}

func TestIssuanceService_Issue_LedgerRejection(t *testing.T) {
	ledger := &mockLedger{
		submitFn: func(model.Call, uint64) error {
			return fmt.Errorf("estimate gas: %w: insufficient funds", driven.ErrRejected)
		},
	}
	mirror := newMockMirror()
	svc := newIssuanceService(t, ledger, mirror)

	_, err := svc.Issue(context.Background(), validIssueRequest())
	require.ErrorIs(t, err, driven.ErrRejected)
	assert.Equal(t, 0, mirror.count())
}
