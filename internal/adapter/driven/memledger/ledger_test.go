package memledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/degreeledger/internal/domain/model"
	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

func issueCall(holder string) model.Call {
	return model.Call{Method: model.MethodIssueDegree, Args: []any{holder, "BSc CS", "Stanford"}}
}

func submitAndConfirm(t *testing.T, l *Ledger, call model.Call, seq uint64) model.Receipt {
	t.Helper()
	ctx := context.Background()
	ptx, err := l.Submit(ctx, call, seq)
	require.NoError(t, err)
	receipt, err := l.AwaitConfirmation(ctx, ptx)
	require.NoError(t, err)
	return receipt
}

func TestLedger_IssueEmitsEventAndIsReadable(t *testing.T) {
	issuedAt := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	l := New(WithClock(func() time.Time { return issuedAt }))

	receipt := submitAndConfirm(t, l, issueCall("0xA1"), 0)
	assert.True(t, receipt.Succeeded)
	assert.Equal(t, uint64(1), receipt.BlockNumber)

	events, err := l.DecodeEvents(receipt, model.EventDegreeIssued)
	require.NoError(t, err)
	require.Len(t, events, 1)

	id, err := events[0].Fields.String(model.FieldDegreeID)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	issueDate, err := events[0].Fields.BigInt(model.FieldIssueDate)
	require.NoError(t, err)
	assert.Equal(t, issuedAt.Unix(), issueDate.Int64())

	values, err := l.Read(context.Background(), model.Call{Method: model.MethodVerifyDegree, Args: []any{id}})
	require.NoError(t, err)
	assert.Equal(t, "0xA1", values[model.FieldRecipient])
	assert.Equal(t, true, values[model.FieldIsValid])
	assert.Equal(t, big.NewInt(1), values[model.FieldNonce])

	list, err := l.Read(context.Background(), model.Call{Method: model.MethodDegreesByAddress, Args: []any{"0xa1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, list[model.FieldDegreeIDs])
}

func TestLedger_SubmitRejectsWrongSequence(t *testing.T) {
	l := New()

	_, err := l.Submit(context.Background(), issueCall("0xA1"), 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrRejected)
	assert.ErrorIs(t, err, driven.ErrSequenceConflict)

	seq, err := l.SignerSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SequenceState{Confirmed: 0, Pending: 0}, seq)
}

func TestLedger_SubmitRejectsInvalidRecipient(t *testing.T) {
	l := New()

	_, err := l.Submit(context.Background(), issueCall("not-an-address"), 0)
	assert.ErrorIs(t, err, driven.ErrRejected)
}

func TestLedger_DoubleRevokeRejected(t *testing.T) {
	l := New()
	receipt := submitAndConfirm(t, l, issueCall("0xA1"), 0)
	events, err := l.DecodeEvents(receipt, model.EventDegreeIssued)
	require.NoError(t, err)
	id, _ := events[0].Fields.String(model.FieldDegreeID)

	revoke := model.Call{Method: model.MethodRevokeDegree, Args: []any{id}}
	revoked := submitAndConfirm(t, l, revoke, 1)
	assert.True(t, revoked.Succeeded)

	revokedEvents, err := l.DecodeEvents(revoked, model.EventDegreeRevoked)
	require.NoError(t, err)
	assert.Len(t, revokedEvents, 1)

	_, err = l.Submit(context.Background(), revoke, 2)
	assert.ErrorIs(t, err, driven.ErrRejected)

	values, err := l.Read(context.Background(), model.Call{Method: model.MethodVerifyDegree, Args: []any{id}})
	require.NoError(t, err)
	assert.Equal(t, false, values[model.FieldIsValid])
}

func TestLedger_ReadUnknownDegree(t *testing.T) {
	l := New()

	_, err := l.Read(context.Background(), model.Call{Method: model.MethodVerifyDegree, Args: []any{"0xdeadbeef"}})
	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestLedger_SuppressEvents(t *testing.T) {
	l := New()
	l.SuppressEvents(model.MethodIssueDegree)

	receipt := submitAndConfirm(t, l, issueCall("0xA1"), 0)
	assert.True(t, receipt.Succeeded)

	events, err := l.DecodeEvents(receipt, model.EventDegreeIssued)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLedger_TimeoutThenLandsLater(t *testing.T) {
	l := New(
		WithConfirmDelay(func(model.Call) time.Duration { return 80 * time.Millisecond }),
		WithConfirmTimeout(10*time.Millisecond),
	)
	ctx := context.Background()

	ptx, err := l.Submit(ctx, issueCall("0xA1"), 0)
	require.NoError(t, err)

	_, err = l.AwaitConfirmation(ctx, ptx)
	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrTimeout)

	seq, err := l.SignerSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq.InFlight())

	assert.Eventually(t, func() bool {
		seq, err := l.SignerSequence(ctx)
		return err == nil && seq.InFlight() == 0 && seq.Confirmed == 1
	}, time.Second, 10*time.Millisecond)
}
