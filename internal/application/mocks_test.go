package application_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ericfisherdev/degreeledger/internal/application"
	"github.com/ericfisherdev/degreeledger/internal/domain/model"
	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

// --- Mock implementations ---

type submission struct {
	call     model.Call
	sequence uint64
}

// mockLedger records submissions and tracks how many transactions are
// simultaneously awaiting confirmation.
type mockLedger struct {
	mu sync.Mutex

	submitFn   func(call model.Call, sequence uint64) error
	awaitFn    func(ptx model.PendingTx) (model.Receipt, error)
	sequenceFn func(calls int) (model.SequenceState, error)
	decodeFn   func(receipt model.Receipt) ([]model.Event, error)
	awaitDelay time.Duration
	addressErr error

	confirmed     uint64
	submitted     []submission
	confirmations []uint64
	inFlight      int
	maxInFlight   int
	sequenceCalls int
}

func (m *mockLedger) Read(_ context.Context, _ model.Call) (model.Values, error) {
	return nil, driven.ErrNotFound
}

func (m *mockLedger) Submit(_ context.Context, call model.Call, sequence uint64) (model.PendingTx, error) {
	if m.submitFn != nil {
		if err := m.submitFn(call, sequence); err != nil {
			return model.PendingTx{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, submission{call: call, sequence: sequence})
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	return model.PendingTx{
		Hash:     fmt.Sprintf("0xtx%d", sequence),
		Sequence: sequence,
		Method:   call.Method,
	}, nil
}

func (m *mockLedger) AwaitConfirmation(_ context.Context, ptx model.PendingTx) (model.Receipt, error) {
	if m.awaitDelay > 0 {
		time.Sleep(m.awaitDelay)
	}

	receipt := model.Receipt{TxHash: ptx.Hash, Sequence: ptx.Sequence, Succeeded: true}
	var err error
	if m.awaitFn != nil {
		receipt, err = m.awaitFn(ptx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	if err == nil {
		m.confirmations = append(m.confirmations, ptx.Sequence)
		m.confirmed = ptx.Sequence + 1
	}
	return receipt, err
}

func (m *mockLedger) DecodeEvents(receipt model.Receipt, _ string) ([]model.Event, error) {
	if m.decodeFn != nil {
		return m.decodeFn(receipt)
	}
	return []model.Event{{
		Name:   model.EventDegreeIssued,
		TxHash: receipt.TxHash,
		Fields: model.Values{model.FieldDegreeID: "0xid-" + receipt.TxHash},
	}}, nil
}

func (m *mockLedger) SignerSequence(_ context.Context) (model.SequenceState, error) {
	m.mu.Lock()
	m.sequenceCalls++
	calls := m.sequenceCalls
	confirmed := m.confirmed
	m.mu.Unlock()

	if m.sequenceFn != nil {
		return m.sequenceFn(calls)
	}
	return model.SequenceState{Confirmed: confirmed, Pending: confirmed}, nil
}

func (m *mockLedger) ValidateAddress(_ string) error {
	return m.addressErr
}

func (m *mockLedger) snapshot() (submitted []submission, confirmations []uint64, maxInFlight, sequenceCalls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]submission(nil), m.submitted...),
		append([]uint64(nil), m.confirmations...),
		m.maxInFlight,
		m.sequenceCalls
}

// mockMirror is an in-memory MirrorStore with failure injection.
type mockMirror struct {
	mu sync.Mutex

	records     map[string]model.CredentialRecord
	failUpserts int
	findErr     error
	updateErr   error
	upserts     int
}

func newMockMirror() *mockMirror {
	return &mockMirror{records: make(map[string]model.CredentialRecord)}
}

func (m *mockMirror) UpsertByCredentialID(_ context.Context, record model.CredentialRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.failUpserts > 0 {
		m.failUpserts--
		return false, fmt.Errorf("upsert: %w: database is locked", driven.ErrStoreUnavailable)
	}
	if _, ok := m.records[record.CredentialID]; ok {
		return false, nil
	}
	m.records[record.CredentialID] = record
	return true, nil
}

func (m *mockMirror) UpdateRevocation(_ context.Context, credentialID string, update model.RevocationUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return false, m.updateErr
	}
	rec, ok := m.records[credentialID]
	if !ok {
		return false, nil
	}
	if !rec.IsRevoked {
		revokedAt := update.RevokedAt
		rec.IsRevoked = true
		rec.RevokedAt = &revokedAt
		rec.RevokeTxHash = update.RevokeTxHash
		m.records[credentialID] = rec
	}
	return true, nil
}

func (m *mockMirror) FindByCredentialID(_ context.Context, credentialID string) (*model.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	rec, ok := m.records[credentialID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *mockMirror) FindByHolderAddress(_ context.Context, holderAddress string) ([]model.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.CredentialRecord{}
	for _, rec := range m.records {
		if rec.HolderAddress == holderAddress {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (m *mockMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *mockMirror) get(id string) (model.CredentialRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok
}

// startSequencer runs a sequencer over ledger until the test ends.
func startSequencer(t *testing.T, ledger driven.LedgerClient) *application.Sequencer {
	t.Helper()

	seq := application.NewSequencer(ledger, application.SequencerConfig{
		ReconcileInitialInterval: time.Millisecond,
		ReconcileMaxInterval:     5 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		seq.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return seq
}

func issueCall(holder string) model.Call {
	return model.Call{Method: model.MethodIssueDegree, Args: []any{holder, "BSc CS", "Stanford"}}
}
