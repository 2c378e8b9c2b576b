// Package memledger is an in-process ledger that implements the LedgerClient
// port with the degree contract's semantics. It enforces per-signer sequence
// numbers and confirms transactions asynchronously, which makes it useful for
// development mode and for exercising the issuance pipeline in tests.
package memledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/degreeledger/internal/domain/model"
	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LedgerClient = (*Ledger)(nil)

// ContractAddress is the address reported on every emitted log.
const ContractAddress = "0x000000000000000000000000000000000000dE9e"

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{1,40}$`)

// numericFields are event fields carried as integers.
var numericFields = map[string]bool{
	model.FieldIssueDate: true,
	model.FieldRevokedAt: true,
}

type degree struct {
	id         string
	recipient  string
	degreeName string
	university string
	issueDate  int64
	isValid    bool
	nonce      uint64
}

type transaction struct {
	hash     string
	call     model.Call
	sequence uint64
	dueAt    time.Time
	receipt  *model.Receipt
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for issue dates and confirmation delays.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithConfirmDelay sets how long each transaction waits before inclusion.
func WithConfirmDelay(delay func(call model.Call) time.Duration) Option {
	return func(l *Ledger) { l.delay = delay }
}

// WithConfirmTimeout bounds AwaitConfirmation. Zero means wait for inclusion.
func WithConfirmTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.timeout = d }
}

// Ledger is a single-contract, single-signer in-memory ledger.
type Ledger struct {
	mu        sync.Mutex
	degrees   map[string]*degree
	byHolder  map[string][]string
	txs       map[string]*transaction
	pending   []*transaction // Ordered by sequence.
	confirmed uint64         // Next sequence to be included.
	next      uint64         // Next sequence the ledger accepts.
	block     uint64
	issued    uint64
	muted     map[string]bool
	now       func() time.Time
	delay     func(call model.Call) time.Duration
	timeout   time.Duration
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		degrees:  make(map[string]*degree),
		byHolder: make(map[string][]string),
		txs:      make(map[string]*transaction),
		muted:    make(map[string]bool),
		now:      time.Now,
		delay:    func(model.Call) time.Duration { return 0 },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SuppressEvents stops the ledger from emitting logs for transactions calling
// method. Used to simulate a contract that confirms without assigning an id.
func (l *Ledger) SuppressEvents(method string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.muted[method] = true
}

// ValidateAddress accepts 0x-prefixed hexadecimal account identifiers.
func (l *Ledger) ValidateAddress(addr string) error {
	if !addressPattern.MatchString(addr) {
		return fmt.Errorf("invalid account identifier %q", addr)
	}
	return nil
}

// Submit accepts call at sequence, which must equal the signer's next
// sequence. Calls the contract would reject are refused before broadcast.
func (l *Ledger) Submit(_ context.Context, call model.Call, sequence uint64) (model.PendingTx, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.settleLocked()

	if sequence != l.next {
		return model.PendingTx{}, fmt.Errorf("%w: sequence %d, expected %d", driven.ErrSequenceConflict, sequence, l.next)
	}
	if err := l.preflightLocked(call); err != nil {
		return model.PendingTx{}, err
	}

	sum := sha256.Sum256([]byte(uuid.NewString()))
	now := l.now()
	tx := &transaction{
		hash:     "0x" + hex.EncodeToString(sum[:]),
		call:     call,
		sequence: sequence,
		dueAt:    now.Add(l.delay(call)),
	}
	l.txs[tx.hash] = tx
	l.pending = append(l.pending, tx)
	l.next++

	return model.PendingTx{
		Hash:        tx.hash,
		Sequence:    sequence,
		Method:      call.Method,
		SubmittedAt: now,
	}, nil
}

// AwaitConfirmation waits until the transaction is included or the configured
// timeout elapses.
func (l *Ledger) AwaitConfirmation(ctx context.Context, ptx model.PendingTx) (model.Receipt, error) {
	l.mu.Lock()
	tx, ok := l.txs[ptx.Hash]
	l.mu.Unlock()
	if !ok {
		return model.Receipt{}, fmt.Errorf("%w: unknown transaction %s", driven.ErrQuery, ptx.Hash)
	}

	wait := tx.dueAt.Sub(l.now())
	if l.timeout > 0 && wait > l.timeout {
		if err := sleep(ctx, l.timeout); err != nil {
			return model.Receipt{}, &driven.TimeoutError{TxHash: ptx.Hash, Sequence: ptx.Sequence, Cause: err}
		}
		return model.Receipt{}, &driven.TimeoutError{TxHash: ptx.Hash, Sequence: ptx.Sequence}
	}
	if err := sleep(ctx, wait); err != nil {
		return model.Receipt{}, &driven.TimeoutError{TxHash: ptx.Hash, Sequence: ptx.Sequence, Cause: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.settleLocked()
	if tx.receipt == nil {
		return model.Receipt{}, &driven.TimeoutError{TxHash: ptx.Hash, Sequence: ptx.Sequence}
	}
	return *tx.receipt, nil
}

// Read answers verifyDegree and getDegreesByAddress.
func (l *Ledger) Read(_ context.Context, call model.Call) (model.Values, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settleLocked()

	switch call.Method {
	case model.MethodVerifyDegree:
		id, err := stringArg(call, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", driven.ErrQuery, err)
		}
		d, ok := l.degrees[strings.ToLower(id)]
		if !ok {
			return nil, fmt.Errorf("%w: degree %s", driven.ErrNotFound, id)
		}
		return model.Values{
			model.FieldDegreeID:   d.id,
			model.FieldRecipient:  d.recipient,
			model.FieldDegreeName: d.degreeName,
			model.FieldUniversity: d.university,
			model.FieldIssueDate:  big.NewInt(d.issueDate),
			model.FieldIsValid:    d.isValid,
			model.FieldNonce:      new(big.Int).SetUint64(d.nonce),
		}, nil
	case model.MethodDegreesByAddress:
		addr, err := stringArg(call, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", driven.ErrQuery, err)
		}
		ids := append([]string{}, l.byHolder[strings.ToLower(addr)]...)
		return model.Values{model.FieldDegreeIDs: ids}, nil
	default:
		return nil, fmt.Errorf("%w: unknown view %q", driven.ErrQuery, call.Method)
	}
}

// DecodeEvents returns the logs of receipt emitted as eventName.
func (l *Ledger) DecodeEvents(receipt model.Receipt, eventName string) ([]model.Event, error) {
	var events []model.Event
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != eventName {
			continue
		}
		var raw map[string]string
		if err := json.Unmarshal(lg.Data, &raw); err != nil {
			return nil, fmt.Errorf("decode %s log %d: %w", eventName, lg.Index, err)
		}
		fields := model.Values{}
		for name, value := range raw {
			if numericFields[name] {
				n, ok := new(big.Int).SetString(value, 10)
				if !ok {
					return nil, fmt.Errorf("decode %s log %d: field %s is not an integer", eventName, lg.Index, name)
				}
				fields[name] = n
				continue
			}
			fields[name] = value
		}
		events = append(events, model.Event{
			Name:     eventName,
			TxHash:   receipt.TxHash,
			LogIndex: lg.Index,
			Fields:   fields,
		})
	}
	return events, nil
}

// SignerSequence reports included and accepted sequence counts.
func (l *Ledger) SignerSequence(_ context.Context) (model.SequenceState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settleLocked()
	return model.SequenceState{Confirmed: l.confirmed, Pending: l.next}, nil
}

// preflightLocked mirrors the contract's require() checks so invalid calls
// fail before they consume a sequence number.
func (l *Ledger) preflightLocked(call model.Call) error {
	switch call.Method {
	case model.MethodIssueDegree:
		if len(call.Args) != 3 {
			return fmt.Errorf("%w: issueDegree takes 3 arguments, got %d", driven.ErrRejected, len(call.Args))
		}
		recipient, err := stringArg(call, 0)
		if err != nil {
			return fmt.Errorf("%w: %v", driven.ErrRejected, err)
		}
		if err := l.ValidateAddress(recipient); err != nil {
			return fmt.Errorf("%w: %v", driven.ErrRejected, err)
		}
		return nil
	case model.MethodRevokeDegree:
		id, err := stringArg(call, 0)
		if err != nil {
			return fmt.Errorf("%w: %v", driven.ErrRejected, err)
		}
		d, ok := l.degrees[strings.ToLower(id)]
		if !ok {
			return fmt.Errorf("%w: degree %s does not exist", driven.ErrRejected, id)
		}
		if !d.isValid {
			return fmt.Errorf("%w: degree %s already revoked", driven.ErrRejected, id)
		}
		// A revoke already waiting for inclusion would make this one revert.
		for _, tx := range l.pending {
			if tx.call.Method == model.MethodRevokeDegree && tx.receipt == nil && len(tx.call.Args) > 0 &&
				strings.EqualFold(fmt.Sprint(tx.call.Args[0]), id) {
				return fmt.Errorf("%w: degree %s already revoked", driven.ErrRejected, id)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown method %q", driven.ErrRejected, call.Method)
	}
}

// settleLocked includes every pending transaction whose confirmation time has
// passed, strictly in sequence order.
func (l *Ledger) settleLocked() {
	now := l.now()
	sort.Slice(l.pending, func(i, j int) bool { return l.pending[i].sequence < l.pending[j].sequence })
	for len(l.pending) > 0 {
		tx := l.pending[0]
		if tx.sequence != l.confirmed || now.Before(tx.dueAt) {
			return
		}
		l.pending = l.pending[1:]
		l.block++
		l.confirmed++
		tx.receipt = l.executeLocked(tx)
	}
}

func (l *Ledger) executeLocked(tx *transaction) *model.Receipt {
	receipt := &model.Receipt{
		TxHash:      tx.hash,
		BlockNumber: l.block,
		Sequence:    tx.sequence,
		Succeeded:   true,
	}

	var fields map[string]string
	var topics []string
	var eventName string

	switch tx.call.Method {
	case model.MethodIssueDegree:
		recipient, _ := stringArg(tx.call, 0)
		name, _ := stringArg(tx.call, 1)
		university, _ := stringArg(tx.call, 2)
		l.issued++
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%s", recipient, name, university, l.issued, tx.hash)))
		d := &degree{
			id:         "0x" + hex.EncodeToString(sum[:]),
			recipient:  recipient,
			degreeName: name,
			university: university,
			issueDate:  l.now().Unix(),
			isValid:    true,
			nonce:      l.issued,
		}
		l.degrees[d.id] = d
		holder := strings.ToLower(recipient)
		l.byHolder[holder] = append(l.byHolder[holder], d.id)

		eventName = model.EventDegreeIssued
		topics = []string{eventName, d.id, recipient}
		fields = map[string]string{
			model.FieldDegreeID:   d.id,
			model.FieldRecipient:  recipient,
			model.FieldDegreeName: name,
			model.FieldUniversity: university,
			model.FieldIssueDate:  fmt.Sprint(d.issueDate),
		}
	case model.MethodRevokeDegree:
		id, _ := stringArg(tx.call, 0)
		d, ok := l.degrees[strings.ToLower(id)]
		if !ok || !d.isValid {
			receipt.Succeeded = false
			return receipt
		}
		d.isValid = false
		eventName = model.EventDegreeRevoked
		topics = []string{eventName, d.id}
		fields = map[string]string{
			model.FieldDegreeID:  d.id,
			model.FieldRevokedAt: fmt.Sprint(l.now().Unix()),
		}
	}

	if eventName == "" || l.muted[tx.call.Method] {
		return receipt
	}
	data, _ := json.Marshal(fields)
	receipt.Logs = []model.Log{{
		Address: ContractAddress,
		Topics:  topics,
		Data:    data,
		Index:   0,
	}}
	return receipt
}

func stringArg(call model.Call, i int) (string, error) {
	if i >= len(call.Args) {
		return "", fmt.Errorf("%s: missing argument %d", call.Method, i)
	}
	s, ok := call.Args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d is %T, not string", call.Method, i, call.Args[i])
	}
	return s, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
