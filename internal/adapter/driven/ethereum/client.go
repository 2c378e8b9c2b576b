// Package ethereum implements the LedgerClient port against an EVM JSON-RPC
// node using go-ethereum.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ericfisherdev/degreeledger/internal/domain/model"
	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LedgerClient = (*Client)(nil)

// Backend is the subset of the ethclient API the adapter uses.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg goethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg goethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config tunes how the client submits and confirms transactions.
type Config struct {
	ContractAddress string
	// ChainID is fetched from the node when nil.
	ChainID *big.Int
	// Confirmations is the number of blocks, including the inclusion block,
	// required before a receipt is returned.
	Confirmations  uint64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// GasHeadroomPercent is added on top of the node's gas estimate.
	GasHeadroomPercent uint64
}

// Client implements driven.LedgerClient for the DegreeIssuance contract.
type Client struct {
	backend  Backend
	keys     KeyHolder
	contract common.Address
	chainID  *big.Int
	cfg      Config
	logger   *slog.Logger
	close    func()
}

// Dial connects to rpcURL and returns a ready client.
func Dial(ctx context.Context, rpcURL string, keys KeyHolder, cfg Config, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %w", rpcURL, driven.ErrConnection, err)
	}

	c, err := NewClient(ctx, ec, keys, cfg, logger)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.close = ec.Close
	return c, nil
}

// NewClient creates a Client over an existing backend. This constructor is
// also used by tests to inject a fake backend.
func NewClient(ctx context.Context, backend Backend, keys KeyHolder, cfg Config, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	if keys == nil {
		return nil, errors.New("ethereum client requires a key holder")
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.GasHeadroomPercent == 0 {
		cfg.GasHeadroomPercent = 20
	}
	if logger == nil {
		logger = slog.Default()
	}

	chainID := cfg.ChainID
	if chainID == nil {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, classify("fetch chain id", err, driven.ErrQuery)
		}
		chainID = id
	}

	return &Client{
		backend:  backend,
		keys:     keys,
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  chainID,
		cfg:      cfg,
		logger:   logger,
		close:    func() {},
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.close()
}

// SignerAddress returns the issuer account that signs every transaction.
func (c *Client) SignerAddress() string {
	return c.keys.Address().Hex()
}

// ValidateAddress checks for a 20-byte hex account address.
func (c *Client) ValidateAddress(addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid account address %q", addr)
	}
	return nil
}

// Submit estimates, signs, and broadcasts call at the given sequence (nonce).
func (c *Client) Submit(ctx context.Context, call model.Call, sequence uint64) (model.PendingTx, error) {
	data, err := c.pack(call)
	if err != nil {
		return model.PendingTx{}, fmt.Errorf("%w: %w", driven.ErrRejected, err)
	}

	from := c.keys.Address()
	gas, err := c.backend.EstimateGas(ctx, goethereum.CallMsg{From: from, To: &c.contract, Data: data})
	if err != nil {
		return model.PendingTx{}, classify("estimate gas for "+call.Method, err, driven.ErrRejected)
	}
	gas += gas * c.cfg.GasHeadroomPercent / 100

	tx, err := c.buildTx(ctx, sequence, gas, data)
	if err != nil {
		return model.PendingTx{}, err
	}

	signed, err := c.keys.SignTx(tx, c.chainID)
	if err != nil {
		return model.PendingTx{}, fmt.Errorf("%w: %w", driven.ErrRejected, err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		if isSequenceConflict(err) {
			return model.PendingTx{}, fmt.Errorf("send %s at nonce %d: %w: %w", call.Method, sequence, driven.ErrSequenceConflict, err)
		}
		return model.PendingTx{}, classify("send "+call.Method, err, driven.ErrRejected)
	}

	c.logger.Debug("transaction broadcast",
		"method", call.Method,
		"tx_hash", signed.Hash().Hex(),
		"sequence", sequence,
		"gas", gas,
	)

	return model.PendingTx{
		Hash:        signed.Hash().Hex(),
		Sequence:    sequence,
		Method:      call.Method,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// buildTx prefers an EIP-1559 transaction and falls back to a legacy one on
// chains without a base fee.
func (c *Client) buildTx(ctx context.Context, nonce, gas uint64, data []byte) (*types.Transaction, error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, classify("fetch head", err, driven.ErrRejected)
	}

	if head.BaseFee != nil {
		tip, err := c.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, classify("suggest tip", err, driven.ErrRejected)
		}
		feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &c.contract,
			Value:     big.NewInt(0),
			Data:      data,
		}), nil
	}

	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify("suggest gas price", err, driven.ErrRejected)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Data:     data,
	}), nil
}

// AwaitConfirmation polls for the receipt until it is buried under the
// configured number of confirmations or ConfirmTimeout elapses.
func (c *Client) AwaitConfirmation(ctx context.Context, ptx model.PendingTx) (model.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	hash := common.HexToHash(ptx.Hash)
	var lastErr error

	poll := func() (*types.Receipt, error) {
		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		if err != nil {
			if !errors.Is(err, goethereum.NotFound) {
				lastErr = err
				if !isConnectionError(err) {
					return nil, backoff.Permanent(classify("fetch receipt", err, driven.ErrQuery))
				}
			}
			return nil, err
		}

		head, err := c.backend.BlockNumber(waitCtx)
		if err != nil {
			lastErr = err
			return nil, err
		}
		included := receipt.BlockNumber.Uint64()
		if head+1 < included+c.cfg.Confirmations {
			return nil, fmt.Errorf("receipt at block %d, head %d", included, head)
		}
		return receipt, nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.cfg.PollInterval), waitCtx)
	receipt, err := backoff.RetryWithData(poll, b)
	if err != nil {
		if waitCtx.Err() != nil {
			return model.Receipt{}, &driven.TimeoutError{TxHash: ptx.Hash, Sequence: ptx.Sequence, Cause: lastErr}
		}
		return model.Receipt{}, err
	}

	c.logger.Debug("transaction confirmed",
		"tx_hash", ptx.Hash,
		"block", receipt.BlockNumber.Uint64(),
		"status", receipt.Status,
	)

	return toReceipt(receipt, ptx.Sequence), nil
}

// Read calls a view function and returns its named outputs.
func (c *Client) Read(ctx context.Context, call model.Call) (model.Values, error) {
	method, ok := contractABI.Methods[call.Method]
	if !ok {
		return nil, fmt.Errorf("%w: unknown method %q", driven.ErrQuery, call.Method)
	}

	args, err := toABIArgs(method, call.Args)
	if err != nil {
		// A malformed identifier cannot reference an existing record.
		return nil, fmt.Errorf("%w: %w", driven.ErrNotFound, err)
	}
	data, err := contractABI.Pack(call.Method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %w", driven.ErrQuery, call.Method, err)
	}

	out, err := c.backend.CallContract(ctx, goethereum.CallMsg{From: c.keys.Address(), To: &c.contract, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%s: %w: %w", call.Method, driven.ErrNotFound, err)
		}
		return nil, classify("call "+call.Method, err, driven.ErrQuery)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s returned no data", driven.ErrQuery, call.Method)
	}

	raw := make(map[string]any)
	if err := method.Outputs.UnpackIntoMap(raw, out); err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %w", driven.ErrQuery, call.Method, err)
	}
	values := normalize(raw)

	if id, ok := values[model.FieldDegreeID]; ok && isZeroIdentifier(id) {
		return nil, fmt.Errorf("%w: %s(%v)", driven.ErrNotFound, call.Method, call.Args)
	}

	return values, nil
}

// DecodeEvents decodes receipt logs emitted by the contract as eventName.
func (c *Client) DecodeEvents(receipt model.Receipt, eventName string) ([]model.Event, error) {
	event, ok := contractABI.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", eventName)
	}

	var indexed []abi.Argument
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}

	var events []model.Event
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 || common.HexToHash(lg.Topics[0]) != event.ID {
			continue
		}
		if !strings.EqualFold(lg.Address, c.contract.Hex()) {
			continue
		}

		raw := make(map[string]any)
		if len(lg.Data) > 0 {
			if err := event.Inputs.NonIndexed().UnpackIntoMap(raw, lg.Data); err != nil {
				return nil, fmt.Errorf("decode %s log %d: %w", eventName, lg.Index, err)
			}
		}

		topics := make([]common.Hash, 0, len(lg.Topics)-1)
		for _, t := range lg.Topics[1:] {
			topics = append(topics, common.HexToHash(t))
		}
		if err := abi.ParseTopicsIntoMap(raw, indexed, topics); err != nil {
			return nil, fmt.Errorf("decode %s log %d topics: %w", eventName, lg.Index, err)
		}

		events = append(events, model.Event{
			Name:     eventName,
			TxHash:   receipt.TxHash,
			LogIndex: lg.Index,
			Fields:   normalize(raw),
		})
	}

	return events, nil
}

// SignerSequence reads the issuer account's mined and pending nonces.
func (c *Client) SignerSequence(ctx context.Context) (model.SequenceState, error) {
	addr := c.keys.Address()

	confirmed, err := c.backend.NonceAt(ctx, addr, nil)
	if err != nil {
		return model.SequenceState{}, classify("fetch confirmed nonce", err, driven.ErrQuery)
	}
	pending, err := c.backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return model.SequenceState{}, classify("fetch pending nonce", err, driven.ErrQuery)
	}

	return model.SequenceState{Confirmed: confirmed, Pending: pending}, nil
}

func (c *Client) pack(call model.Call) ([]byte, error) {
	method, ok := contractABI.Methods[call.Method]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", call.Method)
	}
	args, err := toABIArgs(method, call.Args)
	if err != nil {
		return nil, err
	}
	data, err := contractABI.Pack(call.Method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", call.Method, err)
	}
	return data, nil
}

func toReceipt(r *types.Receipt, sequence uint64) model.Receipt {
	logs := make([]model.Log, 0, len(r.Logs))
	for _, lg := range r.Logs {
		topics := make([]string, len(lg.Topics))
		for i, t := range lg.Topics {
			topics[i] = t.Hex()
		}
		logs = append(logs, model.Log{
			Address: lg.Address.Hex(),
			Topics:  topics,
			Data:    lg.Data,
			Index:   lg.Index,
		})
	}

	return model.Receipt{
		TxHash:      r.TxHash.Hex(),
		BlockNumber: r.BlockNumber.Uint64(),
		Sequence:    sequence,
		Succeeded:   r.Status == types.ReceiptStatusSuccessful,
		Logs:        logs,
	}
}
