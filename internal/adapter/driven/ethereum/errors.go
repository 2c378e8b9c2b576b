package ethereum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

// classify wraps err with the port error class it belongs to. Transport
// failures become ErrConnection; anything the node answered becomes fallback.
func classify(op string, err error, fallback error) error {
	if err == nil {
		return nil
	}
	if isConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", op, driven.ErrConnection, err)
	}
	return fmt.Errorf("%s: %w: %w", op, fallback, err)
}

func isConnectionError(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded)
}

// isRevert reports whether the node answered that contract execution reverted.
func isRevert(err error) bool {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	return strings.Contains(strings.ToLower(rpcErr.Error()), "execution reverted")
}

// Pool and state-transition errors a node returns when the nonce does not fit
// the account: core.ErrNonceTooLow, core.ErrNonceTooHigh,
// txpool.ErrAlreadyKnown, txpool.ErrReplaceUnderpriced. They arrive as RPC
// error text, so they are matched by message.
var nonceErrorMessages = []string{
	"nonce too low",
	"nonce too high",
	"already known",
	"replacement transaction underpriced",
}

// isSequenceConflict reports whether the node refused a transaction because
// its nonce was used or out of order.
func isSequenceConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range nonceErrorMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
