package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ericfisherdev/degreeledger/internal/domain/model"
)

// toABIArgs converts domain arguments to the Go types the ABI packer expects
// for each input of method.
func toABIArgs(method abi.Method, args []any) ([]any, error) {
	if len(args) != len(method.Inputs) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", method.Name, len(method.Inputs), len(args))
	}

	out := make([]any, len(args))
	for i, input := range method.Inputs {
		v, err := toABIValue(input.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("%s argument %q: %w", method.Name, input.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func toABIValue(t abi.Type, arg any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		s, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("want address string, got %T", arg)
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	case abi.FixedBytesTy:
		if t.Size != 32 {
			return nil, fmt.Errorf("unsupported bytes%d", t.Size)
		}
		s, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("want bytes32 hex string, got %T", arg)
		}
		return parseBytes32(s)
	case abi.StringTy:
		s, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", arg)
		}
		return s, nil
	case abi.BoolTy:
		b, ok := arg.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", arg)
		}
		return b, nil
	case abi.UintTy, abi.IntTy:
		return toBigInt(arg)
	default:
		return nil, fmt.Errorf("unsupported ABI type %s", t.String())
	}
}

func parseBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(s)
	if err != nil {
		return out, fmt.Errorf("invalid bytes32 %q: %w", s, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("invalid bytes32 %q: %d bytes", s, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func toBigInt(arg any) (*big.Int, error) {
	switch n := arg.(type) {
	case *big.Int:
		return n, nil
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case string:
		v, ok := new(big.Int).SetString(n, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", n)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("want integer, got %T", arg)
	}
}

// normalize converts values produced by the ABI unpacker into domain
// primitives so nothing outside this package depends on go-ethereum types.
func normalize(raw map[string]any) model.Values {
	values := make(model.Values, len(raw))
	for name, v := range raw {
		values[name] = normalizeValue(v)
	}
	return values
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case common.Address:
		return x.Hex()
	case common.Hash:
		return x.Hex()
	case [32]byte:
		return hexutil.Encode(x[:])
	case [][32]byte:
		out := make([]string, len(x))
		for i := range x {
			out[i] = hexutil.Encode(x[i][:])
		}
		return out
	case []common.Address:
		out := make([]string, len(x))
		for i := range x {
			out[i] = x[i].Hex()
		}
		return out
	case uint8:
		return new(big.Int).SetUint64(uint64(x))
	case uint16:
		return new(big.Int).SetUint64(uint64(x))
	case uint32:
		return new(big.Int).SetUint64(uint64(x))
	case uint64:
		return new(big.Int).SetUint64(x)
	default:
		return v
	}
}

// isZeroIdentifier reports whether a normalized bytes32 value is all zeros,
// which the contract returns for ids it never assigned.
func isZeroIdentifier(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return false
	}
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
