package model

import (
	"fmt"
	"math/big"
)

// Values holds named outputs of a ledger read or fields of a decoded event,
// normalized to domain primitives: string (addresses and identifiers as 0x
// hex), bool, *big.Int, or []string.
type Values map[string]any

// String returns the named value as a string.
func (v Values) String(name string) (string, error) {
	raw, ok := v[name]
	if !ok {
		return "", fmt.Errorf("value %q missing", name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value %q is %T, not string", name, raw)
	}
	return s, nil
}

// Bool returns the named value as a bool.
func (v Values) Bool(name string) (bool, error) {
	raw, ok := v[name]
	if !ok {
		return false, fmt.Errorf("value %q missing", name)
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("value %q is %T, not bool", name, raw)
	}
	return b, nil
}

// BigInt returns the named value as an integer.
func (v Values) BigInt(name string) (*big.Int, error) {
	raw, ok := v[name]
	if !ok {
		return nil, fmt.Errorf("value %q missing", name)
	}
	switch n := raw.(type) {
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("value %q is nil", name)
		}
		return n, nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int64:
		return big.NewInt(n), nil
	default:
		return nil, fmt.Errorf("value %q is %T, not integer", name, raw)
	}
}

// Strings returns the named value as a string slice.
func (v Values) Strings(name string) ([]string, error) {
	raw, ok := v[name]
	if !ok {
		return nil, fmt.Errorf("value %q missing", name)
	}
	s, ok := raw.([]string)
	if !ok {
		return nil, fmt.Errorf("value %q is %T, not []string", name, raw)
	}
	return s, nil
}
