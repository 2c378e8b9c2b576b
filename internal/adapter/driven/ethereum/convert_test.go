package ethereum

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBytes32(t *testing.T) {
	id := testDegreeID(3)
	got, err := parseBytes32(normalizeValue(id).(string))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = parseBytes32("0x1234")
	assert.Error(t, err)
	_, err = parseBytes32("nonexistent-id")
	assert.Error(t, err)
}

func TestToBigInt(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{name: "int", in: 5, want: 5},
		{name: "int64", in: int64(-2), want: -2},
		{name: "uint64", in: uint64(9), want: 9},
		{name: "decimal string", in: "42", want: 42},
		{name: "big int", in: big.NewInt(11), want: 11},
		{name: "bad string", in: "4x", wantErr: true},
		{name: "float", in: 1.5, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := toBigInt(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Int64())
		})
	}
}

func TestToABIArgs_ArityMismatch(t *testing.T) {
	_, err := toABIArgs(contractABI.Methods["issueDegree"], []any{testHolder})
	assert.Error(t, err)
}

func TestNormalizeValue(t *testing.T) {
	addr := common.HexToAddress(testHolder)
	assert.Equal(t, testHolder, normalizeValue(addr))
	assert.Equal(t, []string{testHolder}, normalizeValue([]common.Address{addr}))
	assert.Equal(t, "keep", normalizeValue("keep"))

	n, ok := normalizeValue(uint8(7)).(*big.Int)
	require.True(t, ok)
	assert.Equal(t, int64(7), n.Int64())
}

func TestIsZeroIdentifier(t *testing.T) {
	assert.True(t, isZeroIdentifier(normalizeValue([32]byte{})))
	assert.False(t, isZeroIdentifier(normalizeValue(testDegreeID(1))))
	assert.False(t, isZeroIdentifier(42))
}
