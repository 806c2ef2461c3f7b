package common

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBtcToSats(t *testing.T) {
	assert.Equal(t, int64(1), BtcToSats(0.00000001))
	assert.Equal(t, int64(100000000), BtcToSats(1))
	assert.Equal(t, int64(0), BtcToSats(0))
	assert.Equal(t, int64(12345678), BtcToSats(0.12345678))
	// sub-satoshi remainders are floored
	assert.Equal(t, int64(1), BtcToSats(0.000000019))
	assert.Equal(t, int64(2100000000000000), BtcToSats(21000000))
}

func TestSatsToBtc(t *testing.T) {
	assert.Equal(t, 1.0, SatsToBtc(100000000))
	assert.Equal(t, 0.00000001, SatsToBtc(1))
}

func TestParseTokenUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"0.0001", 18, "100000000000000"},
		{"1.5", 8, "150000000"},
		{".5", 2, "50"},
		{"10.", 2, "1000"},
		{"0", 18, "0"},
	}
	for _, tt := range tests {
		got, err := ParseTokenUnits(tt.in, tt.decimals)
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.String(), tt.in)
	}

	_, err := ParseTokenUnits("-1", 18)
	assert.ErrorIs(t, err, ErrNegativeAmount)
	_, err = ParseTokenUnits("0.123", 2)
	assert.ErrorIs(t, err, ErrTooManyDigits)
	_, err = ParseTokenUnits("1e5", 18)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseTokenUnits("", 18)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseTokenUnits(".", 18)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFormatTokenUnits(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", FormatTokenUnits(v, 18))
	assert.Equal(t, "0.00000001", FormatTokenUnits(big.NewInt(1), 8))
	assert.Equal(t, "2", FormatTokenUnits(big.NewInt(200), 2))
	assert.Equal(t, "0", FormatTokenUnits(nil, 18))

	round, err := ParseTokenUnits(FormatTokenUnits(v, 18), 18)
	assert.NoError(t, err)
	assert.Equal(t, v, round)
}
