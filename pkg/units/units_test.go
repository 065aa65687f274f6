package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		want     string
	}{
		{"1", 6, "1000000"},
		{"0.01", 6, "10000"},
		{"0.000001", 6, "1"},
		{" 12.5 ", 6, "12500000"},
		{"1", 18, "1000000000000000000"},
		{"0", 6, "0"},
		{"42", 0, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := ParseUnits(tt.amount, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseUnits_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals uint8
	}{
		{"empty", "", 6},
		{"not a number", "ten", 6},
		{"negative", "-1", 6},
		{"too precise", "0.0000001", 6},
		{"fraction of indivisible token", "1.5", 0},
		{"decimals out of range", "1", 77},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUnits(tt.amount, tt.decimals)
			assert.Error(t, err)
		})
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1", FormatUnits(big.NewInt(1_000_000), 6))
	assert.Equal(t, "0.01", FormatUnits(big.NewInt(10_000), 6))
	assert.Equal(t, "0.000001", FormatUnits(big.NewInt(1), 6))
	assert.Equal(t, "4990000", FormatUnits(big.NewInt(4_990_000), 0))
	assert.Equal(t, "0", FormatUnits(nil, 6))

	v, err := ParseUnits("123.456", 6)
	require.NoError(t, err)
	assert.Equal(t, "123.456", FormatUnits(v, 6))
}

func TestParseFraction(t *testing.T) {
	d, err := ParseFraction("0.2")
	require.NoError(t, err)
	assert.Equal(t, "0.2", d.String())

	for _, s := range []string{"-0.1", "1.01", "x"} {
		_, err := ParseFraction(s)
		assert.Error(t, err, s)
	}
}
