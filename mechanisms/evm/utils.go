package evm

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CreateNonce generates a random 32-byte authorization nonce
func CreateNonce() ([32]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// CreateValidityWindow returns the validAfter and validBefore bounds of an
// authorization that is usable from now until now+duration
func CreateValidityWindow(now time.Time, duration time.Duration) (*big.Int, *big.Int) {
	validAfter := big.NewInt(now.Unix())
	validBefore := big.NewInt(now.Add(duration).Unix())
	return validAfter, validBefore
}

// HexToBytes decodes a hex string with or without the 0x prefix
func HexToBytes(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(strings.ToLower(s[:2]) + s[2:])
}

// HexToBytes32 decodes a hex string that must be exactly 32 bytes long
func HexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := HexToBytes(s)
	if err != nil {
		return out, err
	}
	if len(b) != NonceSize {
		return out, fmt.Errorf("expected %d bytes, got %d", NonceSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// BytesToHex encodes bytes as 0x-prefixed hex
func BytesToHex(b []byte) string {
	return hexutil.Encode(b)
}

// IsValidAddress checks that s is a 20-byte hex address
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// NormalizeAddress returns the checksummed form of an address
func NormalizeAddress(s string) string {
	return common.HexToAddress(s).Hex()
}
