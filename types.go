package relay

import (
	"fmt"
	"math/big"
	"strings"
)

// Network represents a blockchain network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "eip155:1444673419" for SKALE Europa testnet)
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// ChainID returns the numeric chain id of an eip155 network
func (n Network) ChainID() (*big.Int, error) {
	namespace, reference, err := n.Parse()
	if err != nil {
		return nil, err
	}
	if namespace != "eip155" {
		return nil, fmt.Errorf("unsupported network namespace: %s", namespace)
	}
	chainID, ok := new(big.Int).SetString(reference, 10)
	if !ok || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id in network: %s", n)
	}
	return chainID, nil
}

// NetworkFromChainID builds the CAIP-2 identifier of an EVM chain
func NetworkFromChainID(chainID *big.Int) Network {
	return Network("eip155:" + chainID.String())
}

// Authorization is the wire form of a TransferWithAuthorization message.
// Integers are decimal strings; nonce is 0x-prefixed 32-byte hex.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// RelayRequest carries an externally signed authorization to the relayer
type RelayRequest struct {
	Authorization Authorization `json:"authorization"`
	Signature     string        `json:"signature"`
}

// RelayResponse contains the relay result
type RelayResponse struct {
	Success     bool        `json:"success"`
	Transaction string      `json:"transaction,omitempty"`
	GasUsed     uint64      `json:"gasUsed,omitempty"`
	BlockNumber uint64      `json:"blockNumber,omitempty"`
	Payer       string      `json:"payer,omitempty"`
	Network     Network     `json:"network"`
	Error       *RelayError `json:"error,omitempty"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// DomainInfo describes the signing domain a relayer accepts authorizations for
type DomainInfo struct {
	Network           Network `json:"network"`
	ChainID           string  `json:"chainId"`
	Name              string  `json:"name"`
	Version           string  `json:"version"`
	VerifyingContract string  `json:"verifyingContract"`
	Token             string  `json:"token"`
	Decimals          uint8   `json:"decimals"`
	PrimaryType       string  `json:"primaryType"`
}
