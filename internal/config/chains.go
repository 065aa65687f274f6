package config

import "sort"

// ForwarderRecord is the EIP-3009 forwarder deployed in front of a token
type ForwarderRecord struct {
	Name    string
	Version string
	Address string
}

// TokenRecord describes a token on a chain. EIP3009 is true when the token
// implements transferWithAuthorization itself; otherwise Forwarder is required.
type TokenRecord struct {
	Address   string
	EIP3009   bool
	Decimals  uint8
	Forwarder *ForwarderRecord
}

// ChainRecord describes a chain the relayer knows out of the box
type ChainRecord struct {
	RPCURL  string
	ChainID int64
	Tokens  map[string]TokenRecord
}

// Chains is the built-in chain and token registry
var Chains = map[string]ChainRecord{
	"skale-europa-testnet": {
		RPCURL:  "https://testnet.skalenodes.com/v1/juicy-low-small-testnet",
		ChainID: 1444673419,
		Tokens: map[string]TokenRecord{
			"usdc": {
				Address:  "0x9eAb55199f4481eCD7659540A17Af618766b07C4",
				Decimals: 6,
				EIP3009:  false,
				Forwarder: &ForwarderRecord{
					Name:    "USDC Forwarder",
					Version: "1",
					Address: "0x7779B0d1766e6305E5f8081E3C0CDF58FcA24330",
				},
			},
		},
	},
}

// ChainNames lists the registry entries in sorted order
func ChainNames() []string {
	names := make([]string, 0, len(Chains))
	for name := range Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
