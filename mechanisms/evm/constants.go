package evm

import (
	"github.com/ethereum/go-ethereum/common"
)

const (
	// Primary type of the signed structure
	PrimaryTypeTransferWithAuthorization = "TransferWithAuthorization"

	// Forwarder function names
	FunctionTransferWithAuthorization = "transferWithAuthorization"
	FunctionAuthorizationState        = "authorizationState"
	FunctionDomainSeparator           = "DOMAIN_SEPARATOR"

	// ERC-20 function names
	FunctionAllowance = "allowance"
	FunctionApprove   = "approve"
	FunctionBalanceOf = "balanceOf"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// Default validity period (1 hour)
	DefaultValidityPeriod = 3600 // seconds

	// DefaultRelayGasLimit covers the forwarder's worst-case transferWithAuthorization path.
	// Automatic estimation is not used for relays.
	DefaultRelayGasLimit uint64 = 150_000

	// DefaultThreshold is the fraction of the approve amount below which
	// the allowance is topped up again.
	DefaultThreshold = "0.2"

	// NonceSize is the length of an authorization nonce in bytes
	NonceSize = 32
)

var (
	// ZeroAddress is rejected as a transfer recipient
	ZeroAddress = common.Address{}

	// EIP712DomainType is the domain schema bound into every signature
	EIP712DomainType = []TypedDataField{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	// TransferWithAuthorizationType lists the authorization fields in signing order.
	// The order is part of the type hash and must never change.
	TransferWithAuthorizationType = []TypedDataField{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	}

	// ForwarderABI is the relaying contract surface consumed by the relay core
	ForwarderABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "DOMAIN_SEPARATOR",
			"outputs": [{"name": "", "type": "bytes32"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// ERC20ABI is the token surface consumed by the relay core
	ERC20ABI = []byte(`[
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"name": "allowance",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"name": "approve",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "account", "type": "address"}
			],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
)
