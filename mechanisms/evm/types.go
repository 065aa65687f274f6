package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	relay "github.com/thegreataxios/eip3009-relay"
)

// ChainContext identifies the chain and the relaying contract that defines the signing domain
type ChainContext struct {
	ChainID          *big.Int
	ForwarderAddress common.Address
	ForwarderName    string
	ForwarderVersion string
}

// Domain returns the EIP-712 domain the forwarder verifies signatures against
func (c ChainContext) Domain() TypedDataDomain {
	return TypedDataDomain{
		Name:              c.ForwarderName,
		Version:           c.ForwarderVersion,
		ChainID:           c.ChainID,
		VerifyingContract: c.ForwarderAddress.Hex(),
	}
}

// Network returns the CAIP-2 identifier of the chain
func (c ChainContext) Network() relay.Network {
	return relay.NetworkFromChainID(c.ChainID)
}

// Validate checks that every static input needed for signing is present
func (c ChainContext) Validate() error {
	if c.ChainID == nil || c.ChainID.Sign() <= 0 {
		return relay.NewConfigurationError("chain id must be positive")
	}
	if c.ForwarderAddress == ZeroAddress {
		return relay.NewConfigurationError("forwarder address is required")
	}
	if c.ForwarderName == "" {
		return relay.NewConfigurationError("forwarder name is required")
	}
	if c.ForwarderVersion == "" {
		return relay.NewConfigurationError("forwarder version is required")
	}
	return nil
}

// TokenContext identifies the ERC-20 token being moved
type TokenContext struct {
	Address  common.Address
	Decimals uint8
}

// Validate checks the token record
func (t TokenContext) Validate() error {
	if t.Address == ZeroAddress {
		return relay.NewConfigurationError("token address is required")
	}
	return nil
}

// Authorization is a TransferWithAuthorization message.
// It is immutable once signed and redeemable exactly once on-chain.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// Validate checks the local invariants of an authorization.
// Uniqueness of the nonce is enforced only by the forwarder.
func (a Authorization) Validate() error {
	if a.From == ZeroAddress {
		return invalidParameters("from must not be the zero address")
	}
	if a.To == ZeroAddress {
		return invalidParameters("to must not be the zero address")
	}
	if a.Value == nil || a.Value.Sign() <= 0 {
		return invalidParameters("value must be greater than zero")
	}
	if a.ValidAfter == nil || a.ValidBefore == nil {
		return invalidParameters("validity window is required")
	}
	if a.ValidAfter.Cmp(a.ValidBefore) >= 0 {
		return invalidParameters(fmt.Sprintf("validAfter %s must be before validBefore %s", a.ValidAfter, a.ValidBefore))
	}
	return nil
}

// ToWire converts the authorization to its JSON wire form
func (a Authorization) ToWire() relay.Authorization {
	return relay.Authorization{
		From:        a.From.Hex(),
		To:          a.To.Hex(),
		Value:       a.Value.String(),
		ValidAfter:  a.ValidAfter.String(),
		ValidBefore: a.ValidBefore.String(),
		Nonce:       BytesToHex(a.Nonce[:]),
	}
}

// AuthorizationFromWire parses the JSON wire form of an authorization
func AuthorizationFromWire(w relay.Authorization) (Authorization, error) {
	if !IsValidAddress(w.From) {
		return Authorization{}, invalidParameters(fmt.Sprintf("invalid from address: %s", w.From))
	}
	if !IsValidAddress(w.To) {
		return Authorization{}, invalidParameters(fmt.Sprintf("invalid to address: %s", w.To))
	}
	value, ok := new(big.Int).SetString(w.Value, 10)
	if !ok {
		return Authorization{}, invalidParameters(fmt.Sprintf("invalid value: %s", w.Value))
	}
	validAfter, ok := new(big.Int).SetString(w.ValidAfter, 10)
	if !ok {
		return Authorization{}, invalidParameters(fmt.Sprintf("invalid validAfter: %s", w.ValidAfter))
	}
	validBefore, ok := new(big.Int).SetString(w.ValidBefore, 10)
	if !ok {
		return Authorization{}, invalidParameters(fmt.Sprintf("invalid validBefore: %s", w.ValidBefore))
	}
	nonce, err := HexToBytes32(w.Nonce)
	if err != nil {
		return Authorization{}, invalidParameters(fmt.Sprintf("invalid nonce: %v", err))
	}

	auth := Authorization{
		From:        common.HexToAddress(w.From),
		To:          common.HexToAddress(w.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}
	return auth, auth.Validate()
}

// Signature is an ECDSA signature split into the components the forwarder consumes
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// Bytes returns the packed 65-byte form: R (32 bytes) + S (32 bytes) + V (1 byte)
func (s Signature) Bytes() []byte {
	sig := make([]byte, 65)
	copy(sig[0:32], s.R[:])
	copy(sig[32:64], s.S[:])
	sig[64] = s.V
	return sig
}

// Hex returns the packed signature as 0x-prefixed hex
func (s Signature) Hex() string {
	return BytesToHex(s.Bytes())
}

// AllowanceState is the spending allowance of spender over owner's tokens
type AllowanceState struct {
	Owner            common.Address
	Spender          common.Address
	CurrentAllowance *big.Int
	// ApprovalTx is set when the reconciler had to submit an approval
	ApprovalTx *common.Hash
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64
	BlockNumber uint64
	TxHash      common.Hash
	GasUsed     uint64
	// RevertData holds the error payload of a failed transaction when the
	// signer could recover it
	RevertData []byte
}

// RelayOutcome is the result of one on-chain submission attempt: Confirmed or Failed.
type RelayOutcome interface {
	isRelayOutcome()
}

// Confirmed is a relay that reached finality successfully
type Confirmed struct {
	TxHash      common.Hash
	GasUsed     uint64
	BlockNumber uint64
}

// Failed is a relay that reverted. Reason is nil until RevertErrorDecoder enriches it.
type Failed struct {
	TxHash     common.Hash
	Selector   Selector
	RevertData []byte
	Reason     *DecodedError
}

func (Confirmed) isRelayOutcome() {}
func (Failed) isRelayOutcome()    {}

// ChainReader reads contract state
type ChainReader interface {
	// ReadContract calls a view function and returns its single output
	ReadContract(ctx context.Context, address common.Address, abi []byte, functionName string, args ...interface{}) (interface{}, error)
}

// TransactorEvmSigner submits transactions from a single account.
// The holder uses one for approvals, the relayer uses one for relays.
type TransactorEvmSigner interface {
	ChainReader

	// Address returns the account that signs and pays for transactions
	Address() common.Address

	// WriteContract sends a transaction calling functionName.
	// gasLimit 0 means the implementation estimates gas.
	WriteContract(ctx context.Context, address common.Address, abi []byte, functionName string, gasLimit uint64, args ...interface{}) (common.Hash, error)

	// WaitForTransactionReceipt blocks until the transaction is mined
	WaitForTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error)
}

// ClientEvmSigner is the holder's structured-data signing capability
type ClientEvmSigner interface {
	// Address returns the signer's Ethereum address
	Address() common.Address

	// SignTypedData signs EIP-712 typed data and returns a 65-byte signature (r, s, v)
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
}

// TypedDataDomain represents the EIP-712 domain separator
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func invalidParameters(message string) *relay.RelayError {
	return relay.NewRelayError(relay.ErrCodeInvalidAuthorizationParameters, message, nil)
}
