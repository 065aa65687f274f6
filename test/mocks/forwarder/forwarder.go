// Package forwarder is an in-memory ERC-20 token and EIP-3009 forwarder for tests.
//
// It enforces the forwarder's checks in contract order and answers failed
// transactions with the same custom error selectors the deployed contract uses.
package forwarder

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
)

// Gas reported in receipts
const (
	ApproveGas  uint64 = 46_000
	RelayGas    uint64 = 84_000
	RevertedGas uint64 = 31_000
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Chain simulates one token and its forwarder on a single chain
type Chain struct {
	mu sync.Mutex

	domain    evm.ChainContext
	token     common.Address
	balances  map[common.Address]*big.Int
	allowance map[allowanceKey]*big.Int
	used      map[common.Address]map[[32]byte]bool
	receipts  map[common.Hash]*evm.TransactionReceipt
	submitted map[string]int
	gasLimits map[string]uint64
	txCount   uint64
	block     uint64

	// Now is the chain's block time
	Now func() time.Time

	// ReadErrors makes ReadContract fail for the named function
	ReadErrors map[string]error

	// SubmitErrors makes WriteContract fail for the named function
	SubmitErrors map[string]error

	// RevertApprovals makes approval transactions revert
	RevertApprovals bool

	// ApprovalCap, when set, bounds the allowance an approval can grant
	ApprovalCap *big.Int
}

// New creates a chain whose forwarder verifies signatures against domain
func New(domain evm.ChainContext, token common.Address) *Chain {
	return &Chain{
		domain:       domain,
		token:        token,
		balances:     make(map[common.Address]*big.Int),
		allowance:    make(map[allowanceKey]*big.Int),
		used:         make(map[common.Address]map[[32]byte]bool),
		receipts:     make(map[common.Hash]*evm.TransactionReceipt),
		submitted:    make(map[string]int),
		gasLimits:    make(map[string]uint64),
		Now:          time.Now,
		ReadErrors:   make(map[string]error),
		SubmitErrors: make(map[string]error),
	}
}

// Domain returns the forwarder's real domain
func (c *Chain) Domain() evm.ChainContext {
	return c.domain
}

// SetBalance sets an account's token balance
func (c *Chain) SetBalance(account common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = new(big.Int).Set(amount)
}

// SetAllowance sets owner's allowance to spender
func (c *Chain) SetAllowance(owner, spender common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowance[allowanceKey{owner, spender}] = new(big.Int).Set(amount)
}

// MarkUsed consumes a nonce without a transfer
func (c *Chain) MarkUsed(authorizer common.Address, nonce [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markUsedLocked(authorizer, nonce)
}

// Balance returns an account's token balance
func (c *Chain) Balance(account common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balanceLocked(account))
}

// Allowance returns owner's allowance to spender
func (c *Chain) Allowance(owner, spender common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.allowanceLocked(owner, spender))
}

// Submitted returns how many transactions called functionName
func (c *Chain) Submitted(functionName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitted[functionName]
}

// LastGasLimit returns the gas limit of the latest transaction calling functionName
func (c *Chain) LastGasLimit(functionName string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gasLimits[functionName]
}

// Account returns a transactor that sends transactions from address
func (c *Chain) Account(address common.Address) *Account {
	return &Account{chain: c, address: address}
}

// Account is a TransactorEvmSigner bound to one sender
type Account struct {
	chain   *Chain
	address common.Address
}

// Address returns the sender
func (a *Account) Address() common.Address {
	return a.address
}

// ReadContract answers the token and forwarder view functions
func (a *Account) ReadContract(ctx context.Context, address common.Address, abi []byte, functionName string, args ...interface{}) (interface{}, error) {
	c := a.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ReadErrors[functionName]; err != nil {
		return nil, err
	}

	switch functionName {
	case evm.FunctionAllowance:
		if err := c.expect(address, c.token, functionName); err != nil {
			return nil, err
		}
		return new(big.Int).Set(c.allowanceLocked(args[0].(common.Address), args[1].(common.Address))), nil
	case evm.FunctionBalanceOf:
		if err := c.expect(address, c.token, functionName); err != nil {
			return nil, err
		}
		return new(big.Int).Set(c.balanceLocked(args[0].(common.Address))), nil
	case evm.FunctionAuthorizationState:
		if err := c.expect(address, c.domain.ForwarderAddress, functionName); err != nil {
			return nil, err
		}
		return c.used[args[0].(common.Address)][args[1].([32]byte)], nil
	case evm.FunctionDomainSeparator:
		if err := c.expect(address, c.domain.ForwarderAddress, functionName); err != nil {
			return nil, err
		}
		separator, err := evm.DomainSeparator(c.domain.Domain())
		if err != nil {
			return nil, err
		}
		return [32]byte(separator), nil
	default:
		return nil, fmt.Errorf("unsupported read: %s", functionName)
	}
}

// WriteContract executes approve and transferWithAuthorization immediately
func (a *Account) WriteContract(ctx context.Context, address common.Address, abi []byte, functionName string, gasLimit uint64, args ...interface{}) (common.Hash, error) {
	c := a.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.SubmitErrors[functionName]; err != nil {
		return common.Hash{}, err
	}

	c.submitted[functionName]++
	c.gasLimits[functionName] = gasLimit
	c.txCount++
	c.block++

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], c.txCount)
	txHash := crypto.Keccak256Hash([]byte("tx"), buf[:])

	receipt := &evm.TransactionReceipt{
		Status:      evm.TxStatusSuccess,
		BlockNumber: c.block,
		TxHash:      txHash,
	}

	switch functionName {
	case evm.FunctionApprove:
		if err := c.expect(address, c.token, functionName); err != nil {
			return common.Hash{}, err
		}
		if c.RevertApprovals {
			receipt.Status = evm.TxStatusFailed
			receipt.GasUsed = RevertedGas
			break
		}
		amount := new(big.Int).Set(args[1].(*big.Int))
		if c.ApprovalCap != nil && amount.Cmp(c.ApprovalCap) > 0 {
			amount.Set(c.ApprovalCap)
		}
		c.allowance[allowanceKey{a.address, args[0].(common.Address)}] = amount
		receipt.GasUsed = ApproveGas
	case evm.FunctionTransferWithAuthorization:
		if err := c.expect(address, c.domain.ForwarderAddress, functionName); err != nil {
			return common.Hash{}, err
		}
		if selector, reverted := c.transferWithAuthorizationLocked(args); reverted {
			receipt.Status = evm.TxStatusFailed
			receipt.GasUsed = RevertedGas
			receipt.RevertData = selector[:]
			break
		}
		receipt.GasUsed = RelayGas
	default:
		return common.Hash{}, fmt.Errorf("unsupported write: %s", functionName)
	}

	c.receipts[txHash] = receipt
	return txHash, nil
}

// WaitForTransactionReceipt returns the receipt of a mined transaction
func (a *Account) WaitForTransactionReceipt(ctx context.Context, txHash common.Hash) (*evm.TransactionReceipt, error) {
	c := a.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", txHash.Hex())
	}
	copied := *receipt
	return &copied, nil
}

// Holder is a token holder that signs authorizations and sends its own approvals
type Holder struct {
	*Account
	signer evm.ClientEvmSigner
}

// NewHolder binds signer to an account on chain
func NewHolder(chain *Chain, signer evm.ClientEvmSigner) *Holder {
	return &Holder{
		Account: chain.Account(signer.Address()),
		signer:  signer,
	}
}

// Address returns the holder's address
func (h *Holder) Address() common.Address {
	return h.signer.Address()
}

// SignTypedData delegates to the holder's key
func (h *Holder) SignTypedData(ctx context.Context, domain evm.TypedDataDomain, types map[string][]evm.TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error) {
	return h.signer.SignTypedData(ctx, domain, types, primaryType, message)
}

func (c *Chain) transferWithAuthorizationLocked(args []interface{}) (evm.Selector, bool) {
	auth := evm.Authorization{
		From:        args[0].(common.Address),
		To:          args[1].(common.Address),
		Value:       args[2].(*big.Int),
		ValidAfter:  args[3].(*big.Int),
		ValidBefore: args[4].(*big.Int),
		Nonce:       args[5].([32]byte),
	}
	sig := evm.Signature{
		V: args[6].(uint8),
		R: args[7].([32]byte),
		S: args[8].([32]byte),
	}

	now := big.NewInt(c.Now().Unix())
	switch {
	case auth.From == evm.ZeroAddress || auth.To == evm.ZeroAddress:
		return evm.SelectorZeroAddress, true
	case auth.ValidAfter.Cmp(auth.ValidBefore) >= 0:
		return evm.SelectorInvalidAuthorizationDates, true
	case now.Cmp(auth.ValidAfter) < 0:
		return evm.SelectorAuthorizationNotYetValid, true
	case now.Cmp(auth.ValidBefore) >= 0:
		return evm.SelectorAuthorizationExpired, true
	case c.used[auth.From][auth.Nonce]:
		return evm.SelectorAuthorizationAlreadyUsed, true
	}

	signer, err := evm.RecoverAuthorizer(c.domain, auth, sig)
	if err != nil || signer != auth.From {
		return evm.SelectorInvalidSignature, true
	}

	allowance := c.allowanceLocked(auth.From, c.domain.ForwarderAddress)
	if allowance.Cmp(auth.Value) < 0 {
		return evm.SelectorInsufficientAllowance, true
	}
	balance := c.balanceLocked(auth.From)
	if balance.Cmp(auth.Value) < 0 {
		return evm.SelectorInsufficientBalance, true
	}

	c.markUsedLocked(auth.From, auth.Nonce)
	c.allowance[allowanceKey{auth.From, c.domain.ForwarderAddress}] = new(big.Int).Sub(allowance, auth.Value)
	c.balances[auth.From] = new(big.Int).Sub(balance, auth.Value)
	c.balances[auth.To] = new(big.Int).Add(c.balanceLocked(auth.To), auth.Value)
	return evm.Selector{}, false
}

func (c *Chain) markUsedLocked(authorizer common.Address, nonce [32]byte) {
	if c.used[authorizer] == nil {
		c.used[authorizer] = make(map[[32]byte]bool)
	}
	c.used[authorizer][nonce] = true
}

func (c *Chain) balanceLocked(account common.Address) *big.Int {
	if b, ok := c.balances[account]; ok {
		return b
	}
	return new(big.Int)
}

func (c *Chain) allowanceLocked(owner, spender common.Address) *big.Int {
	if a, ok := c.allowance[allowanceKey{owner, spender}]; ok {
		return a
	}
	return new(big.Int)
}

func (c *Chain) expect(got, want common.Address, functionName string) error {
	if got != want {
		return fmt.Errorf("%s called on %s, expected %s", functionName, got.Hex(), want.Hex())
	}
	return nil
}
