package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	relay "github.com/thegreataxios/eip3009-relay"
)

// AllowancePolicy decides when and how much the holder approves to the forwarder.
//
// By default one approval of ApproveAmount covers many transfers and is topped
// up once the remaining allowance drops below Threshold * ApproveAmount.
// With ApproveExact every transfer approves exactly its own value.
type AllowancePolicy struct {
	ApproveAmount *big.Int
	Threshold     decimal.Decimal
	ApproveExact  bool
}

// DefaultAllowancePolicy approves one whole token and re-approves below 20% of it
func DefaultAllowancePolicy(decimals uint8) AllowancePolicy {
	return AllowancePolicy{
		ApproveAmount: new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil),
		Threshold:     decimal.RequireFromString(DefaultThreshold),
	}
}

// Validate checks the policy parameters
func (p AllowancePolicy) Validate() error {
	if p.ApproveExact {
		return nil
	}
	if p.ApproveAmount == nil || p.ApproveAmount.Sign() <= 0 {
		return relay.NewConfigurationError("approve amount must be greater than zero")
	}
	if p.Threshold.IsNegative() || p.Threshold.GreaterThan(decimal.NewFromInt(1)) {
		return relay.NewConfigurationError("threshold must be between 0 and 1, got %s", p.Threshold)
	}
	return nil
}

// MinimumRequired is the allowance below which an approval is submitted.
// It is never less than the transfer amount itself.
func (p AllowancePolicy) MinimumRequired(transferAmount *big.Int) *big.Int {
	if p.ApproveExact {
		return new(big.Int).Set(transferAmount)
	}
	minimum := decimal.NewFromBigInt(p.ApproveAmount, 0).Mul(p.Threshold).Ceil().BigInt()
	if minimum.Cmp(transferAmount) < 0 {
		return new(big.Int).Set(transferAmount)
	}
	return minimum
}

// ApprovalAmount is the amount approved when an approval is needed
func (p AllowancePolicy) ApprovalAmount(transferAmount *big.Int) *big.Int {
	if p.ApproveExact || p.ApproveAmount.Cmp(transferAmount) < 0 {
		return new(big.Int).Set(transferAmount)
	}
	return new(big.Int).Set(p.ApproveAmount)
}

// AllowanceReconciler makes sure the forwarder may move the holder's tokens.
// Approvals are sent and paid for by the holder's transactor, never the relayer.
type AllowanceReconciler struct {
	owner  TransactorEvmSigner
	token  common.Address
	logger *zap.Logger
}

// NewAllowanceReconciler creates a reconciler for token owned by owner
func NewAllowanceReconciler(owner TransactorEvmSigner, token common.Address, logger *zap.Logger) *AllowanceReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllowanceReconciler{
		owner:  owner,
		token:  token,
		logger: logger,
	}
}

// Ensure reads the owner's allowance to spender and, if it is below the policy
// minimum, submits one approval, waits for it, and re-reads the allowance.
func (r *AllowanceReconciler) Ensure(ctx context.Context, spender common.Address, transferAmount *big.Int, policy AllowancePolicy) (*AllowanceState, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if transferAmount == nil || transferAmount.Sign() <= 0 {
		return nil, invalidParameters("transfer value must be greater than zero")
	}

	owner := r.owner.Address()
	current, err := ReadAllowance(ctx, r.owner, r.token, owner, spender)
	if err != nil {
		return nil, err
	}

	state := &AllowanceState{
		Owner:            owner,
		Spender:          spender,
		CurrentAllowance: current,
	}

	minimum := policy.MinimumRequired(transferAmount)
	r.logger.Debug("allowance check",
		zap.String("owner", owner.Hex()),
		zap.String("spender", spender.Hex()),
		zap.Stringer("allowance", current),
		zap.Stringer("minimum", minimum))

	if current.Cmp(minimum) >= 0 {
		return state, nil
	}

	amount := policy.ApprovalAmount(transferAmount)
	r.logger.Info("insufficient allowance, approving",
		zap.String("spender", spender.Hex()),
		zap.Stringer("amount", amount))

	txHash, err := r.owner.WriteContract(ctx, r.token, ERC20ABI, FunctionApprove, 0, spender, amount)
	if err != nil {
		return nil, relay.WrapRelayError(relay.ErrCodeInsufficientFundsForApproval, "approve transaction could not be submitted", err)
	}

	receipt, err := r.owner.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for approval %s: %w", txHash.Hex(), err)
	}
	if receipt.Status != TxStatusSuccess {
		return nil, relay.NewRelayError(relay.ErrCodeApprovalReverted, "approve transaction reverted", map[string]interface{}{
			"transaction": txHash.Hex(),
		})
	}
	state.ApprovalTx = &txHash
	r.logger.Info("approval confirmed", zap.String("tx", txHash.Hex()), zap.Uint64("block", receipt.BlockNumber))

	current, err = ReadAllowance(ctx, r.owner, r.token, owner, spender)
	if err != nil {
		return nil, err
	}
	state.CurrentAllowance = current

	if current.Cmp(transferAmount) < 0 {
		return state, relay.NewRelayError(relay.ErrCodeInsufficientAllowance,
			fmt.Sprintf("allowance %s still below transfer value %s after approval", current, transferAmount), nil)
	}
	return state, nil
}

// ReadAllowance reads allowance(owner, spender) on token
func ReadAllowance(ctx context.Context, reader ChainReader, token, owner, spender common.Address) (*big.Int, error) {
	result, err := reader.ReadContract(ctx, token, ERC20ABI, FunctionAllowance, owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowance: %w", err)
	}
	return toBigInt(result, FunctionAllowance)
}

// ReadBalance reads balanceOf(account) on token
func ReadBalance(ctx context.Context, reader ChainReader, token, account common.Address) (*big.Int, error) {
	result, err := reader.ReadContract(ctx, token, ERC20ABI, FunctionBalanceOf, account)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return toBigInt(result, FunctionBalanceOf)
}

func toBigInt(result interface{}, functionName string) (*big.Int, error) {
	value, ok := result.(*big.Int)
	if !ok || value == nil {
		return nil, fmt.Errorf("unexpected %s result type %T", functionName, result)
	}
	return value, nil
}
