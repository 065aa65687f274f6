package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	relay "github.com/thegreataxios/eip3009-relay"
)

// RelayExecutor submits signed authorizations to the forwarder and waits for
// the outcome. Gas is paid by the relayer's transactor.
type RelayExecutor struct {
	relayer   TransactorEvmSigner
	forwarder common.Address
	token     common.Address
	gasLimit  uint64
	logger    *zap.Logger
}

// NewRelayExecutor creates an executor. A zero gasLimit selects DefaultRelayGasLimit.
func NewRelayExecutor(relayer TransactorEvmSigner, forwarder, token common.Address, gasLimit uint64, logger *zap.Logger) *RelayExecutor {
	if gasLimit == 0 {
		gasLimit = DefaultRelayGasLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayExecutor{
		relayer:   relayer,
		forwarder: forwarder,
		token:     token,
		gasLimit:  gasLimit,
		logger:    logger,
	}
}

// GasLimit returns the gas limit sent with every relay
func (e *RelayExecutor) GasLimit() uint64 {
	return e.gasLimit
}

// Submit relays auth with sig and blocks until the transaction is mined.
//
// A revert is not an error: it is returned as Failed with the captured
// selector and a nil Reason. Errors are local precondition failures or
// transport failures.
func (e *RelayExecutor) Submit(ctx context.Context, auth Authorization, sig Signature) (RelayOutcome, error) {
	allowance, err := ReadAllowance(ctx, e.relayer, e.token, auth.From, e.forwarder)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(auth.Value) < 0 {
		return nil, relay.NewRelayError(relay.ErrCodeInsufficientAllowance,
			fmt.Sprintf("allowance %s is below transfer value %s", allowance, auth.Value),
			map[string]interface{}{
				"owner":   auth.From.Hex(),
				"spender": e.forwarder.Hex(),
			})
	}

	e.logger.Info("submitting transferWithAuthorization",
		zap.String("from", auth.From.Hex()),
		zap.String("to", auth.To.Hex()),
		zap.Stringer("value", auth.Value),
		zap.Uint64("gasLimit", e.gasLimit))

	txHash, err := e.relayer.WriteContract(
		ctx,
		e.forwarder,
		ForwarderABI,
		FunctionTransferWithAuthorization,
		e.gasLimit,
		auth.From,
		auth.To,
		auth.Value,
		auth.ValidAfter,
		auth.ValidBefore,
		auth.Nonce,
		sig.V,
		sig.R,
		sig.S,
	)
	if err != nil {
		// Some nodes simulate on submission and reject with the revert payload
		if data, ok := ExtractRevertData(err); ok {
			selector, _ := DecodeRevertData(data)
			return Failed{Selector: selector, RevertData: data}, nil
		}
		return nil, fmt.Errorf("failed to submit transferWithAuthorization: %w", err)
	}

	receipt, err := e.relayer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for relay %s: %w", txHash.Hex(), err)
	}

	if receipt.Status != TxStatusSuccess {
		selector, _ := DecodeRevertData(receipt.RevertData)
		e.logger.Warn("relay reverted",
			zap.String("tx", txHash.Hex()),
			zap.String("selector", selector.Hex()))
		return Failed{
			TxHash:     txHash,
			Selector:   selector,
			RevertData: receipt.RevertData,
		}, nil
	}

	e.logger.Info("relay confirmed",
		zap.String("tx", txHash.Hex()),
		zap.Uint64("gasUsed", receipt.GasUsed),
		zap.Uint64("block", receipt.BlockNumber))

	return Confirmed{
		TxHash:      txHash,
		GasUsed:     receipt.GasUsed,
		BlockNumber: receipt.BlockNumber,
	}, nil
}
