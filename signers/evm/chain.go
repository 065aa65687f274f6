package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	relayevm "github.com/thegreataxios/eip3009-relay/mechanisms/evm"
)

// EthClient is the subset of ethclient.Client used by ChainSigner
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ChainSignerConfig configures a ChainSigner
type ChainSignerConfig struct {
	ChainID *big.Int

	// PollInterval is the first delay between receipt polls; it backs off up to MaxPollInterval
	PollInterval    time.Duration
	MaxPollInterval time.Duration

	// ReceiptTimeout bounds a receipt wait. Zero leaves the deadline to the caller's context.
	ReceiptTimeout time.Duration

	Logger *zap.Logger
}

// ChainSigner implements relayevm.TransactorEvmSigner over JSON-RPC.
// It signs legacy transactions locally with its private key.
type ChainSigner struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	address    common.Address
	config     ChainSignerConfig
	logger     *zap.Logger

	mu   sync.Mutex
	sent map[common.Hash]ethereum.CallMsg
}

// DialChainSigner connects to rpcURL and creates a ChainSigner for privateKey
func DialChainSigner(ctx context.Context, rpcURL string, privateKey *ecdsa.PrivateKey, config ChainSignerConfig) (*ChainSigner, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to RPC endpoint: %w", err)
	}
	signer, err := NewChainSigner(client, privateKey, config)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return signer, client, nil
}

// NewChainSigner creates a transactor for privateKey on client
func NewChainSigner(client EthClient, privateKey *ecdsa.PrivateKey, config ChainSignerConfig) (*ChainSigner, error) {
	if config.ChainID == nil || config.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.MaxPollInterval < config.PollInterval {
		config.MaxPollInterval = 5 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ChainSigner{
		client:     client,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		config:     config,
		logger:     logger,
		sent:       make(map[common.Hash]ethereum.CallMsg),
	}, nil
}

// Address returns the account that sends transactions
func (s *ChainSigner) Address() common.Address {
	return s.address
}

// RemoteChainID returns the chain id reported by the node
func (s *ChainSigner) RemoteChainID(ctx context.Context) (*big.Int, error) {
	return s.client.ChainID(ctx)
}

// ReadContract calls a view function and returns its single output
func (s *ChainSigner) ReadContract(
	ctx context.Context,
	address common.Address,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiBytes)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	result, err := s.client.CallContract(ctx, ethereum.CallMsg{From: s.address, To: &address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty result from %s on %s", functionName, address.Hex())
	}

	outputs, err := contractABI.Unpack(functionName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	if len(outputs) == 0 {
		return nil, nil
	}
	if len(outputs) == 1 {
		return outputs[0], nil
	}
	return outputs, nil
}

// WriteContract signs and sends a transaction calling functionName.
// A zero gasLimit estimates gas; anything else is used as is.
func (s *ChainSigner) WriteContract(
	ctx context.Context,
	address common.Address,
	abiBytes []byte,
	functionName string,
	gasLimit uint64,
	args ...interface{},
) (common.Hash, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiBytes)))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack method call: %w", err)
	}

	msg := ethereum.CallMsg{From: s.address, To: &address, Data: data}
	if gasLimit == 0 {
		gasLimit, err = s.client.EstimateGas(ctx, msg)
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas for %s: %w", functionName, err)
		}
	}
	msg.Gas = gasLimit

	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, address, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.config.ChainID), s.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	s.mu.Lock()
	s.sent[signedTx.Hash()] = msg
	s.mu.Unlock()

	s.logger.Debug("transaction sent",
		zap.String("function", functionName),
		zap.String("tx", signedTx.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gasLimit", gasLimit))

	return signedTx.Hash(), nil
}

// WaitForTransactionReceipt polls with exponential backoff until the
// transaction is mined. For a failed transaction sent by this signer the call
// is replayed against the parent block to recover the revert data.
func (s *ChainSigner) WaitForTransactionReceipt(ctx context.Context, txHash common.Hash) (*relayevm.TransactionReceipt, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.PollInterval
	policy.MaxInterval = s.config.MaxPollInterval

	opts := []backoff.RetryOption{
		backoff.WithBackOff(policy),
		backoff.WithNotify(func(err error, next time.Duration) {
			if !errors.Is(err, ethereum.NotFound) {
				s.logger.Warn("receipt poll failed", zap.String("tx", txHash.Hex()), zap.Error(err))
			}
		}),
		// zero disables the elapsed-time limit
		backoff.WithMaxElapsedTime(s.config.ReceiptTimeout),
	}

	receipt, err := backoff.Retry(ctx, func() (*types.Receipt, error) {
		return s.client.TransactionReceipt(ctx, txHash)
	}, opts...)
	if err != nil {
		s.forget(txHash)
		return nil, fmt.Errorf("waiting for receipt of %s: %w", txHash.Hex(), err)
	}

	result := &relayevm.TransactionReceipt{
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber.Uint64(),
		TxHash:      receipt.TxHash,
		GasUsed:     receipt.GasUsed,
	}

	msg, ok := s.forget(txHash)
	if receipt.Status == types.ReceiptStatusFailed && ok {
		result.RevertData = s.replay(ctx, msg, receipt.BlockNumber)
	}
	return result, nil
}

// forget drops the call recorded for txHash and returns it
func (s *ChainSigner) forget(txHash common.Hash) (ethereum.CallMsg, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.sent[txHash]
	delete(s.sent, txHash)
	return msg, ok
}

// replay re-executes a reverted call on the state it was mined against.
// Nil means the node returned no revert payload.
func (s *ChainSigner) replay(ctx context.Context, msg ethereum.CallMsg, block *big.Int) []byte {
	var parent *big.Int
	if block != nil && block.Sign() > 0 {
		parent = new(big.Int).Sub(block, big.NewInt(1))
	}

	_, err := s.client.CallContract(ctx, msg, parent)
	if err == nil {
		s.logger.Debug("replay of reverted transaction succeeded; revert reason unavailable")
		return nil
	}
	data, ok := relayevm.ExtractRevertData(err)
	if !ok {
		s.logger.Debug("replay returned no revert data", zap.Error(err))
		return nil
	}
	return data
}
