// Package evm relays EIP-3009 TransferWithAuthorization messages through a
// forwarder contract. The holder signs, a separate relayer account submits and
// pays the gas.
package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	relay "github.com/thegreataxios/eip3009-relay"
)

// HolderEvmSigner is a token holder that can both sign authorizations and
// send its own approval transactions
type HolderEvmSigner interface {
	ClientEvmSigner
	TransactorEvmSigner
}

// RelayerConfig holds the static inputs of a Relayer
type RelayerConfig struct {
	Chain ChainContext
	Token TokenContext

	// GasLimit is sent with every relay; zero selects DefaultRelayGasLimit
	GasLimit uint64

	// Validity is the default authorization lifetime; zero selects DefaultValidityPeriod
	Validity time.Duration

	Logger *zap.Logger
	Clock  func() time.Time
}

// Relayer runs the relay flow for one forwarder and token:
// allowance, build, nonce check, sign, submit, decode
type Relayer struct {
	chain    ChainContext
	token    TokenContext
	validity time.Duration
	reader   ChainReader
	builder  *AuthorizationBuilder
	signer   *AuthorizationSigner
	nonces   *NonceFreshnessChecker
	executor *RelayExecutor
	logger   *zap.Logger
}

// NewRelayer creates a Relayer whose transactions are sent and paid for by relayerSigner
func NewRelayer(config RelayerConfig, relayerSigner TransactorEvmSigner) (*Relayer, error) {
	if err := config.Chain.Validate(); err != nil {
		return nil, err
	}
	if err := config.Token.Validate(); err != nil {
		return nil, err
	}
	if relayerSigner == nil {
		return nil, relay.NewConfigurationError("relayer signer is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validity := config.Validity
	if validity == 0 {
		validity = DefaultValidityPeriod * time.Second
	}

	var builderOpts []BuilderOption
	if config.Clock != nil {
		builderOpts = append(builderOpts, WithClock(config.Clock))
	}

	return &Relayer{
		chain:    config.Chain,
		token:    config.Token,
		validity: validity,
		reader:   relayerSigner,
		builder:  NewAuthorizationBuilder(config.Chain, builderOpts...),
		signer:   NewAuthorizationSigner(config.Chain),
		nonces:   NewNonceFreshnessChecker(relayerSigner, config.Chain.ForwarderAddress),
		executor: NewRelayExecutor(relayerSigner, config.Chain.ForwarderAddress, config.Token.Address, config.GasLimit, logger),
		logger:   logger,
	}, nil
}

// TransferRequest asks the relayer to move Value tokens from Holder to To
type TransferRequest struct {
	Holder HolderEvmSigner
	To     common.Address
	Value  *big.Int
	Policy AllowancePolicy

	// Validity overrides the relayer's default authorization lifetime
	Validity time.Duration
}

// TransferResult records every stage of a relay
type TransferResult struct {
	Allowance     *AllowanceState
	Authorization Authorization
	Signature     Signature
	Outcome       RelayOutcome

	// Warnings are advisory diagnostics that did not stop the relay
	Warnings []*relay.RelayError
}

// Confirmed returns the confirmed outcome, if the relay succeeded
func (r *TransferResult) Confirmed() (Confirmed, bool) {
	c, ok := r.Outcome.(Confirmed)
	return c, ok
}

// Chain returns the chain context of the relayer
func (r *Relayer) Chain() ChainContext {
	return r.chain
}

// Token returns the token context of the relayer
func (r *Relayer) Token() TokenContext {
	return r.token
}

// Domain describes the signing domain accepted by the relayer
func (r *Relayer) Domain() relay.DomainInfo {
	return relay.DomainInfo{
		Network:           r.chain.Network(),
		ChainID:           r.chain.ChainID.String(),
		Name:              r.chain.ForwarderName,
		Version:           r.chain.ForwarderVersion,
		VerifyingContract: r.chain.ForwarderAddress.Hex(),
		Token:             r.token.Address.Hex(),
		Decimals:          r.token.Decimals,
		PrimaryType:       PrimaryTypeTransferWithAuthorization,
	}
}

// AuthorizationState reports whether the forwarder has consumed nonce for authorizer
func (r *Relayer) AuthorizationState(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error) {
	return r.nonces.IsConsumed(ctx, authorizer, nonce)
}

// Transfer runs the full flow on behalf of a holder whose key is available locally.
//
// On a revert the result is returned together with the RelayError so the
// caller still sees the transaction hash and the stages that ran.
func (r *Relayer) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.Holder == nil {
		return nil, relay.NewConfigurationError("holder signer is required")
	}
	if req.To == ZeroAddress {
		return nil, invalidParameters("recipient must not be the zero address")
	}
	if req.Value == nil || req.Value.Sign() <= 0 {
		return nil, invalidParameters("transfer value must be greater than zero")
	}
	validity := req.Validity
	if validity == 0 {
		validity = r.validity
	}

	holder := req.Holder.Address()
	logger := r.logger.With(zap.String("holder", holder.Hex()), zap.String("network", string(r.chain.Network())))
	result := &TransferResult{}

	reconciler := NewAllowanceReconciler(req.Holder, r.token.Address, logger)
	allowance, err := reconciler.Ensure(ctx, r.chain.ForwarderAddress, req.Value, req.Policy)
	if err != nil {
		if allowance != nil {
			// an approval may have been mined, keep its record
			return &TransferResult{Allowance: allowance}, err
		}
		return nil, err
	}
	result.Allowance = allowance

	if err := r.checkBalance(ctx, holder, req.Value); err != nil {
		return nil, err
	}

	auth, _, err := r.builder.Build(holder, req.To, req.Value, validity)
	if err != nil {
		return nil, err
	}
	result.Authorization = auth
	logger.Debug("authorization built",
		zap.String("nonce", BytesToHex(auth.Nonce[:])),
		zap.Stringer("validAfter", auth.ValidAfter),
		zap.Stringer("validBefore", auth.ValidBefore))

	result.Warnings = append(result.Warnings, r.diagnose(ctx, logger, auth)...)

	sig, err := r.signer.Sign(ctx, auth, req.Holder)
	if err != nil {
		return nil, err
	}
	result.Signature = sig

	return r.submit(ctx, logger, result)
}

// Relay submits an authorization signed elsewhere. The signature and the
// holder's balance are checked locally before any gas is spent.
func (r *Relayer) Relay(ctx context.Context, auth Authorization, sig Signature) (*TransferResult, error) {
	if err := auth.Validate(); err != nil {
		return nil, err
	}
	if err := VerifyAuthorization(r.chain, auth, sig); err != nil {
		return nil, err
	}
	if err := r.checkBalance(ctx, auth.From, auth.Value); err != nil {
		return nil, err
	}

	logger := r.logger.With(zap.String("holder", auth.From.Hex()), zap.String("network", string(r.chain.Network())))
	result := &TransferResult{
		Authorization: auth,
		Signature:     sig,
	}
	result.Warnings = append(result.Warnings, r.diagnose(ctx, logger, auth)...)

	return r.submit(ctx, logger, result)
}

// checkBalance fails with InsufficientBalance when holder cannot cover value
func (r *Relayer) checkBalance(ctx context.Context, holder common.Address, value *big.Int) error {
	balance, err := ReadBalance(ctx, r.reader, r.token.Address, holder)
	if err != nil {
		return err
	}
	if balance.Cmp(value) < 0 {
		return relay.NewRelayError(relay.ErrCodeInsufficientBalance,
			fmt.Sprintf("holder balance %s is below transfer value %s", balance, value),
			map[string]interface{}{"holder": holder.Hex()})
	}
	return nil
}

func (r *Relayer) submit(ctx context.Context, logger *zap.Logger, result *TransferResult) (*TransferResult, error) {
	outcome, err := r.executor.Submit(ctx, result.Authorization, result.Signature)
	if err != nil {
		return nil, err
	}

	switch o := outcome.(type) {
	case Confirmed:
		result.Outcome = o
		return result, nil
	case Failed:
		failed := o.Enrich()
		result.Outcome = failed
		relayErr := failed.RelayError()
		logger.Error("relay failed",
			zap.String("tx", failed.TxHash.Hex()),
			zap.String("selector", failed.Selector.Hex()),
			zap.String("reason", relayErr.Reason),
			zap.String("hint", relayErr.Hint))
		return result, relayErr
	default:
		return nil, fmt.Errorf("unexpected relay outcome %T", outcome)
	}
}

// diagnose runs the advisory checks. Nothing here blocks signing or submission.
func (r *Relayer) diagnose(ctx context.Context, logger *zap.Logger, auth Authorization) []*relay.RelayError {
	var warnings []*relay.RelayError

	if warning := r.nonces.Check(ctx, auth.From, auth.Nonce); warning != nil {
		logger.Warn("nonce freshness", zap.Error(warning))
		warnings = append(warnings, warning)
	}

	if warning := r.checkDomainSeparator(ctx); warning != nil {
		logger.Warn("domain separator", zap.Error(warning))
		warnings = append(warnings, warning)
	}

	return warnings
}

// checkDomainSeparator compares the forwarder's DOMAIN_SEPARATOR() with the
// locally computed one. A mismatch predicts an InvalidSignature revert.
func (r *Relayer) checkDomainSeparator(ctx context.Context) *relay.RelayError {
	local, err := DomainSeparator(r.chain.Domain())
	if err != nil {
		return relay.WrapRelayError(relay.ErrCodeDomainMismatchWarning, "could not compute domain separator", err)
	}

	result, err := r.reader.ReadContract(ctx, r.chain.ForwarderAddress, ForwarderABI, FunctionDomainSeparator)
	if err != nil {
		return relay.WrapRelayError(relay.ErrCodeDomainMismatchWarning, "could not read forwarder domain separator", err)
	}
	remote, ok := result.([32]byte)
	if !ok {
		return relay.NewRelayError(relay.ErrCodeDomainMismatchWarning,
			fmt.Sprintf("unexpected DOMAIN_SEPARATOR result type %T", result), nil)
	}

	if !bytes.Equal(local[:], remote[:]) {
		return &relay.RelayError{
			Code:    relay.ErrCodeDomainMismatchWarning,
			Message: "forwarder domain separator differs from the configured domain",
			Reason:  string(RevertInvalidSignature),
			Hint:    knownErrors[SelectorInvalidSignature].Hint,
			Details: map[string]interface{}{
				"local":  local.Hex(),
				"remote": BytesToHex(remote[:]),
			},
		}
	}
	r.logger.Debug("domain separator matches", zap.String("separator", local.Hex()))
	return nil
}

// Response converts a relay result into its wire form
func Response(network relay.Network, result *TransferResult, err error) *relay.RelayResponse {
	resp := &relay.RelayResponse{Network: network}
	if result != nil {
		resp.Payer = result.Authorization.From.Hex()
		for _, w := range result.Warnings {
			resp.Warnings = append(resp.Warnings, w.Error())
		}
		switch o := result.Outcome.(type) {
		case Confirmed:
			resp.Success = true
			resp.Transaction = o.TxHash.Hex()
			resp.GasUsed = o.GasUsed
			resp.BlockNumber = o.BlockNumber
		case Failed:
			if o.TxHash != (common.Hash{}) {
				resp.Transaction = o.TxHash.Hex()
			}
		}
	}
	if err != nil {
		resp.Success = false
		resp.Error = asRelayError(err)
	}
	return resp
}

func asRelayError(err error) *relay.RelayError {
	var relayErr *relay.RelayError
	if errors.As(err, &relayErr) {
		return relayErr
	}
	return relay.WrapRelayError(relay.ErrCodeUnknownRelayFailure, "relay failed", err)
}
