package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	relay "github.com/thegreataxios/eip3009-relay"
)

// NonceFreshnessChecker asks the forwarder whether an authorization nonce was
// already consumed.
//
// The answer is advisory. Another relay of the same nonce can land between
// this query and submission, so only the forwarder's own check at execution
// time is authoritative. Results never gate signing or submission.
type NonceFreshnessChecker struct {
	reader    ChainReader
	forwarder common.Address
}

// NewNonceFreshnessChecker creates a checker against the forwarder at address
func NewNonceFreshnessChecker(reader ChainReader, forwarder common.Address) *NonceFreshnessChecker {
	return &NonceFreshnessChecker{
		reader:    reader,
		forwarder: forwarder,
	}
}

// IsConsumed queries authorizationState(authorizer, nonce)
func (c *NonceFreshnessChecker) IsConsumed(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error) {
	result, err := c.reader.ReadContract(ctx, c.forwarder, ForwarderABI, FunctionAuthorizationState, authorizer, nonce)
	if err != nil {
		return false, err
	}

	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected authorizationState result type %T", result)
	}
	return used, nil
}

// Check runs IsConsumed and reports anything other than a confirmed-fresh nonce
// as a StaleNonceWarning. A nil return means the forwarder reported the nonce unused.
func (c *NonceFreshnessChecker) Check(ctx context.Context, authorizer common.Address, nonce [32]byte) *relay.RelayError {
	used, err := c.IsConsumed(ctx, authorizer, nonce)
	if err != nil {
		warning := relay.WrapRelayError(relay.ErrCodeStaleNonceWarning, "could not check nonce state", err)
		warning.Details = map[string]interface{}{"nonce": BytesToHex(nonce[:])}
		return warning
	}
	if used {
		return &relay.RelayError{
			Code:    relay.ErrCodeStaleNonceWarning,
			Message: "nonce already used",
			Reason:  string(RevertAuthorizationAlreadyUsed),
			Hint:    knownErrors[SelectorAuthorizationAlreadyUsed].Hint,
			Details: map[string]interface{}{"nonce": BytesToHex(nonce[:])},
		}
	}
	return nil
}
