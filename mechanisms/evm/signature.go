package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	relay "github.com/thegreataxios/eip3009-relay"
)

// AuthorizationSigner obtains the holder's signature over an authorization
type AuthorizationSigner struct {
	chain ChainContext
}

// NewAuthorizationSigner creates a signer stage for the forwarder domain of chain
func NewAuthorizationSigner(chain ChainContext) *AuthorizationSigner {
	return &AuthorizationSigner{chain: chain}
}

// Sign has the holder sign auth and returns the split signature.
// The result is checked to recover to auth.From before it is returned.
func (s *AuthorizationSigner) Sign(ctx context.Context, auth Authorization, holder ClientEvmSigner) (Signature, error) {
	payload, err := NewSigningPayload(s.chain, auth)
	if err != nil {
		return Signature{}, err
	}

	if holder.Address() != auth.From {
		return Signature{}, invalidParameters(fmt.Sprintf("holder signer %s is not the authorizer %s", holder.Address().Hex(), auth.From.Hex()))
	}

	raw, err := holder.SignTypedData(ctx, payload.Domain, payload.Types, payload.PrimaryType, payload.Message)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	sig, err := SplitSignature(raw)
	if err != nil {
		return Signature{}, err
	}

	if err := VerifyAuthorization(s.chain, auth, sig); err != nil {
		return Signature{}, err
	}
	return sig, nil
}

// SplitSignature decomposes a 65-byte r||s||v signature.
// A recovery id of 0 or 1 is normalized to 27 or 28.
func SplitSignature(raw []byte) (Signature, error) {
	if len(raw) != 65 {
		return Signature{}, invalidParameters(fmt.Sprintf("signature must be 65 bytes, got %d", len(raw)))
	}

	var sig Signature
	copy(sig.R[:], raw[0:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64]
	if sig.V < 27 {
		sig.V += 27
	}
	if sig.V != 27 && sig.V != 28 {
		return Signature{}, invalidParameters(fmt.Sprintf("invalid signature recovery id %d", raw[64]))
	}
	return sig, nil
}

// ParseSignature decodes a hex signature and splits it
func ParseSignature(s string) (Signature, error) {
	raw, err := HexToBytes(s)
	if err != nil {
		return Signature{}, invalidParameters(fmt.Sprintf("invalid signature hex: %v", err))
	}
	return SplitSignature(raw)
}

// RecoverAuthorizer returns the address that produced sig over auth under the
// forwarder domain of chain
func RecoverAuthorizer(chain ChainContext, auth Authorization, sig Signature) (common.Address, error) {
	payload, err := NewSigningPayload(chain, auth)
	if err != nil {
		return common.Address{}, err
	}
	digest, err := payload.Digest()
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash authorization: %w", err)
	}

	raw := sig.Bytes()
	raw[64] -= 27

	pubKey, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, invalidParameters(fmt.Sprintf("failed to recover signer: %v", err))
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifyAuthorization checks that sig was produced by auth.From
func VerifyAuthorization(chain ChainContext, auth Authorization, sig Signature) error {
	recovered, err := RecoverAuthorizer(chain, auth, sig)
	if err != nil {
		return err
	}
	if recovered != auth.From {
		return &relay.RelayError{
			Code:    relay.ErrCodeInvalidAuthorizationParameters,
			Message: fmt.Sprintf("signature recovers to %s, expected %s", recovered.Hex(), auth.From.Hex()),
			Reason:  string(RevertInvalidSignature),
			Hint:    knownErrors[SelectorInvalidSignature].Hint,
		}
	}
	return nil
}
