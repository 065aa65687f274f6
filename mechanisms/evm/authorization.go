package evm

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AuthorizationBuilder constructs authorizations and their signing payloads
// for a single forwarder domain
type AuthorizationBuilder struct {
	chain    ChainContext
	now      func() time.Time
	newNonce func() ([32]byte, error)
}

// BuilderOption configures an AuthorizationBuilder
type BuilderOption func(*AuthorizationBuilder)

// WithClock overrides the time source used for the validity window
func WithClock(now func() time.Time) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.now = now
	}
}

// WithNonceSource overrides the nonce generator
func WithNonceSource(newNonce func() ([32]byte, error)) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.newNonce = newNonce
	}
}

// NewAuthorizationBuilder creates a builder for the forwarder domain of chain
func NewAuthorizationBuilder(chain ChainContext, opts ...BuilderOption) *AuthorizationBuilder {
	b := &AuthorizationBuilder{
		chain:    chain,
		now:      time.Now,
		newNonce: CreateNonce,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Chain returns the chain context the builder signs for
func (b *AuthorizationBuilder) Chain() ChainContext {
	return b.chain
}

// Build creates an authorization valid from now for the given duration,
// with a fresh random nonce, and the payload the holder must sign.
func (b *AuthorizationBuilder) Build(from, to common.Address, value *big.Int, validity time.Duration) (Authorization, *SigningPayload, error) {
	if to == ZeroAddress {
		return Authorization{}, nil, invalidParameters("recipient must not be the zero address")
	}
	if value == nil || value.Sign() <= 0 {
		return Authorization{}, nil, invalidParameters("transfer value must be greater than zero")
	}
	if validity < time.Second {
		return Authorization{}, nil, invalidParameters(fmt.Sprintf("validity period must be at least one second, got %s", validity))
	}

	nonce, err := b.newNonce()
	if err != nil {
		return Authorization{}, nil, err
	}

	validAfter, validBefore := CreateValidityWindow(b.now(), validity)

	auth := Authorization{
		From:        from,
		To:          to,
		Value:       new(big.Int).Set(value),
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}

	payload, err := NewSigningPayload(b.chain, auth)
	if err != nil {
		return Authorization{}, nil, err
	}
	return auth, payload, nil
}
