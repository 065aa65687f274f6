package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// HolderSigner is a token holder that signs authorizations with its key and
// sends its own approval transactions.
// It implements relayevm.HolderEvmSigner.
type HolderSigner struct {
	*ClientSigner
	*ChainSigner
}

// NewHolderSigner pairs a client signer with a transactor for the same key
func NewHolderSigner(client *ClientSigner, chain *ChainSigner) (*HolderSigner, error) {
	if client.Address() != chain.Address() {
		return nil, fmt.Errorf("holder signer %s and transactor %s use different keys", client.Address().Hex(), chain.Address().Hex())
	}
	return &HolderSigner{
		ClientSigner: client,
		ChainSigner:  chain,
	}, nil
}

// Address returns the holder's address
func (h *HolderSigner) Address() common.Address {
	return h.ClientSigner.Address()
}
