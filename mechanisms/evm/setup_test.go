package evm_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
	signersevm "github.com/thegreataxios/eip3009-relay/signers/evm"
	"github.com/thegreataxios/eip3009-relay/test/mocks/forwarder"
)

var (
	testToken     = common.HexToAddress("0x9eAb55199f4481eCD7659540A17Af618766b07C4")
	testRecipient = common.HexToAddress("0xD1A64e20e93E088979631061CACa74E08B3c0f55")
)

func europaTestnet() evm.ChainContext {
	return evm.ChainContext{
		ChainID:          big.NewInt(1444673419),
		ForwarderAddress: common.HexToAddress("0x7779B0d1766e6305E5f8081E3C0CDF58FcA24330"),
		ForwarderName:    "USDC Forwarder",
		ForwarderVersion: "1",
	}
}

type fixture struct {
	chain   *forwarder.Chain
	holder  *forwarder.Holder
	relayer *forwarder.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	holderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	relayerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	chain := forwarder.New(europaTestnet(), testToken)
	holder := forwarder.NewHolder(chain, signersevm.NewClientSigner(holderKey))
	chain.SetBalance(holder.Address(), big.NewInt(5_000_000))

	return &fixture{
		chain:   chain,
		holder:  holder,
		relayer: chain.Account(crypto.PubkeyToAddress(relayerKey.PublicKey)),
	}
}

func (f *fixture) forwarderAllowance() *big.Int {
	return f.chain.Allowance(f.holder.Address(), europaTestnet().ForwarderAddress)
}

func (f *fixture) newRelayer(t *testing.T, config evm.RelayerConfig) *evm.Relayer {
	t.Helper()
	if config.Chain.ChainID == nil {
		config.Chain = europaTestnet()
	}
	if config.Token.Address == (common.Address{}) {
		config.Token = evm.TokenContext{Address: testToken, Decimals: 6}
	}
	relayer, err := evm.NewRelayer(config, f.relayer)
	require.NoError(t, err)
	return relayer
}

// testPolicy approves 1_000_000 base units and re-approves below 200_000
func testPolicy() evm.AllowancePolicy {
	return evm.DefaultAllowancePolicy(6)
}
