package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relay "github.com/thegreataxios/eip3009-relay"
)

const holderKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	require.NoError(t, BindEnv(v))
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(newViper(t))
	require.NoError(t, err)

	chain, err := cfg.ChainContext()
	require.NoError(t, err)
	assert.Equal(t, int64(1444673419), chain.ChainID.Int64())
	assert.Equal(t, "0x7779B0d1766e6305E5f8081E3C0CDF58FcA24330", chain.ForwarderAddress.Hex())
	assert.Equal(t, "USDC Forwarder", chain.ForwarderName)
	assert.Equal(t, "1", chain.ForwarderVersion)

	token, err := cfg.TokenContext()
	require.NoError(t, err)
	assert.Equal(t, "0x9eAb55199f4481eCD7659540A17Af618766b07C4", token.Address.Hex())
	assert.Equal(t, uint8(6), token.Decimals)

	policy, err := cfg.AllowancePolicy(token.Decimals)
	require.NoError(t, err)
	assert.Equal(t, "1000000", policy.ApproveAmount.String())
	assert.Equal(t, "0.2", policy.Threshold.String())
	assert.False(t, policy.ApproveExact)

	rpcURL, err := cfg.RPC()
	require.NoError(t, err)
	assert.Equal(t, "https://testnet.skalenodes.com/v1/juicy-low-small-testnet", rpcURL)

	assert.Equal(t, uint64(150_000), cfg.Relay.GasLimit)
	assert.Equal(t, time.Hour, cfg.Validity())
	assert.Equal(t, 500*time.Millisecond, cfg.Relay.PollInterval)

	relayerConfig, err := cfg.RelayerConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(150_000), relayerConfig.GasLimit)
	assert.Equal(t, chain, relayerConfig.Chain)

	assert.ErrorIs(t, cfg.RequireSigner(RoleHolder), relay.ErrConfiguration)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relayer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network: custom
rpc_url: http://localhost:8545
chain_id: 31337
forwarder:
  address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  name: Test Forwarder
  version: "2"
token_address: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
decimals: 18
relay:
  gas_limit: 200000
  validity_seconds: 600
  approve_amount: "5"
  threshold: "0.5"
  receipt_timeout: 2m
signers:
  holder:
    private_key: "`+holderKey+`"
`), 0o600))

	v := newViper(t)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	chain, err := cfg.ChainContext()
	require.NoError(t, err)
	assert.Equal(t, int64(31337), chain.ChainID.Int64())
	assert.Equal(t, "Test Forwarder", chain.ForwarderName)
	assert.Equal(t, "2", chain.ForwarderVersion)

	token, err := cfg.TokenContext()
	require.NoError(t, err)
	assert.Equal(t, uint8(18), token.Decimals)

	policy, err := cfg.AllowancePolicy(token.Decimals)
	require.NoError(t, err)
	assert.Equal(t, "5000000000000000000", policy.ApproveAmount.String())
	assert.Equal(t, "0.5", policy.Threshold.String())

	assert.Equal(t, uint64(200_000), cfg.Relay.GasLimit)
	assert.Equal(t, 10*time.Minute, cfg.Validity())
	assert.Equal(t, 2*time.Minute, cfg.Relay.ReceiptTimeout)

	require.NoError(t, cfg.RequireSigner(RoleHolder))
	assert.Equal(t, holderKey, cfg.Signer(RoleHolder).KeySource().PrivateKey)
	assert.Error(t, cfg.RequireSigner(RoleRelayer))
}

func TestLoad_ConventionalKeyVariables(t *testing.T) {
	t.Setenv("USER_PRIVATE_KEY", holderKey)
	t.Setenv("RELAYER_PRIVATE_KEY", holderKey)

	cfg, err := LoadFrom(newViper(t))
	require.NoError(t, err)
	assert.Equal(t, holderKey, cfg.Signers.Holder.PrivateKey)
	assert.Equal(t, holderKey, cfg.Signers.Relayer.PrivateKey)
}

func TestLoad_PrefixedVariablesOverrideDefaults(t *testing.T) {
	t.Setenv("RELAY_RELAY_APPROVE_EXACT", "true")
	t.Setenv("RELAY_DECIMALS", "8")

	cfg, err := LoadFrom(newViper(t))
	require.NoError(t, err)
	assert.True(t, cfg.Relay.ApproveExact)
	require.NotNil(t, cfg.Decimals)
	assert.Equal(t, uint8(8), *cfg.Decimals)
}

func TestConfig_ValidateRejects(t *testing.T) {
	valid := func() *Config {
		return &Config{Network: "skale-europa-testnet", Token: "usdc"}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown network without overrides", func(c *Config) { c.Network = "nowhere" }},
		{"unknown token", func(c *Config) { c.Token = "dai" }},
		{"bad rpc url", func(c *Config) { c.RPCUrl = "not a url" }},
		{"bad forwarder address", func(c *Config) { c.Forwarder.Address = "0x1234" }},
		{"bad token address", func(c *Config) { c.TokenAddress = "token" }},
		{"bad approve amount", func(c *Config) { c.Relay.ApproveAmount = "0.0000001" }},
		{"threshold above one", func(c *Config) { c.Relay.Threshold = "1.2" }},
		{"two key sources", func(c *Config) {
			c.Signers.Relayer = SignerConfig{PrivateKey: holderKey, Keystore: "/tmp/ks"}
		}},
		{"keystore without password", func(c *Config) { c.Signers.Holder = SignerConfig{Keystore: "/tmp/ks"} }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad relay url", func(c *Config) { c.RelayURL = "::" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, relay.ErrConfiguration)
		})
	}
}

func TestChainNames(t *testing.T) {
	assert.Equal(t, []string{"skale-europa-testnet"}, ChainNames())
}
