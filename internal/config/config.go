package config

import (
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	relay "github.com/thegreataxios/eip3009-relay"
	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
	"github.com/thegreataxios/eip3009-relay/pkg/units"
	signersevm "github.com/thegreataxios/eip3009-relay/signers/evm"
)

// Signer roles
const (
	RoleHolder  = "holder"
	RoleRelayer = "relayer"
)

// SignerConfig represents the configuration for a single signer
type SignerConfig struct {
	PrivateKey       string `mapstructure:"private_key"`       // Hex private key
	PrivateKeyFile   string `mapstructure:"private_key_file"`  // Path to a file holding a hex private key
	Keystore         string `mapstructure:"keystore"`          // Path to encrypted keystore
	KeystorePassword string `mapstructure:"keystore_password"` // Keystore password
}

// KeySource converts the signer config for key loading
func (s SignerConfig) KeySource() signersevm.KeySource {
	return signersevm.KeySource{
		PrivateKey:       s.PrivateKey,
		PrivateKeyFile:   s.PrivateKeyFile,
		Keystore:         s.Keystore,
		KeystorePassword: s.KeystorePassword,
	}
}

// SignersConfig holds the signer of each role
type SignersConfig struct {
	Holder  SignerConfig `mapstructure:"holder"`  // Token holder; signs authorizations and pays for approvals
	Relayer SignerConfig `mapstructure:"relayer"` // Submits relays and pays their gas
}

// ForwarderConfig overrides the registry's forwarder record
type ForwarderConfig struct {
	Address string `mapstructure:"address"`
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// RelayConfig tunes the relay flow
type RelayConfig struct {
	GasLimit        uint64        `mapstructure:"gas_limit"`
	ValiditySeconds int64         `mapstructure:"validity_seconds"`
	ApproveAmount   string        `mapstructure:"approve_amount"` // In token units, e.g. "1"
	Threshold       string        `mapstructure:"threshold"`      // Fraction of approve_amount below which to re-approve
	ApproveExact    bool          `mapstructure:"approve_exact"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ReceiptTimeout  time.Duration `mapstructure:"receipt_timeout"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// Config represents the complete configuration of the relayer
type Config struct {
	// Network selects a registry entry; the fields below override it
	Network string `mapstructure:"network"`
	Token   string `mapstructure:"token"`

	RPCUrl       string          `mapstructure:"rpc_url"`
	ChainID      int64           `mapstructure:"chain_id"`
	Forwarder    ForwarderConfig `mapstructure:"forwarder"`
	TokenAddress string          `mapstructure:"token_address"`
	Decimals     *uint8          `mapstructure:"decimals"`

	Relay   RelayConfig   `mapstructure:"relay"`
	Signers SignersConfig `mapstructure:"signers"`

	// RelayURL points the CLI at a remote relay service instead of relaying locally
	RelayURL   string `mapstructure:"relay_url"`
	ListenAddr string `mapstructure:"listen_addr"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Validate checks that the chain, token and relay settings resolve and that
// any configured signer is well formed. Signer presence is checked per
// command with RequireSigner.
func (c *Config) Validate() error {
	if _, err := c.RPC(); err != nil {
		return err
	}
	if _, err := c.ChainContext(); err != nil {
		return err
	}
	token, err := c.TokenContext()
	if err != nil {
		return err
	}
	if _, err := c.AllowancePolicy(token.Decimals); err != nil {
		return err
	}
	if c.Relay.ValiditySeconds < 0 {
		return relay.NewConfigurationError("relay.validity_seconds must not be negative")
	}

	for role, signer := range map[string]SignerConfig{RoleHolder: c.Signers.Holder, RoleRelayer: c.Signers.Relayer} {
		if err := validateSignerConfig(role, signer); err != nil {
			return err
		}
	}

	if c.RelayURL != "" {
		if _, err := url.ParseRequestURI(c.RelayURL); err != nil {
			return relay.NewConfigurationError("invalid relay_url: %v", err)
		}
	}
	if c.LogLevel != "" {
		if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
			return relay.NewConfigurationError("invalid log_level: %s", c.LogLevel)
		}
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return relay.NewConfigurationError("log_format must be console or json, got %s", c.LogFormat)
	}
	return nil
}

// validateSignerConfig validates a single signer configuration if one is set
func validateSignerConfig(role string, signer SignerConfig) error {
	source := signer.KeySource()
	if source.IsZero() {
		return nil
	}
	if err := source.Validate(); err != nil {
		return relay.NewConfigurationError("signer '%s': %v", role, err)
	}
	return nil
}

// RequireSigner fails unless a signer is configured for role
func (c *Config) RequireSigner(role string) error {
	if c.Signer(role).KeySource().IsZero() {
		return relay.NewConfigurationError("required signer '%s' not configured", role)
	}
	return nil
}

// Signer returns the signer configured for role
func (c *Config) Signer(role string) SignerConfig {
	switch role {
	case RoleHolder:
		return c.Signers.Holder
	case RoleRelayer:
		return c.Signers.Relayer
	default:
		return SignerConfig{}
	}
}

func (c *Config) chain() (ChainRecord, bool) {
	record, ok := Chains[c.Network]
	return record, ok
}

func (c *Config) token() (TokenRecord, bool) {
	chain, ok := c.chain()
	if !ok {
		return TokenRecord{}, false
	}
	record, ok := chain.Tokens[strings.ToLower(c.Token)]
	return record, ok
}

// RPC returns the JSON-RPC endpoint
func (c *Config) RPC() (string, error) {
	rpcURL := c.RPCUrl
	if rpcURL == "" {
		if chain, ok := c.chain(); ok {
			rpcURL = chain.RPCURL
		}
	}
	if rpcURL == "" {
		return "", relay.NewConfigurationError("rpc_url is required for network %q", c.Network)
	}
	if _, err := url.ParseRequestURI(rpcURL); err != nil {
		return "", relay.NewConfigurationError("invalid rpc_url: %v", err)
	}
	return rpcURL, nil
}

// ChainContext resolves the signing domain of the forwarder
func (c *Config) ChainContext() (evm.ChainContext, error) {
	chainID := c.ChainID
	if chainID == 0 {
		if chain, ok := c.chain(); ok {
			chainID = chain.ChainID
		}
	}

	forwarder := c.Forwarder
	if token, ok := c.token(); ok && token.Forwarder != nil {
		if forwarder.Address == "" {
			forwarder.Address = token.Forwarder.Address
		}
		if forwarder.Name == "" {
			forwarder.Name = token.Forwarder.Name
		}
		if forwarder.Version == "" {
			forwarder.Version = token.Forwarder.Version
		}
	}

	if forwarder.Address != "" && !common.IsHexAddress(forwarder.Address) {
		return evm.ChainContext{}, relay.NewConfigurationError("invalid forwarder.address: %s", forwarder.Address)
	}

	ctx := evm.ChainContext{
		ChainID:          big.NewInt(chainID),
		ForwarderAddress: common.HexToAddress(forwarder.Address),
		ForwarderName:    forwarder.Name,
		ForwarderVersion: forwarder.Version,
	}
	if err := ctx.Validate(); err != nil {
		return evm.ChainContext{}, err
	}
	return ctx, nil
}

// TokenContext resolves the token being moved
func (c *Config) TokenContext() (evm.TokenContext, error) {
	record, known := c.token()

	address := c.TokenAddress
	if address == "" && known {
		address = record.Address
	}
	if address == "" {
		return evm.TokenContext{}, relay.NewConfigurationError("token_address is required for token %q on network %q", c.Token, c.Network)
	}
	if !common.IsHexAddress(address) {
		return evm.TokenContext{}, relay.NewConfigurationError("invalid token_address: %s", address)
	}

	var decimals uint8
	switch {
	case c.Decimals != nil:
		decimals = *c.Decimals
	case known:
		decimals = record.Decimals
	default:
		return evm.TokenContext{}, relay.NewConfigurationError("decimals is required for token %s", address)
	}

	token := evm.TokenContext{Address: common.HexToAddress(address), Decimals: decimals}
	if err := token.Validate(); err != nil {
		return evm.TokenContext{}, err
	}
	return token, nil
}

// AllowancePolicy resolves the approval policy for a token with decimals
func (c *Config) AllowancePolicy(decimals uint8) (evm.AllowancePolicy, error) {
	policy := evm.DefaultAllowancePolicy(decimals)
	policy.ApproveExact = c.Relay.ApproveExact

	if c.Relay.ApproveAmount != "" {
		amount, err := units.ParseUnits(c.Relay.ApproveAmount, decimals)
		if err != nil {
			return evm.AllowancePolicy{}, relay.NewConfigurationError("invalid relay.approve_amount: %v", err)
		}
		policy.ApproveAmount = amount
	}
	if c.Relay.Threshold != "" {
		threshold, err := units.ParseFraction(c.Relay.Threshold)
		if err != nil {
			return evm.AllowancePolicy{}, relay.NewConfigurationError("invalid relay.threshold: %v", err)
		}
		policy.Threshold = threshold
	}

	if err := policy.Validate(); err != nil {
		return evm.AllowancePolicy{}, err
	}
	return policy, nil
}

// Validity returns the authorization lifetime
func (c *Config) Validity() time.Duration {
	if c.Relay.ValiditySeconds <= 0 {
		return evm.DefaultValidityPeriod * time.Second
	}
	return time.Duration(c.Relay.ValiditySeconds) * time.Second
}

// RelayerConfig assembles the static inputs of an evm.Relayer
func (c *Config) RelayerConfig(logger *zap.Logger) (evm.RelayerConfig, error) {
	chain, err := c.ChainContext()
	if err != nil {
		return evm.RelayerConfig{}, err
	}
	token, err := c.TokenContext()
	if err != nil {
		return evm.RelayerConfig{}, err
	}
	return evm.RelayerConfig{
		Chain:    chain,
		Token:    token,
		GasLimit: c.Relay.GasLimit,
		Validity: c.Validity(),
		Logger:   logger,
	}, nil
}

// ChainSignerConfig assembles the transactor settings for the resolved chain
func (c *Config) ChainSignerConfig(logger *zap.Logger) (signersevm.ChainSignerConfig, error) {
	chain, err := c.ChainContext()
	if err != nil {
		return signersevm.ChainSignerConfig{}, err
	}
	return signersevm.ChainSignerConfig{
		ChainID:        chain.ChainID,
		PollInterval:   c.Relay.PollInterval,
		ReceiptTimeout: c.Relay.ReceiptTimeout,
		Logger:         logger,
	}, nil
}
