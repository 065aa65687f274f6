package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
)

// EnvPrefix prefixes every environment variable read by the relayer
const EnvPrefix = "RELAY"

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("network", "skale-europa-testnet")
	v.SetDefault("token", "usdc")
	v.SetDefault("relay.gas_limit", evm.DefaultRelayGasLimit)
	v.SetDefault("relay.validity_seconds", evm.DefaultValidityPeriod)
	v.SetDefault("relay.approve_amount", "1")
	v.SetDefault("relay.threshold", evm.DefaultThreshold)
	v.SetDefault("relay.approve_exact", false)
	v.SetDefault("relay.receipt_timeout", "0s")
	v.SetDefault("relay.poll_interval", "500ms")
	v.SetDefault("relay.cache_ttl", "10m")
	v.SetDefault("relay_url", "")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// BindEnv wires environment variables into v. Besides RELAY_* for every key,
// the conventional USER_PRIVATE_KEY and RELAYER_PRIVATE_KEY variables select
// the holder and relayer keys.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"signers.holder.private_key":  {"RELAY_SIGNERS_HOLDER_PRIVATE_KEY", "USER_PRIVATE_KEY"},
		"signers.relayer.private_key": {"RELAY_SIGNERS_RELAYER_PRIVATE_KEY", "RELAYER_PRIVATE_KEY"},
		"decimals":                    {"RELAY_DECIMALS"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration from the global viper instance and returns a validated Config
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v and returns a validated Config struct.
// Flags override env vars which override the config file.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
