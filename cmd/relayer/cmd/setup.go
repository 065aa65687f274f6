package cmd

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	relay "github.com/thegreataxios/eip3009-relay"
	relayhttp "github.com/thegreataxios/eip3009-relay/http"
	"github.com/thegreataxios/eip3009-relay/internal/config"
	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
	signersevm "github.com/thegreataxios/eip3009-relay/signers/evm"
)

// newLogger builds the diagnostic logger. Command results go to stdout with fmt.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.LogFormat == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.DisableStacktrace = true
	}

	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg.Level = parsed

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// dialTransactor connects the signer of role to the configured chain and
// checks that the node serves the expected chain id
func dialTransactor(ctx context.Context, cfg *config.Config, role string, logger *zap.Logger) (*signersevm.ChainSigner, *ethclient.Client, error) {
	if err := cfg.RequireSigner(role); err != nil {
		return nil, nil, err
	}
	privateKey, err := cfg.Signer(role).KeySource().Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading %s signer: %w", role, err)
	}

	rpcURL, err := cfg.RPC()
	if err != nil {
		return nil, nil, err
	}
	signerConfig, err := cfg.ChainSignerConfig(logger.Named(role))
	if err != nil {
		return nil, nil, err
	}

	signer, client, err := signersevm.DialChainSigner(ctx, rpcURL, privateKey, signerConfig)
	if err != nil {
		return nil, nil, err
	}

	remote, err := signer.RemoteChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("querying chain id: %w", err)
	}
	if remote.Cmp(signerConfig.ChainID) != 0 {
		client.Close()
		return nil, nil, relay.NewConfigurationError("rpc endpoint serves chain %s, configured chain is %s", remote, signerConfig.ChainID)
	}
	return signer, client, nil
}

// dialHolder creates the holder's signer: it signs authorizations and pays for its own approvals
func dialHolder(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*signersevm.HolderSigner, func(), error) {
	chainSigner, client, err := dialTransactor(ctx, cfg, config.RoleHolder, logger)
	if err != nil {
		return nil, nil, err
	}
	privateKey, err := cfg.Signer(config.RoleHolder).KeySource().Load()
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("loading holder signer: %w", err)
	}
	holder, err := signersevm.NewHolderSigner(signersevm.NewClientSigner(privateKey), chainSigner)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return holder, client.Close, nil
}

// dialReader returns a chain reader backed by whichever signer is configured,
// preferring the relayer
func dialReader(ctx context.Context, cfg *config.Config, logger *zap.Logger) (evm.ChainReader, func(), error) {
	role := config.RoleRelayer
	if cfg.RequireSigner(role) != nil {
		role = config.RoleHolder
	}
	signer, client, err := dialTransactor(ctx, cfg, role, logger)
	if err != nil {
		return nil, nil, err
	}
	return signer, client.Close, nil
}

// newLocalRelayer creates a relayer that submits with the configured relayer key
func newLocalRelayer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*evm.Relayer, func(), error) {
	relayerSigner, client, err := dialTransactor(ctx, cfg, config.RoleRelayer, logger)
	if err != nil {
		return nil, nil, err
	}
	relayerConfig, err := cfg.RelayerConfig(logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	relayer, err := evm.NewRelayer(relayerConfig, relayerSigner)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return relayer, client.Close, nil
}

func newRelayClient(cfg *config.Config) *relayhttp.RelayClient {
	return relayhttp.NewRelayClient(relayhttp.ClientConfig{URL: cfg.RelayURL})
}
