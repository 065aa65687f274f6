package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/thegreataxios/eip3009-relay/internal/config"
	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
)

var nonceStateCmd = &cobra.Command{
	Use:   "nonce-state <authorizer> <nonce>",
	Short: "Check whether the forwarder has consumed an authorization nonce",
	Long: `Query authorizationState(authorizer, nonce) on the forwarder.

A consumed nonce can never be relayed again; re-sign with a fresh nonce.
With relay_url set the query goes through the relay service.

Example:
  relayer nonce-state 0x1111111111111111111111111111111111111111 \
    0xaabb000000000000000000000000000000000000000000000000000000000000`,
	Args: cobra.ExactArgs(2),
	RunE: runNonceState,
}

func runNonceState(cobraCmd *cobra.Command, args []string) error {
	ctx := cobraCmd.Context()

	if !common.IsHexAddress(args[0]) {
		return fmt.Errorf("invalid authorizer address: %s", args[0])
	}
	authorizer := common.HexToAddress(args[0])
	nonce, err := evm.HexToBytes32(args[1])
	if err != nil {
		return fmt.Errorf("invalid nonce: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var used bool
	if cfg.RelayURL != "" {
		used, err = newRelayClient(cfg).AuthorizationState(ctx, authorizer.Hex(), evm.BytesToHex(nonce[:]))
		if err != nil {
			return err
		}
	} else {
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		chain, err := cfg.ChainContext()
		if err != nil {
			return err
		}
		reader, closeReader, err := dialReader(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeReader()

		used, err = evm.NewNonceFreshnessChecker(reader, chain.ForwarderAddress).IsConsumed(ctx, authorizer, nonce)
		if err != nil {
			return err
		}
	}

	out := cobraCmd.OutOrStdout()
	fmt.Fprintf(out, "Authorizer:    %s\n", authorizer.Hex())
	fmt.Fprintf(out, "Nonce:         %s\n", evm.BytesToHex(nonce[:]))
	if used {
		fmt.Fprintln(out, "✗ Nonce already used; re-sign with a fresh nonce")
	} else {
		fmt.Fprintln(out, "✓ Nonce unused")
	}
	return nil
}
