package cmd

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	relay "github.com/thegreataxios/eip3009-relay"
	"github.com/thegreataxios/eip3009-relay/internal/config"
	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
	"github.com/thegreataxios/eip3009-relay/pkg/units"
	signersevm "github.com/thegreataxios/eip3009-relay/signers/evm"
)

var (
	transferTo       string
	transferExact    bool
	transferValidity time.Duration
)

var transferCmd = &cobra.Command{
	Use:   "transfer <amount>",
	Short: "Transfer tokens from the holder without the holder paying relay gas",
	Long: `Transfer tokens from the holder to a recipient through the forwarder.

The holder approves the forwarder when the remaining allowance is low, then
signs a TransferWithAuthorization message. The relayer submits it and pays the
gas. With relay_url set, the signed authorization is sent to a relay service
instead of a local relayer key.

The amount is given in token units, e.g. 0.01 for one cent of USDC.

Examples:
  # Move 0.01 USDC on SKALE Europa testnet
  USER_PRIVATE_KEY=0x... RELAYER_PRIVATE_KEY=0x... \
    relayer transfer 0.01 --to 0xD1A64e20e93E088979631061CACa74E08B3c0f55

  # Approve exactly the transferred amount every time
  relayer transfer 0.01 --to 0xD1A6... --exact

  # Relay through a remote service
  relayer transfer 0.01 --to 0xD1A6... --relay-url http://localhost:8080`,
	Args: cobra.ExactArgs(1),
	RunE: runTransfer,
}

func init() {
	transferCmd.Flags().StringVar(&transferTo, "to", "", "Recipient address (required)")
	transferCmd.Flags().BoolVar(&transferExact, "exact", false, "Approve exactly the transfer amount instead of relay.approve_amount")
	transferCmd.Flags().DurationVar(&transferValidity, "validity", 0, "Authorization lifetime (default relay.validity_seconds)")
	cobra.CheckErr(transferCmd.MarkFlagRequired("to"))
}

func runTransfer(cobraCmd *cobra.Command, args []string) error {
	ctx := cobraCmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if !common.IsHexAddress(transferTo) {
		return fmt.Errorf("invalid recipient address: %s", transferTo)
	}
	to := common.HexToAddress(transferTo)

	token, err := cfg.TokenContext()
	if err != nil {
		return err
	}
	value, err := units.ParseUnits(args[0], token.Decimals)
	if err != nil {
		return fmt.Errorf("parsing amount: %w", err)
	}

	policy, err := cfg.AllowancePolicy(token.Decimals)
	if err != nil {
		return err
	}
	if transferExact {
		policy.ApproveExact = true
	}
	validity := transferValidity
	if validity == 0 {
		validity = cfg.Validity()
	}

	holder, closeHolder, err := dialHolder(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeHolder()

	out := cobraCmd.OutOrStdout()
	fmt.Fprintf(out, "Transferring %s to %s\n\n", formatAmount(value, token.Decimals), to.Hex())

	if cfg.RelayURL != "" {
		return transferRemote(ctx, cobraCmd, cfg, logger, holder, to, value, policy, validity)
	}

	relayer, closeRelayer, err := newLocalRelayer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRelayer()

	result, err := relayer.Transfer(ctx, evm.TransferRequest{
		Holder:   holder,
		To:       to,
		Value:    value,
		Policy:   policy,
		Validity: validity,
	})
	if result != nil {
		printAllowance(out, result.Allowance, token.Decimals)
		printAuthorization(out, result.Authorization, token.Decimals)
		fmt.Fprintln(out)
	}
	if result == nil && err != nil {
		printRelayError(out, err)
		return err
	}
	printResponse(out, evm.Response(relayer.Chain().Network(), result, err))
	return err
}

// transferRemote reconciles the allowance and signs locally, then hands the
// authorization to the relay service at relay_url
func transferRemote(
	ctx context.Context,
	cobraCmd *cobra.Command,
	cfg *config.Config,
	logger *zap.Logger,
	holder *signersevm.HolderSigner,
	to common.Address,
	value *big.Int,
	policy evm.AllowancePolicy,
	validity time.Duration,
) error {
	out := cobraCmd.OutOrStdout()
	client := newRelayClient(cfg)

	chain, err := cfg.ChainContext()
	if err != nil {
		return err
	}
	token, err := cfg.TokenContext()
	if err != nil {
		return err
	}
	if err := checkRemoteDomain(ctx, client, chain, token); err != nil {
		return err
	}

	reconciler := evm.NewAllowanceReconciler(holder, token.Address, logger)
	allowance, err := reconciler.Ensure(ctx, chain.ForwarderAddress, value, policy)
	if err != nil {
		return err
	}
	printAllowance(out, allowance, token.Decimals)

	auth, _, err := evm.NewAuthorizationBuilder(chain).Build(holder.Address(), to, value, validity)
	if err != nil {
		return err
	}
	sig, err := evm.NewAuthorizationSigner(chain).Sign(ctx, auth, holder)
	if err != nil {
		return err
	}
	printAuthorization(out, auth, token.Decimals)
	fmt.Fprintln(out)

	logger.Info("sending authorization to relay service", zap.String("url", cfg.RelayURL))
	resp, err := client.Relay(ctx, relay.RelayRequest{
		Authorization: auth.ToWire(),
		Signature:     sig.Hex(),
	})
	if resp != nil {
		printResponse(out, resp)
	}
	return err
}

type domainSource interface {
	Domain(ctx context.Context) (*relay.DomainInfo, error)
}

// checkRemoteDomain fails unless the relay service signs for the same forwarder and token
func checkRemoteDomain(ctx context.Context, client domainSource, chain evm.ChainContext, token evm.TokenContext) error {
	remote, err := client.Domain(ctx)
	if err != nil {
		return fmt.Errorf("fetching relay service domain: %w", err)
	}
	if remote.ChainID != chain.ChainID.String() ||
		!common.IsHexAddress(remote.VerifyingContract) ||
		common.HexToAddress(remote.VerifyingContract) != chain.ForwarderAddress ||
		remote.Name != chain.ForwarderName ||
		remote.Version != chain.ForwarderVersion {
		return relay.NewConfigurationError("relay service signs for %s %q v%s on chain %s, configured forwarder is %s %q v%s on chain %s",
			remote.VerifyingContract, remote.Name, remote.Version, remote.ChainID,
			chain.ForwarderAddress.Hex(), chain.ForwarderName, chain.ForwarderVersion, chain.ChainID)
	}
	if !common.IsHexAddress(remote.Token) || common.HexToAddress(remote.Token) != token.Address {
		return relay.NewConfigurationError("relay service moves token %s, configured token is %s", remote.Token, token.Address.Hex())
	}
	return nil
}
