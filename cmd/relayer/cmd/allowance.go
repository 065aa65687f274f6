package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thegreataxios/eip3009-relay/internal/config"
	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
	"github.com/thegreataxios/eip3009-relay/pkg/units"
)

var (
	allowanceEnsure string
	allowanceExact  bool
)

var allowanceCmd = &cobra.Command{
	Use:   "allowance",
	Short: "Show, and optionally top up, the holder's allowance to the forwarder",
	Long: `Show the holder's token balance and the allowance the forwarder may spend.

With --ensure, the holder approves the forwarder when the allowance is below
what a transfer of the given amount needs under the configured policy. The
holder pays the approval gas.

Examples:
  relayer allowance
  relayer allowance --ensure 0.5`,
	Args: cobra.NoArgs,
	RunE: runAllowance,
}

func init() {
	allowanceCmd.Flags().StringVar(&allowanceEnsure, "ensure", "", "Approve if the allowance cannot cover a transfer of this amount (token units)")
	allowanceCmd.Flags().BoolVar(&allowanceExact, "exact", false, "Approve exactly the --ensure amount")
}

func runAllowance(cobraCmd *cobra.Command, args []string) error {
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

	chain, err := cfg.ChainContext()
	if err != nil {
		return err
	}
	token, err := cfg.TokenContext()
	if err != nil {
		return err
	}

	holder, closeHolder, err := dialHolder(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeHolder()

	balance, err := evm.ReadBalance(ctx, holder, token.Address, holder.Address())
	if err != nil {
		return err
	}
	allowance, err := evm.ReadAllowance(ctx, holder, token.Address, holder.Address(), chain.ForwarderAddress)
	if err != nil {
		return err
	}

	out := cobraCmd.OutOrStdout()
	fmt.Fprintln(out, "Forwarder Allowance")
	fmt.Fprintln(out, "===================")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Holder:        %s\n", holder.Address().Hex())
	fmt.Fprintf(out, "Forwarder:     %s\n", chain.ForwarderAddress.Hex())
	fmt.Fprintf(out, "Token:         %s\n", token.Address.Hex())
	fmt.Fprintf(out, "Balance:       %s\n", formatAmount(balance, token.Decimals))
	fmt.Fprintf(out, "Allowance:     %s\n", formatAmount(allowance, token.Decimals))

	if allowanceEnsure == "" {
		return nil
	}

	amount, err := units.ParseUnits(allowanceEnsure, token.Decimals)
	if err != nil {
		return fmt.Errorf("parsing --ensure amount: %w", err)
	}
	policy, err := cfg.AllowancePolicy(token.Decimals)
	if err != nil {
		return err
	}
	if allowanceExact {
		policy.ApproveExact = true
	}

	fmt.Fprintln(out)
	state, err := evm.NewAllowanceReconciler(holder, token.Address, logger).Ensure(ctx, chain.ForwarderAddress, amount, policy)
	if err != nil {
		printRelayError(out, err)
		return err
	}
	if state.ApprovalTx == nil {
		fmt.Fprintf(out, "✓ Allowance covers %s, no approval needed\n", units.FormatUnits(amount, token.Decimals))
		return nil
	}
	fmt.Fprintln(out, "✓ Forwarder approved")
	printAllowance(out, state, token.Decimals)
	return nil
}
