package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	relay "github.com/thegreataxios/eip3009-relay"
	"github.com/thegreataxios/eip3009-relay/internal/config"
	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
)

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Print the EIP-712 domain authorizations are signed for",
	Long: `Print the signing domain of the configured forwarder and its domain separator.

With relay_url set, the relay service's domain is printed instead. Signatures
made for any other domain revert with InvalidSignature.`,
	Args: cobra.NoArgs,
	RunE: runDomain,
}

func runDomain(cobraCmd *cobra.Command, args []string) error {
	ctx := cobraCmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var info relay.DomainInfo
	if cfg.RelayURL != "" {
		remote, err := newRelayClient(cfg).Domain(ctx)
		if err != nil {
			return err
		}
		info = *remote
	} else {
		chain, err := cfg.ChainContext()
		if err != nil {
			return err
		}
		token, err := cfg.TokenContext()
		if err != nil {
			return err
		}
		info = relay.DomainInfo{
			Network:           chain.Network(),
			ChainID:           chain.ChainID.String(),
			Name:              chain.ForwarderName,
			Version:           chain.ForwarderVersion,
			VerifyingContract: chain.ForwarderAddress.Hex(),
			Token:             token.Address.Hex(),
			Decimals:          token.Decimals,
			PrimaryType:       evm.PrimaryTypeTransferWithAuthorization,
		}
	}

	out := cobraCmd.OutOrStdout()
	fmt.Fprintf(out, "Network:       %s\n", info.Network)
	fmt.Fprintf(out, "Chain ID:      %s\n", info.ChainID)
	fmt.Fprintf(out, "Name:          %s\n", info.Name)
	fmt.Fprintf(out, "Version:       %s\n", info.Version)
	fmt.Fprintf(out, "Forwarder:     %s\n", info.VerifyingContract)
	fmt.Fprintf(out, "Token:         %s (%d decimals)\n", info.Token, info.Decimals)
	fmt.Fprintf(out, "Primary type:  %s\n", info.PrimaryType)

	chainID, err := info.Network.ChainID()
	if err != nil {
		return err
	}
	separator, err := evm.DomainSeparator(evm.TypedDataDomain{
		Name:              info.Name,
		Version:           info.Version,
		ChainID:           chainID,
		VerifyingContract: info.VerifyingContract,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Separator:     %s\n", separator.Hex())
	return nil
}
