package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thegreataxios/eip3009-relay/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "relayer",
	Short: "Gasless EIP-3009 token transfers through an authorization forwarder",
	Long: `relayer moves ERC-20 tokens on behalf of a holder who signs a
TransferWithAuthorization message. A separate relayer account submits the
authorization to the forwarder and pays the gas.

It can run a transfer end to end with both keys available locally, relay
through a remote relay service, or serve the relay service itself.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./relayer.yaml)")

	rootCmd.PersistentFlags().String("network", "", "Chain registry entry (default skale-europa-testnet)")
	rootCmd.PersistentFlags().String("token", "", "Token symbol in the registry (default usdc)")
	rootCmd.PersistentFlags().String("rpc-url", "", "JSON-RPC endpoint overriding the registry")
	rootCmd.PersistentFlags().String("relay-url", "", "Relay service URL; relays remotely instead of with a local relayer key")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json")

	cobra.CheckErr(viper.BindPFlag("network", rootCmd.PersistentFlags().Lookup("network")))
	cobra.CheckErr(viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token")))
	cobra.CheckErr(viper.BindPFlag("rpc_url", rootCmd.PersistentFlags().Lookup("rpc-url")))
	cobra.CheckErr(viper.BindPFlag("relay_url", rootCmd.PersistentFlags().Lookup("relay-url")))
	cobra.CheckErr(viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level")))
	cobra.CheckErr(viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format")))

	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(allowanceCmd)
	rootCmd.AddCommand(nonceStateCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(domainCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("relayer")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	config.SetDefaults(viper.GetViper())
	cobra.CheckErr(config.BindEnv(viper.GetViper()))

	// Don't error if config file is not found
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			cobra.CheckErr(err)
		}
	}
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
