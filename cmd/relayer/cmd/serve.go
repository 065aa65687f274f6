package cmd

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	relayhttp "github.com/thegreataxios/eip3009-relay/http"
	"github.com/thegreataxios/eip3009-relay/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP relay service",
	Long: `Accept authorizations signed by holders and relay them with the
relayer key, which pays the gas.

Routes:
  GET  /health
  GET  /domain
  GET  /authorization-state?authorizer=0x..&nonce=0x..
  POST /relay

Example:
  RELAYER_PRIVATE_KEY=0x... relayer serve --listen :8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Address to listen on (default :8080)")
	cobra.CheckErr(viper.BindPFlag("listen_addr", serveCmd.Flags().Lookup("listen")))
}

func runServe(cobraCmd *cobra.Command, args []string) error {
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

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	relayer, closeRelayer, err := newLocalRelayer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRelayer()

	server := relayhttp.NewRelayServer(relayer, relayhttp.ServerConfig{
		CacheTTL: cfg.Relay.CacheTTL,
		Logger:   logger.Named("http"),
	})

	domain := relayer.Domain()
	fmt.Fprintf(cobraCmd.OutOrStdout(), "✓ Relaying for %s on %s (token %s)\n", domain.VerifyingContract, domain.Network, domain.Token)
	logger.Info("starting relay service", zap.String("listen", cfg.ListenAddr))

	return server.ListenAndServe(ctx, cfg.ListenAddr)
}
