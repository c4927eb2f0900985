package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "basebuddy",
		Short:         "Swap quoting and routing for Uniswap V3 on Base",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file path (default ./config/basebuddy.yaml or ./basebuddy.yaml)")
	pf.StringSlice("rpc-url", nil, "Base RPC endpoints in failover order")
	pf.Int64("chain-id", 0, "expected chain id")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (json, text)")
	pf.String("redis-addr", "", "redis address for the shared token cache")
	pf.String("otlp-endpoint", "", "OTLP gRPC endpoint for traces")
	pf.Int("workers", 0, "worker pool size")

	quoteCmd := &cobra.Command{
		Use:   "quote IN OUT AMOUNT",
		Short: "Quote a swap",
		Long: `Quote a swap of AMOUNT of IN for OUT.

With --max-in, AMOUNT is the exact output wanted and --max-in caps the input.`,
		Example: `  basebuddy quote ETH USDC 0.5
  basebuddy quote PUMP USDC 10000 --slippage 1
  basebuddy quote USDC ETH 1 --max-in 5000`,
		Args: cobra.ExactArgs(3),
		RunE: runQuote,
	}
	quoteCmd.Flags().Float64("slippage", 0, "slippage tolerance in percent (default from config)")
	quoteCmd.Flags().String("max-in", "", "maximum input; makes AMOUNT the exact output")
	quoteCmd.Flags().Bool("json", false, "print the quote as JSON")
	root.AddCommand(quoteCmd)

	priceCmd := &cobra.Command{
		Use:   "price TOKEN...",
		Short: "Print USD prices",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPrice,
	}
	root.AddCommand(priceCmd)

	balancesCmd := &cobra.Command{
		Use:   "balances ADDRESS",
		Short: "Print the supported token balances of a wallet",
		Args:  cobra.ExactArgs(1),
		RunE:  runBalances,
	}
	balancesCmd.Flags().Bool("json", false, "print the portfolio as JSON")
	root.AddCommand(balancesCmd)

	tokenCmd := &cobra.Command{
		Use:   "token SYMBOL|ADDRESS",
		Short: "Resolve a token",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	root.AddCommand(tokenCmd)

	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "List supported tokens",
		Args:  cobra.NoArgs,
		RunE:  runTokens,
	}
	root.AddCommand(tokensCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "", "listen address (default from config)")
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
