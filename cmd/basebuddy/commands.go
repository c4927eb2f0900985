package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/RoiLaboratories/BaseBuddy/internal/swap"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runQuote(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, closeApp, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	slippage := a.cfg.Swap.DefaultSlippage
	if cmd.Flags().Changed("slippage") {
		slippage, _ = cmd.Flags().GetFloat64("slippage")
	}
	maxIn, _ := cmd.Flags().GetString("max-in")
	asJSON, _ := cmd.Flags().GetBool("json")

	var q *swap.Quote
	if maxIn != "" {
		q, err = a.engine.QuoteExactOutput(ctx, args[0], args[1], args[2], maxIn, slippage)
	} else {
		q, err = a.engine.QuoteExactInput(ctx, args[0], args[1], args[2], slippage)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, q)
	}
	fmt.Fprintln(out, q.FormatCompact())
	return nil
}

func runPrice(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, closeApp, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, arg := range args {
		t, err := a.tokens.Resolve(ctx, arg)
		if err != nil {
			return err
		}
		price, err := a.oracle.PriceOf(ctx, t)
		if err != nil {
			return fmt.Errorf("price %s: %w", t.Symbol, err)
		}
		if price == 0 {
			fmt.Fprintf(tw, "%s\tunpriced\n", t.Symbol)
			continue
		}
		fmt.Fprintf(tw, "%s\t$%.6g\n", t.Symbol, price)
	}
	if h := a.oracle.Health(); h.Degraded() {
		fmt.Fprintf(tw, "\nnative price from %s fallback\n", h.Source)
	}
	return tw.Flush()
}

func runBalances(cmd *cobra.Command, args []string) error {
	if !common.IsHexAddress(args[0]) {
		return fmt.Errorf("invalid address %q", args[0])
	}

	ctx, stop := signalContext()
	defer stop()

	a, closeApp, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	p, err := a.balances.AllBalances(ctx, common.HexToAddress(args[0]))
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), p)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tBALANCE\tUSD")
	for _, e := range p.Entries {
		fmt.Fprintf(tw, "%s\t%s\t$%.2f\n", e.Symbol, e.Balance, e.USDValue)
	}
	fmt.Fprintf(tw, "TOTAL\t\t%s\n", p.TotalUSD())
	for _, sym := range p.Skipped {
		fmt.Fprintf(tw, "%s\tunavailable\t\n", sym)
	}
	return tw.Flush()
}

func runToken(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, closeApp, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	t, err := a.tokens.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), t)
}

func runTokens(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, closeApp, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tDECIMALS\tADDRESS")
	for _, t := range a.tokens.Supported() {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", t.Symbol, t.Decimals, t.Address.Hex())
	}
	return tw.Flush()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, closeApp, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	addr := a.cfg.HTTP.Addr
	if cmd.Flags().Changed("addr") {
		addr, _ = cmd.Flags().GetString("addr")
	}

	a.provider.Pool().StartHealthChecks(ctx)
	a.warm(ctx)

	server := a.apiServer().NewHTTPServer(addr, a.cfg.HTTP.ReadTimeout, a.cfg.HTTP.WriteTimeout)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutdown signal received, gracefully stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}
