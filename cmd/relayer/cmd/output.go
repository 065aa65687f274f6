package cmd

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/dustin/go-humanize"

	relay "github.com/thegreataxios/eip3009-relay"
	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
	"github.com/thegreataxios/eip3009-relay/pkg/units"
)

// formatAmount renders base units as "0.01 (10,000 base units)"
func formatAmount(value *big.Int, decimals uint8) string {
	base := value.String()
	if value.IsInt64() {
		base = humanize.Comma(value.Int64())
	}
	return fmt.Sprintf("%s (%s base units)", units.FormatUnits(value, decimals), base)
}

// formatDeadline renders a unix timestamp with its distance from now
func formatDeadline(ts *big.Int) string {
	if ts == nil || !ts.IsInt64() {
		return "-"
	}
	t := time.Unix(ts.Int64(), 0)
	return fmt.Sprintf("%s (%s)", t.UTC().Format(time.RFC3339), humanize.Time(t))
}

func printAuthorization(w io.Writer, auth evm.Authorization, decimals uint8) {
	fmt.Fprintf(w, "From:          %s\n", auth.From.Hex())
	fmt.Fprintf(w, "To:            %s\n", auth.To.Hex())
	if auth.Value != nil {
		fmt.Fprintf(w, "Amount:        %s\n", formatAmount(auth.Value, decimals))
	}
	fmt.Fprintf(w, "Nonce:         %s\n", evm.BytesToHex(auth.Nonce[:]))
	fmt.Fprintf(w, "Valid until:   %s\n", formatDeadline(auth.ValidBefore))
}

func printAllowance(w io.Writer, state *evm.AllowanceState, decimals uint8) {
	if state == nil {
		return
	}
	if state.ApprovalTx != nil {
		fmt.Fprintf(w, "Approval:      %s\n", state.ApprovalTx.Hex())
	}
	fmt.Fprintf(w, "Allowance:     %s\n", formatAmount(state.CurrentAllowance, decimals))
}

func printWarnings(w io.Writer, warnings []string) {
	for _, warning := range warnings {
		fmt.Fprintf(w, "⚠ %s\n", warning)
	}
}

// printResponse prints the outcome of a relay, local or remote
func printResponse(w io.Writer, resp *relay.RelayResponse) {
	if resp.Success {
		fmt.Fprintln(w, "✓ Transfer confirmed")
	} else {
		fmt.Fprintln(w, "✗ Relay failed")
	}
	if resp.Transaction != "" {
		fmt.Fprintf(w, "Transaction:   %s\n", resp.Transaction)
	}
	if resp.BlockNumber > 0 {
		fmt.Fprintf(w, "Block:         %s\n", humanize.Comma(int64(resp.BlockNumber)))
	}
	if resp.GasUsed > 0 {
		fmt.Fprintf(w, "Gas used:      %s\n", humanize.Comma(int64(resp.GasUsed)))
	}
	printRelayError(w, resp.Error)
	printWarnings(w, resp.Warnings)
}

func printRelayError(w io.Writer, err error) {
	var relayErr *relay.RelayError
	if !errors.As(err, &relayErr) || relayErr == nil {
		return
	}
	fmt.Fprintf(w, "Error:         %s\n", relayErr.Code)
	if relayErr.Selector != "" {
		fmt.Fprintf(w, "Selector:      %s\n", relayErr.Selector)
	}
	if relayErr.Reason != "" {
		fmt.Fprintf(w, "Reason:        %s\n", relayErr.Reason)
	}
	if relayErr.Hint != "" {
		fmt.Fprintf(w, "Hint:          %s\n", relayErr.Hint)
	}
}
