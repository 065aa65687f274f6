package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <selector|revert-data>",
	Short: "Name a forwarder revert and suggest a fix",
	Long: `Decode a 4-byte error selector, or full revert data, returned by the forwarder.

Examples:
  relayer decode 0x94fb5c8a
  relayer decode 0x773a2e84000000000000000000000000000000000000000000000000000000006553f100`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func runDecode(cobraCmd *cobra.Command, args []string) error {
	data, err := evm.HexToBytes(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	if len(data) < 4 {
		return fmt.Errorf("revert data must hold at least a 4-byte selector, got %d bytes", len(data))
	}

	selector, decoded := evm.DecodeRevertData(data)

	out := cobraCmd.OutOrStdout()
	fmt.Fprintf(out, "Selector:      %s\n", selector.Hex())
	if decoded == nil {
		fmt.Fprintln(out, "✗ Not a known forwarder error")
		return nil
	}
	fmt.Fprintf(out, "Error:         %s\n", decoded.Name)
	fmt.Fprintf(out, "Hint:          %s\n", decoded.Hint)
	return nil
}
