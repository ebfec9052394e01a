package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "leadctl",
		Short: "Operator tools for LeadForge webhooks and formulas",
		Long: `leadctl signs and verifies webhook payloads the way the dispatcher does,
checks formulas against the built-in function library and previews payload paths.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newSignCmd(),
		newVerifyCmd(),
		newSecretCmd(),
		newValidateCmd(),
		newEvalCmd(),
		newExtractCmd(),
		newTokenCmd(),
	)
	return root
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("missing input file (use - for stdin)")
	}
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
