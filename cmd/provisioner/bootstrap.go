package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"smartshopai/provisioner/internal/orchestrator"
)

const (
	outputText = "text"
	outputJSON = "json"
)

var output string

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Run the one-shot MongoDB bootstrap and exit",
	Long: `Bootstrap creates the application principal, the namespaces, collections
and indexes, and the seed documents described by the manifest, then announces
completion.

The run stops at the first failing operation. The command exits 0 when every
phase succeeded and 1 otherwise. With --output=json the full result is
printed to stdout.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if output != outputText && output != outputJSON {
			return fmt.Errorf("unknown output format %q (want text or json)", output)
		}
		return nil
	},
	RunE: runBootstrap,
}

func init() {
	bootstrapCmd.Flags().StringVar(&output, "output", outputText, "result format: text or json")
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	defer app.shutdown()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Bootstrap.Timeout)
	defer cancel()

	result, err := app.orchestrator.RunBootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap did not start: %w", err)
	}

	if output == outputJSON {
		printBootstrapResult(cmd.OutOrStdout(), result)
	}

	if result.Status != orchestrator.StatusOK {
		return fmt.Errorf("bootstrap failed at %s: %s", result.FailedOperation, result.Error)
	}

	slog.Debug("bootstrap finished", "run_id", result.RunID)
	return nil
}

func printBootstrapResult(w io.Writer, result *orchestrator.BootstrapResult) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(w, `{"status":%q}`+"\n", result.Status)
	}
}
