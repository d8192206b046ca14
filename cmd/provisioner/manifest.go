package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Validate the manifest and print the resolved plan",
	Long: `Manifest resolves the configured manifest for the selected topology,
validates it and prints the plan as JSON. Nothing is written to the database.
The principal secret is never printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		defer app.shutdown()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(app.plan)
	},
}
