package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// renderOutput writes data to the command's stdout in the format selected
// by --format: "json" marshals as indented JSON, anything else (including
// the "text" default) falls back to Go's %+v representation.
func renderOutput(cmd *cobra.Command, data any) error {
	if outputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", data)
	return err
}
