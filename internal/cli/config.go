package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pivotloop/conductor/internal/common/config"
	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "inspect and validate configuration",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigValidateCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderOutput(cmd, redactConfig(appDeps.cfg))
		},
	}
}

// redactConfig is a shallow copy of cfg with the database password blanked,
// since "config show" output may be pasted into a ticket or chat.
func redactConfig(cfg *config.Config) *config.Config {
	redacted := *cfg
	redacted.Database.Password = "********"
	return &redacted
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "load and validate configuration without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadWithPath(configPath); err != nil {
				return commonerrors.Configuration(fmt.Sprintf("configuration invalid: %v", err), err)
			}
			return renderOutput(cmd, map[string]string{"status": "ok"})
		},
	}
}
