// Package cli implements the conductor command-line surface over cobra,
// grounded on the example corpus's root-command-plus-subcommand shape
// (persistent flags bound once on the root, RunE per leaf command).
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pivotloop/conductor/internal/common/config"
	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
	"github.com/pivotloop/conductor/internal/common/logger"
	"github.com/pivotloop/conductor/internal/orchestrator/repository"
)

// deps bundles the collaborators every subcommand needs, built once in
// PersistentPreRunE from the loaded config so leaf commands stay thin.
type deps struct {
	cfg  *config.Config
	log  *logger.Logger
	repo repository.Repository
}

var (
	configPath   string
	outputFormat string

	appDeps *deps
)

// NewRootCmd builds the conductor root command and its full subcommand tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "conductor",
		Short:         "conductor orchestrates autonomous coding agents across projects",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			appDeps = d
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the config directory")
	root.PersistentFlags().StringVar(&outputFormat, "format", "text", "output format: json|text")

	root.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newTaskCmd(),
		newProjectCmd(),
		newConfigCmd(),
		newReportCmd(),
		newEventsCmd(),
	)
	return root
}

func buildDeps() (*deps, error) {
	cfg, err := config.LoadWithPath(configPath)
	if err != nil {
		return nil, commonerrors.Configuration("failed to load configuration", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, commonerrors.Configuration("failed to initialize logger", err)
	}

	var repo repository.Repository
	if cfg.Database.Driver == "postgres" {
		db, err := openPostgres(context.Background(), cfg)
		if err != nil {
			return nil, commonerrors.Database("failed to connect to database", err)
		}
		repo = repository.NewPostgresRepository(db, nil)
	} else {
		repo = repository.NewMemoryRepository()
	}

	return &deps{cfg: cfg, log: log, repo: repo}, nil
}

// ExitCode maps an error to the spec's CLI exit-code contract: 0 success,
// 1 user/runtime error, 2 configuration error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if commonerrors.Is(err, commonerrors.KindConfiguration) {
		return 2
	}
	return 1
}

// Main is the CLI entry point invoked by cmd/conductor. It executes the
// root command and returns the process's intended exit code.
func Main(args []string) int {
	root := NewRootCmd()
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return ExitCode(err)
	}
	return 0
}
