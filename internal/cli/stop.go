package cli

import (
	"os"
	"syscall"

	"github.com/spf13/cobra"

	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "signal a running conductor instance to shut down gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(appDeps)
		},
	}
}

func runStop(d *deps) error {
	path := pidFilePath(d.cfg.MainLoop.StateFilePath)
	pid, err := readPidFile(path)
	if err != nil {
		return commonerrors.Validation("no running conductor instance found: " + err.Error())
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return commonerrors.Validation("could not locate conductor process: " + err.Error())
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return commonerrors.Validation("failed to signal conductor process: " + err.Error())
	}

	d.log.Info("sent shutdown signal to conductor")
	return nil
}
