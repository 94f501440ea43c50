package cli

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
)

// statusReport is the conductor status snapshot. It reflects the shared
// repository's current state, not the in-process mainloop of a separate
// "start" invocation, since there is no control-plane IPC beyond the pid
// file used by "stop".
type statusReport struct {
	Running        bool     `json:"running"`
	PID            int      `json:"pid,omitempty"`
	ActiveProjects []string `json:"activeProjects"`
	QueuedTasks    int      `json:"queuedTasks"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "report whether conductor is running and summarize queued work",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := buildStatusReport(appDeps)
			if err != nil {
				return commonerrors.Validation(fmt.Sprintf("failed to build status report: %v", err))
			}
			return renderOutput(cmd, report)
		},
	}
}

func buildStatusReport(d *deps) (*statusReport, error) {
	report := &statusReport{}

	if pid, err := readPidFile(pidFilePath(d.cfg.MainLoop.StateFilePath)); err == nil {
		report.Running = processAlive(pid)
		report.PID = pid
	}

	ctx := context.Background()

	projects, err := d.repo.ListActiveProjects(ctx)
	if err != nil {
		return nil, err
	}
	report.ActiveProjects = projects

	queued, err := d.repo.GetQueuedTasks(ctx)
	if err != nil {
		return nil, err
	}
	report.QueuedTasks = len(queued)

	return report, nil
}

// processAlive reports whether pid names a live process, using the
// standard Unix "signal 0" probe: FindProcess always succeeds on Unix, so
// the liveness check happens on Signal. EPERM still means the process
// exists, just owned by someone else; only ESRCH means it's gone.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
