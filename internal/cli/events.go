package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
	"github.com/pivotloop/conductor/internal/orchestrator/transport"
)

// newEventsCmd groups transport-level observability subcommands.
func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "inspect the cross-process event transport",
	}
	cmd.AddCommand(newEventsTailCmd())
	return cmd
}

func newEventsTailCmd() *cobra.Command {
	var taskID string
	var group string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "stream agent events from the transport until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsTail(cmd, appDeps, taskID, group)
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "only stream events for this task ID")
	cmd.Flags().StringVar(&group, "group", "", "queue-subscribe as this group instead of a fan-out subscription")
	return cmd
}

func runEventsTail(cmd *cobra.Command, d *deps, taskID, group string) error {
	provided, closeTransport, err := transport.Provide(d.cfg, d.log)
	if err != nil {
		return commonerrors.Spawn("failed to initialize transport", err)
	}
	defer func() { _ = closeTransport() }()

	subject := transport.AgentEventSubject
	if taskID != "" {
		subject = transport.BuildTaskSubject(taskID)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	handler := func(ctx context.Context, e *transport.Event) error {
		return enc.Encode(e)
	}

	var sub transport.Subscription
	if group != "" {
		sub, err = provided.Bus.QueueSubscribe(subject, group, handler)
	} else {
		sub, err = provided.Bus.Subscribe(subject, handler)
	}
	if err != nil {
		return commonerrors.Spawn(fmt.Sprintf("failed to subscribe to %s", subject), err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}
