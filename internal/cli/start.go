package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pivotloop/conductor/internal/agent/docker"
	"github.com/pivotloop/conductor/internal/common/appctx"
	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
	"github.com/pivotloop/conductor/internal/orchestrator/capacity"
	"github.com/pivotloop/conductor/internal/orchestrator/circuitbreaker"
	"github.com/pivotloop/conductor/internal/orchestrator/events"
	"github.com/pivotloop/conductor/internal/orchestrator/health"
	"github.com/pivotloop/conductor/internal/orchestrator/mainloop"
	"github.com/pivotloop/conductor/internal/orchestrator/notify"
	"github.com/pivotloop/conductor/internal/orchestrator/queue"
	"github.com/pivotloop/conductor/internal/orchestrator/runtime"
	"github.com/pivotloop/conductor/internal/orchestrator/scheduler"
	"github.com/pivotloop/conductor/internal/orchestrator/transport"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "start the conductor control plane and block until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), appDeps)
		},
	}
}

// buildLoop wires every orchestrator collaborator from cfg, mirroring the
// teacher's apps/backend/cmd/orchestrator/main.go composition order:
// capacity, queue, runtime, notifications, circuit breaker, scheduler,
// event dispatch, transport, database health, then the main loop itself.
func buildLoop(d *deps) (*mainloop.Loop, func(), error) {
	cfg := d.cfg

	tierLimits := make(map[types.ModelTier]int, len(cfg.Capacity.Tiers))
	tierOrder := make([]types.ModelTier, 0, len(cfg.Capacity.Tiers))
	for name, tier := range cfg.Capacity.Tiers {
		t := types.ModelTier(name)
		tierLimits[t] = tier.Limit
		tierOrder = append(tierOrder, t)
	}
	tracker := capacity.NewTracker(tierLimits)
	taskQueue := queue.NewTaskQueue()

	var agentRuntime scheduler.AgentRuntime
	var loopRuntime mainloop.AgentRuntime
	var eventSource eventEmitter
	var closeRuntime func()

	// Docker is a soft dependency: if it's enabled but unreachable, conductor
	// still starts with agent features disabled rather than refusing to run
	// entirely, the same ping gate the teacher's cmd/kandev/main.go runs
	// before committing to a DockerRuntime.
	dockerReady := false
	var dockerClient *docker.Client
	if cfg.Docker.Enabled {
		client, err := docker.NewClient(cfg.Docker, d.log)
		if err != nil {
			d.log.Warn("docker client init failed, starting with agent features disabled", zap.Error(err))
		} else if err := client.Ping(context.Background()); err != nil {
			d.log.Warn("docker ping failed, starting with agent features disabled", zap.Error(err))
			_ = client.Close()
		} else {
			dockerClient = client
			dockerReady = true
		}
	}

	if dockerReady {
		dockerRuntime := runtime.NewDockerRuntime(dockerClient, cfg.Docker, d.log)
		agentRuntime = dockerRuntime
		loopRuntime = dockerRuntime
		eventSource = dockerRuntime
		closeRuntime = func() { _ = dockerClient.Close() }
	} else {
		noop := runtime.NewNoopRuntime(d.log)
		agentRuntime = noop
		loopRuntime = noop
		eventSource = noop
		closeRuntime = func() {}
	}

	var sender notify.Sender
	if cfg.Notify.WebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.Notify.WebhookURL, 3, d.log)
	} else {
		sender = notify.NewConsoleSender(d.log)
	}
	notifier := notify.New(sender, notify.QuietHours{
		StartHour: cfg.Notify.QuietHoursStart,
		EndHour:   cfg.Notify.QuietHoursEnd,
	}, d.log)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		MaxConsecutiveAgentErrors: cfg.CircuitBreaker.MaxConsecutiveAgentErrors,
		ErrorRateThreshold:        cfg.CircuitBreaker.ErrorRateThreshold,
		ErrorRateWindowSize:       cfg.CircuitBreaker.ErrorRateWindowSize,
		HardBudgetLimitUSD:        cfg.CircuitBreaker.HardBudgetLimitUSD,
		TokenLimitWithoutOutput:   cfg.CircuitBreaker.TokenLimitWithoutOutput,
	}, notify.NewBreakerAdapter(notifier), d.log)

	sched := scheduler.New(taskQueue, tracker, agentRuntime, breaker, d.log, tierOrder)

	dispatcher := events.NewDispatcher(cfg.MainLoop.EventHistorySize, d.log)

	provided, closeTransport, err := transport.Provide(cfg, d.log)
	if err != nil {
		closeRuntime()
		return nil, nil, commonerrors.Spawn("failed to initialize transport", err)
	}
	prevCloseRuntime := closeRuntime
	closeRuntime = func() {
		prevCloseRuntime()
		if err := closeTransport(); err != nil {
			d.log.Warn("failed to close transport", zap.Error(err))
		}
	}

	probe := func(ctx context.Context) error {
		_, err := d.repo.ListActiveProjects(ctx)
		return err
	}
	dbHealth := health.New(probe, cfg.MainLoop.MaxConsecutiveDbFailures, d.log, func(event string) {
		publishDatabaseTransition(provided.Bus, d.log, event)
	})

	loopCfg := mainloop.Config{
		PollInterval:              cfg.MainLoop.PollInterval(),
		GracefulShutdownTimeout:   cfg.MainLoop.GracefulShutdownTimeout(),
		StateFilePath:             cfg.MainLoop.StateFilePath,
		ValidateDatabaseOnStartup: cfg.MainLoop.ValidateDatabaseOnStartup,
		RunPreFlightChecks:        cfg.MainLoop.RunPreFlightChecks,
		MaxConsecutiveDbFailures:  cfg.MainLoop.MaxConsecutiveDbFailures,
		StatusCheckInInterval:     time.Duration(cfg.MainLoop.StatusCheckInIntervalMs) * time.Millisecond,
		DbRetry: health.RetryConfig{
			MaxRetries:        cfg.MainLoop.DbMaxRetries,
			InitialDelay:      time.Duration(cfg.MainLoop.DbInitialDelayMs) * time.Millisecond,
			MaxDelay:          time.Duration(cfg.MainLoop.DbMaxDelayMs) * time.Millisecond,
			BackoffMultiplier: cfg.MainLoop.DbBackoffMultiplier,
		},
	}

	loop := mainloop.New(loopCfg, sched, breaker, dbHealth, dispatcher, notifier, d.repo, loopRuntime, d.log)
	eventSource.OnEvent(func(e types.AgentEvent) {
		loop.HandleAgentEvent(context.Background(), e)
		publishAgentEvent(provided.Bus, d.log, e)
	})
	return loop, closeRuntime, nil
}

// eventEmitter is the subset of AgentRuntime the CLI needs to route
// observed AgentEvents into the main loop's handler.
type eventEmitter interface {
	OnEvent(handler func(types.AgentEvent))
}

func runStart(ctx context.Context, d *deps) error {
	loop, closeRuntime, err := buildLoop(d)
	if err != nil {
		return err
	}
	defer closeRuntime()

	if err := loop.Start(ctx); err != nil {
		return commonerrors.Validation(fmt.Sprintf("failed to start main loop: %v", err))
	}
	d.log.Info("conductor started")

	if err := writePidFile(pidFilePath(d.cfg.MainLoop.StateFilePath)); err != nil {
		d.log.Warn("failed to write pid file", zap.Error(err))
	}
	defer removePidFile(pidFilePath(d.cfg.MainLoop.StateFilePath))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	d.log.Info("shutdown signal received, stopping")
	// Stop must run to completion even though ctx (tied to the cobra command
	// invocation) may already be winding down; detach it with its own bound.
	stopCtx, cancel := appctx.Detached(ctx, make(chan struct{}), d.cfg.MainLoop.GracefulShutdownTimeout()+5*time.Second)
	defer cancel()
	if err := loop.Stop(stopCtx); err != nil {
		return commonerrors.Validation(fmt.Sprintf("failed to stop main loop cleanly: %v", err))
	}
	return nil
}
