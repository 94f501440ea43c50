package cli

import (
	"context"

	"go.uber.org/zap"

	"github.com/pivotloop/conductor/internal/common/logger"
	"github.com/pivotloop/conductor/internal/orchestrator/transport"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// publishAgentEvent fans one AgentEvent out onto bus under the shared
// agent-events subject, the cross-process counterpart to the in-process
// events.Dispatcher every orchestrator instance also gets. It also
// republishes under the event's per-task subject so a consumer that only
// cares about one task (e.g. `conductor events tail --task`) can subscribe
// narrowly instead of filtering the firehose subject itself.
func publishAgentEvent(bus transport.EventBus, log *logger.Logger, e types.AgentEvent) {
	evt := transport.NewEvent(string(e.Kind), "conductor", map[string]any{
		"agentId":   e.AgentID,
		"taskId":    e.TaskID,
		"timestamp": e.Timestamp,
		"payload":   e.Payload,
	})
	if err := bus.Publish(context.Background(), transport.AgentEventSubject, evt); err != nil && log != nil {
		log.Warn("failed to publish agent event to transport", zap.Error(err))
	}
	if e.TaskID != "" {
		taskEvt := transport.NewEvent(string(e.Kind), "conductor", map[string]any{
			"agentId":   e.AgentID,
			"taskId":    e.TaskID,
			"timestamp": e.Timestamp,
			"payload":   e.Payload,
		})
		if err := bus.Publish(context.Background(), transport.BuildTaskSubject(e.TaskID), taskEvt); err != nil && log != nil {
			log.Warn("failed to publish agent event to per-task subject", zap.Error(err))
		}
	}
}

// publishDatabaseTransition mirrors a DatabaseHealthMonitor transition onto
// the transport so other processes sharing it observe the same state.
func publishDatabaseTransition(bus transport.EventBus, log *logger.Logger, event string) {
	subject := transport.DatabaseHealthy
	switch event {
	case "database:degraded":
		subject = transport.DatabaseDegraded
	case "database:recovered":
		subject = transport.DatabaseRecovered
	}
	evt := transport.NewEvent(event, "conductor", nil)
	if err := bus.Publish(context.Background(), subject, evt); err != nil && log != nil {
		log.Warn("failed to publish database transition to transport", zap.Error(err))
	}
}
