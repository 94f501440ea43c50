package transport

import (
	"fmt"
	"strings"

	"github.com/pivotloop/conductor/internal/common/config"
	"github.com/pivotloop/conductor/internal/common/logger"
)

// Provided wraps the active transport implementation selected from config.
// The EventDispatcher (internal/orchestrator/events) uses this to fan agent
// events out across process boundaries; a bare single-instance deployment
// gets the in-memory bus, a multi-instance deployment points NATS.URL at a
// shared server.
type Provided struct {
	Bus    EventBus
	Memory *MemoryEventBus
	NATS   *NATSEventBus
}

// Provide builds the configured transport implementation.
func Provide(cfg *config.Config, log *logger.Logger) (*Provided, func() error, error) {
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS transport: %w", err)
		}
		cleanup := func() error {
			natsBus.Close()
			return nil
		}
		return &Provided{Bus: natsBus, NATS: natsBus}, cleanup, nil
	}

	memBus := NewMemoryEventBus(log)
	return &Provided{Bus: memBus, Memory: memBus}, func() error { return nil }, nil
}
