package mainloop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// stateSchemaVersion is the persisted state file's version field. A
// mismatch on load aborts with a warning; state is best-effort.
const stateSchemaVersion = 1

// ActiveAgentRecord is one entry in the persisted active-agents set.
type ActiveAgentRecord struct {
	SessionID string          `json:"sessionId"`
	TaskID    string          `json:"taskId"`
	Model     types.ModelTier `json:"model"`
	Status    string          `json:"status"`
	StartedAt time.Time       `json:"startedAt"`
}

// persistedState is the self-describing record written to stateFilePath.
type persistedState struct {
	Version      int                 `json:"version"`
	SavedAt      time.Time           `json:"savedAt"`
	ActiveAgents []ActiveAgentRecord `json:"activeAgents"`
}

// saveState writes the active-agents set to path as a self-describing
// JSON record, creating the parent directory if needed.
func saveState(path string, agents []ActiveAgentRecord) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	state := persistedState{
		Version:      stateSchemaVersion,
		SavedAt:      time.Now(),
		ActiveAgents: agents,
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write state file %s: %w", path, err)
	}
	return nil
}

// loadState reads path. A missing file is not an error (nil, nil), and
// loadState never creates the file; saveState does. A schema version
// mismatch aborts the load with an error rather than silently ignoring
// the file's unrecognized shape; state is best-effort so callers should
// log and continue rather than fail startup.
func loadState(path string) ([]ActiveAgentRecord, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if state.Version != stateSchemaVersion {
		return nil, fmt.Errorf("state file %s has unsupported schema version %d", path, state.Version)
	}
	return state.ActiveAgents, nil
}
