package types

import "time"

// AgentEventKind discriminates the shape of an AgentEvent's payload and
// which MainLoop handler processes it.
type AgentEventKind string

const (
	EventKindQuestion      AgentEventKind = "question"
	EventKindCompletion    AgentEventKind = "completion"
	EventKindError         AgentEventKind = "error"
	EventKindBlocker       AgentEventKind = "blocker"
	EventKindSubagentSpawn AgentEventKind = "subagent_spawn"
)

// AgentEvent is a discriminated record emitted by the agent runtime. It is
// immutable once dispatched — handlers must treat Payload as read-only.
type AgentEvent struct {
	Kind      AgentEventKind
	AgentID   string
	TaskID    string
	Timestamp time.Time
	Payload   AgentEventPayload
}

// AgentEventPayload carries the fields relevant to each event kind. Fields
// irrelevant to a given Kind are left at their zero value.
type AgentEventPayload struct {
	// completion
	TokensUsed         int64
	CostUSD            float64
	HasMeaningfulOutput bool
	Summary            string

	// error
	Error            string
	FatalClassified  bool

	// blocker
	BlockedByTaskID string

	// question
	Question string

	// subagent_spawn
	SubagentID string
}
