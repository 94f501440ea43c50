// Package notify implements the Notification channel external
// collaborator: per-tick batching of question/completion/blocker items
// with a quiet-hours suppression window, handed to a pluggable Sender.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pivotloop/conductor/internal/common/logger"
)

// NotificationType discriminates a batch item per spec.md §6.
type NotificationType string

const (
	TypeQuestion   NotificationType = "question"
	TypeCompletion NotificationType = "completion"
	TypeBlocker    NotificationType = "blocker"
)

// Priority gates whether an item is suppressed during quiet hours.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is one item destined for a batch.
type Notification struct {
	Type        NotificationType
	AgentID     string
	TaskID      string
	ProjectName string
	Message     string
	Priority    Priority
}

// Sender delivers a batch. ConsoleSender and WebhookSender are the two
// implementations wired by default.
type Sender interface {
	Send(batch []Notification) error
}

// QuietHours configures the suppression window, expressed as hour-of-day
// in [0,24). StartHour == EndHour disables the window.
type QuietHours struct {
	StartHour int
	EndHour   int
}

// inWindow reports whether hour falls within the configured quiet window,
// correctly handling windows that wrap past midnight.
func (q QuietHours) inWindow(hour int) bool {
	if q.StartHour == q.EndHour {
		return false
	}
	if q.StartHour < q.EndHour {
		return hour >= q.StartHour && hour < q.EndHour
	}
	return hour >= q.StartHour || hour < q.EndHour
}

// Notifier batches notifications across a tick and flushes at most one
// Sender.Send call per Flush, per spec.md §6.
type Notifier struct {
	mu      sync.Mutex
	pending []Notification
	sender  Sender
	quiet   QuietHours
	log     *logger.Logger
	now     func() time.Time
}

// New builds a Notifier. now defaults to time.Now; tests may override it.
func New(sender Sender, quiet QuietHours, log *logger.Logger) *Notifier {
	return &Notifier{sender: sender, quiet: quiet, log: log, now: time.Now}
}

// Enqueue adds one notification to the pending batch. Safe to call from
// any MainLoop event handler.
func (n *Notifier) Enqueue(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = append(n.pending, note)
}

// Flush suppresses normal-priority items during the quiet-hours window,
// then hands the remaining batch to the Sender in a single call. Returns
// nil immediately if nothing survives suppression. Always clears the
// pending batch, even on send failure, so one bad batch cannot grow
// forever.
func (n *Notifier) Flush() error {
	n.mu.Lock()
	batch := n.pending
	n.pending = nil
	n.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	hour := n.now().Hour()
	quiet := n.quiet.inWindow(hour)

	deliverable := batch[:0:0]
	suppressed := 0
	for _, note := range batch {
		if quiet && note.Priority != PriorityHigh {
			suppressed++
			continue
		}
		deliverable = append(deliverable, note)
	}

	if suppressed > 0 && n.log != nil {
		n.log.Info("notifications suppressed by quiet hours", zap.Int("count", suppressed))
	}

	if len(deliverable) == 0 {
		return nil
	}

	if err := n.sender.Send(deliverable); err != nil {
		if n.log != nil {
			n.log.Error("notification send failed", zap.Error(err), zap.Int("batch_size", len(deliverable)))
		}
		return err
	}
	return nil
}
