package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pivotloop/conductor/internal/common/constants"
	"github.com/pivotloop/conductor/internal/common/logger"
	"github.com/pivotloop/conductor/internal/common/stringutil"
	"github.com/pivotloop/conductor/internal/orchestrator/circuitbreaker"
)

// consoleMessageMaxLen bounds how much of a Notification's free-text
// Message a ConsoleSender writes to a single log line.
const consoleMessageMaxLen = 280

// ConsoleSender writes formatted batches to the log. The default Sender.
type ConsoleSender struct {
	log *logger.Logger
}

// NewConsoleSender builds a ConsoleSender.
func NewConsoleSender(log *logger.Logger) *ConsoleSender {
	return &ConsoleSender{log: log}
}

func (c *ConsoleSender) Send(batch []Notification) error {
	for _, n := range batch {
		if c.log != nil {
			c.log.Info("notification",
				zap.String("type", string(n.Type)),
				zap.String("agent_id", n.AgentID),
				zap.String("task_id", n.TaskID),
				zap.String("project", n.ProjectName),
				zap.String("priority", string(n.Priority)),
				zap.String("message", stringutil.TruncateStringWithEllipsis(n.Message, consoleMessageMaxLen)))
		}
	}
	return nil
}

// WebhookSender POSTs a JSON batch to a configured URL with bounded
// retries. Grounded on the plain net/http POST-and-check-status pattern
// used for chat-integration webhooks elsewhere in the example corpus.
type WebhookSender struct {
	url        string
	client     *http.Client
	maxRetries int
	log        *logger.Logger
}

// NewWebhookSender builds a WebhookSender posting to url with a 15s
// client timeout and up to maxRetries attempts (each attempt after the
// first backs off linearly by 200ms * attempt).
func NewWebhookSender(url string, maxRetries int, log *logger.Logger) *WebhookSender {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &WebhookSender{
		url:        url,
		client:     &http.Client{Timeout: constants.NotifySendTimeout},
		maxRetries: maxRetries,
		log:        log,
	}
}

func (w *WebhookSender) Send(batch []Notification) error {
	body, err := json.Marshal(map[string]any{"notifications": batch})
	if err != nil {
		return fmt.Errorf("marshal notification batch: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		if err := w.post(body); err != nil {
			lastErr = err
			if w.log != nil {
				w.log.Warn("webhook send attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			}
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
			continue
		}
		return nil
	}
	return fmt.Errorf("webhook send failed after %d attempts: %w", w.maxRetries, lastErr)
}

func (w *WebhookSender) post(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("construct webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, b)
	}
	return nil
}

// BreakerAdapter satisfies circuitbreaker.Notifier by enqueuing the
// breaker's trip/alert callbacks as high-priority notifications and
// flushing them immediately, bypassing the per-tick batching since a
// trip is an out-of-band escalation that must not wait for the next tick.
type BreakerAdapter struct {
	notifier *Notifier
}

// NewBreakerAdapter wraps n for use as a circuitbreaker.Notifier.
func NewBreakerAdapter(n *Notifier) *BreakerAdapter {
	return &BreakerAdapter{notifier: n}
}

func (a *BreakerAdapter) OnCircuitBreakerTrip(reason circuitbreaker.TripReason, message string, triggeringAgentID string) {
	a.notifier.Enqueue(Notification{
		Type:     TypeBlocker,
		AgentID:  triggeringAgentID,
		Message:  fmt.Sprintf("circuit breaker tripped (%s): %s", reason, message),
		Priority: PriorityHigh,
	})
	_ = a.notifier.Flush()
}

func (a *BreakerAdapter) SendAlert(message string) {
	a.notifier.Enqueue(Notification{Type: TypeBlocker, Message: message, Priority: PriorityHigh})
	_ = a.notifier.Flush()
}
