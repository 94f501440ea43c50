// Package events implements the typed, in-process pub/sub for AgentEvents:
// bounded ring-buffer history, filtered waits, and handler isolation. This
// is distinct from internal/orchestrator/transport, which is the optional
// cross-process fan-out substrate a Dispatcher can be wired to publish onto.
package events

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
	"github.com/pivotloop/conductor/internal/common/logger"
	"github.com/pivotloop/conductor/internal/common/tracing"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// Handler processes one AgentEvent. Handlers may be slow; dispatch waits
// for the slowest handler of a given event before returning.
type Handler func(ctx context.Context, event types.AgentEvent)

// Unsubscribe removes the handler it was returned for.
type Unsubscribe func()

// HistoryFilter narrows GetHistory results. Zero-value fields are ignored.
type HistoryFilter struct {
	Kind    types.AgentEventKind
	AgentID string
	TaskID  string
}

func (f HistoryFilter) matches(e types.AgentEvent) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	return true
}

type registration struct {
	handler Handler
	once    bool
}

// Dispatcher is the typed, in-process pub/sub for AgentEvents.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[types.AgentEventKind][]*registration
	global   []*registration

	history     []types.AgentEvent
	historySize int
	historyHead int
	historyLen  int

	waiters []*waiter

	log *logger.Logger
}

type waiter struct {
	kind      types.AgentEventKind
	predicate func(types.AgentEvent) bool
	ch        chan types.AgentEvent
}

// NewDispatcher builds a Dispatcher with the given ring buffer capacity.
// A non-positive size falls back to 100, the spec's default.
func NewDispatcher(historySize int, log *logger.Logger) *Dispatcher {
	if historySize <= 0 {
		historySize = 100
	}
	return &Dispatcher{
		handlers:    make(map[types.AgentEventKind][]*registration),
		history:     make([]types.AgentEvent, historySize),
		historySize: historySize,
		log:         log,
	}
}

// On registers a handler for one event kind, returning an Unsubscribe.
func (d *Dispatcher) On(kind types.AgentEventKind, h Handler) Unsubscribe {
	reg := &registration{handler: h}
	d.mu.Lock()
	d.handlers[kind] = append(d.handlers[kind], reg)
	d.mu.Unlock()

	return func() { d.removeRegistration(kind, reg) }
}

// Once registers a handler that fires at most once, then auto-removes.
func (d *Dispatcher) Once(kind types.AgentEventKind, h Handler) {
	reg := &registration{handler: h, once: true}
	d.mu.Lock()
	d.handlers[kind] = append(d.handlers[kind], reg)
	d.mu.Unlock()
}

// OnGlobal registers a handler invoked for every dispatched event,
// regardless of kind.
func (d *Dispatcher) OnGlobal(h Handler) Unsubscribe {
	reg := &registration{handler: h}
	d.mu.Lock()
	d.global = append(d.global, reg)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.global = removeReg(d.global, reg)
	}
}

// Off removes one specific handler previously registered via On. Handlers
// are compared by identity, so pass the exact function value registered
// (or prefer the Unsubscribe closure returned by On). If the same function
// value was registered more than once for kind, only the first matching
// registration is removed.
func (d *Dispatcher) Off(kind types.AgentEventKind, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	target := reflect.ValueOf(handler).Pointer()
	regs := d.handlers[kind]
	for i, reg := range regs {
		if reflect.ValueOf(reg.handler).Pointer() == target {
			d.handlers[kind] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// RemoveAllHandlers clears every handler registered for kind.
func (d *Dispatcher) RemoveAllHandlers(kind types.AgentEventKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, kind)
}

func (d *Dispatcher) removeRegistration(kind types.AgentEventKind, target *registration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = removeReg(d.handlers[kind], target)
}

func removeReg(regs []*registration, target *registration) []*registration {
	out := regs[:0:0]
	for _, r := range regs {
		if r != target {
			out = append(out, r)
		}
	}
	return out
}

// Dispatch invokes every handler registered for event.Kind plus every
// global handler. All invocations for this event run in parallel; Dispatch
// returns once the slowest completes. A handler panic is caught, logged,
// and never aborts sibling handlers or the dispatch itself.
func (d *Dispatcher) Dispatch(ctx context.Context, event types.AgentEvent) {
	ctx, span := tracing.TraceDispatch(ctx, string(event.Kind), event.AgentID, event.TaskID)
	defer span.End()

	d.mu.Lock()
	typed := append([]*registration(nil), d.handlers[event.Kind]...)
	for _, reg := range typed {
		if reg.once {
			// Removed under the lock so a concurrent Dispatch cannot fire it too.
			d.handlers[event.Kind] = removeReg(d.handlers[event.Kind], reg)
		}
	}
	global := append([]*registration(nil), d.global...)
	d.appendHistory(event)
	d.notifyWaitersLocked(event)
	d.mu.Unlock()

	var onceFired []*registration

	var wg sync.WaitGroup
	invoke := func(reg *registration) {
		defer wg.Done()
		defer d.recoverHandlerPanic(event)
		reg.handler(ctx, event)
	}

	for _, reg := range typed {
		wg.Add(1)
		go invoke(reg)
		if reg.once {
			onceFired = append(onceFired, reg)
		}
	}
	for _, reg := range global {
		wg.Add(1)
		go invoke(reg)
	}
	wg.Wait()

	if len(onceFired) > 0 {
		d.mu.Lock()
		for _, reg := range onceFired {
			d.handlers[event.Kind] = removeReg(d.handlers[event.Kind], reg)
		}
		d.mu.Unlock()
	}
}

func (d *Dispatcher) recoverHandlerPanic(event types.AgentEvent) {
	if r := recover(); r != nil {
		if d.log != nil {
			d.log.Error("agent event handler panicked",
				zap.Any("recovered", r),
				zap.String("kind", string(event.Kind)),
				zap.String("agent_id", event.AgentID),
				zap.String("task_id", event.TaskID))
		}
	}
}

// DispatchBatch dispatches each event in order, awaiting the previous
// before starting the next.
func (d *Dispatcher) DispatchBatch(ctx context.Context, events []types.AgentEvent) {
	for _, e := range events {
		d.Dispatch(ctx, e)
	}
}

// GetHistory returns a copy of the ring buffer, optionally filtered.
func (d *Dispatcher) GetHistory(filter HistoryFilter) []types.AgentEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	ordered := d.orderedHistoryLocked()
	out := make([]types.AgentEvent, 0, len(ordered))
	for _, e := range ordered {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (d *Dispatcher) appendHistory(event types.AgentEvent) {
	idx := (d.historyHead + d.historyLen) % d.historySize
	if d.historyLen < d.historySize {
		d.history[idx] = event
		d.historyLen++
	} else {
		d.history[d.historyHead] = event
		d.historyHead = (d.historyHead + 1) % d.historySize
	}
}

func (d *Dispatcher) orderedHistoryLocked() []types.AgentEvent {
	out := make([]types.AgentEvent, d.historyLen)
	for i := 0; i < d.historyLen; i++ {
		out[i] = d.history[(d.historyHead+i)%d.historySize]
	}
	return out
}

// WaitFor resolves with the next event matching kind and predicate, or
// fails with a timeout error if none arrives within timeout. A zero
// timeout fails immediately unless a matching event is already pending.
func (d *Dispatcher) WaitFor(ctx context.Context, kind types.AgentEventKind, predicate func(types.AgentEvent) bool, timeout time.Duration) (types.AgentEvent, error) {
	if predicate == nil {
		predicate = func(types.AgentEvent) bool { return true }
	}

	w := &waiter{kind: kind, predicate: predicate, ch: make(chan types.AgentEvent, 1)}

	d.mu.Lock()
	d.waiters = append(d.waiters, w)
	d.mu.Unlock()

	defer d.removeWaiter(w)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e := <-w.ch:
		return e, nil
	case <-timer.C:
		return types.AgentEvent{}, commonerrors.Timeout(fmt.Sprintf("waitFor timed out after %s waiting for kind %q", timeout, kind))
	case <-ctx.Done():
		return types.AgentEvent{}, ctx.Err()
	}
}

func (d *Dispatcher) notifyWaitersLocked(event types.AgentEvent) {
	remaining := d.waiters[:0:0]
	for _, w := range d.waiters {
		if w.kind == event.Kind && w.predicate(event) {
			select {
			case w.ch <- event:
			default:
			}
			continue
		}
		remaining = append(remaining, w)
	}
	d.waiters = remaining
}

func (d *Dispatcher) removeWaiter(target *waiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	remaining := d.waiters[:0:0]
	for _, w := range d.waiters {
		if w != target {
			remaining = append(remaining, w)
		}
	}
	d.waiters = remaining
}
