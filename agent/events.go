package agent

import (
	"context"
	"sync"
	"time"
)

// EventKind identifies the type of run event.
type EventKind string

const (
	EventTaskStart EventKind = "task_start"
	EventTaskEnd   EventKind = "task_end"
	EventTurnStart EventKind = "turn_start"
	EventTurnEnd   EventKind = "turn_end"
	EventLoop      EventKind = "loop_detected"
	EventWarning   EventKind = "warning"
)

// Event is a typed notification emitted by a running task.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"task_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventHook bridges the Hook interface onto a buffered event channel so a
// host application (a TUI, a dashboard) can observe a run without touching
// the turn loop. A full channel drops events rather than blocking.
type EventHook struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewEventHook creates an EventHook with the given buffer size.
func NewEventHook(bufferSize int) *EventHook {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventHook{ch: make(chan Event, bufferSize)}
}

// Events returns the read-only event channel.
func (e *EventHook) Events() <-chan Event { return e.ch }

// Close closes the channel. Safe to call multiple times.
func (e *EventHook) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

func (e *EventHook) emit(kind EventKind, taskID string, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{Kind: kind, Timestamp: time.Now(), TaskID: taskID, Data: data}
	select {
	case e.ch <- event:
	default:
		// Full channel; drop rather than stall the turn loop.
	}
}

func (e *EventHook) OnTurnStart(ctx context.Context, taskID string, turn int) {
	e.emit(EventTurnStart, taskID, map[string]any{"turn": turn})
}

func (e *EventHook) OnTurnEnd(ctx context.Context, summary TurnSummary) {
	data := map[string]any{
		"turn":      summary.Turn,
		"tokens_in": summary.Budget.TokensIn,
		"cost_usd":  summary.Budget.CostUSD,
	}
	if summary.Action != nil {
		data["command"] = summary.Action.Command
	}
	if summary.Result != nil {
		data["exit_code"] = summary.Result.ExitCode
	}
	e.emit(EventTurnEnd, summary.TaskID, data)
}

func (e *EventHook) OnTaskEnd(ctx context.Context, taskID string, outcome string) {
	e.emit(EventTaskEnd, taskID, map[string]any{"outcome": outcome})
}
