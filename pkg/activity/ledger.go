// Package activity records tool-call lifecycles for the dashboard and
// operator diagnostics. Events move from pending to a terminal result
// exactly once and are retained in a bounded recent-history buffer.
package activity

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/aviary/pkg/telemetry"
)

// CallResult is the terminal (or pending) state of a tool call.
type CallResult string

const (
	ResultPending CallResult = "pending"
	ResultSuccess CallResult = "success"
	ResultError   CallResult = "error"
)

// DefaultRecentBuffer bounds the retained history when no size is configured.
const DefaultRecentBuffer = 1000

// ToolCallEvent is one record per tool invocation.
type ToolCallEvent struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"toolName"`
	SessionID string         `json:"sessionId"`
	Args      map[string]any `json:"args,omitempty"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime,omitzero"`
	Duration  time.Duration  `json:"duration"`
	Result    CallResult     `json:"result"`
	Error     string         `json:"error,omitempty"`
}

// Stats summarizes the ledger, recomputed on demand to avoid drift.
type Stats struct {
	ActiveCount    int `json:"activeCount"`
	TotalCompleted int `json:"totalCompleted"`
	SuccessCount   int `json:"successCount"`
	ErrorCount     int `json:"errorCount"`
}

// Ledger tracks tool calls. All reads return copies; callers never hold
// references into live ledger state.
type Ledger struct {
	mu      sync.Mutex
	events  map[string]*ToolCallEvent
	order   []string // insertion order of every recorded call id
	maxSize int
	hub     *telemetry.Hub
}

// NewLedger creates a ledger retaining at most maxSize events.
func NewLedger(maxSize int, hub *telemetry.Hub) *Ledger {
	if maxSize <= 0 {
		maxSize = DefaultRecentBuffer
	}
	return &Ledger{
		events:  make(map[string]*ToolCallEvent),
		maxSize: maxSize,
		hub:     hub,
	}
}

// StartCall records a pending event and returns its id. Never blocks.
func (l *Ledger) StartCall(toolName, sessionID string, args map[string]any) string {
	event := &ToolCallEvent{
		ID:        ulid.Make().String(),
		ToolName:  toolName,
		SessionID: sessionID,
		Args:      cloneArgs(args),
		StartTime: time.Now(),
		Result:    ResultPending,
	}

	l.mu.Lock()
	l.events[event.ID] = event
	l.order = append(l.order, event.ID)
	l.evictLocked()
	l.mu.Unlock()

	l.hub.Publish(telemetry.Event{
		Type:      telemetry.EventCallStarted,
		SessionID: sessionID,
		CallID:    event.ID,
		Data:      map[string]any{"tool": toolName},
	})
	return event.ID
}

// EndCall transitions the matching event from pending to its terminal
// result. Duplicate or unknown completions are no-ops.
func (l *Ledger) EndCall(callID string, result CallResult, errorMessage string) {
	l.mu.Lock()
	event, ok := l.events[callID]
	if !ok || event.Result != ResultPending {
		l.mu.Unlock()
		return
	}
	event.EndTime = time.Now()
	event.Duration = event.EndTime.Sub(event.StartTime)
	event.Result = result
	event.Error = errorMessage
	snapshot := *event
	l.mu.Unlock()

	eventType := telemetry.EventCallCompleted
	if result == ResultError {
		eventType = telemetry.EventCallFailed
	}
	l.hub.Publish(telemetry.Event{
		Type:      eventType,
		SessionID: snapshot.SessionID,
		CallID:    callID,
		Data: map[string]any{
			"tool":        snapshot.ToolName,
			"duration_ms": snapshot.Duration.Milliseconds(),
			"error":       snapshot.Error,
		},
	})
}

// GetActiveCalls returns all currently pending events, oldest first.
func (l *Ledger) GetActiveCalls() []ToolCallEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	active := make([]ToolCallEvent, 0)
	for _, id := range l.order {
		if event := l.events[id]; event != nil && event.Result == ResultPending {
			active = append(active, *event)
		}
	}
	return active
}

// GetRecentCalls returns the most recently started events, newest first,
// capped at limit.
func (l *Ledger) GetRecentCalls(limit int) []ToolCallEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.order) {
		limit = len(l.order)
	}
	recent := make([]ToolCallEvent, 0, limit)
	for i := len(l.order) - 1; i >= 0 && len(recent) < limit; i-- {
		if event := l.events[l.order[i]]; event != nil {
			recent = append(recent, *event)
		}
	}
	return recent
}

// GetStats derives ledger statistics from the retained events.
func (l *Ledger) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stats Stats
	for _, event := range l.events {
		switch event.Result {
		case ResultPending:
			stats.ActiveCount++
		case ResultSuccess:
			stats.TotalCompleted++
			stats.SuccessCount++
		case ResultError:
			stats.TotalCompleted++
			stats.ErrorCount++
		}
	}
	return stats
}

// evictLocked drops the oldest completed events beyond the buffer size.
// Pending events survive eviction so an in-flight call is never lost.
func (l *Ledger) evictLocked() {
	excess := len(l.order) - l.maxSize
	if excess <= 0 {
		return
	}
	kept := make([]string, 0, l.maxSize)
	for _, id := range l.order {
		event := l.events[id]
		if excess > 0 && event != nil && event.Result != ResultPending {
			delete(l.events, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	clone := make(map[string]any, len(args))
	for k, v := range args {
		clone[k] = v
	}
	return clone
}
