// Package dispatch routes tool calls through session resolution, activity
// recording, and gate admission before handing them to handlers.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/odvcencio/aviary/pkg/errors"
)

// Handler executes one named tool.
type Handler interface {
	Name() string
	Description() string
	Execute(ctx context.Context, call *Call) (*Result, error)
}

// Call is the resolved invocation a handler receives.
type Call struct {
	ID        string
	SessionID string
	Args      map[string]any
	// CorrelationID is the id cancellation targets at the gate. It equals
	// ID unless the client supplied its own correlation id.
	CorrelationID string

	cancelled func() bool
}

// Cancelled reports whether a cancel has been issued for this call since
// admission. Cancellation after admission is advisory; long-running
// handlers poll this at safe points and unwind on their own.
func (c *Call) Cancelled() bool {
	if c.cancelled == nil {
		return false
	}
	return c.cancelled()
}

// TextBlock is one piece of handler output.
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is what a handler produces. IsError marks a tool-level failure the
// handler chose to report as output rather than as a Go error.
type Result struct {
	Content []TextBlock `json:"content"`
	IsError bool        `json:"isError,omitempty"`
}

// NewTextResult builds a successful single-text result.
func NewTextResult(format string, args ...any) *Result {
	return &Result{
		Content: []TextBlock{{Type: "text", Text: fmt.Sprintf(format, args...)}},
	}
}

// NewErrorResult builds a tool-level error result.
func NewErrorResult(format string, args ...any) *Result {
	return &Result{
		Content: []TextBlock{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// Text returns the concatenated text content of a result.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	var out string
	for _, block := range r.Content {
		out += block.Text
	}
	return out
}

// HandlerRegistry holds the available tools.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Duplicate names are rejected.
func (r *HandlerRegistry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := h.Name()
	if _, exists := r.handlers[name]; exists {
		return errors.New(errors.ErrCodeInvalidInput, "handler already registered").
			WithContext("tool", name)
	}
	r.handlers[name] = h
	return nil
}

// Get looks up a handler by tool name.
func (r *HandlerRegistry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// List returns all handlers sorted by name.
func (r *HandlerRegistry) List() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
