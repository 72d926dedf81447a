// Package gate implements the admission checkpoint every tool call passes
// through before executing. It provides a global pause/resume switch and
// per-call cancellation keyed by correlation id.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/aviary/pkg/errors"
	"github.com/odvcencio/aviary/pkg/telemetry"
)

// waiter is one caller blocked at the gate. The decision channel carries
// nil for release and a structured error for rejection; buffered so the
// resolving side never blocks.
type waiter struct {
	id       string
	decision chan error
	enqueued time.Time
}

// Gate serializes pause/resume/cancel against admission checks.
// Blocked callers are kept in an explicit FIFO slice because release
// order on resume is part of the contract.
type Gate struct {
	mu        sync.Mutex
	paused    bool
	waiters   []*waiter
	byID      map[string]*waiter
	cancelled map[string]struct{}
	hub       *telemetry.Hub
}

// New constructs a Gate publishing transitions to hub. A nil hub disables
// notifications.
func New(hub *telemetry.Hub) *Gate {
	return &Gate{
		byID:      make(map[string]*waiter),
		cancelled: make(map[string]struct{}),
		hub:       hub,
	}
}

// Pause stops new admissions. Idempotent; the pause notification fires only
// on the actual transition.
func (g *Gate) Pause() {
	g.mu.Lock()
	if g.paused {
		g.mu.Unlock()
		return
	}
	g.paused = true
	g.mu.Unlock()

	g.hub.Publish(telemetry.Event{Type: telemetry.EventGatePaused})
}

// Resume releases every blocked caller in the order they began waiting.
// Callers whose correlation id was marked cancelled in the meantime are
// rejected instead of released, and their mark is consumed.
func (g *Gate) Resume() {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return
	}
	g.paused = false
	released := g.waiters
	g.waiters = nil
	g.byID = make(map[string]*waiter)

	decisions := make([]error, len(released))
	for i, w := range released {
		if _, ok := g.cancelled[w.id]; ok {
			delete(g.cancelled, w.id)
			decisions[i] = rejection(w.id)
		}
	}
	g.mu.Unlock()

	for i, w := range released {
		w.decision <- decisions[i]
	}

	g.hub.Publish(telemetry.Event{
		Type: telemetry.EventGateResumed,
		Data: map[string]any{"released": len(released)},
	})
}

// CheckAdmission admits, blocks, or rejects the call identified by
// correlationID. An empty id gets a freshly minted one. While the gate is
// paused the caller is suspended until Resume or Cancel resolves it; ctx
// cancellation acts as an external watchdog and counts as cancellation of
// this caller only. Returns the effective correlation id.
func (g *Gate) CheckAdmission(ctx context.Context, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = ulid.Make().String()
	}

	g.mu.Lock()
	if _, ok := g.cancelled[correlationID]; ok {
		delete(g.cancelled, correlationID)
		g.mu.Unlock()
		return correlationID, rejection(correlationID)
	}
	if !g.paused {
		g.mu.Unlock()
		return correlationID, nil
	}

	w := &waiter{
		id:       correlationID,
		decision: make(chan error, 1),
		enqueued: time.Now(),
	}
	g.waiters = append(g.waiters, w)
	g.byID[correlationID] = w
	g.mu.Unlock()

	select {
	case err := <-w.decision:
		return correlationID, err
	case <-ctx.Done():
		g.removeWaiter(correlationID)
		// A decision may have raced the context; honor it if present.
		select {
		case err := <-w.decision:
			return correlationID, err
		default:
		}
		return correlationID, errors.Wrap(ctx.Err(), errors.ErrCodeCancelled, "admission wait abandoned").
			WithContext("correlation_id", correlationID)
	}
}

// Cancel marks the correlation id cancelled so a future admission check is
// pre-empted, and rejects the matching blocked caller if one exists.
// Returns whether a blocked caller was rejected.
func (g *Gate) Cancel(correlationID string) bool {
	g.mu.Lock()
	g.cancelled[correlationID] = struct{}{}
	w, wasBlocked := g.byID[correlationID]
	if wasBlocked {
		// The waiter is being resolved directly; its mark is consumed here.
		delete(g.cancelled, correlationID)
		g.detachLocked(correlationID)
	}
	g.mu.Unlock()

	if wasBlocked {
		w.decision <- rejection(correlationID)
	}

	g.hub.Publish(telemetry.Event{
		Type:   telemetry.EventGateCancelled,
		CallID: correlationID,
		Data:   map[string]any{"was_blocked": wasBlocked},
	})
	return wasBlocked
}

// CancelAll rejects every currently blocked caller and returns how many
// were affected.
func (g *Gate) CancelAll() int {
	g.mu.Lock()
	rejected := g.waiters
	g.waiters = nil
	g.byID = make(map[string]*waiter)
	g.mu.Unlock()

	for _, w := range rejected {
		w.decision <- rejection(w.id)
	}

	if len(rejected) > 0 {
		g.hub.Publish(telemetry.Event{
			Type: telemetry.EventGateCancelled,
			Data: map[string]any{"cancelled": len(rejected)},
		})
	}
	return len(rejected)
}

// IsPaused reports whether the gate is currently paused.
func (g *Gate) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// PendingCount returns the number of callers blocked at the gate.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// IsCancelled reports whether the correlation id carries a cancellation
// mark. Long-running handlers poll this cooperatively after admission.
func (g *Gate) IsCancelled(correlationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.cancelled[correlationID]
	return ok
}

// ClearCancelled removes a cancellation mark, typically once the owning
// call has fully unwound.
func (g *Gate) ClearCancelled(correlationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cancelled, correlationID)
}

// Reset clears pause state and all cancellation bookkeeping. Any caller
// still blocked is rejected. Used only at process (re)initialization.
func (g *Gate) Reset() {
	g.mu.Lock()
	rejected := g.waiters
	g.paused = false
	g.waiters = nil
	g.byID = make(map[string]*waiter)
	g.cancelled = make(map[string]struct{})
	g.mu.Unlock()

	for _, w := range rejected {
		w.decision <- rejection(w.id)
	}
}

// Status is a point-in-time snapshot of gate state.
type Status struct {
	Paused         bool      `json:"paused"`
	PendingCount   int       `json:"pendingCount"`
	PendingIDs     []string  `json:"pendingIds,omitempty"`
	CancelledMarks int       `json:"cancelledMarks"`
	OldestWaiting  time.Time `json:"oldestWaiting,omitzero"`
}

// Snapshot returns the current gate status.
func (g *Gate) Snapshot() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := Status{
		Paused:         g.paused,
		PendingCount:   len(g.waiters),
		CancelledMarks: len(g.cancelled),
	}
	for _, w := range g.waiters {
		st.PendingIDs = append(st.PendingIDs, w.id)
	}
	if len(g.waiters) > 0 {
		st.OldestWaiting = g.waiters[0].enqueued
	}
	return st
}

func (g *Gate) removeWaiter(correlationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detachLocked(correlationID)
}

// detachLocked removes the waiter from both the FIFO slice and the index.
// Must be called with mu held.
func (g *Gate) detachLocked(correlationID string) {
	if _, ok := g.byID[correlationID]; !ok {
		return
	}
	delete(g.byID, correlationID)
	for i, w := range g.waiters {
		if w.id == correlationID {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			break
		}
	}
}

func rejection(correlationID string) error {
	return errors.New(errors.ErrCodeCancelled, "operation cancelled").
		WithContext("correlation_id", correlationID)
}
