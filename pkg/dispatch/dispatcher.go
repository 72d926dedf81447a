package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/odvcencio/aviary/pkg/activity"
	"github.com/odvcencio/aviary/pkg/errors"
	"github.com/odvcencio/aviary/pkg/gate"
	"github.com/odvcencio/aviary/pkg/logging"
	"github.com/odvcencio/aviary/pkg/session"
)

// SessionResolver answers whether a session is currently registered.
type SessionResolver interface {
	GetSession(id string) (session.Info, bool)
}

// Request describes one tool invocation from a client.
type Request struct {
	ToolName  string         `json:"tool"`
	SessionID string         `json:"sessionId"`
	Args      map[string]any `json:"args,omitempty"`
	// CallID is an optional client-chosen correlation id. When set it is
	// used at the admission gate, so a cancel issued before the dispatch
	// lands is still honored.
	CallID string `json:"callId,omitempty"`
}

// Response pairs a dispatched call's ledger id with its result.
type Response struct {
	CallID string  `json:"callId"`
	Result *Result `json:"result"`
}

// Dispatcher is the single path every tool call takes: resolve the session,
// record the call, pass the gate, run the handler.
type Dispatcher struct {
	handlers *HandlerRegistry
	sessions SessionResolver
	gate     *gate.Gate
	ledger   *activity.Ledger
	logger   *logging.Logger
}

// NewDispatcher wires the dispatch pipeline.
func NewDispatcher(handlers *HandlerRegistry, sessions SessionResolver, g *gate.Gate, ledger *activity.Ledger, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: handlers,
		sessions: sessions,
		gate:     g,
		ledger:   ledger,
		logger:   logger,
	}
}

// Dispatch runs one tool call end to end. Lookup failures surface as Go
// errors; admission rejections and handler failures surface as error
// results so the call record and the client both see them.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	handler, ok := d.handlers.Get(req.ToolName)
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "tool not found").
			WithContext("tool", req.ToolName)
	}
	if _, ok := d.sessions.GetSession(req.SessionID); !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "session not found").
			WithContext("session_id", req.SessionID)
	}

	callID := d.ledger.StartCall(req.ToolName, req.SessionID, req.Args)
	callsActive.Inc()
	defer callsActive.Dec()
	start := time.Now()

	correlationID := req.CallID
	if correlationID == "" {
		correlationID = callID
	}
	if _, err := d.gate.CheckAdmission(ctx, correlationID); err != nil {
		d.ledger.EndCall(callID, activity.ResultError, "operation cancelled")
		callsTotal.WithLabelValues(req.ToolName, "cancelled").Inc()
		d.logger.Info(logging.CategoryDispatch, "call_cancelled", req.ToolName, map[string]any{
			"call_id":    callID,
			"session_id": req.SessionID,
		})
		return &Response{CallID: callID, Result: NewErrorResult("operation cancelled")}, nil
	}

	result, err := d.execute(ctx, handler, &Call{
		ID:            callID,
		SessionID:     req.SessionID,
		Args:          req.Args,
		CorrelationID: correlationID,
		cancelled:     func() bool { return d.gate.IsCancelled(correlationID) },
	})
	// A cancellation mark set while the handler ran must not leak into a
	// future call reusing the same correlation id.
	d.gate.ClearCancelled(correlationID)
	callDuration.WithLabelValues(req.ToolName).Observe(time.Since(start).Seconds())

	if err != nil {
		if _, structured := err.(*errors.Error); !structured {
			err = errors.Wrap(err, errors.ErrCodeHandler, "handler failed").
				WithContext("tool", req.ToolName)
		}
		d.ledger.EndCall(callID, activity.ResultError, err.Error())
		callsTotal.WithLabelValues(req.ToolName, "error").Inc()
		d.logger.Warn(logging.CategoryDispatch, "call_failed", err.Error(), map[string]any{
			"call_id":    callID,
			"session_id": req.SessionID,
			"tool":       req.ToolName,
		})
		return &Response{CallID: callID, Result: NewErrorResult("%s", err.Error())}, nil
	}

	if result.IsError {
		d.ledger.EndCall(callID, activity.ResultError, result.Text())
		callsTotal.WithLabelValues(req.ToolName, "error").Inc()
	} else {
		d.ledger.EndCall(callID, activity.ResultSuccess, "")
		callsTotal.WithLabelValues(req.ToolName, "success").Inc()
	}
	d.logger.Debug(logging.CategoryDispatch, "call_completed", req.ToolName, map[string]any{
		"call_id":     callID,
		"session_id":  req.SessionID,
		"duration_ms": time.Since(start).Milliseconds(),
		"is_error":    result.IsError,
	})
	return &Response{CallID: callID, Result: result}, nil
}

// execute runs the handler with panic containment so a misbehaving tool
// cannot take the dispatcher down.
func (d *Dispatcher) execute(ctx context.Context, handler Handler, call *Call) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.New(errors.ErrCodeHandler, "handler panicked").
				WithContext("tool", handler.Name()).
				WithContext("panic", fmt.Sprintf("%v", r))
		}
	}()
	result, err = handler.Execute(ctx, call)
	if err == nil && result == nil {
		err = errors.New(errors.ErrCodeHandler, "handler returned no result").
			WithContext("tool", handler.Name())
	}
	return result, err
}
