package dispatch

import (
	"context"
	"encoding/json"

	"github.com/odvcencio/aviary/pkg/session"
)

// RegisterBuiltins installs the tab-management tools backed by the session
// registry.
func RegisterBuiltins(handlers *HandlerRegistry, registry *session.Registry) error {
	for _, h := range []Handler{
		&openTabHandler{registry: registry},
		&navigateHandler{registry: registry},
		&readTabHandler{registry: registry},
		&closeTabHandler{registry: registry},
	} {
		if err := handlers.Register(h); err != nil {
			return err
		}
	}
	return nil
}

type openTabHandler struct {
	registry *session.Registry
}

func (h *openTabHandler) Name() string { return "open_tab" }

func (h *openTabHandler) Description() string {
	return "Open a new tab in the session, creating a worker if none is given"
}

func (h *openTabHandler) Execute(ctx context.Context, call *Call) (*Result, error) {
	workerID := stringArg(call.Args, "workerId")
	if workerID == "" {
		worker, err := h.registry.AddWorker(call.SessionID)
		if err != nil {
			return nil, err
		}
		workerID = worker.ID
	}

	tab, err := h.registry.AddTab(call.SessionID, workerID, stringArg(call.Args, "url"), stringArg(call.Args, "title"))
	if err != nil {
		return nil, err
	}
	return NewTextResult("opened tab %s in worker %s", tab.TargetID, workerID), nil
}

type navigateHandler struct {
	registry *session.Registry
}

func (h *navigateHandler) Name() string { return "navigate" }

func (h *navigateHandler) Description() string {
	return "Navigate an existing tab to a new URL"
}

func (h *navigateHandler) Execute(ctx context.Context, call *Call) (*Result, error) {
	targetID := stringArg(call.Args, "targetId")
	url := stringArg(call.Args, "url")
	if targetID == "" || url == "" {
		return NewErrorResult("navigate requires targetId and url"), nil
	}

	tab, err := h.registry.UpdateTab(call.SessionID, targetID, url, stringArg(call.Args, "title"))
	if err != nil {
		return nil, err
	}
	return NewTextResult("tab %s now at %s", tab.TargetID, tab.URL), nil
}

type readTabHandler struct {
	registry *session.Registry
}

func (h *readTabHandler) Name() string { return "read_tab" }

func (h *readTabHandler) Description() string {
	return "Read the current state of a tab"
}

func (h *readTabHandler) Execute(ctx context.Context, call *Call) (*Result, error) {
	targetID := stringArg(call.Args, "targetId")
	if targetID == "" {
		return NewErrorResult("read_tab requires targetId"), nil
	}

	tab, err := h.registry.GetTab(call.SessionID, targetID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(tab)
	if err != nil {
		return nil, err
	}
	return NewTextResult("%s", data), nil
}

type closeTabHandler struct {
	registry *session.Registry
}

func (h *closeTabHandler) Name() string { return "close_tab" }

func (h *closeTabHandler) Description() string {
	return "Close a tab; closing an already-closed tab succeeds"
}

func (h *closeTabHandler) Execute(ctx context.Context, call *Call) (*Result, error) {
	targetID := stringArg(call.Args, "targetId")
	if targetID == "" {
		return NewErrorResult("close_tab requires targetId"), nil
	}

	h.registry.RemoveTab(call.SessionID, targetID)
	return NewTextResult("closed tab %s", targetID), nil
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if value, ok := args[key].(string); ok {
		return value
	}
	return ""
}
