package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/aviary/pkg/errors"
	"github.com/odvcencio/aviary/pkg/profile"
	"github.com/odvcencio/aviary/pkg/session"
)

type tempProfiles struct{}

func (tempProfiles) Resolve(req profile.Request) (*profile.State, error) {
	return &profile.State{Type: profile.TypeTemp, Dir: "/tmp/test"}, nil
}

func (tempProfiles) Release(sessionID string) {}

func newBuiltinFixture(t *testing.T) (*HandlerRegistry, *session.Registry, string) {
	t.Helper()
	meta, err := session.NewMetadataStore(t.TempDir())
	require.NoError(t, err)
	registry := session.NewRegistry(meta, tempProfiles{}, 0, nil, nil)

	handlers := NewHandlerRegistry()
	require.NoError(t, RegisterBuiltins(handlers, registry))

	info, err := registry.CreateSession(session.CreateRequest{Name: "builtin-test"})
	require.NoError(t, err)
	return handlers, registry, info.ID
}

func execute(t *testing.T, handlers *HandlerRegistry, tool, sessionID string, args map[string]any) (*Result, error) {
	t.Helper()
	h, ok := handlers.Get(tool)
	require.True(t, ok, "handler %s not registered", tool)
	return h.Execute(context.Background(), &Call{ID: "call-1", SessionID: sessionID, Args: args})
}

func TestRegisterBuiltins(t *testing.T) {
	handlers, _, _ := newBuiltinFixture(t)
	names := make([]string, 0, 4)
	for _, h := range handlers.List() {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{"close_tab", "navigate", "open_tab", "read_tab"}, names)
}

func TestOpenTabCreatesWorkerWhenMissing(t *testing.T) {
	handlers, registry, sessionID := newBuiltinFixture(t)

	result, err := execute(t, handlers, "open_tab", sessionID, map[string]any{
		"url":   "https://example.com",
		"title": "Example",
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)

	_, workers, tabs := registry.Counts()
	assert.Equal(t, 1, workers)
	assert.Equal(t, 1, tabs)
}

func TestOpenTabInExistingWorker(t *testing.T) {
	handlers, registry, sessionID := newBuiltinFixture(t)

	worker, err := registry.AddWorker(sessionID)
	require.NoError(t, err)

	result, err := execute(t, handlers, "open_tab", sessionID, map[string]any{
		"workerId": worker.ID,
		"url":      "https://example.com",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Text(), worker.ID)

	_, workers, _ := registry.Counts()
	assert.Equal(t, 1, workers, "no extra worker created")
}

func TestNavigateUpdatesTab(t *testing.T) {
	handlers, registry, sessionID := newBuiltinFixture(t)
	worker, err := registry.AddWorker(sessionID)
	require.NoError(t, err)
	tab, err := registry.AddTab(sessionID, worker.ID, "https://a.example", "A")
	require.NoError(t, err)

	result, err := execute(t, handlers, "navigate", sessionID, map[string]any{
		"targetId": tab.TargetID,
		"url":      "https://b.example",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Text(), "https://b.example")

	got, err := registry.GetTab(sessionID, tab.TargetID)
	require.NoError(t, err)
	assert.Equal(t, "https://b.example", got.URL)
}

func TestNavigateMissingArgs(t *testing.T) {
	handlers, _, sessionID := newBuiltinFixture(t)
	result, err := execute(t, handlers, "navigate", sessionID, nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestReadTab(t *testing.T) {
	handlers, registry, sessionID := newBuiltinFixture(t)
	worker, err := registry.AddWorker(sessionID)
	require.NoError(t, err)
	tab, err := registry.AddTab(sessionID, worker.ID, "https://a.example", "A")
	require.NoError(t, err)

	result, err := execute(t, handlers, "read_tab", sessionID, map[string]any{"targetId": tab.TargetID})
	require.NoError(t, err)
	assert.Contains(t, result.Text(), tab.TargetID)
	assert.Contains(t, result.Text(), "https://a.example")

	_, err = execute(t, handlers, "read_tab", sessionID, map[string]any{"targetId": "ghost"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestCloseTabIdempotent(t *testing.T) {
	handlers, registry, sessionID := newBuiltinFixture(t)
	worker, err := registry.AddWorker(sessionID)
	require.NoError(t, err)
	tab, err := registry.AddTab(sessionID, worker.ID, "https://a.example", "A")
	require.NoError(t, err)

	_, err = execute(t, handlers, "close_tab", sessionID, map[string]any{"targetId": tab.TargetID})
	require.NoError(t, err)

	// Closing again still succeeds.
	result, err := execute(t, handlers, "close_tab", sessionID, map[string]any{"targetId": tab.TargetID})
	require.NoError(t, err)
	assert.False(t, result.IsError)

	_, _, tabs := registry.Counts()
	assert.Zero(t, tabs)
}
