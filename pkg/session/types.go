package session

import (
	"time"

	"github.com/odvcencio/aviary/pkg/profile"
)

// Session is a top-level browser-identity isolation unit owning workers.
type Session struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	Identity  string         `json:"identity"`
	PID       int            `json:"pid"`
	Profile   *profile.State `json:"profile,omitempty"`

	workers     map[string]*Worker
	workerOrder []string
}

// Worker is a browser-process-level execution unit inside a session.
type Worker struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`

	tabs     map[string]*Tab
	tabOrder []string
}

// Tab is one browser navigation target.
type Tab struct {
	TargetID  string `json:"targetId"`
	SessionID string `json:"sessionId"`
	WorkerID  string `json:"workerId"`
	URL       string `json:"url"`
	Title     string `json:"title"`
}

// Info is a read-only snapshot of a session for listings.
type Info struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"createdAt"`
	Identity    string         `json:"identity"`
	PID         int            `json:"pid"`
	ProfileType profile.Type   `json:"profileType,omitempty"`
	WorkerCount int            `json:"workerCount"`
	TabCount    int            `json:"tabCount"`
	Workers     []WorkerInfo   `json:"workers,omitempty"`
}

// WorkerInfo is a read-only snapshot of a worker.
type WorkerInfo struct {
	ID       string `json:"id"`
	TabCount int    `json:"tabCount"`
}

// TabFilter selects tabs for listing.
type TabFilter struct {
	SessionID   string
	WorkerID    string
	URLContains string
	Limit       int
}

// CreateRequest describes a new session.
type CreateRequest struct {
	Name     string
	Identity string
	PID      int
	Profile  profile.Request
}
