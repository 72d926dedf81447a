// Package dashboard aggregates orchestrator state into the summary the
// operator UI polls.
package dashboard

import (
	"runtime"
	"time"

	"github.com/odvcencio/aviary/pkg/activity"
	"github.com/odvcencio/aviary/pkg/gate"
	"github.com/odvcencio/aviary/pkg/session"
)

// Stats is a point-in-time summary of the orchestrator.
type Stats struct {
	Sessions    int            `json:"sessions"`
	Workers     int            `json:"workers"`
	Tabs        int            `json:"tabs"`
	QueueSize   int            `json:"queueSize"`
	ActiveCalls int            `json:"activeCalls"`
	Calls       activity.Stats `json:"calls"`
	MemoryUsage uint64         `json:"memoryUsage"`
	Uptime      time.Duration  `json:"uptime"`
	Status      string         `json:"status"`
}

// Collector snapshots stats from the live components.
type Collector struct {
	registry  *session.Registry
	gate      *gate.Gate
	ledger    *activity.Ledger
	startTime time.Time
}

// NewCollector creates a collector; uptime counts from this call.
func NewCollector(registry *session.Registry, g *gate.Gate, ledger *activity.Ledger) *Collector {
	return &Collector{
		registry:  registry,
		gate:      g,
		ledger:    ledger,
		startTime: time.Now(),
	}
}

// Collect gathers current stats.
func (c *Collector) Collect() Stats {
	sessions, workers, tabs := c.registry.Counts()
	callStats := c.ledger.GetStats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := "running"
	if c.gate.IsPaused() {
		status = "paused"
	}

	return Stats{
		Sessions:    sessions,
		Workers:     workers,
		Tabs:        tabs,
		QueueSize:   c.gate.PendingCount(),
		ActiveCalls: callStats.ActiveCount,
		Calls:       callStats,
		MemoryUsage: mem.Alloc,
		Uptime:      time.Since(c.startTime),
		Status:      status,
	}
}
