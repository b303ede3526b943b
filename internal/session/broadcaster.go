package session

import (
	"time"

	"github.com/coderally/coderally/internal/monitoring"
)

// Broadcaster fans the latest snapshot of one session out to its
// connections at a fixed rate. One goroutine per session; it terminates by
// itself once the session leaves the registry.
type Broadcaster struct {
	registry *Registry
	interval time.Duration
}

// NewBroadcaster returns a broadcaster pushing rate snapshots per second.
func NewBroadcaster(registry *Registry, rate int) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		interval: time.Second / time.Duration(rate),
	}
}

// Run loops until the session disappears. Delivery is best-effort:
// snapshots are idempotent, so a dropped one is made up for by the next.
// Connections whose delivery fails are detached and closed.
func (b *Broadcaster) Run(sessionID string) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for range ticker.C {
		engine := b.registry.Get(sessionID)
		if engine == nil {
			return
		}

		conns := b.registry.Connections(sessionID)
		if len(conns) == 0 {
			continue
		}

		snap := engine.Snapshot()
		for _, conn := range conns {
			if err := conn.SendSnapshot(snap); err != nil {
				monitoring.Logf("session %s: dropping connection after send failure: %v", sessionID, err)
				b.registry.Detach(sessionID, conn)
				conn.Close()
			}
		}
	}
}
