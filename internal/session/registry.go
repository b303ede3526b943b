package session

import (
	"context"
	"sync"
	"time"
)

// Conn is one client attached to a session. The transport layer implements
// it; the broadcaster only needs to push snapshots and drop dead peers.
type Conn interface {
	SendSnapshot(*Snapshot) error
	Close() error
}

// ConnInfo is the registry's per-connection bookkeeping.
type ConnInfo struct {
	PlayerID string
	LastPong time.Time
}

type entry struct {
	engine *Engine
	cancel context.CancelFunc
	conns  map[Conn]*ConnInfo

	// lobbyOwned sessions outlive their connections; the lobby decides
	// when they end. Direct sessions die with their last connection.
	lobbyOwned bool
}

// Registry is the process-wide map of live sessions and their connections.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*entry)}
}

// Add registers an engine under the given id and starts its tick loop.
func (r *Registry) Add(id string, e *Engine, lobbyOwned bool) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.sessions[id] = &entry{
		engine:     e,
		cancel:     cancel,
		conns:      make(map[Conn]*ConnInfo),
		lobbyOwned: lobbyOwned,
	}
	r.mu.Unlock()

	go e.Run(ctx)
}

// Get returns the engine for a session, or nil.
func (r *Registry) Get(id string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ent, ok := r.sessions[id]; ok {
		return ent.engine
	}
	return nil
}

// Remove stops a session's tick loop and closes all its connections.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	ent, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	ent.cancel()
	for conn := range ent.conns {
		conn.Close()
	}
}

// IDs returns the ids of all live sessions.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Attach binds a connection to a session. Reports false if the session is
// gone.
func (r *Registry) Attach(id string, conn Conn, playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.sessions[id]
	if !ok {
		return false
	}
	ent.conns[conn] = &ConnInfo{PlayerID: playerID, LastPong: time.Now()}
	return true
}

// Detach unbinds a connection. A direct session with no connections left
// is torn down; lobby-owned sessions stay until the lobby removes them.
func (r *Registry) Detach(id string, conn Conn) {
	r.mu.Lock()
	ent, ok := r.sessions[id]
	if ok {
		delete(ent.conns, conn)
	}
	teardown := ok && !ent.lobbyOwned && len(ent.conns) == 0
	if teardown {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if teardown {
		ent.cancel()
	}
}

// Connections returns a copy of a session's connection set so delivery can
// tolerate concurrent detaches.
func (r *Registry) Connections(id string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.sessions[id]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(ent.conns))
	for conn := range ent.conns {
		conns = append(conns, conn)
	}
	return conns
}

// RecordPong stamps a connection's liveness.
func (r *Registry) RecordPong(id string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ent, ok := r.sessions[id]; ok {
		if info, ok := ent.conns[conn]; ok {
			info.LastPong = time.Now()
		}
	}
}

// LastPong returns a connection's last recorded pong time. Reports false
// if the session or connection is gone.
func (r *Registry) LastPong(id string, conn Conn) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ent, ok := r.sessions[id]; ok {
		if info, ok := ent.conns[conn]; ok {
			return info.LastPong, true
		}
	}
	return time.Time{}, false
}

// Has reports whether a session is still registered.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}
