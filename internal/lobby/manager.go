package lobby

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coderally/coderally/internal/config"
	"github.com/coderally/coderally/internal/monitoring"
	"github.com/coderally/coderally/internal/timeutil"
	"github.com/coderally/coderally/internal/track"
)

// TrackFactory builds the stage for a starting race. Deterministic in
// seed.
type TrackFactory func(difficulty string, seed int64) *track.Track

// Manager is the process-wide lobby registry. All operations are
// serialized by one lock; precondition violations report failure instead
// of returning errors, since every one of them is an expected client
// mistake.
type Manager struct {
	cfg     *config.GameConfig
	factory TrackFactory

	mu      sync.Mutex
	lobbies map[string]*Lobby
	byCode  map[string]string // join code -> lobby id
	rng     *rand.Rand
	clock   timeutil.Clock
	reap    func(sessionID string)

	stop chan struct{}
	done chan struct{}
}

// SetSessionReaper registers the function called with a lobby's session id
// when the lobby is removed while a session is still bound to it. The
// session registry hooks in here so lobby-owned sessions die with their
// lobby.
func (m *Manager) SetSessionReaper(fn func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap = fn
}

func NewManager(cfg *config.GameConfig, factory TrackFactory) *Manager {
	return NewManagerWithClock(cfg, factory, timeutil.RealClock{})
}

// NewManagerWithClock is NewManager with an injectable clock for tests.
func NewManagerWithClock(cfg *config.GameConfig, factory TrackFactory, clock timeutil.Clock) *Manager {
	return &Manager{
		cfg:     cfg,
		factory: factory,
		lobbies: make(map[string]*Lobby),
		byCode:  make(map[string]string),
		rng:     rand.New(rand.NewSource(clock.Now().UnixNano())),
		clock:   clock,
	}
}

// Create opens a new lobby with the caller as host, auto-ready.
func (m *Manager) Create(name, hostID, hostUsername string, settings Settings) Lobby {
	m.mu.Lock()
	defer m.mu.Unlock()

	if settings.MaxPlayers <= 0 || settings.MaxPlayers > m.cfg.MaxCars {
		settings.MaxPlayers = m.cfg.MaxCars
	}
	if settings.Difficulty == "" {
		settings.Difficulty = string(track.DifficultyMedium)
	}

	id := uuid.NewString()
	l := &Lobby{
		ID:       id,
		Name:     name,
		JoinCode: m.uniqueCode(id),
		HostID:   hostID,
		Status:   StatusWaiting,
		Settings: settings,
		Members: []Member{{
			ID:       hostID,
			Username: hostUsername,
			IsReady:  true,
			JoinedAt: m.clock.Now(),
		}},
		CreatedAt: m.clock.Now(),
	}

	m.lobbies[id] = l
	m.byCode[l.JoinCode] = id
	return l.snapshot()
}

func (m *Manager) uniqueCode(lobbyID string) string {
	for i := 0; i < codeAttempts; i++ {
		code := randomCode(m.rng)
		if _, taken := m.byCode[code]; !taken {
			return code
		}
	}
	return fallbackCode(lobbyID)
}

// Get returns a copy of a lobby.
func (m *Manager) Get(id string) (Lobby, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lobbies[id]; ok {
		return l.snapshot(), true
	}
	return Lobby{}, false
}

// GetByCode resolves a join code.
func (m *Manager) GetByCode(code string) (Lobby, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byCode[code]; ok {
		if l, ok := m.lobbies[id]; ok {
			return l.snapshot(), true
		}
	}
	return Lobby{}, false
}

// List returns lobbies, optionally filtered by status, newest first.
func (m *Manager) List(status Status) []Lobby {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Lobby, 0, len(m.lobbies))
	for _, l := range m.lobbies {
		if status != "" && l.Status != status {
			continue
		}
		out = append(out, l.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Join adds a player to a waiting lobby. Joining a lobby you are already
// in succeeds without a second membership, in any status, so a dropped
// client can rejoin mid-race.
func (m *Manager) Join(lobbyID, playerID, username string) (Lobby, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[lobbyID]
	if !ok {
		return Lobby{}, false
	}
	if existing := l.member(playerID); existing != nil {
		return l.snapshot(), true
	}
	if l.Status != StatusWaiting || len(l.Members) >= l.Settings.MaxPlayers {
		return Lobby{}, false
	}

	l.Members = append(l.Members, Member{
		ID:       playerID,
		Username: username,
		IsReady:  true,
		JoinedAt: m.clock.Now(),
	})
	return l.snapshot(), true
}

// Leave removes a member. If the host leaves, the longest-standing
// remaining member inherits the room; the last member out disbands it.
func (m *Manager) Leave(lobbyID, playerID string) (Lobby, bool) {
	m.mu.Lock()

	l, ok := m.lobbies[lobbyID]
	if !ok || !l.removeMember(playerID) {
		m.mu.Unlock()
		return Lobby{}, false
	}

	if len(l.Members) == 0 {
		l.Status = StatusDisbanded
		reap, sessionID := m.reap, l.SessionID
		m.deleteLocked(l)
		snap := l.snapshot()
		m.mu.Unlock()
		reapSession(reap, sessionID)
		return snap, true
	}
	if l.HostID == playerID {
		l.HostID = l.Members[0].ID
	}
	snap := l.snapshot()
	m.mu.Unlock()
	return snap, true
}

// reapSession runs outside the manager lock; the registry closes client
// connections during teardown and those clients call back into Leave.
func reapSession(reap func(string), sessionID string) {
	if reap != nil && sessionID != "" {
		reap(sessionID)
	}
}

// AddBot adds a stored bot as a lobby member owned by the caller. The
// member id is derived from owner and bot so the same bot cannot be
// entered twice by one player.
func (m *Manager) AddBot(lobbyID, botRef, owner, username string) (Lobby, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[lobbyID]
	if !ok || l.Status != StatusWaiting {
		return Lobby{}, false
	}
	if len(l.Members) >= l.Settings.MaxPlayers {
		return Lobby{}, false
	}

	memberID := "bot-" + owner + "-" + botRef
	if l.member(memberID) != nil {
		return Lobby{}, false
	}

	l.Members = append(l.Members, Member{
		ID:       memberID,
		Username: username,
		IsBot:    true,
		IsReady:  true,
		BotID:    botRef,
		JoinedAt: m.clock.Now(),
	})
	return l.snapshot(), true
}

// UpdateSettings replaces the settings. Host-only, Waiting-only.
func (m *Manager) UpdateSettings(lobbyID, hostID string, settings Settings) (Lobby, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[lobbyID]
	if !ok || l.Status != StatusWaiting || l.HostID != hostID {
		return Lobby{}, false
	}

	if settings.MaxPlayers <= 0 || settings.MaxPlayers > m.cfg.MaxCars {
		settings.MaxPlayers = m.cfg.MaxCars
	}
	if settings.MaxPlayers < len(l.Members) {
		return Lobby{}, false
	}
	if settings.Difficulty == "" {
		settings.Difficulty = l.Settings.Difficulty
	}

	l.Settings = settings
	return l.snapshot(), true
}

// StartRace generates the stage and moves the lobby to Starting. The
// caller builds the session, then confirms with TransitionToRacing.
func (m *Manager) StartRace(lobbyID, hostID string) (string, *track.Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[lobbyID]
	if !ok || l.Status != StatusWaiting || l.HostID != hostID || len(l.Members) == 0 {
		return "", nil, false
	}

	seed := l.Settings.Seed
	if seed == 0 {
		seed = m.rng.Int63()
	}
	trk := m.factory(l.Settings.Difficulty, seed)

	l.SessionID = uuid.NewString()
	l.Status = StatusStarting
	return l.SessionID, trk, true
}

// TransitionToRacing confirms the session is live.
func (m *Manager) TransitionToRacing(lobbyID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[lobbyID]
	if !ok || l.Status != StatusStarting {
		return false
	}
	l.Status = StatusRacing
	return true
}

// FinishRace marks the race over; the lobby may then be reset for another.
func (m *Manager) FinishRace(lobbyID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[lobbyID]
	if !ok || l.Status != StatusRacing {
		return false
	}
	l.Status = StatusFinished
	return true
}

// Reset returns a finished lobby to Waiting. Host-only.
func (m *Manager) Reset(lobbyID, hostID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[lobbyID]
	if !ok || l.Status != StatusFinished || l.HostID != hostID {
		return false
	}
	l.Status = StatusWaiting
	l.SessionID = ""
	return true
}

// Disband closes the lobby and reaps its session if one is running.
// Host-only.
func (m *Manager) Disband(lobbyID, hostID string) bool {
	m.mu.Lock()

	l, ok := m.lobbies[lobbyID]
	if !ok || l.HostID != hostID {
		m.mu.Unlock()
		return false
	}
	l.Status = StatusDisbanded
	reap, sessionID := m.reap, l.SessionID
	m.deleteLocked(l)
	m.mu.Unlock()

	reapSession(reap, sessionID)
	return true
}

// CleanupStale drops disbanded lobbies and any lobby older than maxAge,
// reaping their sessions. Returns the number of lobbies removed.
func (m *Manager) CleanupStale(maxAge time.Duration) int {
	m.mu.Lock()

	cutoff := m.clock.Now().Add(-maxAge)
	reap := m.reap
	var orphaned []string
	removed := 0
	for _, l := range m.lobbies {
		if l.Status == StatusDisbanded || l.CreatedAt.Before(cutoff) {
			if l.SessionID != "" {
				orphaned = append(orphaned, l.SessionID)
			}
			m.deleteLocked(l)
			removed++
		}
	}
	m.mu.Unlock()

	for _, sessionID := range orphaned {
		reapSession(reap, sessionID)
	}
	return removed
}

func (m *Manager) deleteLocked(l *Lobby) {
	delete(m.lobbies, l.ID)
	delete(m.byCode, l.JoinCode)
}

// StartCleanup runs CleanupStale on a ticker until Stop is called.
func (m *Manager) StartCleanup(interval, maxAge time.Duration) {
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				if n := m.CleanupStale(maxAge); n > 0 {
					monitoring.Logf("lobby cleanup removed %d stale lobbies", n)
				}
			}
		}
	}()
}

// Stop halts the cleanup worker.
func (m *Manager) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop = nil
}
