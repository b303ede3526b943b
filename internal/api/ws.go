package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coderally/coderally/internal/lobby"
	"github.com/coderally/coderally/internal/monitoring"
	"github.com/coderally/coderally/internal/physics"
	"github.com/coderally/coderally/internal/session"
)

var (
	errConnClosed    = errors.New("connection closed")
	errSendQueueFull = errors.New("send queue full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The game server fronts its own clients; origin policy is left to
	// the deployment's proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub tracks which clients sit in which lobby so lobby events can be
// fanned out before a session exists.
type hub struct {
	mu      sync.Mutex
	lobbies map[string]map[*client]struct{}
}

func newHub() *hub {
	return &hub{lobbies: make(map[string]map[*client]struct{})}
}

func (h *hub) add(lobbyID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lobbies[lobbyID] == nil {
		h.lobbies[lobbyID] = make(map[*client]struct{})
	}
	h.lobbies[lobbyID][c] = struct{}{}
}

func (h *hub) remove(lobbyID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.lobbies[lobbyID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.lobbies, lobbyID)
		}
	}
}

func (h *hub) clients(lobbyID string) []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.lobbies[lobbyID]))
	for c := range h.lobbies[lobbyID] {
		out = append(out, c)
	}
	return out
}

func (h *hub) broadcast(lobbyID, msgType string, data any) {
	for _, c := range h.clients(lobbyID) {
		if err := c.sendMessage(msgType, data); err != nil {
			monitoring.Logf("lobby %s broadcast to %s failed: %v", lobbyID, c.playerID, err)
		}
	}
}

// serveWS establishes the game stream. With lobby_id the client enters a
// lobby and races when the host starts; without one it gets a private
// session immediately.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	playerID := query.Get("player_id")
	if playerID == "" {
		playerID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("websocket upgrade failed: %v", err)
		return
	}

	c := newClient(conn, playerID, query.Get("lobby_id"))
	defer s.cleanupClient(c)

	// The write pump starts only after a successful entry; failed entries
	// write their error frame synchronously so it cannot be lost.
	switch {
	case c.lobbyID != "":
		if !s.enterLobby(c) {
			return
		}
	case query.Get("session_id") != "":
		if !s.enterSession(c, query.Get("session_id")) {
			return
		}
	default:
		var seed int64
		if raw := query.Get("seed"); raw != "" {
			seed, _ = strconv.ParseInt(raw, 10, 64)
		}
		if !s.enterDirectSession(c, query.Get("difficulty"), seed) {
			return
		}
	}

	go c.writePump()
	go c.heartbeat(s.cfg.Server.PingInterval, s.cfg.Server.PongTimeout)
	s.readLoop(c)
}

func (s *Server) enterLobby(c *client) bool {
	l, ok := s.lobbies.Join(c.lobbyID, c.playerID, c.playerID)
	if !ok {
		c.failClose("could not join lobby")
		return false
	}

	s.hub.add(c.lobbyID, c)
	c.sendMessage("lobby_joined", map[string]any{
		"lobby":     l,
		"player_id": c.playerID,
	})
	s.hub.broadcast(c.lobbyID, "lobby_state", l)

	// Rejoining mid-race attaches straight to the running session. The
	// race_starting broadcast is long gone, so hand over the session and
	// track here.
	if l.SessionID != "" {
		if engine := s.registry.Get(l.SessionID); engine != nil {
			s.registry.Attach(l.SessionID, c, c.playerID)
			c.attach(l.SessionID, engine)
			c.sendMessage("connected", map[string]any{
				"session_id": l.SessionID,
				"player_id":  c.playerID,
				"track":      engine.Track().View(),
			})
		}
	}
	return true
}

func (s *Server) enterSession(c *client, sessionID string) bool {
	engine := s.registry.Get(sessionID)
	if engine == nil {
		c.failClose("session not found")
		return false
	}

	if err := engine.AddPlayer(c.playerID, c.playerID); err != nil {
		c.failClose(err.Error())
		return false
	}

	s.registry.Attach(sessionID, c, c.playerID)
	c.attach(sessionID, engine)
	c.sendMessage("connected", map[string]any{
		"session_id": sessionID,
		"player_id":  c.playerID,
		"track":      engine.Track().View(),
	})
	return true
}

func (s *Server) enterDirectSession(c *client, difficulty string, seed int64) bool {
	trk := s.generateTrack(difficulty, seed)
	engine := session.NewEngine(s.cfg, trk, s.bots)
	if err := engine.AddPlayer(c.playerID, c.playerID); err != nil {
		c.failClose(err.Error())
		return false
	}

	sessionID := uuid.NewString()
	s.startSession(sessionID, engine, false)
	s.registry.Attach(sessionID, c, c.playerID)
	c.attach(sessionID, engine)

	c.sendMessage("connected", map[string]any{
		"session_id": sessionID,
		"player_id":  c.playerID,
		"track":      trk.View(),
	})
	return true
}

func (s *Server) readLoop(c *client) {
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg envelope
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.sendError("malformed message")
			continue
		}
		s.dispatch(c, &msg)
	}
}

func (s *Server) dispatch(c *client, msg *envelope) {
	switch msg.Type {
	case "input":
		var input physics.Input
		if msg.Data != nil {
			if err := json.Unmarshal(msg.Data, &input); err != nil {
				c.sendError("malformed input")
				return
			}
		}
		if _, engine := c.attached(); engine != nil {
			engine.SetInput(c.playerID, input)
		}

	case "pong":
		c.markPong()
		if sessionID, _ := c.attached(); sessionID != "" {
			s.registry.RecordPong(sessionID, c)
		}

	case "start_race":
		s.handleStartRace(c)

	case "submit_bot":
		s.handleSubmitBot(c, msg.Data)

	case "add_bot_to_lobby":
		s.handleAddBotToLobby(c, msg.Data)

	case "leave_lobby":
		s.handleLeaveLobby(c)

	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

func (s *Server) handleStartRace(c *client) {
	// Direct mode: any player may start their own race.
	if c.lobbyID == "" {
		if _, engine := c.attached(); engine != nil {
			if !engine.StartRace() {
				c.sendError("race cannot start now")
			}
		}
		return
	}

	sessionID, trk, ok := s.lobbies.StartRace(c.lobbyID, c.playerID)
	if !ok {
		c.sendError("race start rejected")
		return
	}

	engine := session.NewEngine(s.cfg, trk, s.bots)
	l, _ := s.lobbies.Get(c.lobbyID)
	for _, member := range l.Members {
		if !member.IsBot {
			if err := engine.AddPlayer(member.ID, member.Username); err != nil {
				monitoring.Logf("lobby %s: adding player %s: %v", c.lobbyID, member.ID, err)
			}
			continue
		}

		rec, err := s.store.Get(member.BotID)
		if err != nil {
			monitoring.Logf("lobby %s: bot %s not found, skipping", c.lobbyID, member.BotID)
			continue
		}
		h, err := s.bots.Load(rec.Code, rec.ClassName)
		if err != nil {
			monitoring.Logf("lobby %s: bot %s failed to load: %v", c.lobbyID, member.BotID, err)
			continue
		}
		if err := engine.AddBot(member.ID, member.Username, h); err != nil {
			monitoring.Logf("lobby %s: adding bot %s: %v", c.lobbyID, member.ID, err)
		}
	}

	s.startSession(sessionID, engine, true)
	for _, cl := range s.hub.clients(c.lobbyID) {
		s.registry.Attach(sessionID, cl, cl.playerID)
		cl.attach(sessionID, engine)
	}

	s.hub.broadcast(c.lobbyID, "race_starting", map[string]any{
		"session_id": sessionID,
		"track":      trk.View(),
	})

	s.lobbies.TransitionToRacing(c.lobbyID)
	engine.StartRace()
	go s.watchLobbyRace(c.lobbyID, sessionID)
}

// watchLobbyRace flips the lobby back to finished once the session's race
// ends, so the host can reset and go again.
func (s *Server) watchLobbyRace(lobbyID, sessionID string) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		engine := s.registry.Get(sessionID)
		if engine == nil {
			return
		}
		if engine.Snapshot().RaceInfo.Status == session.StatusFinished {
			s.lobbies.FinishRace(lobbyID)
			return
		}
	}
}

type botRefMessage struct {
	BotID string `json:"bot_id"`
}

func (s *Server) handleSubmitBot(c *client, data json.RawMessage) {
	if c.lobbyID != "" {
		c.sendError("submit_bot is for direct sessions; use add_bot_to_lobby")
		return
	}

	var ref botRefMessage
	if err := json.Unmarshal(data, &ref); err != nil || ref.BotID == "" {
		c.sendError("bot_id is required")
		return
	}

	_, engine := c.attached()
	if engine == nil {
		c.sendError("no active session")
		return
	}

	response := map[string]any{"success": true, "bot_id": ref.BotID}
	if err := s.addStoredBot(engine, ref.BotID, c.playerID); err != nil {
		response["success"] = false
		response["error"] = err.Error()
	}
	c.sendMessage("bot_submission_response", response)
}

func (s *Server) addStoredBot(engine *session.Engine, botID, owner string) error {
	rec, err := s.store.Get(botID)
	if err != nil {
		return err
	}
	h, err := s.bots.Load(rec.Code, rec.ClassName)
	if err != nil {
		return err
	}
	return engine.AddBot("bot-"+owner+"-"+botID, rec.Name, h)
}

func (s *Server) handleAddBotToLobby(c *client, data json.RawMessage) {
	if c.lobbyID == "" {
		c.sendError("add_bot_to_lobby requires a lobby")
		return
	}

	var ref botRefMessage
	if err := json.Unmarshal(data, &ref); err != nil || ref.BotID == "" {
		c.sendError("bot_id is required")
		return
	}

	rec, err := s.store.Get(ref.BotID)
	if err != nil {
		c.sendMessage("bot_submission_response", map[string]any{
			"success": false, "bot_id": ref.BotID, "error": "bot not found",
		})
		return
	}

	l, ok := s.lobbies.AddBot(c.lobbyID, ref.BotID, c.playerID, rec.Name)
	if !ok {
		c.sendMessage("bot_submission_response", map[string]any{
			"success": false, "bot_id": ref.BotID, "error": "lobby rejected the bot",
		})
		return
	}

	c.sendMessage("bot_submission_response", map[string]any{"success": true, "bot_id": ref.BotID})
	s.hub.broadcast(c.lobbyID, "lobby_state", l)
}

func (s *Server) handleLeaveLobby(c *client) {
	if c.lobbyID == "" {
		c.sendError("not in a lobby")
		return
	}
	s.departLobby(c)
	c.Close()
}

// departLobby removes the client's membership and tells the room.
func (s *Server) departLobby(c *client) {
	lobbyID := c.lobbyID
	s.hub.remove(lobbyID, c)

	l, ok := s.lobbies.Leave(lobbyID, c.playerID)
	if !ok {
		return
	}
	s.hub.broadcast(lobbyID, "lobby_member_left", map[string]any{
		"player_id": c.playerID,
		"host_id":   l.HostID,
	})
	if l.Status != lobby.StatusDisbanded {
		s.hub.broadcast(lobbyID, "lobby_state", l)
	}
}

// cleanupClient runs when the read loop exits for any reason.
func (s *Server) cleanupClient(c *client) {
	if sessionID, engine := c.attached(); sessionID != "" {
		s.registry.Detach(sessionID, c)
		// In direct mode the player leaves the race with the socket.
		if c.lobbyID == "" && engine != nil && s.registry.Has(sessionID) {
			engine.RemovePlayer(c.playerID)
		}
	}
	if c.lobbyID != "" {
		// A socket dropped mid-race keeps its lobby seat so the player can
		// rejoin; only an explicit leave_lobby gives it up.
		if l, ok := s.lobbies.Get(c.lobbyID); ok && (l.Status == lobby.StatusStarting || l.Status == lobby.StatusRacing) {
			s.hub.remove(c.lobbyID, c)
		} else {
			s.departLobby(c)
		}
	}
	c.Close()
}
