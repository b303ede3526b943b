package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderally/coderally/internal/lobby"
	"github.com/coderally/coderally/internal/session"
)

func wsURL(ts *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + query
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// awaitMessage reads until a message of the wanted type arrives.
func awaitMessage(t *testing.T, conn *websocket.Conn, msgType string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))

	for time.Now().Before(deadline) {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg envelope
		require.NoError(t, json.Unmarshal(payload, &msg))
		if msg.Type == msgType {
			return msg.Data
		}
	}
	t.Fatalf("never received %q", msgType)
	return nil
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	payload, err := marshalMessage(msgType, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func TestDirectSessionStream(t *testing.T) {
	s := setupServer(t)
	ts := httptest.NewServer(s.ServeMux())
	defer ts.Close()

	conn := dial(t, ts, "player_id=alice&difficulty=easy&seed=11")

	var connected struct {
		SessionID string          `json:"session_id"`
		PlayerID  string          `json:"player_id"`
		Track     json.RawMessage `json:"track"`
	}
	require.NoError(t, json.Unmarshal(awaitMessage(t, conn, "connected"), &connected))
	assert.Equal(t, "alice", connected.PlayerID)
	assert.NotEmpty(t, connected.SessionID)
	assert.NotEmpty(t, connected.Track)

	// snapshots flow immediately, in waiting state
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(awaitMessage(t, conn, "game_state"), &snap))
	assert.Equal(t, session.StatusWaiting, snap.RaceInfo.Status)
	assert.Contains(t, snap.Players, "alice")

	// any player may start a direct race
	sendMessage(t, conn, "start_race", nil)
	require.Eventually(t, func() bool {
		var s session.Snapshot
		if err := json.Unmarshal(awaitMessage(t, conn, "game_state"), &s); err != nil {
			return false
		}
		return s.RaceInfo.Status == session.StatusCountdown || s.RaceInfo.Status == session.StatusRacing
	}, 5*time.Second, 10*time.Millisecond)

	sendMessage(t, conn, "input", map[string]bool{"accelerate": true})
	sendMessage(t, conn, "pong", nil)
}

func TestDirectSessionTornDownOnDisconnect(t *testing.T) {
	s := setupServer(t)
	ts := httptest.NewServer(s.ServeMux())
	defer ts.Close()

	conn := dial(t, ts, "player_id=alice&seed=3")

	var connected struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(awaitMessage(t, conn, "connected"), &connected))
	require.True(t, s.registry.Has(connected.SessionID))

	conn.Close()
	require.Eventually(t, func() bool {
		return !s.registry.Has(connected.SessionID)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLobbyRaceFlow(t *testing.T) {
	s := setupServer(t)
	ts := httptest.NewServer(s.ServeMux())
	defer ts.Close()

	l := s.lobbies.Create("ws race", "host", "hana", lobby.Settings{Seed: 9, Difficulty: "easy"})

	hostConn := dial(t, ts, "player_id=host&lobby_id="+l.ID)
	awaitMessage(t, hostConn, "lobby_joined")

	guestConn := dial(t, ts, "player_id=guest&lobby_id="+l.ID)
	awaitMessage(t, guestConn, "lobby_joined")

	// guest joining updates the host's roster
	var state lobby.Lobby
	require.NoError(t, json.Unmarshal(awaitMessage(t, hostConn, "lobby_state"), &state))

	// only the host can start
	sendMessage(t, guestConn, "start_race", nil)
	awaitMessage(t, guestConn, "error")

	sendMessage(t, hostConn, "start_race", nil)

	var starting struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(awaitMessage(t, hostConn, "race_starting"), &starting))
	require.NotEmpty(t, starting.SessionID)
	awaitMessage(t, guestConn, "race_starting")

	// both clients now receive snapshots with both players
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(awaitMessage(t, guestConn, "game_state"), &snap))
	assert.Contains(t, snap.Players, "host")
	assert.Contains(t, snap.Players, "guest")

	got, ok := s.lobbies.Get(l.ID)
	require.True(t, ok)
	assert.Equal(t, lobby.StatusRacing, got.Status)
	assert.True(t, s.registry.Has(starting.SessionID))

	s.registry.Remove(starting.SessionID)
}

func TestLobbyDisbandTearsDownSession(t *testing.T) {
	s := setupServer(t)
	mux := s.ServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	l := s.lobbies.Create("doomed", "host", "hana", lobby.Settings{Seed: 4, Difficulty: "easy"})

	hostConn := dial(t, ts, "player_id=host&lobby_id="+l.ID)
	awaitMessage(t, hostConn, "lobby_joined")

	sendMessage(t, hostConn, "start_race", nil)
	var starting struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(awaitMessage(t, hostConn, "race_starting"), &starting))
	require.True(t, s.registry.Has(starting.SessionID))

	rec := doJSON(t, mux, http.MethodDelete, "/api/lobbies/"+l.ID+"?player_id=host", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// the lobby takes its engine and broadcaster down with it
	assert.False(t, s.registry.Has(starting.SessionID))
	_, ok := s.lobbies.Get(l.ID)
	assert.False(t, ok)
}

func TestLobbyRejoinMidRaceGetsSession(t *testing.T) {
	s := setupServer(t)
	ts := httptest.NewServer(s.ServeMux())
	defer ts.Close()

	l := s.lobbies.Create("rejoin", "host", "hana", lobby.Settings{Seed: 6, Difficulty: "easy"})

	hostConn := dial(t, ts, "player_id=host&lobby_id="+l.ID)
	awaitMessage(t, hostConn, "lobby_joined")
	guestConn := dial(t, ts, "player_id=guest&lobby_id="+l.ID)
	awaitMessage(t, guestConn, "lobby_joined")

	sendMessage(t, hostConn, "start_race", nil)
	var starting struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(awaitMessage(t, hostConn, "race_starting"), &starting))

	// guest drops and comes back mid-race
	guestConn.Close()
	rejoin := dial(t, ts, "player_id=guest&lobby_id="+l.ID)
	awaitMessage(t, rejoin, "lobby_joined")

	var connected struct {
		SessionID string          `json:"session_id"`
		PlayerID  string          `json:"player_id"`
		Track     json.RawMessage `json:"track"`
	}
	require.NoError(t, json.Unmarshal(awaitMessage(t, rejoin, "connected"), &connected))
	assert.Equal(t, starting.SessionID, connected.SessionID)
	assert.Equal(t, "guest", connected.PlayerID)
	assert.NotEmpty(t, connected.Track)

	// and snapshots flow again
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(awaitMessage(t, rejoin, "game_state"), &snap))
	assert.Contains(t, snap.Players, "guest")

	s.registry.Remove(starting.SessionID)
}

func TestLobbyLeaveTransfersHost(t *testing.T) {
	s := setupServer(t)
	ts := httptest.NewServer(s.ServeMux())
	defer ts.Close()

	l := s.lobbies.Create("ws leave", "host", "hana", lobby.Settings{})

	hostConn := dial(t, ts, "player_id=host&lobby_id="+l.ID)
	awaitMessage(t, hostConn, "lobby_joined")
	guestConn := dial(t, ts, "player_id=guest&lobby_id="+l.ID)
	awaitMessage(t, guestConn, "lobby_joined")

	sendMessage(t, hostConn, "leave_lobby", nil)

	var left struct {
		PlayerID string `json:"player_id"`
		HostID   string `json:"host_id"`
	}
	require.NoError(t, json.Unmarshal(awaitMessage(t, guestConn, "lobby_member_left"), &left))
	assert.Equal(t, "host", left.PlayerID)
	assert.Equal(t, "guest", left.HostID)

	require.Eventually(t, func() bool {
		got, ok := s.lobbies.Get(l.ID)
		return ok && got.HostID == "guest"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUnknownSessionRejected(t *testing.T) {
	s := setupServer(t)
	ts := httptest.NewServer(s.ServeMux())
	defer ts.Close()

	conn := dial(t, ts, "player_id=x&session_id=nope")
	data := awaitMessage(t, conn, "error")
	var msg struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Contains(t, msg.Message, "session not found")

	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server closes the connection after the error")
}
