// Package lobby implements pre-race matchmaking: named lobbies with
// human-memorable join codes, host-controlled settings, and the handoff
// into a live race session.
package lobby

import (
	"time"
)

// Status is the lobby lifecycle.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusStarting  Status = "starting"
	StatusRacing    Status = "racing"
	StatusFinished  Status = "finished"
	StatusDisbanded Status = "disbanded"
)

// Settings are the host-tunable race parameters.
type Settings struct {
	Difficulty string `json:"difficulty"`
	Seed       int64  `json:"seed"` // 0 means pick one
	MaxPlayers int    `json:"max_players"`
}

// Member is one lobby participant, human or bot.
type Member struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	IsBot    bool      `json:"is_bot"`
	IsReady  bool      `json:"is_ready"`
	BotID    string    `json:"bot_id,omitempty"` // stored bot backing a bot member
	JoinedAt time.Time `json:"joined_at"`
}

// Lobby is one matchmaking room. All mutation happens under the manager's
// lock; callers only ever see copies.
type Lobby struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	JoinCode  string    `json:"join_code"`
	HostID    string    `json:"host_id"`
	Status    Status    `json:"status"`
	Settings  Settings  `json:"settings"`
	Members   []Member  `json:"members"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (l *Lobby) member(id string) *Member {
	for i := range l.Members {
		if l.Members[i].ID == id {
			return &l.Members[i]
		}
	}
	return nil
}

func (l *Lobby) removeMember(id string) bool {
	for i := range l.Members {
		if l.Members[i].ID == id {
			l.Members = append(l.Members[:i], l.Members[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns a deep copy safe to hand outside the lock.
func (l *Lobby) snapshot() Lobby {
	cp := *l
	cp.Members = append([]Member(nil), l.Members...)
	return cp
}
