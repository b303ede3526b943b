package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderally/coderally/internal/bot"
	"github.com/coderally/coderally/internal/config"
)

// fakeConn records delivered snapshots and can be told to fail.
type fakeConn struct {
	mu     sync.Mutex
	snaps  []*Snapshot
	fail   bool
	closed bool
}

func (c *fakeConn) SendSnapshot(s *Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send failed")
	}
	c.snaps = append(c.snaps, s)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []*Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Snapshot(nil), c.snaps...)
}

func registryEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	bots := bot.NewManager(&cfg.Bot, &cfg.Physics, cfg.BotCadence())
	return NewEngine(cfg, sprintTrack(), bots)
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	e := registryEngine(t)

	reg.Add("s1", e, true)
	assert.True(t, reg.Has("s1"))
	assert.Same(t, e, reg.Get("s1"))
	assert.Equal(t, []string{"s1"}, reg.IDs())

	assert.Nil(t, reg.Get("nope"))

	reg.Remove("s1")
	assert.False(t, reg.Has("s1"))
	reg.Remove("s1") // idempotent
}

func TestRegistryAttachDetach(t *testing.T) {
	reg := NewRegistry()
	reg.Add("s1", registryEngine(t), true)

	conn := &fakeConn{}
	require.True(t, reg.Attach("s1", conn, "alice"))
	assert.Len(t, reg.Connections("s1"), 1)

	last, ok := reg.LastPong("s1", conn)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), last, time.Second)

	time.Sleep(10 * time.Millisecond)
	reg.RecordPong("s1", conn)
	later, ok := reg.LastPong("s1", conn)
	require.True(t, ok)
	assert.True(t, later.After(last))

	reg.Detach("s1", conn)
	assert.Empty(t, reg.Connections("s1"))
	// lobby-owned sessions survive their last connection
	assert.True(t, reg.Has("s1"))

	assert.False(t, reg.Attach("nope", conn, "alice"))
}

func TestRegistryDirectSessionDiesWithLastConn(t *testing.T) {
	reg := NewRegistry()
	reg.Add("s1", registryEngine(t), false)

	conn := &fakeConn{}
	require.True(t, reg.Attach("s1", conn, "alice"))

	reg.Detach("s1", conn)
	assert.False(t, reg.Has("s1"))
}

func TestBroadcasterDeliversMonotoneSnapshots(t *testing.T) {
	reg := NewRegistry()
	e := registryEngine(t)
	require.NoError(t, e.AddPlayer("a", "alice"))
	reg.Add("s1", e, true)
	defer reg.Remove("s1")

	conn := &fakeConn{}
	require.True(t, reg.Attach("s1", conn, "a"))

	b := NewBroadcaster(reg, 60)
	done := make(chan struct{})
	go func() {
		b.Run("s1")
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(conn.received()) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	snaps := conn.received()
	for i := 1; i < len(snaps); i++ {
		assert.LessOrEqual(t, snaps[i-1].Tick, snaps[i].Tick)
	}

	reg.Remove("s1")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcaster did not stop after session removal")
	}
}

func TestBroadcasterDropsFailingConnections(t *testing.T) {
	reg := NewRegistry()
	reg.Add("s1", registryEngine(t), true)
	defer reg.Remove("s1")

	good := &fakeConn{}
	bad := &fakeConn{fail: true}
	require.True(t, reg.Attach("s1", good, "a"))
	require.True(t, reg.Attach("s1", bad, "b"))

	b := NewBroadcaster(reg, 60)
	go b.Run("s1")

	require.Eventually(t, func() bool {
		return len(reg.Connections("s1")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	bad.mu.Lock()
	closed := bad.closed
	bad.mu.Unlock()
	assert.True(t, closed)
	assert.NotEmpty(t, good.received())
}
