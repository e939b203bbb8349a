package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func TestOpenYieldsDistinctIDs(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := r.Open("Alice")
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 200, r.Count())
}

func TestOpenRetriesOnCollision(t *testing.T) {
	ids := []string{"a", "a", "b"}
	r := NewRegistry(WithIDGenerator(func() string { id := ids[0]; ids = ids[1:]; return id }))
	assert.Equal(t, "a", r.Open("x"))
	assert.Equal(t, "b", r.Open("y"))
}

func TestGetSetStatusRemove(t *testing.T) {
	r := NewRegistry()
	id := r.Open("Bob")

	s, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Bob", s.DisplayName)
	assert.Equal(t, StatusConnected, s.Status)

	assert.True(t, r.SetStatus(id, StatusDisconnected))
	s, _ = r.Get(id)
	assert.Equal(t, StatusDisconnected, s.Status)
	assert.False(t, r.SetStatus("ghost", StatusConnected))

	r.Remove(id)
	r.Remove(id)
	r.Remove("ghost")
	assert.False(t, r.Exists(id))
}

func TestTouchLivenessIsMonotonic(t *testing.T) {
	clk := newClock()
	r := NewRegistry(WithClock(clk.Now))
	id := r.Open("Alice")

	clk.Advance(5 * time.Second)
	require.True(t, r.TouchLiveness(id))
	s, _ := r.Get(id)
	later := s.LastLivenessAt

	clk.Advance(-3 * time.Second)
	r.TouchLiveness(id)
	s, _ = r.Get(id)
	assert.Equal(t, later, s.LastLivenessAt)
	assert.False(t, r.TouchLiveness("ghost"))
}

func TestListTimedOut(t *testing.T) {
	clk := newClock()
	r := NewRegistry(WithClock(clk.Now))
	stale := r.Open("stale")
	clk.Advance(20 * time.Second)
	fresh := r.Open("fresh")
	clk.Advance(11 * time.Second)

	out := r.ListTimedOut(30 * time.Second)
	require.Len(t, out, 1)
	assert.Equal(t, stale, out[0].ID)

	// exactly at the threshold is not timed out
	clk.Advance(19 * time.Second)
	for _, s := range r.ListTimedOut(30 * time.Second) {
		assert.NotEqual(t, fresh, s.ID)
	}
}

func TestResumeRefreshesLivenessThenConnects(t *testing.T) {
	clk := newClock()
	r := NewRegistry(WithClock(clk.Now))
	id := r.Open("Alice")

	assert.False(t, r.Resume(id), "only a reconnecting session resumes")
	r.SetStatus(id, StatusReconnecting)
	clk.Advance(time.Minute)
	require.True(t, r.Resume(id))

	s, _ := r.Get(id)
	assert.Equal(t, StatusConnected, s.Status)
	assert.Equal(t, clk.Now(), s.LastLivenessAt)
	assert.Empty(t, r.ListTimedOut(30*time.Second))
	assert.False(t, r.Resume("ghost"))
}

func TestExpireIfStaleRechecksUnderLock(t *testing.T) {
	clk := newClock()
	r := NewRegistry(WithClock(clk.Now))
	id := r.Open("Alice")
	clk.Advance(time.Minute)

	scanned := r.ListTimedOut(30 * time.Second)
	require.Len(t, scanned, 1)

	// the session came back between the scan and the expiry
	r.SetStatus(id, StatusReconnecting)
	require.True(t, r.Resume(id))
	assert.False(t, r.ExpireIfStale(id, 30*time.Second))
	s, _ := r.Get(id)
	assert.Equal(t, StatusConnected, s.Status)

	clk.Advance(time.Minute)
	assert.True(t, r.ExpireIfStale(id, 30*time.Second))
	assert.False(t, r.ExpireIfStale(id, 30*time.Second), "already disconnected")
	assert.False(t, r.ExpireIfStale("ghost", 30*time.Second))
}
