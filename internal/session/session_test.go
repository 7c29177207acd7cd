package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newStore(idle time.Duration) (*Store, *clock) {
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(idle)
	s.SetClock(c.now)
	return s, c
}

func TestCreateAndIdleExpiry(t *testing.T) {
	s, c := newStore(30 * time.Minute)
	sess := s.Create()
	require.NotEmpty(t, sess.ID)
	require.NotEmpty(t, sess.CSRFToken)
	assert.False(t, sess.Authenticated)

	c.advance(20 * time.Minute)
	_, ok := s.Get(sess.ID)
	require.True(t, ok)

	// use refreshed the idle timer
	c.advance(20 * time.Minute)
	_, ok = s.Get(sess.ID)
	require.True(t, ok)

	c.advance(31 * time.Minute)
	_, ok = s.Get(sess.ID)
	assert.False(t, ok)
}

func TestLoginRotatesIdentifiers(t *testing.T) {
	s, _ := newStore(0)
	anon := s.Create()
	s.AddFlash(anon.ID, Flash{Kind: FlashInfo, Text: "hello"})

	user, err := s.Login(anon.ID, "alice", "editor")
	require.NoError(t, err)
	assert.NotEqual(t, anon.ID, user.ID)
	assert.NotEqual(t, anon.CSRFToken, user.CSRFToken)
	assert.True(t, user.Authenticated)
	assert.Equal(t, "editor", user.Role)

	_, ok := s.Get(anon.ID)
	assert.False(t, ok)
	assert.Equal(t, []Flash{{Kind: FlashInfo, Text: "hello"}}, s.TakeFlashes(user.ID))

	_, err = s.Login("missing", "a", "b")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestPendingTransferExpires(t *testing.T) {
	s, c := newStore(0)
	sess := s.Create()
	require.NoError(t, s.SetPending(sess.ID, PendingTransfer{Operation: OpMove, Name: "a.txt", SourcePath: "docs"}))

	p, ok := s.Pending(sess.ID)
	require.True(t, ok)
	assert.Equal(t, OpMove, p.Operation)
	assert.Equal(t, c.now(), p.CreatedAt)

	c.advance(59 * time.Minute)
	_, ok = s.Pending(sess.ID)
	assert.True(t, ok)

	c.advance(2 * time.Minute)
	_, ok = s.Pending(sess.ID)
	assert.False(t, ok)

	require.NoError(t, s.SetPending(sess.ID, PendingTransfer{Operation: OpCopy, Name: "b"}))
	s.ClearPending(sess.ID)
	_, ok = s.Pending(sess.ID)
	assert.False(t, ok)

	assert.ErrorIs(t, s.SetPending("nope", PendingTransfer{}), ErrNoSession)
}

func TestFlashesDrainInOrder(t *testing.T) {
	s, _ := newStore(0)
	sess := s.Create()
	s.AddFlash(sess.ID, Flash{Kind: FlashSuccess, Text: "one"})
	s.AddFlash(sess.ID, Flash{Kind: FlashError, Text: "two"})

	assert.Equal(t, []Flash{{FlashSuccess, "one"}, {FlashError, "two"}}, s.TakeFlashes(sess.ID))
	assert.Empty(t, s.TakeFlashes(sess.ID))
	assert.Nil(t, s.TakeFlashes("unknown"))
}

func TestPrune(t *testing.T) {
	s, c := newStore(time.Minute)
	s.Create()
	c.advance(2 * time.Minute)
	keep := s.Create()
	assert.Equal(t, 1, s.Prune())
	_, ok := s.Get(keep.ID)
	assert.True(t, ok)

	s.Destroy(keep.ID)
	assert.Equal(t, 0, s.Prune())
}
