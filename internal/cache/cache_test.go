package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/session"
)

func mustSession(t *testing.T) session.ID {
	t.Helper()
	id, err := session.NewWithAddress([]byte("node-a"), []byte("phys"))
	require.NoError(t, err)
	return id
}

func TestObserveThenGetIsFresh(t *testing.T) {
	c, err := New(16)
	require.NoError(t, err)

	sid := mustSession(t)
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, sid, false, []byte("v"), time.Now())

	h := c.Observe(p, e)
	got, err := h.Entry()
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.Equal(t, LockNone, h.LockKind())
}

func TestInvalidateStalesOutstandingHandle(t *testing.T) {
	c, err := New(16)
	require.NoError(t, err)

	sid := mustSession(t)
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, sid, false, nil, time.Now())

	h := c.PutLocked(p, e, LockExclusive)
	c.Invalidate(p)

	_, err = h.Entry()
	assert.ErrorIs(t, err, ErrStaleCacheEntry)

	fresh, ok := c.Get(p)
	require.True(t, ok)
	assert.Equal(t, LockNone, fresh.LockKind(), "invalidation demotes lock kind")
}

func TestDowngradeToObservationOnlyKeepsSlot(t *testing.T) {
	c, err := New(16)
	require.NoError(t, err)

	sid := mustSession(t)
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, sid, false, nil, time.Now())

	h := c.PutLocked(p, e, LockExclusive)
	c.DowngradeToObservationOnly(p)

	got, err := h.Entry()
	require.NoError(t, err, "downgrade must not invalidate the token")
	assert.Equal(t, e, got)

	slot, ok := c.Get(p)
	require.True(t, ok)
	assert.Equal(t, LockNone, slot.LockKind())
}

func TestEvictRemovesSlot(t *testing.T) {
	c, err := New(16)
	require.NoError(t, err)

	sid := mustSession(t)
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, sid, false, nil, time.Now())
	c.Observe(p, e)

	c.Evict(p)
	_, ok := c.Get(p)
	assert.False(t, ok)
}

func TestGetMissingPathReturnsFalse(t *testing.T) {
	c, err := New(16)
	require.NoError(t, err)
	p, _ := path.FromEscaped("/missing")
	_, ok := c.Get(p)
	assert.False(t, ok)
}
