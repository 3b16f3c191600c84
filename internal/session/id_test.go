package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyAddress(t *testing.T) {
	_, err := NewWithAddress([]byte("node-a"), nil)
	assert.ErrorIs(t, err, ErrEmptyPhysicalAddress)
}

func TestEqual(t *testing.T) {
	a, err := NewWithAddress([]byte("node-a"), []byte("phys-1"))
	require.NoError(t, err)
	b, err := NewWithAddress([]byte("node-a"), []byte("phys-1"))
	require.NoError(t, err)
	c, err := NewWithAddress([]byte("node-a"), []byte("phys-2"))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestCompactRoundTrip(t *testing.T) {
	id, err := NewWithAddress([]byte("node-a"), []byte("phys-1"))
	require.NoError(t, err)

	compact := id.Compact()
	require.NotEmpty(t, compact)

	decoded, err := ParseCompact(compact)
	require.NoError(t, err)
	assert.True(t, id.Equal(decoded))
}

func TestNewGeneratesUniquePhysicalAddresses(t *testing.T) {
	a, err := New([]byte("node-a"))
	require.NoError(t, err)
	b, err := New([]byte("node-a"))
	require.NoError(t, err)

	assert.False(t, a.Equal(b))
	assert.NotEmpty(t, a.PhysicalAddress)
}
