package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyhub/internal/pkg/errs"
)

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(0)

	_, err := r.Register("c1", nil, &recordingSink{})
	require.NoError(t, err)

	_, err = r.Register("c1", nil, &recordingSink{})
	assert.True(t, errs.HasCode(err, errs.ErrDuplicateConnection))
}

func TestRegistry_IDsAreNeverReused(t *testing.T) {
	r := NewRegistry(0)

	_, err := r.Register("c1", nil, &recordingSink{})
	require.NoError(t, err)
	r.Unregister("c1")

	_, err = r.Register("c1", nil, &recordingSink{})
	assert.True(t, errs.HasCode(err, errs.ErrDuplicateConnection))
	assert.Equal(t, StateDisconnected, r.State("c1"))
}

func TestRegistry_TombstonesExpire(t *testing.T) {
	r := NewRegistry(0)
	now := time.Now()
	r.now = func() time.Time { return now }

	_, err := r.Register("c1", nil, &recordingSink{})
	require.NoError(t, err)
	r.Unregister("c1")

	now = now.Add(tombstoneTTL + time.Second)
	_, err = r.Register("c1", nil, &recordingSink{})
	assert.NoError(t, err)
}

func TestRegistry_PruneStopsAtLiveTombstone(t *testing.T) {
	r := NewRegistry(0)
	now := time.Now()
	r.now = func() time.Time { return now }

	for _, id := range []ConnID{"c1", "c2"} {
		_, err := r.Register(id, nil, &recordingSink{})
		require.NoError(t, err)
		r.Unregister(id)
	}

	now = now.Add(tombstoneTTL / 2)
	_, err := r.Register("c3", nil, &recordingSink{})
	require.NoError(t, err)
	r.Unregister("c3")

	now = now.Add(tombstoneTTL/2 + time.Second)
	_, err = r.Register("c4", nil, &recordingSink{})
	require.NoError(t, err)

	assert.Len(t, r.expiry, 1)
	assert.NotContains(t, r.tombstones, ConnID("c1"))
	assert.NotContains(t, r.tombstones, ConnID("c2"))
	assert.Equal(t, StateDisconnected, r.State("c3"))
}

func TestRegistry_ReusedIDKeepsNewTombstone(t *testing.T) {
	r := NewRegistry(0)
	now := time.Now()
	r.now = func() time.Time { return now }

	_, err := r.Register("c1", nil, &recordingSink{})
	require.NoError(t, err)
	r.Unregister("c1")

	now = now.Add(tombstoneTTL + time.Second)
	_, err = r.Register("c1", nil, &recordingSink{})
	require.NoError(t, err)
	r.Unregister("c1")

	now = now.Add(time.Second)
	_, err = r.Register("c1", nil, &recordingSink{})
	assert.True(t, errs.HasCode(err, errs.ErrDuplicateConnection))
}

func TestRegistry_StateTransitions(t *testing.T) {
	r := NewRegistry(0)

	assert.Equal(t, StateConnecting, r.State("c1"))

	_, err := r.Register("c1", nil, &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, StateConnected, r.State("c1"))

	require.NoError(t, r.BindIdentity("c1", alice))
	assert.Equal(t, StateAuthenticated, r.State("c1"))

	r.Unregister("c1")
	assert.Equal(t, StateDisconnected, r.State("c1"))
}

func TestRegistry_RegisterWithIdentity(t *testing.T) {
	r := NewRegistry(0)

	conn, err := r.Register("c1", &bob, &recordingSink{})
	require.NoError(t, err)

	got, ok := conn.Identity()
	require.True(t, ok)
	assert.Equal(t, bob, got)
	assert.Equal(t, StateAuthenticated, conn.State())
}

func TestRegistry_BindIdentityUnknown(t *testing.T) {
	r := NewRegistry(0)

	err := r.BindIdentity("missing", alice)
	assert.True(t, errs.HasCode(err, errs.ErrUnknownConnection))
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry(0)

	conn, err := r.Register("c1", nil, &recordingSink{})
	require.NoError(t, err)
	require.NoError(t, conn.attach("room-b"))
	require.NoError(t, conn.attach("room-a"))

	rooms := r.Unregister("c1")
	assert.Equal(t, []RoomID{"room-a", "room-b"}, rooms)
	assert.Error(t, conn.Context().Err())

	assert.Nil(t, r.Unregister("c1"))
	assert.Equal(t, 0, r.Len())
}

func TestConnection_AttachFailsAfterDisconnect(t *testing.T) {
	r := NewRegistry(0)

	conn, err := r.Register("c1", nil, &recordingSink{})
	require.NoError(t, err)
	r.Unregister("c1")

	err = conn.attach("room-a")
	assert.True(t, errs.HasCode(err, errs.ErrUnknownConnection))
	assert.False(t, conn.InRoom("room-a"))
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateAuthenticated, "authenticated"},
		{StateDisconnected, "disconnected"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
