package lock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ConfigExclusion(t *testing.T) {
	// Invariant 1: at most one session holds Config at any time.
	m := NewManager()
	ctx := context.Background()

	configID, err := m.Acquire(ctx, 7, OpClassConfig, 100)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), configID)

	_, err = m.Acquire(ctx, 8, OpClassConfig, 101)
	require.Error(t, err)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, DenyAlreadyConfiguring, denied.Reason)
}

func TestManager_GlobalExcludesEverything(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	_, err := m.Acquire(ctx, 1, OpClassRead, 1)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, 2, OpClassGlobal, 2)
	require.Error(t, err)

	require.NoError(t, m.Release(ctx, 1, OpClassRead, 0))

	_, err = m.Acquire(ctx, 2, OpClassGlobal, 2)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, 3, OpClassRead, 3)
	require.Error(t, err)
}

func TestManager_ConfigIDMonotonicity(t *testing.T) {
	// Invariant 2: ConfigId is strictly increasing across successful
	// acquisitions.
	m := NewManager()
	ctx := context.Background()

	id1, err := m.Acquire(ctx, 1, OpClassConfig, 1)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, 1, OpClassConfig, id1))

	id2, err := m.Acquire(ctx, 2, OpClassConfig, 2)
	require.NoError(t, err)

	assert.Less(t, id1, id2)
}

func TestManager_ReleaseBadSessionOrConfigID(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	configID, err := m.Acquire(ctx, 7, OpClassConfig, 1)
	require.NoError(t, err)

	err = m.Release(ctx, 8, OpClassConfig, configID)
	assert.ErrorIs(t, err, ErrBadSession)

	err = m.Release(ctx, 7, OpClassConfig, configID+1)
	assert.ErrorIs(t, err, ErrBadConfigID)

	require.NoError(t, m.Release(ctx, 7, OpClassConfig, configID))
}

func TestManager_Validate(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	configID, err := m.Acquire(ctx, 7, OpClassConfig, 1)
	require.NoError(t, err)

	assert.True(t, m.Validate(7, configID))
	assert.False(t, m.Validate(7, configID+1))
	assert.False(t, m.Validate(8, configID))
}

func TestManager_ConcurrentReadsAllowed(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	_, err := m.Acquire(ctx, 1, OpClassRead, 1)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, 2, OpClassRead, 2)
	require.NoError(t, err)

	assert.ElementsMatch(t, []uint32{1, 2}, m.ReadHolders())
}
