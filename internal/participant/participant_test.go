package participant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unc-platform/tc-core/internal/operation"
)

type stubHandler struct {
	status operation.Status
}

func (s *stubHandler) HandleTransStart(ctx context.Context, session, configID uint32) operation.Status {
	return s.status
}
func (s *stubHandler) HandleVoteRequest(ctx context.Context, session, configID uint32) operation.Status {
	return s.status
}
func (s *stubHandler) HandleGlobalCommit(ctx context.Context, session, configID uint32) operation.Status {
	return s.status
}
func (s *stubHandler) HandleDriverVoteGlobal(ctx context.Context, session, configID uint32) operation.Status {
	return s.status
}
func (s *stubHandler) HandleDriverResult(ctx context.Context, session, configID uint32, results []operation.DriverResult) operation.Status {
	return s.status
}
func (s *stubHandler) HandleTransEnd(ctx context.Context, session, configID uint32, committed bool) operation.Status {
	return s.status
}
func (s *stubHandler) HandleAuditStart(ctx context.Context, session uint32, controllerID string) operation.Status {
	return s.status
}
func (s *stubHandler) HandleAuditEnd(ctx context.Context, session uint32, committed bool) operation.Status {
	return s.status
}
func (s *stubHandler) HandleSave(ctx context.Context, session, configID uint32) operation.Status {
	return s.status
}
func (s *stubHandler) HandleClearStartup(ctx context.Context, session, configID uint32) operation.Status {
	return s.status
}
func (s *stubHandler) HandleAbortCandidate(ctx context.Context, session, configID uint32) operation.Status {
	return s.status
}

func TestLibrary_RegisterHandlerAlreadyActive(t *testing.T) {
	lib := New()
	require.NoError(t, lib.RegisterHandler(&stubHandler{status: operation.StatusSuccess}))

	err := lib.RegisterHandler(&stubHandler{})
	assert.Error(t, err)
}

func TestLibrary_DispatchFollowsPhaseOrder(t *testing.T) {
	lib := New()
	require.NoError(t, lib.RegisterHandler(&stubHandler{status: operation.StatusSuccess}))
	ctx := context.Background()

	status, err := lib.Dispatch(ctx, operation.PhaseTransStart, 1, 1, nil, false)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusSuccess, status)

	status, err = lib.Dispatch(ctx, operation.PhaseVoteRequest, 1, 1, nil, false)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusSuccess, status)
}

func TestLibrary_DispatchRejectsOutOfOrderPhase(t *testing.T) {
	lib := New()
	require.NoError(t, lib.RegisterHandler(&stubHandler{status: operation.StatusSuccess}))
	ctx := context.Background()

	// Skipping TransStart straight to GlobalCommit must fail.
	_, err := lib.Dispatch(ctx, operation.PhaseGlobalCommit, 1, 1, nil, false)
	assert.ErrorIs(t, err, ErrInvalidOperState)
}

func TestLibrary_DispatchWithoutHandler(t *testing.T) {
	lib := New()
	_, err := lib.Dispatch(context.Background(), operation.PhaseTransStart, 1, 1, nil, false)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestLibrary_WriteReadKeyValueInfoScopedToDriverResult(t *testing.T) {
	lib := New()
	require.NoError(t, lib.RegisterHandler(&stubHandler{status: operation.StatusSuccess}))
	ctx := context.Background()

	err := lib.WriteKeyValueInfo("of", []byte("payload"))
	assert.ErrorIs(t, err, ErrInvalidOperState)
	_, _, err = lib.ReadKeyValueInfo("of")
	assert.ErrorIs(t, err, ErrInvalidOperState, "read must be gated outside DriverResult same as write")

	_, err = lib.Dispatch(ctx, operation.PhaseTransStart, 1, 1, nil, false)
	require.NoError(t, err)
	_, err = lib.Dispatch(ctx, operation.PhaseVoteRequest, 1, 1, nil, false)
	require.NoError(t, err)
	_, err = lib.Dispatch(ctx, operation.PhaseGlobalCommit, 1, 1, nil, false)
	require.NoError(t, err)
	_, err = lib.Dispatch(ctx, operation.PhaseDriverVoteGlobal, 1, 1, nil, false)
	require.NoError(t, err)
	_, err = lib.Dispatch(ctx, operation.PhaseDriverResult, 1, 1, nil, false)
	require.NoError(t, err)

	require.NoError(t, lib.WriteKeyValueInfo("of", []byte("payload")))
	got, ok, err := lib.ReadKeyValueInfo("of")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	_, err = lib.Dispatch(ctx, operation.PhaseTransEnd, 1, 1, nil, true)
	require.NoError(t, err)
	_, _, err = lib.ReadKeyValueInfo("of")
	assert.ErrorIs(t, err, ErrInvalidOperState, "read must be gated once the phase machine has moved past DriverResult")
}

func TestLibrary_UnregisterResetsState(t *testing.T) {
	lib := New()
	require.NoError(t, lib.RegisterHandler(&stubHandler{status: operation.StatusSuccess}))
	_, err := lib.Dispatch(context.Background(), operation.PhaseTransStart, 1, 1, nil, false)
	require.NoError(t, err)

	lib.Unregister()
	assert.Equal(t, OperStateIdle, lib.State())
	require.NoError(t, lib.RegisterHandler(&stubHandler{status: operation.StatusSuccess}))
}
