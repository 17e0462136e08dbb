package message

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unc-platform/tc-core/internal/operation"
	"github.com/unc-platform/tc-core/internal/registry"
)

type stubChannel struct {
	resp operation.Response
	err  error
}

func (s *stubChannel) Call(ctx context.Context, req operation.Request) (operation.Response, error) {
	return s.resp, s.err
}

func newBuilderWithChannel(t *testing.T, role registry.Role, ch registry.Channel) *Builder {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(role, ch))
	return New(reg, nil)
}

func TestBuilder_SendSuccess(t *testing.T) {
	ch := &stubChannel{resp: operation.Response{Status: operation.StatusSuccess}}
	b := newBuilderWithChannel(t, registry.RoleLP, ch)

	resp, err := b.Send(context.Background(), registry.RoleLP, operation.KindCommit, 7, 42, operation.DataTypeCandidate, nil)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusSuccess, resp.Status)
}

func TestBuilder_SendMissingRoleIsRpcError(t *testing.T) {
	b := New(registry.New(), nil)

	_, err := b.Send(context.Background(), registry.RolePP, operation.KindCommit, 7, 42, operation.DataTypeCandidate, nil)
	var rpcErr *RpcError
	require.True(t, errors.As(err, &rpcErr))
}

func TestBuilder_SendTransportFailureIsRpcError(t *testing.T) {
	ch := &stubChannel{err: errors.New("connection refused")}
	b := newBuilderWithChannel(t, registry.RoleLP, ch)

	_, err := b.Send(context.Background(), registry.RoleLP, operation.KindCommit, 7, 42, operation.DataTypeCandidate, nil)
	var rpcErr *RpcError
	require.True(t, errors.As(err, &rpcErr))
}

func TestBuilder_SendUnknownStatusIsProtocolError(t *testing.T) {
	ch := &stubChannel{resp: operation.Response{Status: operation.Status(99)}}
	b := newBuilderWithChannel(t, registry.RoleLP, ch)

	_, err := b.Send(context.Background(), registry.RoleLP, operation.KindCommit, 7, 42, operation.DataTypeCandidate, nil)
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
}

func TestBuilder_SendDriverResults(t *testing.T) {
	ch := &stubChannel{resp: operation.Response{
		Status: operation.StatusSuccess,
		DriverResults: []operation.DriverResult{
			{ControllerID: 1, Status: operation.StatusSuccess},
			{ControllerID: 2, Status: operation.StatusFailure},
		},
	}}
	b := newBuilderWithChannel(t, registry.RoleDriverOpenflow, ch)

	resp, err := b.Send(context.Background(), registry.RoleDriverOpenflow, operation.KindCommit, 7, 42, operation.DataTypeRunning, nil)
	require.NoError(t, err)
	require.Len(t, resp.DriverResults, 2)
	assert.Equal(t, operation.StatusFailure, resp.DriverResults[1].Status)
}
