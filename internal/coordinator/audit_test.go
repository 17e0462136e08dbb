package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unc-platform/tc-core/internal/operation"
	"github.com/unc-platform/tc-core/internal/registry"
)

func TestCoordinator_HappyAudit(t *testing.T) {
	var calls []call
	lp := &scriptedChannel{role: registry.RoleLP, byPhase: map[operation.Phase]operation.Status{}, calls: &calls}
	pp := &scriptedChannel{role: registry.RolePP, byPhase: map[operation.Phase]operation.Status{}, calls: &calls}
	of := &scriptedChannel{role: registry.RoleDriverOpenflow, byPhase: map[operation.Phase]operation.Status{}, calls: &calls}

	c, _ := newTestCoordinator(t, map[registry.Role]*scriptedChannel{
		registry.RoleLP:             lp,
		registry.RolePP:             pp,
		registry.RoleDriverOpenflow: of,
	})

	resp, err := c.RunAudit(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusSuccess, resp.Status)

	var sawAuditStart, sawAuditEnd bool
	for _, call := range calls {
		if call.phase == operation.PhaseAuditStart {
			sawAuditStart = true
		}
		if call.phase == operation.PhaseAuditEnd {
			sawAuditEnd = true
		}
	}
	assert.True(t, sawAuditStart)
	assert.True(t, sawAuditEnd)
}

func TestCoordinator_AuditUnknownController(t *testing.T) {
	c, _ := newTestCoordinator(t, map[registry.Role]*scriptedChannel{})

	_, err := c.RunAudit(context.Background(), 7, 99)
	opErr, ok := err.(*operation.Error)
	require.True(t, ok)
	assert.Equal(t, operation.ErrInvalidControllerID, opErr.Kind)
}

func TestCoordinator_AuditDriverFailureAborts(t *testing.T) {
	var calls []call
	lp := &scriptedChannel{role: registry.RoleLP, byPhase: map[operation.Phase]operation.Status{}, calls: &calls}
	pp := &scriptedChannel{role: registry.RolePP, byPhase: map[operation.Phase]operation.Status{}, calls: &calls}
	of := &scriptedChannel{role: registry.RoleDriverOpenflow, byPhase: map[operation.Phase]operation.Status{
		operation.PhaseDriverVoteGlobal: operation.StatusFailure,
	}, calls: &calls}

	c, _ := newTestCoordinator(t, map[registry.Role]*scriptedChannel{
		registry.RoleLP:             lp,
		registry.RolePP:             pp,
		registry.RoleDriverOpenflow: of,
	})

	_, err := c.RunAudit(context.Background(), 7, 1)
	opErr, ok := err.(*operation.Error)
	require.True(t, ok)
	assert.Equal(t, operation.ErrParticipantFailure, opErr.Kind)

	var sawAuditEnd bool
	for _, call := range calls {
		if call.phase == operation.PhaseAuditEnd {
			sawAuditEnd = true
		}
	}
	assert.True(t, sawAuditEnd, "AuditEnd must still be issued best-effort on failure")
}
