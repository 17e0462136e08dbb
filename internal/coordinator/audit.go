package coordinator

import (
	"context"
	"fmt"

	"github.com/unc-platform/tc-core/internal/keytree"
	"github.com/unc-platform/tc-core/internal/operation"
	"github.com/unc-platform/tc-core/internal/registry"
	"github.com/unc-platform/tc-core/pkg/logger"
)

// RunAudit drives the audit state machine: isomorphic to commit with
// participant substitutions, bracketed by AuditStart/AuditEnd, scoped to a
// single controller (§4.4, "Audit substitutes the participants per phase
// and adds an AuditStart/AuditEnd outer bracket and a single-controller
// scope"). controllerID is the driver-identifier named in the audit
// request (§6, wire field option1).
func (c *Coordinator) RunAudit(ctx context.Context, session uint32, controllerID uint32) (operation.Response, error) {
	ctx = logger.WithSession(ctx, session)
	driverRole, ok := c.registry.RoleForDriverID(controllerID)
	if !ok {
		return operation.Response{}, operation.New(operation.ErrInvalidControllerID, fmt.Sprintf("unknown driver id %d", controllerID))
	}

	if _, perr := c.sequentialLPPP(ctx, operation.PhaseAuditStart, session, 0, operation.DataTypeRunning); perr != nil {
		c.metrics.RecordTransaction("audit", "failed")
		return operation.Response{}, perr
	}

	driverResult, perr := c.auditDriver(ctx, session, driverRole, controllerID)
	if perr != nil {
		return c.abortAudit(ctx, session, perr)
	}

	tree := keytree.New(c.config.ParentTypes)
	if err := ingest(tree, []operation.DriverResult{driverResult}); err != nil {
		return c.abortAudit(ctx, session, operation.NewParticipantError(operation.ErrInvalidKeyType, operation.PhaseDriverResult, string(driverRole)))
	}

	if _, perr := c.driverResultPhase(ctx, session, 0, []operation.DriverResult{driverResult}); perr != nil {
		return c.abortAudit(ctx, session, perr)
	}

	c.bestEffortLPPP(ctx, operation.PhaseAuditEnd, session, 0, true, "")
	c.metrics.RecordTransaction("audit", "success")
	return operation.Response{Status: operation.StatusSuccess, DriverResults: []operation.DriverResult{driverResult}}, nil
}

func (c *Coordinator) auditDriver(ctx context.Context, session uint32, role registry.Role, controllerID uint32) (operation.DriverResult, *operation.Error) {
	phaseCtx, cancel := context.WithTimeout(ctx, c.config.PhaseTimeout)
	defer cancel()

	resp, err := c.builder.SendRequest(phaseCtx, role, operation.Request{
		SessionID: session,
		OpType:    operation.KindAudit,
		DataType:  operation.DataTypeRunning,
		Phase:     operation.PhaseDriverVoteGlobal,
		Option1:   controllerID,
	})
	if err != nil {
		return operation.DriverResult{}, toParticipantError(err, operation.PhaseDriverVoteGlobal, role)
	}
	if resp.Status != operation.StatusSuccess {
		return operation.DriverResult{}, operation.NewParticipantError(statusErrorKind(resp.Status), operation.PhaseDriverVoteGlobal, string(role))
	}
	return operation.DriverResult{ControllerID: controllerID, Status: resp.Status}, nil
}

func (c *Coordinator) abortAudit(ctx context.Context, session uint32, cause *operation.Error) (operation.Response, error) {
	c.bestEffortLPPP(ctx, operation.PhaseAuditEnd, session, 0, false, "")
	c.metrics.RecordCompensation()
	c.metrics.RecordTransaction("audit", "aborted")
	return operation.Response{}, cause
}
