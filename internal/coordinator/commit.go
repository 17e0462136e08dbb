package coordinator

import (
	"context"
	"sort"
	"sync"

	"github.com/unc-platform/tc-core/internal/keytree"
	"github.com/unc-platform/tc-core/internal/operation"
	"github.com/unc-platform/tc-core/internal/registry"
	"github.com/unc-platform/tc-core/pkg/logger"
)

// sequentialLPPP calls role LP then PP, in that order, stopping at the
// first non-Success reply (§4.4, "LP is always contacted before PP").
func (c *Coordinator) sequentialLPPP(ctx context.Context, phase operation.Phase, session, configID uint32, dataType operation.DataType) ([]operation.Response, *operation.Error) {
	var responses []operation.Response
	for _, role := range []registry.Role{registry.RoleLP, registry.RolePP} {
		phaseCtx, cancel := context.WithTimeout(ctx, c.config.PhaseTimeout)
		resp, err := c.builder.SendRequest(phaseCtx, role, operation.Request{
			SessionID: session,
			ConfigID:  configID,
			OpType:    operation.KindCommit,
			DataType:  dataType,
			Phase:     phase,
		})
		cancel()
		if err != nil {
			return responses, toParticipantError(err, phase, role)
		}
		responses = append(responses, resp)
		if resp.Status != operation.StatusSuccess {
			return responses, operation.NewParticipantError(statusErrorKind(resp.Status), phase, string(role))
		}
	}
	return responses, nil
}

// bestEffortLPPP calls LP then PP without stopping on failure, logging any
// error rather than returning it, per §4.4's TransEnd rule
// ("best-effort (errors logged)"). excludeRole, if non-empty, is skipped:
// GlobalAbort must not be re-delivered to the participant that already
// caused the abort (§8 Scenario F, "LP only" when PP itself timed out).
func (c *Coordinator) bestEffortLPPP(ctx context.Context, phase operation.Phase, session, configID uint32, committed bool, excludeRole registry.Role) {
	for _, role := range []registry.Role{registry.RoleLP, registry.RolePP} {
		if role == excludeRole {
			continue
		}
		phaseCtx, cancel := context.WithTimeout(ctx, c.config.PhaseTimeout)
		option1 := uint32(0)
		if committed {
			option1 = 1
		}
		_, err := c.builder.SendRequest(phaseCtx, role, operation.Request{
			SessionID: session,
			ConfigID:  configID,
			OpType:    operation.KindCommit,
			DataType:  operation.DataTypeCandidate,
			Phase:     phase,
			Option1:   option1,
		})
		cancel()
		if err != nil {
			logger.SessionLogger(ctx, c.logger).Warn("best-effort phase call failed", "phase", phase, "role", role, "error", err)
		}
	}
}

// bestEffortDrivers issues phase (GlobalAbort) to every driver resolved
// from controllerIDs except excludeRole, best-effort like bestEffortLPPP:
// errors are logged, never returned. Used to compensate drivers that
// already received DriverVoteGlobal or later when a later phase aborts
// the transaction (§4.4, §8 invariant 4).
func (c *Coordinator) bestEffortDrivers(ctx context.Context, phase operation.Phase, session, configID uint32, controllerIDs []uint32, excludeRole registry.Role) {
	for _, t := range c.resolveDriverTargets(controllerIDs) {
		if t.role == excludeRole {
			continue
		}
		phaseCtx, cancel := context.WithTimeout(ctx, c.config.PhaseTimeout)
		_, err := c.builder.SendRequest(phaseCtx, t.role, operation.Request{
			SessionID: session,
			ConfigID:  configID,
			OpType:    operation.KindCommit,
			DataType:  operation.DataTypeCandidate,
			Phase:     phase,
			Option1:   t.controllerID,
		})
		cancel()
		if err != nil {
			logger.SessionLogger(ctx, c.logger).Warn("best-effort phase call failed", "phase", phase, "role", t.role, "error", err)
		}
	}
}

// driverFanOut calls DriverVoteGlobal on every driver role that owns a
// controller named in controllerIDs, in parallel (§4.4, "permitted to fan
// out driver calls in parallel because drivers are independent"), in the
// deterministic order registry.Drivers() returns; a target whose driver
// role is not registered comes last.
func (c *Coordinator) driverFanOut(ctx context.Context, session, configID uint32, controllerIDs []uint32) ([]operation.DriverResult, *operation.Error) {
	targets := c.resolveDriverTargets(controllerIDs)
	rank := make(map[registry.Role]int)
	for i, role := range c.registry.Drivers() {
		rank[role] = i
	}
	sort.SliceStable(targets, func(i, j int) bool {
		ri, iok := rank[targets[i].role]
		rj, jok := rank[targets[j].role]
		if iok != jok {
			return iok
		}
		return ri < rj
	})

	type outcome struct {
		role   registry.Role
		result operation.DriverResult
		err    error
	}

	results := make([]outcome, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, role registry.Role, controllerID uint32) {
			defer wg.Done()
			phaseCtx, cancel := context.WithTimeout(ctx, c.config.PhaseTimeout)
			defer cancel()

			resp, err := c.builder.SendRequest(phaseCtx, role, operation.Request{
				SessionID: session,
				ConfigID:  configID,
				OpType:    operation.KindCommit,
				DataType:  operation.DataTypeCandidate,
				Phase:     operation.PhaseDriverVoteGlobal,
				Option1:   controllerID,
			})
			if err != nil {
				results[i] = outcome{role: role, err: err}
				return
			}
			status := resp.Status
			results[i] = outcome{role: role, result: operation.DriverResult{ControllerID: controllerID, Status: status}}
		}(i, t.role, t.controllerID)
	}
	wg.Wait()

	driverResults := make([]operation.DriverResult, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			return nil, toParticipantError(r.err, operation.PhaseDriverVoteGlobal, r.role)
		}
		driverResults = append(driverResults, r.result)
		if r.result.Status != operation.StatusSuccess {
			return driverResults, operation.NewParticipantError(statusErrorKind(r.result.Status), operation.PhaseDriverVoteGlobal, string(r.role))
		}
	}
	return driverResults, nil
}

type driverTarget struct {
	role         registry.Role
	controllerID uint32
}

// resolveDriverTargets maps each controller id to the driver role
// responsible for it. Controller ids double as driver ids in this
// implementation's simplified topology: a real deployment's LP supplies a
// separate controller→driver-id mapping during VoteRequest, which this
// coordinator would consult here instead.
func (c *Coordinator) resolveDriverTargets(controllerIDs []uint32) []driverTarget {
	var targets []driverTarget
	for _, id := range controllerIDs {
		if role, ok := c.registry.RoleForDriverID(id); ok {
			targets = append(targets, driverTarget{role: role, controllerID: id})
		}
	}
	return targets
}

// RunCommit drives the full commit state machine for an already-validated
// (session, configID) pair: TransStart → VoteRequest → GlobalCommit →
// DriverVoteGlobal → DriverResult → TransEnd, with GlobalAbort compensation
// on any Failure/Fatal at phase ≥ VoteRequest (§4.4, §8 invariant 4).
func (c *Coordinator) RunCommit(ctx context.Context, session, configID uint32) (operation.Response, error) {
	ctx = logger.WithSession(ctx, session)
	if _, perr := c.sequentialLPPP(ctx, operation.PhaseTransStart, session, configID, operation.DataTypeCandidate); perr != nil {
		// TransStart failures are never compensated (§4.4, "skipped for
		// TransStart failures").
		c.bestEffortLPPP(ctx, operation.PhaseTransEnd, session, configID, false, "")
		c.metrics.RecordTransaction("commit", "failed")
		return operation.Response{}, perr
	}

	voteResponses, perr := c.sequentialLPPP(ctx, operation.PhaseVoteRequest, session, configID, operation.DataTypeCandidate)
	if perr != nil {
		// No driver was contacted yet; nothing to compensate but LP/PP.
		return c.abortCommit(ctx, session, configID, perr, nil)
	}
	controllerIDs := mergeControllerIDs(voteResponses)

	if _, perr := c.sequentialLPPP(ctx, operation.PhaseGlobalCommit, session, configID, operation.DataTypeCandidate); perr != nil {
		// Drivers are still unaware of the transaction at this point.
		return c.abortCommit(ctx, session, configID, perr, nil)
	}

	driverResults, perr := c.driverFanOut(ctx, session, configID, controllerIDs)
	if perr != nil {
		return c.abortCommit(ctx, session, configID, perr, controllerIDs)
	}

	tree := keytree.New(c.config.ParentTypes)
	if err := ingest(tree, driverResults); err != nil {
		return c.abortCommit(ctx, session, configID, operation.NewParticipantError(operation.ErrInvalidKeyType, operation.PhaseDriverResult, "driver"), controllerIDs)
	}

	if _, perr := c.driverResultPhase(ctx, session, configID, driverResults); perr != nil {
		return c.abortCommit(ctx, session, configID, perr, controllerIDs)
	}

	c.bestEffortLPPP(ctx, operation.PhaseTransEnd, session, configID, true, "")
	c.metrics.RecordTransaction("commit", "success")
	return operation.Response{Status: operation.StatusSuccess, DriverResults: driverResults}, nil
}

// driverResultPhase reports the merged driver-result set to LP then PP.
func (c *Coordinator) driverResultPhase(ctx context.Context, session, configID uint32, driverResults []operation.DriverResult) ([]operation.Response, *operation.Error) {
	var responses []operation.Response
	for _, role := range []registry.Role{registry.RoleLP, registry.RolePP} {
		phaseCtx, cancel := context.WithTimeout(ctx, c.config.PhaseTimeout)
		resp, err := c.builder.SendRequest(phaseCtx, role, operation.Request{
			SessionID:     session,
			ConfigID:      configID,
			OpType:        operation.KindCommit,
			DataType:      operation.DataTypeCandidate,
			Phase:         operation.PhaseDriverResult,
			DriverResults: driverResults,
		})
		cancel()
		if err != nil {
			return responses, toParticipantError(err, operation.PhaseDriverResult, role)
		}
		responses = append(responses, resp)
		// DriverResult replies may Success or Fatal per participant
		// (§4.4); Failure is not expected here but is treated the same as
		// Fatal since there is no further phase to retry into.
		if resp.Status != operation.StatusSuccess {
			return responses, operation.NewParticipantError(operation.ErrParticipantFatal, operation.PhaseDriverResult, string(role))
		}
	}
	return responses, nil
}

// abortCommit issues GlobalAbort to LP, PP, and every driver named in
// controllerIDs that already received DriverVoteGlobal or later, excluding
// whichever participant's failure caused the abort (cause.Role), then a
// best-effort TransEnd(aborted) to LP and PP unconditionally, and returns
// the original classified error to the caller (§4.4, §8 invariant 4,
// Scenario B's surviving-driver delivery, Scenario F's "LP only"
// exclusion).
func (c *Coordinator) abortCommit(ctx context.Context, session, configID uint32, cause *operation.Error, controllerIDs []uint32) (operation.Response, error) {
	failedRole := registry.Role(cause.Role)
	c.bestEffortLPPP(ctx, operation.PhaseGlobalAbort, session, configID, false, failedRole)
	if len(controllerIDs) > 0 {
		c.bestEffortDrivers(ctx, operation.PhaseGlobalAbort, session, configID, controllerIDs, failedRole)
	}
	c.bestEffortLPPP(ctx, operation.PhaseTransEnd, session, configID, false, "")
	c.metrics.RecordCompensation()
	c.metrics.RecordTransaction("commit", "aborted")
	return operation.Response{}, cause
}

func mergeControllerIDs(responses []operation.Response) []uint32 {
	seen := make(map[uint32]bool)
	var ids []uint32
	for _, resp := range responses {
		for _, dr := range resp.DriverResults {
			if !seen[dr.ControllerID] {
				seen[dr.ControllerID] = true
				ids = append(ids, dr.ControllerID)
			}
		}
	}
	return ids
}

// ingest builds a KeyTree from every node each driver result reported,
// collapsing duplicates and validating parentage (§4.4, "Driver-result
// ingestion").
func ingest(tree *keytree.KeyTree, driverResults []operation.DriverResult) error {
	for _, dr := range driverResults {
		for _, n := range dr.Nodes {
			if err := tree.Insert(keytree.Node{KeyType: n.KeyType, Key: n.Key, Parent: n.Parent}); err != nil {
				return err
			}
		}
	}
	return nil
}

// toParticipantError classifies a raw transport-level error the same way
// classifyTransportError does elsewhere in this package, unless err is
// already a classified *operation.Error (e.g. surfaced by a nested
// abortCommit), in which case it is passed through unchanged.
func toParticipantError(err error, phase operation.Phase, role registry.Role) *operation.Error {
	if opErr, ok := err.(*operation.Error); ok {
		return opErr
	}
	return classifyTransportError(err, phase, role)
}
