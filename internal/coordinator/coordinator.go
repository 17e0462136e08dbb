// Package coordinator implements the Commit/Audit Coordinator: the state
// machine driving TransStart → VoteRequest → GlobalCommit →
// DriverVoteGlobal → DriverResult → TransEnd (commit), and the isomorphic
// audit machine bracketed by AuditStart/AuditEnd with a single-controller
// scope.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/unc-platform/tc-core/internal/keytree"
	"github.com/unc-platform/tc-core/internal/lock"
	"github.com/unc-platform/tc-core/internal/message"
	"github.com/unc-platform/tc-core/internal/metrics"
	"github.com/unc-platform/tc-core/internal/operation"
	"github.com/unc-platform/tc-core/internal/registry"
)

// Config carries the tunables the coordinator needs beyond its
// collaborators: the per-phase deadline from TC_PHASE_TIMEOUT_MS, and the
// static parent-type table every KeyTree is built with.
type Config struct {
	PhaseTimeout time.Duration
	ParentTypes  keytree.ParentTypeTable
}

// Coordinator wires the Lock Manager, Participant Registry, Message
// Builder, and KeyTree together into the commit/audit state machine. It
// implements dispatcher.Runner.
type Coordinator struct {
	locks    *lock.Manager
	registry *registry.Registry
	builder  *message.Builder
	metrics  *metrics.Coordinator
	logger   *slog.Logger
	config   Config
}

// New constructs a Coordinator. metrics/logger may be nil.
func New(locks *lock.Manager, reg *registry.Registry, builder *message.Builder, m *metrics.Coordinator, logger *slog.Logger, config Config) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewCoordinator()
	}
	if config.PhaseTimeout <= 0 {
		config.PhaseTimeout = 30 * time.Second
	}
	return &Coordinator{locks: locks, registry: reg, builder: builder, metrics: m, logger: logger, config: config}
}

// Run implements dispatcher.Runner: it routes a validated request to the
// commit/audit state machine, a direct one-shot MB call, or a read
// handler, per §4.6 step 5.
func (c *Coordinator) Run(ctx context.Context, req operation.Request) (operation.Response, error) {
	switch req.OpType {
	case operation.KindCommit:
		return c.RunCommit(ctx, req.SessionID, req.ConfigID)
	case operation.KindAudit:
		return c.RunAudit(ctx, req.SessionID, req.Option1)
	case operation.KindSave, operation.KindClearStartup, operation.KindAbortCandidate,
		operation.KindSetup, operation.KindSetupComplete:
		return c.runDirect(ctx, req)
	case operation.KindRead, operation.KindReadSibling, operation.KindReadSiblingBegin,
		operation.KindReadSiblingCount, operation.KindReadNext, operation.KindReadBulk:
		return c.runRead(ctx, req)
	default:
		return operation.Response{}, operation.New(operation.ErrBadRequest, fmt.Sprintf("unsupported op type %s", req.OpType))
	}
}

// runDirect issues a single MB call to LP then PP with no phase
// choreography, for the operations §4.6 step 5 routes "direct to MB"
// (Save, ClearStartup, AbortCandidate, Setup, SetupComplete).
func (c *Coordinator) runDirect(ctx context.Context, req operation.Request) (operation.Response, error) {
	for _, role := range []registry.Role{registry.RoleLP, registry.RolePP} {
		phaseCtx, cancel := context.WithTimeout(ctx, c.config.PhaseTimeout)
		resp, err := c.builder.Send(phaseCtx, role, req.OpType, req.SessionID, req.ConfigID, req.DataType, req.Payload)
		cancel()
		if err != nil {
			return operation.Response{}, classifyTransportError(err, operation.Phase(req.OpType.String()), role)
		}
		if resp.Status != operation.StatusSuccess {
			return resp, operation.NewParticipantError(statusErrorKind(resp.Status), operation.Phase(req.OpType.String()), string(role))
		}
	}
	return operation.Response{Status: operation.StatusSuccess}, nil
}

// runRead issues a single MB call to LP for a read-family operation; reads
// never touch PP or drivers (§4.6, "to a Read handler for read ops").
func (c *Coordinator) runRead(ctx context.Context, req operation.Request) (operation.Response, error) {
	phaseCtx, cancel := context.WithTimeout(ctx, c.config.PhaseTimeout)
	defer cancel()

	resp, err := c.builder.Send(phaseCtx, registry.RoleLP, req.OpType, req.SessionID, req.ConfigID, req.DataType, req.Payload)
	if err != nil {
		return operation.Response{}, classifyTransportError(err, operation.Phase(req.OpType.String()), registry.RoleLP)
	}
	return resp, nil
}

func statusErrorKind(status operation.Status) operation.ErrorKind {
	if status == operation.StatusFatal {
		return operation.ErrParticipantFatal
	}
	return operation.ErrParticipantFailure
}

// classifyTransportError turns an RpcError/ProtocolError/context deadline
// from the Message Builder into the taxonomy CAC reports (§7). A phase
// deadline is reported as ParticipantFailure, not Unreachable: the
// participant was reached and simply never replied in time (§8 Scenario
// F), which is a weaker claim than "could not be reached at all".
func classifyTransportError(err error, phase operation.Phase, role registry.Role) *operation.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return operation.NewParticipantError(operation.ErrParticipantFailure, phase, string(role))
	}
	return operation.NewParticipantError(operation.ErrParticipantUnreachable, phase, string(role))
}
