// Package participant implements the module-side Participant Library: the
// handler interface and local state machine a module (LP, PP, or a driver)
// implements to take part in commit and audit.
//
// Grounded on the original TcLibModule (modules/tclib/include/tclib_module.hh):
// a single registered handler per module, an oper_state gate on phase
// calls, and read/write key-value accessors scoped to the driver-result
// phase.
package participant

import (
	"context"
	"fmt"
	"sync"

	"github.com/unc-platform/tc-core/internal/operation"
)

// OperState is the module's local view of which phase is currently legal,
// mirroring the original's oper_state_ gate (tclib_module.hh, oper_state_).
type OperState uint8

const (
	OperStateIdle OperState = iota
	OperStateTransStart
	OperStateVoteRequest
	OperStateGlobalCommit
	OperStateDriverVoteGlobal
	OperStateDriverResult
	OperStateTransEnd
	OperStateAuditStart
	OperStateAuditEnd
)

// legalNext maps an OperState to the set of OperStates a call may transition
// to. Any transition not listed here trips InvalidOperState (§7).
var legalNext = map[OperState]map[OperState]bool{
	OperStateIdle:             {OperStateTransStart: true, OperStateAuditStart: true},
	OperStateTransStart:       {OperStateVoteRequest: true, OperStateTransEnd: true},
	OperStateVoteRequest:      {OperStateGlobalCommit: true, OperStateTransEnd: true},
	OperStateGlobalCommit:     {OperStateDriverVoteGlobal: true, OperStateTransEnd: true},
	OperStateDriverVoteGlobal: {OperStateDriverResult: true, OperStateTransEnd: true},
	OperStateDriverResult:     {OperStateTransEnd: true},
	OperStateTransEnd:         {OperStateIdle: true},
	OperStateAuditStart:       {OperStateVoteRequest: true, OperStateAuditEnd: true},
	OperStateAuditEnd:         {OperStateIdle: true},
}

// Handler is implemented by a module to participate in commit/audit. Each
// method corresponds to one phase in §4.4; a driver implementation need
// only populate the phases relevant to its role (e.g. LP/PP never see
// DriverVoteGlobal).
type Handler interface {
	HandleTransStart(ctx context.Context, session, configID uint32) operation.Status
	HandleVoteRequest(ctx context.Context, session, configID uint32) operation.Status
	HandleGlobalCommit(ctx context.Context, session, configID uint32) operation.Status
	HandleDriverVoteGlobal(ctx context.Context, session, configID uint32) operation.Status
	HandleDriverResult(ctx context.Context, session, configID uint32, results []operation.DriverResult) operation.Status
	HandleTransEnd(ctx context.Context, session, configID uint32, committed bool) operation.Status
	HandleAuditStart(ctx context.Context, session uint32, controllerID string) operation.Status
	HandleAuditEnd(ctx context.Context, session uint32, committed bool) operation.Status
	HandleSave(ctx context.Context, session, configID uint32) operation.Status
	HandleClearStartup(ctx context.Context, session, configID uint32) operation.Status
	HandleAbortCandidate(ctx context.Context, session, configID uint32) operation.Status
}

// ErrInvalidOperState reports a phase call that is not legal from the
// module's current state.
var ErrInvalidOperState = fmt.Errorf("participant: invalid oper state")

// ErrNotRegistered is returned when Dispatch is called before a handler has
// been registered.
var ErrNotRegistered = fmt.Errorf("participant: no handler registered")

// Library is the per-module runtime: it gates incoming phase calls through
// the oper_state machine before forwarding to the registered Handler.
// Grounded on TcLibRegisterHandler's "already active" guard: a Library may
// register at most one handler at a time.
type Library struct {
	mu      sync.Mutex
	handler Handler
	state   OperState

	// keyValues holds read-key-value-info results scoped to the lifetime of
	// a single driver-result phase call, mirroring TcLibReadKeyValueDataInfo
	// / TcLibWriteKeyValueDataInfo's controller-scoped buffer.
	keyValues map[string][]byte
}

// New constructs an idle Library with no handler registered.
func New() *Library {
	return &Library{state: OperStateIdle, keyValues: make(map[string][]byte)}
}

// RegisterHandler attaches h. A second call before Unregister fails with a
// Generic "handler already active" error, mirroring
// TC_HANDLER_ALREADY_ACTIVE.
func (l *Library) RegisterHandler(h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handler != nil {
		return fmt.Errorf("participant: %w", operation.New(operation.ErrGeneric, "handler already active"))
	}
	l.handler = h
	return nil
}

// Unregister detaches the current handler, if any.
func (l *Library) Unregister() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = nil
	l.state = OperStateIdle
}

// transition validates and applies an OperState move. Caller must hold mu.
func (l *Library) transition(target OperState) error {
	if !legalNext[l.state][target] {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidOperState, l.state, target)
	}
	l.state = target
	return nil
}

// Dispatch routes one phase call for session/configID through the oper
// state gate into the registered handler. The phase argument selects which
// Handler method runs.
func (l *Library) Dispatch(ctx context.Context, phase operation.Phase, session, configID uint32, results []operation.DriverResult, committed bool) (operation.Status, error) {
	l.mu.Lock()
	if l.handler == nil {
		l.mu.Unlock()
		return operation.StatusFatal, ErrNotRegistered
	}

	target, ok := phaseState[phase]
	if !ok {
		l.mu.Unlock()
		return operation.StatusFatal, fmt.Errorf("participant: unknown phase %s", phase)
	}
	if err := l.transition(target); err != nil {
		l.mu.Unlock()
		return operation.StatusFatal, err
	}
	handler := l.handler
	l.mu.Unlock()

	switch phase {
	case operation.PhaseTransStart:
		return handler.HandleTransStart(ctx, session, configID), nil
	case operation.PhaseVoteRequest:
		return handler.HandleVoteRequest(ctx, session, configID), nil
	case operation.PhaseGlobalCommit:
		return handler.HandleGlobalCommit(ctx, session, configID), nil
	case operation.PhaseDriverVoteGlobal:
		return handler.HandleDriverVoteGlobal(ctx, session, configID), nil
	case operation.PhaseDriverResult:
		return handler.HandleDriverResult(ctx, session, configID, results), nil
	case operation.PhaseTransEnd:
		return handler.HandleTransEnd(ctx, session, configID, committed), nil
	case operation.PhaseAuditEnd:
		return handler.HandleAuditEnd(ctx, session, committed), nil
	default:
		return operation.StatusFatal, fmt.Errorf("participant: unhandled phase %s", phase)
	}
}

// phaseState maps each wire phase to the OperState it transitions the
// library into.
var phaseState = map[operation.Phase]OperState{
	operation.PhaseTransStart:       OperStateTransStart,
	operation.PhaseVoteRequest:      OperStateVoteRequest,
	operation.PhaseGlobalCommit:     OperStateGlobalCommit,
	operation.PhaseDriverVoteGlobal: OperStateDriverVoteGlobal,
	operation.PhaseDriverResult:     OperStateDriverResult,
	operation.PhaseTransEnd:         OperStateTransEnd,
	operation.PhaseAuditStart:       OperStateAuditStart,
	operation.PhaseAuditEnd:         OperStateAuditEnd,
}

// State returns the library's current OperState, for diagnostics.
func (l *Library) State() OperState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// WriteKeyValueInfo stores a controller-scoped key/value result produced
// during a DriverResult phase, gated the same way
// TcLibWriteKeyValueDataInfo requires an active oper_state.
func (l *Library) WriteKeyValueInfo(controllerID string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != OperStateDriverResult {
		return fmt.Errorf("%w: write key value outside DriverResult", ErrInvalidOperState)
	}
	l.keyValues[controllerID] = payload
	return nil
}

// ReadKeyValueInfo retrieves a previously written controller-scoped
// key/value payload, gated the same way WriteKeyValueInfo is: both
// accessors are permitted only while oper_state is a driver-result phase
// (§4.7).
func (l *Library) ReadKeyValueInfo(controllerID string) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != OperStateDriverResult {
		return nil, false, fmt.Errorf("%w: read key value outside DriverResult", ErrInvalidOperState)
	}
	payload, ok := l.keyValues[controllerID]
	return payload, ok, nil
}
