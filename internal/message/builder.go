// Package message implements the Message Builder: a synchronous one-shot
// RPC wrapper over a single participant channel. It performs no retries and
// no per-phase timeout handling — both belong to the Commit/Audit
// Coordinator (§4.3).
package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/unc-platform/tc-core/internal/operation"
	"github.com/unc-platform/tc-core/internal/registry"
)

// RpcError wraps a transport-level failure: the channel's Call returned an
// error rather than a decoded Response (§4.3, "Response | RpcError |
// ProtocolError").
type RpcError struct {
	Role string
	Err  error
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("message: rpc error calling %s: %v", e.Role, e.Err)
}

func (e *RpcError) Unwrap() error { return e.Err }

// ProtocolError marks a response that decoded but violates the wire
// contract (an unknown status code, a malformed driver-result set).
type ProtocolError struct {
	Role string
	Msg  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("message: protocol error from %s: %s", e.Role, e.Msg)
}

// Builder sends one request to one participant and decodes its response. It
// holds no per-call state; every field is a read-only collaborator shared
// across calls.
type Builder struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// New constructs a Builder bound to reg for role lookups.
func New(reg *registry.Registry, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{registry: reg, logger: logger}
}

// Send builds and dispatches a single request to role, returning its
// decoded Response. No retries are attempted; a transport failure surfaces
// as *RpcError, and a malformed reply as *ProtocolError — both distinct
// from an ordinary operation.Error so CAC can tell "never heard back" apart
// from "replied Failure".
func (b *Builder) Send(ctx context.Context, role registry.Role, msgKind operation.Kind, session, configID uint32, dataType operation.DataType, payload []byte) (operation.Response, error) {
	return b.SendRequest(ctx, role, operation.Request{
		SessionID: session,
		ConfigID:  configID,
		OpType:    msgKind,
		DataType:  dataType,
		Payload:   payload,
	})
}

// SendRequest is the general form of Send: the caller builds the full
// Request (including Phase and any DriverResults carried for aggregation),
// letting CAC drive multi-phase calls without Builder needing phase-
// specific parameters.
func (b *Builder) SendRequest(ctx context.Context, role registry.Role, req operation.Request) (operation.Response, error) {
	channel, err := b.registry.Lookup(role)
	if err != nil {
		return operation.Response{}, &RpcError{Role: string(role), Err: err}
	}

	correlationID := uuid.NewString()
	b.logger.Debug("message send",
		"correlation_id", correlationID,
		"role", role,
		"op_type", req.OpType.String(),
		"phase", req.Phase,
		"session", req.SessionID,
		"config_id", req.ConfigID,
	)

	resp, err := channel.Call(ctx, req)
	if err != nil {
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			return operation.Response{}, err
		}
		return operation.Response{}, &RpcError{Role: string(role), Err: err}
	}

	if err := validateResponse(role, resp); err != nil {
		return operation.Response{}, err
	}

	b.logger.Debug("message reply",
		"correlation_id", correlationID,
		"role", role,
		"status", resp.Status.String(),
	)
	return resp, nil
}

// validateResponse enforces the minimal wire contract a decoded Response
// must satisfy: a known status code, and, if present, driver results that
// each carry a known status.
func validateResponse(role registry.Role, resp operation.Response) error {
	switch resp.Status {
	case operation.StatusSuccess, operation.StatusFailure, operation.StatusFatal:
	default:
		return &ProtocolError{Role: string(role), Msg: fmt.Sprintf("unknown status code %d", resp.Status)}
	}
	for _, dr := range resp.DriverResults {
		switch dr.Status {
		case operation.StatusSuccess, operation.StatusFailure, operation.StatusFatal:
		default:
			return &ProtocolError{Role: string(role), Msg: fmt.Sprintf("driver %d: unknown status code %d", dr.ControllerID, dr.Status)}
		}
	}
	return nil
}
