// Package registry implements the Participant Registry: a process-wide
// mapping from logical module role to a call target (Channel),
// plus the static driver-identifier to driver-role table.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/unc-platform/tc-core/internal/operation"
)

// Role identifies a participant module. The set is closed: LP, PP, and the
// three known driver kinds.
type Role string

const (
	RoleLP             Role = "LP"
	RolePP             Role = "PP"
	RoleDriverOpenflow Role = "driver-openflow"
	RoleDriverOverlay  Role = "driver-overlay"
	RoleDriverLegacy   Role = "driver-legacy"
)

// knownRoles gates Register/Lookup to the closed role set described in
// spec.md §4.2.
var knownRoles = map[Role]bool{
	RoleLP:             true,
	RolePP:             true,
	RoleDriverOpenflow: true,
	RoleDriverOverlay:  true,
	RoleDriverLegacy:   true,
}

// ErrAlreadyActive is returned by Register when a role is already occupied.
var ErrAlreadyActive = fmt.Errorf("registry: role already active")

// ErrMissing is returned by Lookup when no channel is registered for a role.
var ErrMissing = fmt.Errorf("registry: role missing")

// ErrUnknownRole is returned for any role outside the closed set.
var ErrUnknownRole = fmt.Errorf("registry: unknown role")

// Channel is the call target a participant publishes at init. It is kept
// deliberately minimal; internal/message.Builder is the only caller.
type Channel interface {
	// Call sends one request and blocks for its single response. The wire
	// codec and transport binding are out of scope (spec.md §1); this
	// module ships no concrete implementation, callers and tests supply
	// their own.
	Call(ctx context.Context, req operation.Request) (operation.Response, error)
}

// entry pairs a channel with its insertion sequence so driver iteration
// order is deterministic (§4.4, "Drivers within a phase are contacted in
// the stable order in which they appear in PR").
type entry struct {
	channel Channel
	seq     int
}

// Registry is a read-mostly, per-process singleton-per-role map. Updates
// happen only at process start/teardown (§5), so a plain RWMutex discipline
// is adequate.
type Registry struct {
	mu       sync.RWMutex
	entries  map[Role]entry
	seq      int
	driverID map[uint32]Role
}

// New constructs an empty Registry with the static driver-id → role table
// seeded from the original IPC driver-id enumeration (the TC never
// hard-codes driver names elsewhere — this table is the one place that
// mapping is allowed to live).
func New() *Registry {
	return &Registry{
		entries: make(map[Role]entry),
		driverID: map[uint32]Role{
			1: RoleDriverOpenflow,
			2: RoleDriverOverlay,
			3: RoleDriverLegacy,
		},
	}
}

// Register publishes a channel for role. Fails AlreadyActive if role is
// already occupied, making the registry a per-process singleton per role.
func (r *Registry) Register(role Role, channel Channel) error {
	if !knownRoles[role] {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[role]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, role)
	}

	r.seq++
	r.entries[role] = entry{channel: channel, seq: r.seq}
	return nil
}

// Unregister removes role's published channel, if any.
func (r *Registry) Unregister(role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, role)
}

// Lookup returns the channel published for role.
func (r *Registry) Lookup(role Role) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissing, role)
	}
	return e.channel, nil
}

// Drivers returns every currently registered driver role, ordered by
// registration sequence (insertion order), the deterministic iteration
// order §4.4 requires for driver fan-out.
func (r *Registry) Drivers() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type seqRole struct {
		role Role
		seq  int
	}
	var ordered []seqRole
	for role, e := range r.entries {
		if role == RoleLP || role == RolePP {
			continue
		}
		ordered = append(ordered, seqRole{role: role, seq: e.seq})
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].seq < ordered[j-1].seq; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	roles := make([]Role, 0, len(ordered))
	for _, sr := range ordered {
		roles = append(roles, sr.role)
	}
	return roles
}

// RoleForDriverID resolves a driver-identifier (as returned by LP during its
// driver-id resolution step) to the corresponding driver Role.
func (r *Registry) RoleForDriverID(driverID uint32) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.driverID[driverID]
	return role, ok
}
