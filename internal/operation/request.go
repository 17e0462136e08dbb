package operation

import "github.com/go-playground/validator/v10"

// validate is a package-level validator instance, mirroring the teacher's
// convention of a single shared *validator.Validate rather than one per
// call site.
var validate = validator.New()

// Request is the dispatcher-facing decoded form of an inbound wire message
// (§4.6 step "parse"), before operation-specific payload decoding.
type Request struct {
	SessionID   uint32 `validate:"required"`
	ConfigID    uint32
	OpType      Kind     `validate:"required"`
	DataType    DataType `validate:"required"`
	Phase       Phase
	Option1     uint32
	Option2     uint32
	MaxRepCount uint32
	Payload     []byte

	// DriverResults carries the merged per-controller outcomes a
	// DriverResult-phase call reports to LP/PP; empty for every other phase.
	DriverResults []DriverResult
}

// Validate applies struct-tag validation plus the cross-field checks that
// tags alone cannot express: config-scoped operations must carry a
// non-zero ConfigID.
func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return New(ErrInvalidSyntax, err.Error())
	}
	if requiresConfigID(r.OpType) && r.ConfigID == 0 {
		return New(ErrInvalidConfigID, "operation requires a non-zero config id")
	}
	return nil
}

// requiresConfigID reports whether OpType is only valid within a held
// Config session (§4.6 step "acquire/validate").
func requiresConfigID(k Kind) bool {
	switch k {
	case KindCommit, KindSave, KindClearStartup, KindAbortCandidate,
		KindSetup, KindSetupComplete:
		return true
	default:
		return false
	}
}

// Response is the decoded form of a participant's reply (§4.3).
type Response struct {
	Status        Status
	DriverResults []DriverResult
}

// DriverResult is one per-controller sub-payload within a DriverResult
// phase response (§4.3, "a sequence of per-controller sub-payloads").
type DriverResult struct {
	ControllerID uint32
	Status       Status
	Payload      []byte
	Nodes        []KeyNode
}

// KeyNode is the minimal shape the coordinator needs to feed a reported
// configuration element into a KeyTree (internal/keytree), kept here
// rather than importing the keytree package so operation stays a leaf.
type KeyNode struct {
	KeyType string
	Key     string
	Parent  string
}
