package operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequest_ValidateRequiresConfigIDForCommit(t *testing.T) {
	req := &Request{SessionID: 7, OpType: KindCommit, DataType: DataTypeCandidate}
	err := req.Validate()
	var opErr *Error
	assert.ErrorAs(t, err, &opErr)
	assert.Equal(t, ErrInvalidConfigID, opErr.Kind)
}

func TestRequest_ValidateReadDoesNotNeedConfigID(t *testing.T) {
	req := &Request{SessionID: 7, OpType: KindRead, DataType: DataTypeRunning}
	assert.NoError(t, req.Validate())
}

func TestRequest_ValidateMissingSession(t *testing.T) {
	req := &Request{OpType: KindRead, DataType: DataTypeRunning}
	assert.Error(t, req.Validate())
}

func TestError_Error(t *testing.T) {
	err := NewParticipantError(ErrParticipantFailure, PhaseDriverVoteGlobal, "driver-openflow")
	assert.Equal(t, "ParticipantFailure(DriverVoteGlobal, driver-openflow)", err.Error())
}
