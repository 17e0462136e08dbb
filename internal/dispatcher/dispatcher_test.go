package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unc-platform/tc-core/internal/lock"
	"github.com/unc-platform/tc-core/internal/operation"
)

type stubRunner struct {
	delay    time.Duration
	response operation.Response
	err      error
}

func (r *stubRunner) Run(ctx context.Context, req operation.Request) (operation.Response, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.response, r.err
}

func validRequest() operation.Request {
	return operation.Request{SessionID: 7, OpType: operation.KindRead, DataType: operation.DataTypeRunning}
}

func TestDispatcher_SubmitSuccess(t *testing.T) {
	runner := &stubRunner{response: operation.Response{Status: operation.StatusSuccess}}
	d := New(runner, nil, nil, nil, Config{Workers: 2, QueueSize: 4})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	resp, err := d.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, operation.StatusSuccess, resp.Status)
}

func TestDispatcher_SubmitBeforeStart(t *testing.T) {
	runner := &stubRunner{}
	d := New(runner, nil, nil, nil, Config{})

	_, err := d.Submit(context.Background(), validRequest())
	assert.Error(t, err)
}

func TestDispatcher_SubmitInvalidRequest(t *testing.T) {
	runner := &stubRunner{}
	d := New(runner, nil, nil, nil, Config{Workers: 1, QueueSize: 1})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	_, err := d.Submit(context.Background(), operation.Request{})
	assert.Error(t, err)
}

func TestDispatcher_RecoversPanic(t *testing.T) {
	runner := &panicRunner{}
	d := New(runner, nil, nil, nil, Config{Workers: 1, QueueSize: 1})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	_, err := d.Submit(context.Background(), validRequest())
	assert.Error(t, err)
}

type panicRunner struct{}

func (p *panicRunner) Run(ctx context.Context, req operation.Request) (operation.Response, error) {
	panic("boom")
}

func TestDispatcher_StopIsIdempotentFailure(t *testing.T) {
	runner := &stubRunner{response: operation.Response{Status: operation.StatusSuccess}}
	d := New(runner, nil, nil, nil, Config{Workers: 1, QueueSize: 1})
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, d.Stop())
	assert.Error(t, d.Stop())
}

func TestDispatcher_CommitRequiresHeldConfigID(t *testing.T) {
	runner := &stubRunner{response: operation.Response{Status: operation.StatusSuccess}}
	locks := lock.NewManager()
	d := New(runner, locks, nil, nil, Config{Workers: 1, QueueSize: 1})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	req := operation.Request{SessionID: 7, ConfigID: 99, OpType: operation.KindCommit, DataType: operation.DataTypeCandidate}
	_, err := d.Submit(context.Background(), req)
	assert.Error(t, err)

	configID, err := locks.Acquire(context.Background(), 7, lock.OpClassConfig, 1)
	require.NoError(t, err)

	req.ConfigID = configID
	resp, err := d.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusSuccess, resp.Status)
}

func TestDispatcher_RateLimitRejectsBurst(t *testing.T) {
	runner := &stubRunner{response: operation.Response{Status: operation.StatusSuccess}}
	d := New(runner, nil, nil, nil, Config{Workers: 1, QueueSize: 10, RateLimit: 0.001, RateBurst: 1})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	_, err := d.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = d.Submit(context.Background(), validRequest())
	assert.Error(t, err)
}
