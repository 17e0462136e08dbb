package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unc-platform/tc-core/internal/operation"
)

type fakeChannel struct{ name string }

func (f *fakeChannel) Call(ctx context.Context, req operation.Request) (operation.Response, error) {
	return operation.Response{}, nil
}

func TestRegistry_RegisterLookup(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(RoleLP, &fakeChannel{name: "lp"}))

	ch, err := r.Lookup(RoleLP)
	require.NoError(t, err)
	assert.Equal(t, "lp", ch.(*fakeChannel).name)
}

func TestRegistry_AlreadyActive(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(RolePP, &fakeChannel{}))

	err := r.Register(RolePP, &fakeChannel{})
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := New()
	_, err := r.Lookup(RoleLP)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestRegistry_UnknownRoleRejected(t *testing.T) {
	r := New()
	err := r.Register(Role("bogus"), &fakeChannel{})
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestRegistry_UnregisterThenAllowsReRegister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(RoleLP, &fakeChannel{name: "first"}))
	r.Unregister(RoleLP)

	require.NoError(t, r.Register(RoleLP, &fakeChannel{name: "second"}))
	ch, err := r.Lookup(RoleLP)
	require.NoError(t, err)
	assert.Equal(t, "second", ch.(*fakeChannel).name)
}

func TestRegistry_DriversDeterministicOrder(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(RoleDriverLegacy, &fakeChannel{name: "legacy"}))
	require.NoError(t, r.Register(RoleDriverOpenflow, &fakeChannel{name: "openflow"}))
	require.NoError(t, r.Register(RoleDriverOverlay, &fakeChannel{name: "overlay"}))
	require.NoError(t, r.Register(RoleLP, &fakeChannel{name: "lp"}))
	require.NoError(t, r.Register(RolePP, &fakeChannel{name: "pp"}))

	drivers := r.Drivers()
	assert.Equal(t, []Role{RoleDriverLegacy, RoleDriverOpenflow, RoleDriverOverlay}, drivers)
}

func TestRegistry_RoleForDriverID(t *testing.T) {
	r := New()

	role, ok := r.RoleForDriverID(1)
	require.True(t, ok)
	assert.Equal(t, RoleDriverOpenflow, role)

	_, ok = r.RoleForDriverID(99)
	assert.False(t, ok)
}
