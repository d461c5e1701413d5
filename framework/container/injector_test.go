package container_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-injector/framework/container"
	"github.com/km-arc/go-injector/framework/profile"
)

func repoProvider(t *testing.T) container.Provider {
	t.Helper()
	p, out, deps, err := container.Constructor(NewRepo)
	require.NoError(t, err)
	require.Equal(t, repoType, out)
	require.Equal(t, []reflect.Type{clockType}, deps)
	return p
}

func TestInjector_BindAndResolveLocal(t *testing.T) {
	in := container.NewInjector(profile.Default, nil, nil)
	require.NoError(t, in.Bind(clockType, clockValue(3), container.Singleton))

	v, err := in.ResolveLocal(clockType)
	require.NoError(t, err)
	assert.Equal(t, 3, v.(Clock).Now())

	again, err := in.ResolveLocal(clockType)
	require.NoError(t, err)
	assert.Same(t, v, again)
	assert.True(t, in.Contains(clockType))
}

func TestInjector_ResolveLocalUnbound(t *testing.T) {
	in := container.NewInjector(profile.Default, nil, nil)
	_, err := in.ResolveLocal(clockType)
	assert.True(t, errors.Is(err, container.ErrUnsatisfied))
}

func TestInjector_ResolveLocalScopeFilter(t *testing.T) {
	in := container.NewInjector(profile.Default, nil, nil)
	require.NoError(t, in.Bind(clockType, clockValue(1), container.Singleton))

	_, err := in.ResolveLocal(clockType, container.ProfileScoped)
	assert.True(t, errors.Is(err, container.ErrUnsatisfied))

	_, err = in.ResolveLocal(clockType, container.Singleton)
	assert.NoError(t, err)
}

func TestInjector_NilProvider(t *testing.T) {
	in := container.NewInjector(profile.Default, nil, nil)
	err := in.Bind(clockType, nil, container.Transient)
	assert.True(t, errors.Is(err, container.ErrNilProvider))
}

func TestInjector_SealedRejectsBind(t *testing.T) {
	in := container.NewInjector(profile.Default, nil, nil)
	in.Seal()
	assert.True(t, in.Sealed())

	err := in.Bind(clockType, clockValue(1), container.Singleton)
	var ie *container.ImmutableInjectorError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, in.ID(), ie.Injector)
}

func TestInjector_MergeFromKeepsExisting(t *testing.T) {
	a := container.NewInjector(profile.Default, nil, nil)
	b := container.NewInjector(profile.Default, nil, nil)
	provider := repoProvider(t)

	require.NoError(t, a.Bind(clockType, clockValue(1), container.Transient))
	require.NoError(t, b.Bind(clockType, clockValue(2), container.Transient))
	require.NoError(t, b.Bind(repoType, provider, container.Transient, clockType))

	assert.Same(t, a, a.MergeFrom(b))

	v, err := a.ResolveLocal(repoType)
	require.NoError(t, err)
	assert.Equal(t, 1, v.(*Repo).Clock.Now())
	assert.False(t, b.Sealed())
}

func TestInjector_CreateChildShadowsParentAndSealsOther(t *testing.T) {
	a := container.NewInjector(profile.Default, nil, nil)
	b := container.NewInjector(profile.Default, nil, nil)
	provider := repoProvider(t)

	require.NoError(t, a.Bind(clockType, clockValue(1), container.Transient))
	require.NoError(t, a.Bind(repoType, provider, container.Transient, clockType))
	require.NoError(t, b.Bind(clockType, clockValue(2), container.Transient))

	child := a.CreateChild(b)
	assert.Same(t, a, child.Parent())
	assert.True(t, b.Sealed())
	assert.False(t, child.Sealed())

	v, err := child.ResolveLocal(repoType)
	require.NoError(t, err)
	assert.Equal(t, 2, v.(*Repo).Clock.Now())

	v, err = a.ResolveLocal(repoType)
	require.NoError(t, err)
	assert.Equal(t, 1, v.(*Repo).Clock.Now())

	assert.Error(t, b.Bind(tvType, testValue(1), container.Transient))
}

func TestInjector_BindingsInOrder(t *testing.T) {
	in := container.NewInjector(profile.Default, nil, nil)
	require.NoError(t, in.Bind(clockType, clockValue(1), container.Transient))
	require.NoError(t, in.Add(container.NewBinding(
		[]reflect.Type{tvType, container.TypeOf[any]()}, testValue(1), container.Singleton)))

	bs := in.Bindings()
	require.Len(t, bs, 2)
	assert.Equal(t, clockType, bs[0].Type())
	assert.Equal(t, tvType, bs[1].Type())
	assert.Len(t, bs[1].Types(), 2)
	assert.True(t, bs[1].Profile().IsDefault())
}
