package container_test

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-injector/framework/container"
	"github.com/km-arc/go-injector/framework/metrics"
	"github.com/km-arc/go-injector/framework/profile"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

type TestValue struct{ N int }

type Clock interface{ Now() int }

type fixedClock struct{ at int }

func (c *fixedClock) Now() int { return c.at }

type Repo struct{ Clock Clock }

func NewRepo(c Clock) *Repo { return &Repo{Clock: c} }

type Service struct{ Repo *Repo }

func NewService(r *Repo) *Service { return &Service{Repo: r} }

var (
	tvType    = container.TypeOf[*TestValue]()
	clockType = container.TypeOf[Clock]()
	repoType  = container.TypeOf[*Repo]()
)

func testValue(n int) container.Provider { return container.Value(&TestValue{N: n}) }

func clockValue(at int) container.Provider { return container.Value(Clock(&fixedClock{at: at})) }

// ── Scenario ──────────────────────────────────────────────────────────────────

func TestContainer_SingletonWinsThenProfilePriority(t *testing.T) {
	c := container.New()
	test := c.Profile("test", 50)
	prod := c.Profile("prod", 10)

	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(100), container.Singleton))
	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(200), container.ProfileScoped, container.InProfiles(test)))
	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(300), container.ProfileScoped, container.InProfiles(prod)))

	assert.Equal(t, 100, c.Get(tvType).(*TestValue).N)

	removed, err := c.RemoveBinding(tvType, profile.Default)
	require.NoError(t, err)
	assert.True(t, removed)

	assert.Equal(t, 200, c.Get(tvType).(*TestValue).N)
	assert.Equal(t, 300, c.Get(tvType, container.InProfile(prod)).(*TestValue).N)
	assert.Equal(t, 200, c.Get(tvType, container.InProfile(test)).(*TestValue).N)
}

// ── Profiles ──────────────────────────────────────────────────────────────────

func TestContainer_HighestPriorityProfileWins(t *testing.T) {
	c := container.New()
	for _, p := range []profile.Profile{c.Profile("low", 1), c.Profile("high", 9), c.Profile("mid", 5)} {
		require.NoError(t, c.RegisterComponentBinding(tvType, testValue(p.Priority()), container.ProfileScoped, container.InProfiles(p)))
	}

	assert.Equal(t, 9, c.Get(tvType).(*TestValue).N)
	assert.Equal(t, 1, c.Get(tvType, container.InProfile(c.Profile("low", 0))).(*TestValue).N)
}

func TestContainer_ProfileIsolation(t *testing.T) {
	c := container.New()
	a := c.Profile("a", 1)
	b := c.Profile("b", 2)

	for i, p := range []profile.Profile{a, b} {
		require.NoError(t, c.RegisterComponentBinding(clockType, clockValue(i+1), container.ProfileScoped, container.InProfiles(p)))
		require.NoError(t, c.RegisterComponent(repoType, NewRepo, container.ProfileScoped, container.InProfiles(p)))
	}

	ra, err := container.Resolve[*Repo](c, container.InProfile(a))
	require.NoError(t, err)
	rb, err := container.Resolve[*Repo](c, container.InProfile(b))
	require.NoError(t, err)

	assert.NotSame(t, ra, rb)
	assert.Equal(t, 1, ra.Clock.Now())
	assert.Equal(t, 2, rb.Clock.Now())

	again, err := container.Resolve[*Repo](c, container.InProfile(a))
	require.NoError(t, err)
	assert.Same(t, ra, again)
}

func TestContainer_UnknownProfile(t *testing.T) {
	c := container.New()
	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(1), container.Singleton))

	_, err := c.Resolve(tvType, container.InProfile(profile.New("nope", 3)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, container.ErrProfileNotExisted))

	var pe *container.ProfileBindingNotExistedError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "nope", pe.Profile)
}

// ── Singletons ────────────────────────────────────────────────────────────────

func TestContainer_SingletonIsStableAcrossProfiles(t *testing.T) {
	c := container.New()
	test := c.Profile("test", 50)
	require.NoError(t, c.RegisterComponentBinding(clockType, clockValue(1), container.Singleton))
	require.NoError(t, c.RegisterComponent(repoType, NewRepo, container.Singleton))
	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(0), container.ProfileScoped, container.InProfiles(test)))

	first := c.Get(repoType, container.WithScope(container.Singleton))
	second := c.Get(repoType, container.WithScope(container.Singleton))
	fromTest := c.Get(repoType, container.InProfile(test))

	require.NotNil(t, first)
	assert.Same(t, first, second)
	assert.Same(t, first, fromTest)
	assert.True(t, c.Resolved(repoType))
}

func TestContainer_DuplicateSingletonSameProfile(t *testing.T) {
	c := container.New()
	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(1), container.Singleton))

	err := c.RegisterComponentBinding(tvType, testValue(2), container.Singleton)
	require.Error(t, err)
	assert.True(t, errors.Is(err, container.ErrDuplicateSingleton))

	var de *container.DuplicateSingletonBindingError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, tvType, de.Type)
	assert.True(t, de.Profile.IsDefault())
}

func TestContainer_DuplicateSingletonAcrossProfiles(t *testing.T) {
	m := metrics.NewCollector("test")
	c := container.New(container.WithMetrics(m))
	low := c.Profile("low", 10)
	high := c.Profile("high", 50)

	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(10), container.Singleton, container.InProfiles(low)))
	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(50), container.Singleton, container.InProfiles(high)))

	assert.Equal(t, 50, c.Get(tvType).(*TestValue).N)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DuplicateSingletons))
}

func TestContainer_ShadowedSingletonResolvedFirstKeepsPriority(t *testing.T) {
	c := container.New()
	low := c.Profile("low", 10)
	high := c.Profile("high", 50)

	var built []int
	ctor := func(n int) func() *TestValue {
		return func() *TestValue {
			built = append(built, n)
			return &TestValue{N: n}
		}
	}
	require.NoError(t, c.RegisterComponent(tvType, ctor(10), container.Singleton, container.InProfiles(low)))
	require.NoError(t, c.RegisterComponent(tvType, ctor(50), container.Singleton, container.InProfiles(high)))

	fromLow := c.Get(tvType, container.InProfile(low)).(*TestValue)
	assert.Equal(t, 10, fromLow.N)
	assert.Equal(t, 50, c.Get(tvType).(*TestValue).N)
	assert.Equal(t, 50, c.Get(tvType, container.InProfile(high)).(*TestValue).N)
	assert.Same(t, fromLow, c.Get(tvType, container.InProfile(low)))
	assert.Equal(t, []int{10, 50}, built)

	removed, err := c.RemoveBinding(tvType, high)
	require.NoError(t, err)
	require.True(t, removed)
	assert.Same(t, fromLow, c.Get(tvType))
	assert.Equal(t, []int{10, 50}, built)
}

func TestContainer_HigherSingletonRegisteredAfterResolveTakesOver(t *testing.T) {
	c := container.New()
	low := c.Profile("low", 10)
	high := c.Profile("high", 50)

	require.NoError(t, c.RegisterComponent(tvType, func() *TestValue { return &TestValue{N: 10} }, container.Singleton, container.InProfiles(low)))
	fromLow := c.Get(tvType).(*TestValue)
	assert.Equal(t, 10, fromLow.N)

	require.NoError(t, c.RegisterComponent(tvType, func() *TestValue { return &TestValue{N: 50} }, container.Singleton, container.InProfiles(high)))
	assert.Equal(t, 50, c.Get(tvType).(*TestValue).N)
	assert.Same(t, fromLow, c.Get(tvType, container.InProfile(low)))
}

func TestContainer_LaterNonSingletonSupersedesInSameProfile(t *testing.T) {
	c := container.New()
	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(1), container.Transient))
	assert.Equal(t, 1, c.Get(tvType).(*TestValue).N)

	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(2), container.Transient))
	assert.Equal(t, 2, c.Get(tvType).(*TestValue).N)
	assert.Len(t, c.Registry().Bindings(profile.Default), 2) // *Container and *TestValue
}

// ── Cross-scope fallback ──────────────────────────────────────────────────────

func TestContainer_SingletonPromotesProfileDependencyOnce(t *testing.T) {
	m := metrics.NewCollector("test")
	c := container.New(container.WithMetrics(m))
	test := c.Profile("test", 50)

	var calls atomic.Int32
	require.NoError(t, c.RegisterComponentBinding(repoType, container.Func(func(container.Resolver) (*Repo, error) {
		calls.Add(1)
		return &Repo{}, nil
	}), container.ProfileScoped, container.InProfiles(test)))
	require.NoError(t, container.Provide[*Service](c, NewService, container.Singleton))

	var first *Service
	for i := 0; i < 5; i++ {
		s, err := container.Resolve[*Service](c)
		require.NoError(t, err)
		if first == nil {
			first = s
		}
		assert.Same(t, first, s)
	}

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Promotions.WithLabelValues(metrics.PromoteComposite)))

	repo, err := container.Resolve[*Repo](c, container.InProfile(test))
	require.NoError(t, err)
	assert.Same(t, first.Repo, repo)
	assert.EqualValues(t, 1, calls.Load())
}

func TestContainer_ProfileScopeBridgesFromOtherProfile(t *testing.T) {
	m := metrics.NewCollector("test")
	c := container.New(container.WithMetrics(m))
	a := c.Profile("a", 10)
	b := c.Profile("b", 20)

	require.NoError(t, c.RegisterComponentBinding(clockType, clockValue(7), container.ProfileScoped, container.InProfiles(b)))
	require.NoError(t, c.RegisterComponent(repoType, NewRepo, container.ProfileScoped, container.InProfiles(a)))

	repo, err := container.Resolve[*Repo](c, container.InProfile(a))
	require.NoError(t, err)
	assert.Equal(t, 7, repo.Clock.Now())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Promotions.WithLabelValues(metrics.PromoteBridge)))
}

func TestContainer_TransientIsNeverPromoted(t *testing.T) {
	c := container.New()
	test := c.Profile("test", 50)
	require.NoError(t, c.RegisterComponentBinding(clockType, clockValue(1), container.Transient, container.InProfiles(test)))
	require.NoError(t, c.RegisterComponent(repoType, NewRepo, container.Singleton))

	_, err := c.Resolve(repoType)
	require.Error(t, err)
	assert.True(t, errors.Is(err, container.ErrUnsatisfied))
	assert.True(t, c.ContainsBinding(clockType))
}

func TestContainer_PruneUncachedRemovesTransient(t *testing.T) {
	c := container.New(container.WithPruneUncached())
	test := c.Profile("test", 50)
	require.NoError(t, c.RegisterComponentBinding(clockType, clockValue(1), container.Transient, container.InProfiles(test)))
	require.NoError(t, c.RegisterComponent(repoType, NewRepo, container.Singleton))

	_, err := c.Resolve(repoType)
	require.Error(t, err)
	assert.False(t, c.ContainsBinding(clockType))
}

type cycA struct{ b *cycB }
type cycB struct{ a *cycA }

func TestContainer_CycleFailsInsteadOfRecursing(t *testing.T) {
	c := container.New()
	require.NoError(t, c.RegisterComponent(nil, func(b *cycB) *cycA { return &cycA{b: b} }, container.Singleton))
	require.NoError(t, c.RegisterComponent(nil, func(a *cycA) *cycB { return &cycB{a: a} }, container.Singleton))

	_, err := c.Resolve(container.TypeOf[*cycA]())
	require.Error(t, err)
	assert.True(t, errors.Is(err, container.ErrUnsatisfied))
}

// ── Collapse ──────────────────────────────────────────────────────────────────

func TestContainer_CollapseLatch(t *testing.T) {
	c := container.New()
	test := c.Profile("test", 50)
	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(1), container.ProfileScoped, container.InProfiles(test)))

	f, err := c.Registry().Field("test")
	require.NoError(t, err)
	assert.False(t, f.IsCollapsed())

	first := f.Collapse()
	assert.True(t, f.IsCollapsed())
	assert.Same(t, first, f.Collapse())

	require.NoError(t, c.RegisterComponentBinding(clockType, clockValue(2), container.ProfileScoped, container.InProfiles(test)))
	assert.False(t, f.IsCollapsed())

	second := f.Collapse()
	assert.NotSame(t, first, second)
	assert.Same(t, first, second.Parent())
	assert.True(t, second.Contains(clockType))
	assert.True(t, second.Contains(tvType))
	assert.Same(t, f.Scope(), second.Scope())
}

func TestContainer_FieldForUnknownProfile(t *testing.T) {
	c := container.New()
	_, err := c.Registry().Field("ghost")
	assert.True(t, errors.Is(err, container.ErrProfileNotExisted))
}

// ── Façade ────────────────────────────────────────────────────────────────────

func TestContainer_GetReturnsNilWhenUnbound(t *testing.T) {
	c := container.New()
	assert.Nil(t, c.Get(tvType))

	_, err := c.Resolve(tvType)
	var ue *container.UnsatisfiedRequirementError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, tvType, ue.Type)
}

func TestContainer_ResolvesItself(t *testing.T) {
	c := container.New()
	got, err := container.Resolve[*container.Container](c)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestContainer_ScopeFilter(t *testing.T) {
	c := container.New()
	test := c.Profile("test", 1)
	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(1), container.ProfileScoped, container.InProfiles(test)))

	assert.Nil(t, c.Get(tvType, container.WithScope(container.Singleton)))
	assert.NotNil(t, c.Get(tvType, container.WithScope(container.ProfileScoped)))
}

func TestContainer_Overrides(t *testing.T) {
	c := container.New()
	require.NoError(t, c.RegisterComponentBinding(clockType, clockValue(1), container.Singleton))
	require.NoError(t, c.RegisterComponent(repoType, NewRepo, container.Transient))

	repo, err := container.Resolve[*Repo](c, container.Override[Clock](&fixedClock{at: 9}))
	require.NoError(t, err)
	assert.Equal(t, 9, repo.Clock.Now())

	repo, err = container.Resolve[*Repo](c)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.Clock.Now())
}

func TestContainer_Aliases(t *testing.T) {
	c := container.New()
	require.NoError(t, c.RegisterComponent(nil, func() *fixedClock { return &fixedClock{at: 4} },
		container.Singleton, container.As(clockType)))

	byIface := c.Get(clockType)
	byConcrete := c.Get(container.TypeOf[*fixedClock]())
	require.NotNil(t, byIface)
	assert.Same(t, byIface, byConcrete)
}

func TestContainer_AliasMustBeAssignable(t *testing.T) {
	c := container.New()
	err := c.RegisterComponentBinding(tvType, testValue(1), container.Singleton, container.As(clockType))
	assert.True(t, errors.Is(err, container.ErrTypeMismatch))
}

func TestContainer_InvalidConstructor(t *testing.T) {
	c := container.New()
	err := c.RegisterComponent(nil, 42, container.Singleton)
	assert.True(t, errors.Is(err, container.ErrInvalidConstructor))

	err = c.RegisterComponent(nil, func() (int, int) { return 1, 2 }, container.Singleton)
	assert.True(t, errors.Is(err, container.ErrInvalidConstructor))
}

func TestContainer_ProviderErrorIsWrapped(t *testing.T) {
	c := container.New()
	boom := errors.New("boom")
	require.NoError(t, c.RegisterComponent(tvType, func() (*TestValue, error) { return nil, boom }, container.Singleton))

	_, err := c.Resolve(tvType)
	assert.ErrorIs(t, err, boom)

	var re *container.ResolveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, tvType, re.Type)
}

// ── Seal ──────────────────────────────────────────────────────────────────────

func TestContainer_SealRejectsRegistration(t *testing.T) {
	c := container.New()
	require.NoError(t, c.RegisterComponentBinding(tvType, testValue(1), container.Singleton))
	c.Seal()
	assert.True(t, c.Sealed())

	err := c.RegisterComponentBinding(clockType, clockValue(1), container.Singleton)
	var ie *container.ImmutableInjectorError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, clockType, ie.Type)

	_, err = c.RemoveBinding(tvType)
	assert.ErrorIs(t, err, container.ErrImmutable)

	assert.Equal(t, 1, c.Get(tvType).(*TestValue).N)
}

// ── Environment ───────────────────────────────────────────────────────────────

func TestContainer_EnvironmentRunsOnceOnMiss(t *testing.T) {
	m := metrics.NewCollector("test")
	var runs atomic.Int32
	c := container.New(
		container.WithMetrics(m),
		container.WithEnvironment("local", func(c *container.Container) error {
			runs.Add(1)
			return c.RegisterComponentBinding(tvType, testValue(7), container.Singleton)
		}),
	)

	assert.Equal(t, 7, c.Get(tvType).(*TestValue).N)
	assert.Nil(t, c.Get(clockType))
	assert.EqualValues(t, 1, runs.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Resolutions.WithLabelValues(metrics.OutcomeRetried)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Resolutions.WithLabelValues(metrics.OutcomeMiss)))
}

func TestContainer_InitEnvironmentExplicitly(t *testing.T) {
	var runs atomic.Int32
	c := container.New(container.WithEnvironment("local", func(*container.Container) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, c.InitEnvironment())
	require.NoError(t, c.InitEnvironment())
	assert.Nil(t, c.Get(tvType))
	assert.EqualValues(t, 1, runs.Load())
}

// ── Hooks ─────────────────────────────────────────────────────────────────────

type initialized struct{ ready bool }

func (i *initialized) PostConstruct() error {
	i.ready = true
	return nil
}

type broken struct{}

func (broken) PostConstruct() error { return errors.New("not ready") }

func TestContainer_PostConstructAndHooks(t *testing.T) {
	c := container.New()
	var before, after []reflect.Type
	c.BeforeResolving(func(t reflect.Type, _ profile.Profile) { before = append(before, t) })
	c.AfterResolving(func(t reflect.Type, _ any) { after = append(after, t) })

	require.NoError(t, c.RegisterComponent(nil, func() *initialized { return &initialized{} }, container.Singleton))

	v, err := container.Resolve[*initialized](c)
	require.NoError(t, err)
	assert.True(t, v.ready)

	_, err = container.Resolve[*initialized](c)
	require.NoError(t, err)
	assert.Equal(t, []reflect.Type{container.TypeOf[*initialized]()}, before)
	assert.Equal(t, []reflect.Type{container.TypeOf[*initialized]()}, after)
}

func TestContainer_PostConstructError(t *testing.T) {
	c := container.New()
	require.NoError(t, c.RegisterComponent(nil, func() broken { return broken{} }, container.Transient))

	_, err := c.Resolve(container.TypeOf[broken]())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

// ── Concurrency ───────────────────────────────────────────────────────────────

func TestContainer_ConcurrentResolveBuildsSingletonOnce(t *testing.T) {
	c := container.New()
	test := c.Profile("test", 5)
	var calls atomic.Int32
	require.NoError(t, c.RegisterComponentBinding(clockType, clockValue(3), container.ProfileScoped, container.InProfiles(test)))
	require.NoError(t, c.RegisterComponent(repoType, func(cl Clock) *Repo {
		calls.Add(1)
		time.Sleep(time.Millisecond)
		return &Repo{Clock: cl}
	}, container.Singleton))

	const n = 32
	got := make([]*Repo, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			r, err := container.Resolve[*Repo](c)
			assert.NoError(t, err)
			got[i] = r
		}()
	}
	close(start)
	wg.Wait()

	for _, r := range got[1:] {
		assert.Same(t, got[0], r)
	}
	assert.Equal(t, 3, got[0].Clock.Now())
	assert.Equal(t, int32(1), calls.Load())
}

func TestContainer_ConcurrentRegistration(t *testing.T) {
	c := container.New()
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := c.Profile("p"+string(rune('a'+i)), i)
			assert.NoError(t, c.RegisterComponentBinding(tvType, testValue(i), container.ProfileScoped, container.InProfiles(p)))
		}()
	}
	wg.Wait()

	assert.Len(t, c.Profiles(), 17)
	assert.Equal(t, 15, c.Get(tvType).(*TestValue).N)
}
