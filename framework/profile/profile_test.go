package profile_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-injector/framework/profile"
)

func TestEqual_CaseInsensitiveName(t *testing.T) {
	assert.True(t, profile.New("Test", 5).Equal(profile.New("test", 5)))
	assert.False(t, profile.New("test", 5).Equal(profile.New("test", 6)))
	assert.False(t, profile.New("test", 5).Equal(profile.New("prod", 5)))
}

func TestSort_PriorityThenName(t *testing.T) {
	ps := []profile.Profile{
		profile.Default,
		profile.New("prod", 10),
		profile.New("beta", 50),
		profile.New("alpha", 50),
	}
	profile.Sort(ps)

	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name()
	}
	assert.Equal(t, []string{"alpha", "beta", "prod", profile.DefaultName}, names)
}

func TestDefault_IsLowest(t *testing.T) {
	assert.Positive(t, profile.Compare(profile.Default, profile.New("anything", -1000)))
	assert.True(t, profile.Default.IsDefault())
	assert.Equal(t, "main", profile.Default.String())
	assert.Equal(t, "test:50", profile.New("test", 50).String())
}

func TestRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	reg := profile.NewRegistry()

	first := reg.GetOrCreate("test", 50)
	again := reg.GetOrCreate("TEST", 99)

	assert.True(t, first.Equal(again))
	assert.Equal(t, 50, again.Priority())
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	reg := profile.NewRegistry()
	var wg sync.WaitGroup
	got := make([]profile.Profile, 32)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = reg.GetOrCreate("shared", i)
		}(i)
	}
	wg.Wait()

	for _, p := range got {
		assert.True(t, p.Equal(got[0]))
	}
}

func TestRegistry_AllSorted(t *testing.T) {
	reg := profile.NewRegistry()
	reg.GetOrCreate("prod", 10)
	reg.GetOrCreate("test", 50)

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, "test", all[0].Name())
	assert.Equal(t, "prod", all[1].Name())
	assert.True(t, all[2].IsDefault())

	_, ok := reg.Lookup("missing")
	assert.False(t, ok)
}
