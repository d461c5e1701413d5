package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-injector/framework/metrics"
)

func TestCollector_Counts(t *testing.T) {
	c := metrics.NewCollector("test")

	c.ObserveResolution(metrics.OutcomeHit, time.Millisecond)
	c.ObserveResolution(metrics.OutcomeHit, time.Millisecond)
	c.ObserveResolution(metrics.OutcomeMiss, time.Millisecond)
	c.IncCollapse("prod")
	c.IncPromotion(metrics.PromoteComposite)
	c.IncDuplicateSingleton()
	c.IncPrototype()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Resolutions.WithLabelValues(metrics.OutcomeHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Resolutions.WithLabelValues(metrics.OutcomeMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Collapses.WithLabelValues("prod")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Promotions.WithLabelValues(metrics.PromoteComposite)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DuplicateSingletons))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Prototypes))
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a := metrics.NewCollector("dup")
	b := metrics.NewCollector("dup")
	require.NotSame(t, a.Registry(), b.Registry())
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.ObserveResolution(metrics.OutcomeError, 0)
		c.IncCollapse("x")
		c.IncPromotion(metrics.PromoteBridge)
		c.IncDuplicateSingleton()
		c.IncPrototype()
	})
	assert.Nil(t, c.Registry())
}
