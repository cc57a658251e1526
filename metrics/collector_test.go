package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localmesh/agent"
	"github.com/hupe1980/localmesh/engine"
	internaltest "github.com/hupe1980/localmesh/internal/testutil"
	"github.com/hupe1980/localmesh/model"
	"github.com/hupe1980/localmesh/store"
)

func TestCollector_StoreEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("test", reg)
	s := store.New(func(o *store.Options) { o.Observer = c })

	ok := internaltest.NewCountingLoader("ok")
	bad := internaltest.NewCountingLoader("bad").FailNext(errors.New("boom"))
	ctx := context.Background()

	require.NoError(t, s.Prewarm(ctx, ok))
	require.NoError(t, s.WithModelAccess(ctx, ok, func(context.Context, model.Model) error { return nil }))
	require.Error(t, s.Prewarm(ctx, bad))
	require.NoError(t, s.Evict(ctx, ok.Key()))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.loadsTotal.WithLabelValues("ok", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loadsTotal.WithLabelValues("bad", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.evictions.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.loadsInFlight.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.accessWait))
}

func TestCollector_InvocationCallbacks(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("test", reg)

	e := engine.New(func(o *engine.Options) { o.Callbacks = c.Callbacks() })
	e.Register(agent.Echo("echo"))

	_, err := e.InvokeSync(context.Background(), "echo", "hello")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocationsTotal.WithLabelValues("echo", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocationTokens.WithLabelValues("echo")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.invocationDuration))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", outcome(nil))
	assert.Equal(t, "cancelled", outcome(context.Canceled))
	assert.Equal(t, "error", outcome(errors.New("x")))
}
