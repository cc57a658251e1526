package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/localmesh/logging"
	"github.com/hupe1980/localmesh/model"
	"github.com/hupe1980/localmesh/store"
	"github.com/hupe1980/localmesh/stream"
)

func TestEnvironment_Defaults(t *testing.T) {
	var env Environment

	assert.Same(t, store.Default(), env.ModelStore())
	assert.Equal(t, model.DefaultOptions(), env.Options())
	assert.Equal(t, stream.DefaultNamespace, env.Namespace())
	assert.IsType(t, logging.NoOpLogger{}, env.Logger())
	assert.Equal(t, 0, env.MaxModelCalls())
	for _, k := range EnvKeys() {
		assert.False(t, env.IsSet(k), k.String())
	}
}

func TestEnvironment_CopyOnOverride(t *testing.T) {
	parent := Environment{}.WithNamespace("parent")
	child := parent.WithNamespace("child").WithMaxModelCalls(3)

	assert.Equal(t, "parent", parent.Namespace())
	assert.False(t, parent.IsSet(EnvMaxModelCalls))
	assert.Equal(t, "child", child.Namespace())
	assert.Equal(t, 3, child.MaxModelCalls())
}

func TestEnvironment_OptionsAreIsolated(t *testing.T) {
	stops := []string{"\n"}
	env := Environment{}.WithOptions(model.Options{StopSequences: stops})
	stops[0] = "mutated"

	assert.Equal(t, []string{"\n"}, env.Options().StopSequences)
}

func TestEnvironment_NilStoreDisallowsAccess(t *testing.T) {
	env := Environment{}.WithModelStore(nil)
	assert.IsType(t, store.NoOp{}, env.ModelStore())
}

func TestEnvironment_Merge(t *testing.T) {
	s := store.New()
	base := Environment{}.WithNamespace("base").WithMaxModelCalls(1)
	override := Environment{}.WithModelStore(s).WithMaxModelCalls(5)

	merged := base.Merge(override)
	assert.Equal(t, "base", merged.Namespace())
	assert.Equal(t, 5, merged.MaxModelCalls())
	assert.Same(t, s, merged.ModelStore())
	assert.Equal(t, 1, base.MaxModelCalls())
}

func TestEnvironment_Get(t *testing.T) {
	env := Environment{}.WithNamespace("ns")
	assert.Equal(t, "ns", env.Get(EnvNamespace))
	assert.Equal(t, 0, env.Get(EnvMaxModelCalls))
	assert.Nil(t, env.Get(EnvKey(99)))
	assert.Equal(t, "EnvKey(99)", EnvKey(99).String())
}

func TestModelLimiter(t *testing.T) {
	l := NewModelLimiter(2)
	assert.NoError(t, l.Acquire())
	assert.NoError(t, l.Acquire())
	assert.ErrorIs(t, l.Acquire(), ErrModelCallLimit)
	assert.Equal(t, 2, l.Count())
	assert.Equal(t, 0, l.Remaining())

	unlimited := NewModelLimiter(0)
	for i := 0; i < 10; i++ {
		assert.NoError(t, unlimited.Acquire())
	}
	assert.Equal(t, -1, unlimited.Remaining())

	var none *ModelLimiter
	assert.NoError(t, none.Acquire())
}
