package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localmesh/agent"
	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/model"
	"github.com/hupe1980/localmesh/store"
	"github.com/hupe1980/localmesh/stream"
)

type plan struct {
	Steps []string `json:"steps"`
}

func testEnv() core.Environment {
	return core.Environment{}.WithModelStore(store.New())
}

func TestRunner_StreamsAndWaits(t *testing.T) {
	m := model.NewMockModel("m", "mock")
	m.AddResponse("hello", "world")
	r := New(agent.NewModelAgentFromModel("assistant", m), func(o *Options) { o.Env = testEnv() })

	inv, err := r.Run(context.Background(), "hello")
	require.NoError(t, err)

	text, err := inv.Stream.Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "world", text)

	out, err := inv.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "world", out)

	<-inv.Bus.Done()
	assert.NoError(t, inv.Bus.Err())
}

func TestRunner_SuspendedSubstream(t *testing.T) {
	gate := make(chan struct{})
	producer := agent.NewFuncAgent("planner", func(ic *core.InvocationContext) (string, error) {
		<-gate
		if err := ic.Emit(`{"steps": ["pack"]}`); err != nil {
			return "", err
		}
		return "", nil
	})
	root := agent.Namespaced("trip", agent.Tagged[plan]("plan", producer))
	r := New(root, func(o *Options) { o.Env = testEnv() })

	inv, err := r.Run(context.Background(), "")
	require.NoError(t, err)

	resolved := make(chan *stream.Stream[plan], 1)
	go func() {
		s, err := stream.Resolve[plan](context.Background(), inv.Bus, "plan", "trip")
		if err == nil {
			resolved <- s
		}
	}()

	select {
	case <-resolved:
		t.Fatal("resolved before the first token")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	s := <-resolved
	got, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"pack"}, got.Steps)
}

func TestRunner_NeverMaterializedFailsOnClose(t *testing.T) {
	r := New(agent.Echo("echo"), func(o *Options) { o.Env = testEnv() })

	inv, err := r.Run(context.Background(), "x")
	require.NoError(t, err)

	_, err = stream.Resolve[string](context.Background(), inv.Bus, "missing", "")
	assert.ErrorIs(t, err, stream.ErrSubstreamNeverMaterialized)
}

func TestRunner_AgentErrorClosesBus(t *testing.T) {
	boom := errors.New("boom")
	r := New(agent.NewFuncAgent("failing", func(ic *core.InvocationContext) (string, error) {
		_ = ic.Emit("partial")
		return "", boom
	}))

	inv, err := r.Run(context.Background(), "")
	require.NoError(t, err)

	_, err = inv.Wait(context.Background())
	assert.ErrorIs(t, err, boom)

	text, err := inv.Stream.Text(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", text)
}

func TestRunner_Cancel(t *testing.T) {
	started := make(chan struct{})
	r := New(agent.NewFuncAgent("blocked", func(ic *core.InvocationContext) (string, error) {
		close(started)
		<-ic.Done()
		return "", ic.Err()
	}))

	inv, err := r.Run(context.Background(), "", func(o *RunOptions) { o.InvocationID = "inv-1" })
	require.NoError(t, err)
	<-started

	assert.Equal(t, []string{"inv-1"}, r.Active())
	require.NoError(t, r.Cancel("inv-1"))

	_, err = inv.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.Active())
	assert.ErrorIs(t, r.Cancel("inv-1"), ErrInvocationNotFound)
}

func TestRunner_DuplicateInvocationID(t *testing.T) {
	release := make(chan struct{})
	r := New(agent.NewFuncAgent("blocked", func(*core.InvocationContext) (string, error) {
		<-release
		return "", nil
	}))
	defer close(release)

	_, err := r.Run(context.Background(), "", func(o *RunOptions) { o.InvocationID = "same" })
	require.NoError(t, err)
	_, err = r.Run(context.Background(), "", func(o *RunOptions) { o.InvocationID = "same" })
	assert.Error(t, err)
}

func TestRunner_HooksAndPanics(t *testing.T) {
	var after []string
	hooks := Hooks{
		BeforeRun: func(ic *core.InvocationContext) error {
			if ic.Input == "deny" {
				return errors.New("denied")
			}
			return nil
		},
		AfterRun: func(_ *core.InvocationContext, out string, err error) {
			after = append(after, out)
		},
	}
	r := New(agent.NewFuncAgent("f", func(ic *core.InvocationContext) (string, error) {
		if ic.Input == "panic" {
			panic("bad")
		}
		return "ok:" + ic.Input, nil
	}), func(o *Options) { o.Hooks = hooks })

	ctx := context.Background()

	out, err := r.RunSync(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "ok:a", out)

	_, err = r.RunSync(ctx, "deny")
	assert.EqualError(t, err, "denied")

	_, err = r.RunSync(ctx, "panic")
	assert.ErrorContains(t, err, "panicked")

	assert.Equal(t, []string{"ok:a", "", ""}, after)
}

func TestRunner_EnvironmentAndAssets(t *testing.T) {
	var seen *core.InvocationContext
	r := New(agent.NewFuncAgent("spy", func(ic *core.InvocationContext) (string, error) {
		seen = ic
		return "", nil
	}), func(o *Options) { o.Env = core.Environment{}.WithNamespace("base").WithMaxModelCalls(3) })

	_, err := r.RunSync(context.Background(), "in", func(o *RunOptions) {
		o.Env = core.Environment{}.WithNamespace("override")
		o.Assets = []model.Asset{{Kind: "image", Path: "a.png"}}
	})
	require.NoError(t, err)

	assert.Equal(t, "override", seen.Env.Namespace())
	assert.Equal(t, 3, seen.Env.MaxModelCalls())
	assert.Equal(t, 3, seen.Limiter.Remaining())
	assert.Equal(t, []model.Asset{{Kind: "image", Path: "a.png"}}, seen.Assets)
	assert.Equal(t, core.AgentInfo{Name: "spy", Type: "func"}, seen.Agent)
}

func TestRunner_NoAgent(t *testing.T) {
	_, err := New(nil).Run(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoAgent)
}
