package agent

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/stream"
)

// TaggedAgent routes every token its child emits into the substream
// (tag, namespace) of the invocation's bus instead of the default stream.
// The namespace is read from the environment when the node runs.
//
// Each run produces one new message, so a TaggedAgent must run at most
// once per invocation and namespace; a second run fails with
// stream.ErrSubstreamConflict. Put loops inside the tagged node, not
// around it.
type TaggedAgent struct {
	BaseAgent
	tag        string
	typ        string
	child      core.Agent
	newEmitter func(bus *stream.Bus, messageID, tag, ns string) *stream.Emitter
}

// Tagged wraps child so its tokens form a substream of type T. Consumers
// resolve it with stream.Resolve[T](ctx, bus, tag, namespace).
func Tagged[T any](tag string, child core.Agent) *TaggedAgent {
	return &TaggedAgent{
		BaseAgent:  NewBaseAgent(fmt.Sprintf("%s#%s", child.Name(), tag), "tagged"),
		tag:        tag,
		typ:        stream.TypeName[T](),
		child:      child,
		newEmitter: stream.NewEmitter[T],
	}
}

// Tag returns the substream tag.
func (t *TaggedAgent) Tag() string { return t.tag }

// TypeName returns the declared element type of the substream.
func (t *TaggedAgent) TypeName() string { return t.typ }

// SubAgents returns the wrapped child.
func (t *TaggedAgent) SubAgents() []core.Agent { return []core.Agent{t.child} }

// Run implements core.Agent. The substream is finished with the child's
// error when the child returns, also when it emitted nothing.
func (t *TaggedAgent) Run(ic *core.InvocationContext) (string, error) {
	em := t.newEmitter(ic.Bus, uuid.NewString(), t.tag, ic.Env.Namespace())

	ic.LogDebug("agent.tagged.start", "tag", t.tag, "namespace", em.Namespace(), "message_id", em.MessageID())

	out, err := runChild(ic.WithEmitter(em), t.child)
	if ferr := em.Finish(err); ferr != nil && err == nil {
		err = ferr
	}

	return out, err
}
