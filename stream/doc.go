// Package stream fans the tokens of one invocation out to independent
// consumers.
//
// A Bus is the ingest point. Producers push tokens through an Emitter; an
// untagged token belongs to the default stream, a tagged one to the
// substream keyed by (tag, namespace). The bus keeps every token, so each
// consumer replays from its own start:
//
//	bus := stream.NewBus()
//	out := stream.NewStream[string](bus)
//	text, err := out.Collect(ctx)
//
// Substreams are typed. Resolve blocks until the first token for the pair
// arrives and fails if the bus closes first or if the substream was
// produced as a different type:
//
//	plan, err := stream.Resolve[Plan](ctx, bus, "plan", "")
//	partials, errs := plan.Partials(ctx)
//
// A substream is bound to the first message producing into it; tokens of
// other messages are rejected with ErrSubstreamConflict.
package stream
