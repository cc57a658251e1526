package stream

// Emitter pushes tokens for one producing message into a bus, routed to the
// default stream or, when a tag is set, to one substream.
type Emitter struct {
	bus       *Bus
	messageID string
	tag       string
	ns        string
	typ       string
}

// NewEmitter returns an emitter for messageID. An empty tag targets the
// default stream; otherwise tokens go to the substream (tag, ns) declared
// as type T.
func NewEmitter[T any](bus *Bus, messageID, tag, ns string) *Emitter {
	e := &Emitter{bus: bus, messageID: messageID, tag: tag}
	if tag != "" {
		e.ns = normalizeNS(ns)
		e.typ = TypeName[T]()
	}
	return e
}

// Bus returns the target bus.
func (e *Emitter) Bus() *Bus { return e.bus }

// MessageID returns the producing message id.
func (e *Emitter) MessageID() string { return e.messageID }

// Tag returns the target tag, empty for the default stream.
func (e *Emitter) Tag() string { return e.tag }

// Namespace returns the target namespace, empty for the default stream.
func (e *Emitter) Namespace() string { return e.ns }

// Emit pushes one token.
func (e *Emitter) Emit(text string) error {
	return e.bus.Push(Token{
		MessageID: e.messageID,
		Text:      text,
		Tag:       e.tag,
		Namespace: e.ns,
		Type:      e.typ,
	})
}

// Finish ends the emitter's substream with err. It is a no-op for the
// default stream, which ends with the bus.
func (e *Emitter) Finish(err error) error {
	if e.tag == "" {
		return nil
	}
	return e.bus.Finish(e.tag, e.ns, e.messageID, e.typ, err)
}
