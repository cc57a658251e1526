package stream

import (
	"fmt"
	"sync"
)

type subKey struct {
	tag string
	ns  string
}

// substream is the bus-side state of one (tag, namespace) pair.
type substream struct {
	typ       string
	messageID string

	finished bool
	err      error

	// view caches the *Stream[T] handed out by Resolve.
	view any
}

// Bus is the single producer, many consumer funnel of one invocation tree.
// It retains every token for its lifetime.
type Bus struct {
	mu     sync.Mutex
	tokens []Token
	subs   map[subKey]*substream

	closed bool
	err    error
	done   chan struct{}

	// signal is closed and replaced on every change.
	signal chan struct{}
}

// NewBus creates an open bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[subKey]*substream),
		done:   make(chan struct{}),
		signal: make(chan struct{}),
	}
}

func normalizeNS(ns string) string {
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

// broadcast must be called with mu held.
func (b *Bus) broadcast() {
	close(b.signal)
	b.signal = make(chan struct{})
}

// Push appends tok. A tagged token materializes its substream on first use
// and binds it to tok.MessageID.
func (b *Bus) Push(tok Token) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	if tok.Tagged() {
		tok.Namespace = normalizeNS(tok.Namespace)
		if _, err := b.bind(tok.Tag, tok.Namespace, tok.MessageID, tok.Type); err != nil {
			return err
		}
	}

	tok.Seq = len(b.tokens)
	b.tokens = append(b.tokens, tok)
	b.broadcast()

	return nil
}

// bind returns the substream for (tag, ns), creating it for messageID. Must
// be called with mu held.
func (b *Bus) bind(tag, ns, messageID, typ string) (*substream, error) {
	key := subKey{tag: tag, ns: ns}
	sub, ok := b.subs[key]
	if !ok {
		sub = &substream{typ: typ, messageID: messageID}
		b.subs[key] = sub
		return sub, nil
	}
	if sub.messageID != messageID {
		return nil, fmt.Errorf("%w: %q/%q", ErrSubstreamConflict, ns, tag)
	}
	if sub.finished {
		return nil, fmt.Errorf("%w: substream %q/%q finished", ErrBusClosed, ns, tag)
	}
	if typ != "" && sub.typ != "" && typ != sub.typ {
		return nil, &InvalidSubstreamTypeError{Tag: tag, Namespace: ns, Want: typ, Got: sub.typ}
	}
	if sub.typ == "" {
		sub.typ = typ
	}
	return sub, nil
}

// Finish ends the substream (tag, ns) produced by messageID with err. A
// substream that never received a token is materialized empty, so
// resolvers see it instead of waiting for the bus to close.
func (b *Bus) Finish(tag, ns, messageID, typ string, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	ns = normalizeNS(ns)
	sub, bindErr := b.bind(tag, ns, messageID, typ)
	if bindErr != nil {
		return bindErr
	}
	sub.finished = true
	sub.err = err
	b.broadcast()

	return nil
}

// Close ends the bus. A nil err means success. Only the first call has an
// effect.
func (b *Bus) Close(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.err = err
	close(b.done)
	b.broadcast()
}

// Done is closed once the bus is closed.
func (b *Bus) Done() <-chan struct{} { return b.done }

// Err returns the close error. It is nil while the bus is open.
func (b *Bus) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Len returns the number of tokens pushed so far.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tokens)
}

// Snapshot returns a copy of the token log.
func (b *Bus) Snapshot() []Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Token(nil), b.tokens...)
}

// Reader returns a reader over every token on the bus, tagged or not.
func (b *Bus) Reader() *Reader {
	return newReader(b, 0, func(Token) bool { return true }, b.closeState)
}

// closeState reports the end of the whole bus. Must be called with mu held.
func (b *Bus) closeState() (bool, error) {
	return b.closed, b.err
}
