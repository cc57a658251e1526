package stream

import (
	"errors"
	"fmt"
	"reflect"
)

// DefaultNamespace is the namespace of tagged tokens that name none.
const DefaultNamespace = "global"

// Token is one generated text fragment.
type Token struct {
	// Seq is the position in the bus log, assigned by Push.
	Seq int `json:"seq"`
	// MessageID identifies the producing invocation.
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	// Tag and Namespace route the token into a substream. An empty Tag
	// means the token belongs to the default stream.
	Tag       string `json:"tag,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	// Type names the Go type the substream decodes into.
	Type string `json:"type,omitempty"`
}

// Tagged reports whether the token belongs to a substream.
func (t Token) Tagged() bool { return t.Tag != "" }

// TypeName returns the type identity used to match substreams.
func TypeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

var (
	// ErrBusClosed is returned when pushing to a closed bus.
	ErrBusClosed = errors.New("stream: bus closed")

	// ErrSubstreamNeverMaterialized is returned when the bus closes before
	// any token for the requested substream arrived.
	ErrSubstreamNeverMaterialized = errors.New("stream: substream never materialized")

	// ErrInvalidSubstreamType is matched by *InvalidSubstreamTypeError.
	ErrInvalidSubstreamType = errors.New("stream: invalid substream type")

	// ErrSubstreamConflict is returned when a second message produces into
	// a substream already bound to another message.
	ErrSubstreamConflict = errors.New("stream: substream bound to another message")

	// ErrDecodePartialFailed is matched by *DecodeError.
	ErrDecodePartialFailed = errors.New("stream: decode failed")
)

// InvalidSubstreamTypeError reports a substream requested as a different
// type than it was produced as.
type InvalidSubstreamTypeError struct {
	Tag       string
	Namespace string
	Want      string
	Got       string
}

func (e *InvalidSubstreamTypeError) Error() string {
	return fmt.Sprintf("stream: substream %q/%q produced as %s, requested as %s", e.Namespace, e.Tag, e.Got, e.Want)
}

// Is matches ErrInvalidSubstreamType.
func (e *InvalidSubstreamTypeError) Is(target error) bool { return target == ErrInvalidSubstreamType }

// DecodeError carries the underlying decode failure and the text that
// failed.
type DecodeError struct {
	Text string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("stream: decode failed after %d bytes: %v", len(e.Text), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is matches ErrDecodePartialFailed.
func (e *DecodeError) Is(target error) bool { return target == ErrDecodePartialFailed }
