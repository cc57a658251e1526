package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Codec turns the text of a stream into typed values.
type Codec[T any] interface {
	// NewDecoder returns a fresh incremental decoder.
	NewDecoder() Decoder[T]
	// Decode decodes the complete text.
	Decode(text string) (T, error)
}

// Decoder consumes tokens one at a time. Feed returns the refined value and
// true when the input so far yields a new value. An error is terminal.
type Decoder[T any] interface {
	Feed(token string) (T, bool, error)
}

// DefaultCodec returns TextCodec for string and JSONCodec otherwise.
func DefaultCodec[T any]() Codec[T] {
	if c, ok := any(TextCodec{}).(Codec[T]); ok {
		return c
	}
	return JSONCodec[T]{}
}

// TextCodec concatenates tokens.
type TextCodec struct{}

var _ Codec[string] = TextCodec{}

// NewDecoder implements Codec.
func (TextCodec) NewDecoder() Decoder[string] { return &textDecoder{} }

// Decode implements Codec.
func (TextCodec) Decode(text string) (string, error) { return text, nil }

type textDecoder struct{ sb strings.Builder }

func (d *textDecoder) Feed(token string) (string, bool, error) {
	if token == "" {
		return d.sb.String(), false, nil
	}
	d.sb.WriteString(token)
	return d.sb.String(), true, nil
}

// JSONCodec decodes JSON into T. Its decoder repairs truncated input by
// closing open strings, arrays and objects, and by dropping an incomplete
// trailing member when that is not enough.
type JSONCodec[T any] struct{}

// NewDecoder implements Codec.
func (JSONCodec[T]) NewDecoder() Decoder[T] { return &jsonDecoder[T]{} }

// Decode implements Codec.
func (JSONCodec[T]) Decode(text string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		var zero T
		return zero, &DecodeError{Text: text, Err: err}
	}
	return v, nil
}

type jsonDecoder[T any] struct {
	buf  strings.Builder
	last string
}

func (d *jsonDecoder[T]) Feed(token string) (T, bool, error) {
	var zero T
	d.buf.WriteString(token)
	text := d.buf.String()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zero, false, nil
	}
	if !strings.ContainsRune(`{["-0123456789tfn`, rune(trimmed[0])) {
		return zero, false, &DecodeError{Text: text, Err: fmt.Errorf("unexpected leading %q", trimmed[0])}
	}

	for _, candidate := range repairCandidates(trimmed) {
		if candidate == d.last {
			return zero, false, nil
		}
		var v T
		err := json.Unmarshal([]byte(candidate), &v)
		if err == nil {
			d.last = candidate
			return v, true, nil
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return zero, false, &DecodeError{Text: text, Err: err}
		}
	}

	return zero, false, nil
}

// maxRepairCandidates bounds the truncation fallbacks tried per token.
const maxRepairCandidates = 4

// repairCandidates returns closed variants of the partial JSON document s,
// most complete first.
func repairCandidates(s string) []string {
	cuts := structuralCuts(s)

	out := make([]string, 0, maxRepairCandidates)
	if c, ok := closeJSON(s); ok {
		out = append(out, c)
	}
	for i := len(cuts) - 1; i >= 0 && len(out) < maxRepairCandidates; i-- {
		pos := cuts[i]
		prefix := s[:pos]
		if s[pos] == '{' || s[pos] == '[' {
			prefix = s[:pos+1]
		}
		if c, ok := closeJSON(prefix); ok {
			out = append(out, c)
		}
	}
	return out
}

// structuralCuts returns the offsets of ',', '{' and '[' outside strings.
func structuralCuts(s string) []int {
	var cuts []int
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == ',' || c == '{' || c == '[':
			cuts = append(cuts, i)
		}
	}
	return cuts
}

// closeJSON terminates an open string and closes every open container. It
// reports false when s has more closers than openers.
func closeJSON(s string) (string, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
		}
	}

	var sb strings.Builder
	sb.Grow(len(s) + len(stack) + 1)
	if escaped {
		s = s[:len(s)-1]
	}
	sb.WriteString(s)
	if inString {
		sb.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		sb.WriteByte(stack[i])
	}
	return sb.String(), true
}
