package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCloseJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a": 1`, `{"a": 1}`, true},
		{`{"a": "x`, `{"a": "x"}`, true},
		{`[1, [2`, `[1, [2]]`, true},
		{`"ab\`, `"ab"`, true},
		{`{"a": "}"`, `{"a": "}"}`, true},
		{`[1]]`, ``, false},
	}
	for _, tt := range tests {
		got, ok := closeJSON(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestJSONDecoder_RepairsTruncation(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}

	dec := JSONCodec[person]{}.NewDecoder()

	v, ok, err := dec.Feed(`{"name": "Ad`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ad", v.Name)

	v, ok, err = dec.Feed(`a", "age": tr`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", v.Name)

	_, ok, err = dec.Feed(``)
	require.NoError(t, err)
	assert.False(t, ok, "unchanged input yields no new value")
}

func TestJSONDecoder_TypeErrorIsTerminal(t *testing.T) {
	type person struct {
		Age int `json:"age"`
	}
	dec := JSONCodec[person]{}.NewDecoder()

	_, _, err := dec.Feed(`{"age": "old"`)
	assert.ErrorIs(t, err, ErrDecodePartialFailed)
}

func TestDefaultCodec(t *testing.T) {
	_, isText := DefaultCodec[string]().(TextCodec)
	assert.True(t, isText)

	_, isJSON := DefaultCodec[plan]().(JSONCodec[plan])
	assert.True(t, isJSON)
}

func TestJSONDecoder_PrefixesOfValidDocuments(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		in := plan{Steps: rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,6}`), 0, 5).Draw(rt, "steps")}
		data, err := json.Marshal(in)
		if err != nil {
			rt.Fatalf("marshal: %v", err)
		}

		dec := JSONCodec[plan]{}.NewDecoder()
		var last plan
		for i := 0; i < len(data); i++ {
			v, ok, err := dec.Feed(string(data[i]))
			if err != nil {
				rt.Fatalf("prefix %q: %v", data[:i+1], err)
			}
			if ok {
				last = v
			}
		}
		if len(last.Steps) != len(in.Steps) {
			rt.Fatalf("final partial %v, want %v", last, in)
		}
	})
}
