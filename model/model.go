package model

import (
	"context"
)

// Kind classifies what a loaded model consumes and produces.
type Kind string

const (
	// KindLanguage is a text generation model.
	KindLanguage Kind = "language"
	// KindAudio is a transcription / audio understanding model.
	KindAudio Kind = "audio"
)

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "local", "openai", "anthropic", "mock", etc.
	Kind     Kind   `json:"kind"`
}

// Options are the inference parameters passed with every request. Zero
// values mean "engine default".
type Options struct {
	Temperature   float64  `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP          float64  `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty" yaml:"stop_sequences,omitempty"`
}

// DefaultOptions returns the process-wide default inference options.
func DefaultOptions() Options {
	return Options{Temperature: 0.7, MaxTokens: 1024}
}

// Merge returns o with every non-zero field of override applied on top.
func (o Options) Merge(override Options) Options {
	if override.Temperature != 0 {
		o.Temperature = override.Temperature
	}
	if override.TopP != 0 {
		o.TopP = override.TopP
	}
	if override.MaxTokens != 0 {
		o.MaxTokens = override.MaxTokens
	}
	if len(override.StopSequences) > 0 {
		o.StopSequences = append([]string(nil), override.StopSequences...)
	}
	return o
}

// Asset references an out-of-band input (image, audio clip) by location.
type Asset struct {
	Kind string `json:"kind"` // "image", "audio", ...
	Path string `json:"path"`
}

// Request is the already-assembled model input: opaque prompt text plus
// optional asset references.
type Request struct {
	Prompt  string  `json:"prompt"`
	Assets  []Asset `json:"assets,omitempty"`
	Options Options `json:"options"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the final outcome of one invocation.
type Result struct {
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", ...
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Model is a loaded, ready-to-invoke inference handle.
//
// Invoke calls onToken zero or more times with generated text fragments
// before it returns. Implementations need not be safe for concurrent
// Invoke calls: the store grants one caller at a time per handle.
type Model interface {
	Invoke(ctx context.Context, req Request, onToken func(token string)) (Result, error)

	// Info returns information about the model implementation.
	Info() Info
}
