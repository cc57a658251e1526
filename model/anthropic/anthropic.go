// Package anthropic adapts the Anthropic Messages streaming API to
// model.Model.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/localmesh/model"
)

// Options configures the Anthropic model adapter. Request options override
// the sampling defaults per call.
type Options struct {
	Model       anthropic.Model
	System      string
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind model.Model.
type Model struct {
	client *anthropic.Client
	opts   Options
}

var _ model.Model = (*Model)(nil)

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(clientOpts []option.RequestOption, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// NewFactory returns a model.Factory for ConfigLoader. The Params "model"
// and "system" of the loader config override the adapter options.
func NewFactory(clientOpts []option.RequestOption, optFns ...func(o *Options)) model.Factory {
	return func(_ context.Context, cfg model.Config) (model.Model, error) {
		return NewModel(clientOpts, append(optFns, func(o *Options) {
			if v := cfg.Params["model"]; v != "" {
				o.Model = anthropic.Model(v)
			}
			if v := cfg.Params["system"]; v != "" {
				o.System = v
			}
		})...), nil
	}
}

// Invoke streams a message for req, calling onToken for every text delta.
func (m *Model) Invoke(ctx context.Context, req model.Request, onToken func(token string)) (model.Result, error) {
	stream := m.client.Messages.NewStreaming(ctx, m.buildParams(req))
	defer stream.Close()

	msg := anthropic.Message{}
	var result model.Result
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return result, fmt.Errorf("anthropic accumulate: %w", err)
		}

		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				result.Text += delta.Text
				onToken(delta.Text)
			}
		}
	}

	result.FinishReason = "stop"
	if msg.StopReason != "" {
		result.FinishReason = string(msg.StopReason)
	}
	if msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0 {
		result.Usage = &model.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		}
	}

	if err := stream.Err(); err != nil {
		return result, fmt.Errorf("anthropic streaming error: %w", err)
	}
	return result, nil
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	temperature := m.opts.Temperature
	if req.Options.Temperature != 0 {
		temperature = req.Options.Temperature
	}
	maxTokens := m.opts.MaxTokens
	if req.Options.MaxTokens != 0 {
		maxTokens = int64(req.Options.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		StopSequences: req.Options.StopSequences,
	}
	if req.Options.TopP != 0 {
		params.TopP = anthropic.Float(req.Options.TopP)
	}
	if m.opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: m.opts.System}}
	}
	return params
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:     string(m.opts.Model),
		Provider: "anthropic",
		Kind:     model.KindLanguage,
	}
}
