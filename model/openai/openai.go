// Package openai adapts the OpenAI Chat Completions streaming API to
// model.Model so hosted models can be shared through a store like local
// ones.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/localmesh/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI model adapter. Request options override the
// sampling defaults per call.
type Options struct {
	Model               string
	System              string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind model.Model.
type Model struct {
	client *openai.Client
	opts   Options
}

var _ model.Model = (*Model)(nil)

// NewModel creates a new OpenAI model using the official client. The API
// key is read from OPENAI_API_KEY unless a client option sets it.
func NewModel(clientOpts []option.RequestOption, optFns ...func(o *Options)) *Model {
	client := openai.NewClient(clientOpts...)
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
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
				o.Model = v
			}
			if v := cfg.Params["system"]; v != "" {
				o.System = v
			}
		})...), nil
	}
}

// Invoke streams a chat completion for req, calling onToken for every
// content delta.
func (m *Model) Invoke(ctx context.Context, req model.Request, onToken func(token string)) (model.Result, error) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, m.buildParams(req))
	defer stream.Close()

	var (
		text   strings.Builder
		result model.Result
	)
	for stream.Next() {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				onToken(ch.Delta.Content)
			}
			if ch.FinishReason != "" {
				result.FinishReason = ch.FinishReason
			}
		}
		if ck.Usage.TotalTokens > 0 {
			result.Usage = &model.TokenUsage{
				PromptTokens:     int(ck.Usage.PromptTokens),
				CompletionTokens: int(ck.Usage.CompletionTokens),
				TotalTokens:      int(ck.Usage.TotalTokens),
			}
		}
	}
	result.Text = text.String()

	if err := stream.Err(); err != nil {
		return result, fmt.Errorf("openai streaming error: %w", err)
	}
	return result, nil
}

func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if m.opts.System != "" {
		messages = append(messages, openai.SystemMessage(m.opts.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	temperature := m.opts.Temperature
	if req.Options.Temperature != 0 {
		temperature = req.Options.Temperature
	}
	maxTokens := m.opts.MaxCompletionTokens
	if req.Options.MaxTokens != 0 {
		maxTokens = int64(req.Options.MaxTokens)
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.Options.TopP != 0 {
		params.TopP = openai.Float(req.Options.TopP)
	}
	if len(req.Options.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Options.StopSequences}
	}
	return params
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:     m.opts.Model,
		Provider: "openai",
		Kind:     model.KindLanguage,
	}
}
