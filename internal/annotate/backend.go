package annotate

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/return-etl/internal/failure"
	"github.com/sells-group/return-etl/pkg/anthropic"
	"github.com/sells-group/return-etl/pkg/deepseek"
)

// Backend sends a prompt to an LLM and returns the assistant's text.
// Implementations build their wire request, hand it to sink (when non-nil)
// exactly once before sending, and classify failures: transport errors for
// unreachable endpoints and non-2xx statuses, data errors for responses
// without the expected structure.
type Backend interface {
	Name() string
	Complete(ctx context.Context, p Prompt, sink RequestSink) (string, error)
}

// RequestSink observes outgoing request bodies.
type RequestSink interface {
	Record(body any) error
}

func record(sink RequestSink, body any) error {
	if sink == nil {
		return nil
	}
	return eris.Wrap(sink.Record(body), "annotate: record request")
}

// DeepSeekBackend talks to an OpenAI-compatible chat completions endpoint.
type DeepSeekBackend struct {
	client deepseek.Client
	model  string
}

// NewDeepSeekBackend wraps a deepseek client. An empty model uses the
// client's default.
func NewDeepSeekBackend(client deepseek.Client, model string) *DeepSeekBackend {
	return &DeepSeekBackend{client: client, model: model}
}

func (b *DeepSeekBackend) Name() string { return "deepseek" }

func (b *DeepSeekBackend) Complete(ctx context.Context, p Prompt, sink RequestSink) (string, error) {
	req := deepseek.ChatCompletionRequest{
		Model: b.model,
		Messages: []deepseek.Message{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		ResponseFormat: deepseek.JSONObject,
	}
	if err := record(sink, req); err != nil {
		return "", err
	}

	resp, err := b.client.ChatCompletion(ctx, req)
	if err != nil {
		var se *deepseek.StatusError
		switch {
		case errors.As(err, &se):
			return "", failure.Transport(err, se.StatusCode, "annotate: deepseek")
		case errors.Is(err, deepseek.ErrMalformedResponse):
			return "", failure.Wrap(failure.KindData, err, "annotate: deepseek")
		default:
			return "", failure.Transport(err, 0, "annotate: deepseek")
		}
	}
	content, err := resp.Content()
	if err != nil {
		return "", failure.Wrap(failure.KindData, err, "annotate: deepseek")
	}
	return content, nil
}

// AnthropicBackend talks to the Anthropic Messages API.
type AnthropicBackend struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicBackend wraps an anthropic client.
func NewAnthropicBackend(client anthropic.Client, model string, maxTokens int64) *AnthropicBackend {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicBackend{client: client, model: model, maxTokens: maxTokens}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

func (b *AnthropicBackend) Complete(ctx context.Context, p Prompt, sink RequestSink) (string, error) {
	req := anthropic.MessageRequest{
		Model:     b.model,
		MaxTokens: b.maxTokens,
		System:    p.System,
		Messages:  []anthropic.Message{{Role: "user", Content: p.User}},
	}
	if err := record(sink, req); err != nil {
		return "", err
	}

	resp, err := b.client.CreateMessage(ctx, req)
	if err != nil {
		return "", failure.Transport(err, anthropic.StatusCode(err), "annotate: anthropic")
	}
	text := resp.Text()
	if text == "" {
		return "", failure.Errorf(failure.KindData, "annotate: anthropic: message %s has no text content", resp.ID)
	}
	return text, nil
}
