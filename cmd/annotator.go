package main

import (
	"go.uber.org/zap"

	"github.com/sells-group/return-etl/internal/annotate"
	"github.com/sells-group/return-etl/pkg/anthropic"
	"github.com/sells-group/return-etl/pkg/deepseek"
)

// newAnnotator builds the annotation client for the configured provider.
func newAnnotator() (*annotate.Client, error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, err
	}
	policy, err := annotate.ParseTagPolicy(cfg.LLM.UnknownTags)
	if err != nil {
		return nil, err
	}

	l := cfg.LLM
	var backend annotate.Backend
	switch l.Provider {
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithTimeout(l.Timeout())}
		if l.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(l.BaseURL))
		}
		backend = annotate.NewAnthropicBackend(anthropic.NewClient(l.APIKey, opts...), l.Model, l.MaxTokens)
	default:
		opts := []deepseek.Option{deepseek.WithModel(l.Model), deepseek.WithTimeout(l.Timeout())}
		if l.BaseURL != "" {
			opts = append(opts, deepseek.WithBaseURL(l.BaseURL))
		}
		client := deepseek.NewClient(l.APIKey, opts...)
		backend = annotate.NewDeepSeekBackend(client, l.Model)
	}

	return annotate.New(backend,
		annotate.WithTagPolicy(policy),
		annotate.WithLogger(logger.With(zap.String("llm_provider", backend.Name()))),
	), nil
}
