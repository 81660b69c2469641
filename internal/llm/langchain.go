package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainProvider implements Provider on top of any langchaingo model.
type LangchainProvider struct {
	model    llms.Model
	modelID  string
	callOpts []llms.CallOption
	logger   zerolog.Logger
}

// NewLangchainProvider wraps model. modelID is reported by ModelID.
func NewLangchainProvider(model llms.Model, modelID string, logger zerolog.Logger) *LangchainProvider {
	return &LangchainProvider{
		model:   model,
		modelID: modelID,
		callOpts: []llms.CallOption{
			llms.WithMaxTokens(defaultMaxTokens),
			llms.WithTemperature(defaultTemperature),
			llms.WithTopP(defaultTopP),
		},
		logger: logger.With().Str("component", "llm.langchain").Logger(),
	}
}

// NewOpenAIProvider builds a LangchainProvider backed by the OpenAI chat API.
func NewOpenAIProvider(apiKey, model string, logger zerolog.Logger) (*LangchainProvider, error) {
	m, err := openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewLangchainProvider(m, model, logger), nil
}

func (p *LangchainProvider) ModelID() string { return p.modelID }

// Complete sends the history plus prompt as chat messages.
func (p *LangchainProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	msgs := make([]llms.MessageContent, 0, len(req.History)+1)
	for _, m := range req.History {
		role := llms.ChatMessageTypeHuman
		if m.Role == RoleModel {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Content))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	resp, err := p.model.GenerateContent(ctx, msgs, p.callOpts...)
	if err != nil {
		return nil, fmt.Errorf("langchain generate: %w", err)
	}

	out := &CompletionResponse{}
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		out.Candidates = append(out.Candidates, Candidate{
			Parts:        []Part{{Text: choice.Content}},
			FinishReason: choice.StopReason,
		})
	}

	p.logger.Debug().
		Str("model", p.modelID).
		Int("candidates", len(out.Candidates)).
		Msg("langchain complete")
	return out, nil
}
