// Package llm defines the completion provider interface and related types.
// Providers are interchangeable behind this interface.
package llm

import (
	"context"

	perrors "github.com/novuscode/novuscode-api/internal/errors"
)

// Role constants for Message.Role.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is a single prior turn in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a provider's Complete() call. History
// holds the conversation so far; Prompt is the new user turn.
type CompletionRequest struct {
	History []Message
	Prompt  string
}

// Part is one piece of candidate content.
type Part struct {
	Text string `json:"text"`
}

// Candidate is one generated answer.
type Candidate struct {
	Parts        []Part `json:"parts"`
	FinishReason string `json:"finishReason,omitempty"`
}

// CompletionResponse is returned by Complete().
type CompletionResponse struct {
	Candidates   []Candidate
	InputTokens  int
	OutputTokens int
}

// Provider is the core abstraction for completion backends.
// Implementations: GeminiProvider, LangchainProvider.
type Provider interface {
	// Complete sends the prompt with its history and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the current model identifier string.
	ModelID() string
}

// FirstText returns the text of the first candidate's first content part.
func FirstText(resp *CompletionResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", perrors.E(perrors.KindUpstream, "llm.FirstText", "The completion service returned no candidates.", nil)
	}
	parts := resp.Candidates[0].Parts
	if len(parts) == 0 {
		return "", perrors.E(perrors.KindUpstream, "llm.FirstText", "The completion service returned an empty candidate.", nil)
	}
	return parts[0].Text, nil
}
