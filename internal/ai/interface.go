package ai

import "context"

// Client defines the interface for AI client operations
type Client interface {
	// AskClient sends a prompt with a system message and returns the reply
	AskClient(ctx context.Context, prompt, systemMessage, model string, maxTokens int) (string, error)

	// ImageOpinion sends an image to the vision model
	ImageOpinion(ctx context.Context, imageURL, systemMessage, model string, maxTokens int, customPrompt *string) (string, error)

	// SuggestMessageBreaks splits a long reply into conversational chunks
	SuggestMessageBreaks(ctx context.Context, message string) ([]string, error)
}
