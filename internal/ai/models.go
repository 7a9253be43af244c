package ai

import "time"

// Model and request constants
const (
	ProviderOpenAI           = "OpenAI"
	DefaultModel             = "gpt-4o"
	DefaultVisionModel       = "gpt-4o"
	DefaultMaxTokens         = 200
	MessageBreakMaxTokens    = 1000
	MessageBreakThreshold    = 500
	MessageBreakDelimiter    = "<<<BREAK>>>"
	MaxChunkLength           = 2000
	FallbackChunkLength      = 800
	DefaultImagePrompt       = "Form an opinion on this image. Keep it short and in character."
	requestTimeout           = 60 * time.Second
	visionTimeout            = 90 * time.Second
	imageDownloadTimeout     = 30 * time.Second
	probeTimeout             = 15 * time.Second
	messageBreakCallDeadline = 30 * time.Second
)
