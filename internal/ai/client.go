package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Nintendo-user96/Monika-sub000/internal/keypool"
	"github.com/Nintendo-user96/Monika-sub000/internal/metrics"
)

// AIClient talks to an OpenAI-compatible API. Every request runs through
// the orchestrator, which picks the credential and absorbs rate limits,
// rejected keys and the nightly blackout.
type AIClient struct {
	orchestrator *keypool.Orchestrator
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger

	mu      sync.Mutex
	clients map[string]*openai.Client // by credential fingerprint
}

// NewAIClient creates a new AI client. An empty baseURL uses the OpenAI default.
func NewAIClient(orchestrator *keypool.Orchestrator, baseURL string, logger *slog.Logger) *AIClient {
	return &AIClient{
		orchestrator: orchestrator,
		baseURL:      baseURL,
		httpClient: &http.Client{
			Timeout: visionTimeout,
		},
		logger:  logger,
		clients: make(map[string]*openai.Client),
	}
}

// clientFor returns the API client bound to cred, building it on first use.
func (c *AIClient) clientFor(cred *keypool.Credential) *openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if oc, ok := c.clients[cred.Fingerprint()]; ok {
		return oc
	}
	oc := newOpenAIClient(cred.Key(), c.baseURL, c.httpClient)
	c.clients[cred.Fingerprint()] = oc
	return oc
}

func newOpenAIClient(key, baseURL string, httpClient *http.Client) *openai.Client {
	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(cfg)
}

// Probe returns a liveness check that lists models with the given key.
func Probe(baseURL string, httpClient *http.Client) keypool.ProbeFunc {
	return func(ctx context.Context, key string) error {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		_, err := newOpenAIClient(key, baseURL, httpClient).ListModels(ctx)
		return err
	}
}

// AskClient sends a prompt with a system message and returns the response
func (c *AIClient) AskClient(ctx context.Context, prompt, systemMessage, model string, maxTokens int) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", NewValidationError("prompt", "must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	c.logger.InfoContext(ctx, "sending AI request",
		"model", model,
		"max_tokens", maxTokens,
		"prompt_length", len(prompt))

	req := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	return c.complete(ctx, "ask", req, requestTimeout)
}

// ImageOpinion downloads the image once and sends it to the vision model
func (c *AIClient) ImageOpinion(ctx context.Context, imageURL, systemMessage, model string, maxTokens int, customPrompt *string) (string, error) {
	if !strings.HasPrefix(imageURL, "http://") && !strings.HasPrefix(imageURL, "https://") {
		return "", NewValidationError("imageURL", "must be an http or https URL")
	}
	if model == "" {
		model = DefaultVisionModel
	}
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	c.logger.InfoContext(ctx, "processing image", "image_url", imageURL, "model", model)

	base64Image, err := c.downloadAndEncodeImage(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("error downloading or encoding image: %w", err)
	}

	promptText := DefaultImagePrompt
	if customPrompt != nil && *customPrompt != "" {
		promptText = *customPrompt
	}

	req := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: promptText},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    "data:image/jpeg;base64," + base64Image,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	}

	return c.complete(ctx, "image_opinion", req, visionTimeout)
}

// complete runs one chat completion through the orchestrator and records
// its end-to-end latency.
func (c *AIClient) complete(ctx context.Context, operation string, req openai.ChatCompletionRequest, timeout time.Duration) (string, error) {
	start := time.Now()
	var content string

	err := c.orchestrator.Do(ctx, func(ctx context.Context, cred *keypool.Credential) error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		resp, err := c.clientFor(cred).CreateChatCompletion(callCtx, req)
		if err != nil {
			return Classify(err)
		}
		if len(resp.Choices) == 0 {
			return NewAPIError(ProviderOpenAI, 0, "empty choices in completion", nil)
		}

		content = resp.Choices[0].Message.Content
		c.logger.InfoContext(ctx, "received AI response",
			"operation", operation,
			"key", cred.Masked(),
			"response_length", len(content),
			"finish_reason", resp.Choices[0].FinishReason)
		return nil
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.AIRequestLatency.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())

	if err != nil {
		c.logger.ErrorContext(ctx, "AI request failed", "operation", operation, "error", err)
		return "", err
	}
	return content, nil
}

// downloadAndEncodeImage downloads an image from URL and returns base64 encoded string
func (c *AIClient) downloadAndEncodeImage(ctx context.Context, imageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, imageDownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read image data: %w", err)
	}

	return base64.StdEncoding.EncodeToString(imageData), nil
}

// SuggestMessageBreaks uses AI to break a message into natural chunks
// that read like someone following up on their own thought.
func (c *AIClient) SuggestMessageBreaks(ctx context.Context, message string) ([]string, error) {
	if len(message) <= MessageBreakThreshold {
		return []string{message}, nil
	}

	c.logger.InfoContext(ctx, "requesting message break suggestions",
		"message_length", len(message))

	systemPrompt := `You are a message chunking assistant. Break messages into natural, conversational chunks
the way people text, following up one message with more as they flesh out a thought.

Rules:
1. Split at natural thought boundaries (paragraphs, topic shifts, etc.)
2. Each chunk should be a complete thought
3. Aim for 3-5 chunks for longer messages
4. Preserve the exact original text
5. Respond ONLY with the chunks separated by the delimiter: ` + MessageBreakDelimiter + `
6. Do not add any explanations or commentary`

	userPrompt := fmt.Sprintf("Break this message into natural conversational chunks:\n\n%s", message)

	ctx, cancel := context.WithTimeout(ctx, messageBreakCallDeadline)
	defer cancel()

	response, err := c.AskClient(ctx, userPrompt, systemPrompt, DefaultModel, MessageBreakMaxTokens)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to get message breaks, falling back to paragraphs", "error", err)
		return fallbackMessageBreaks(message), nil
	}

	chunks := parseMessageBreaks(response, message)
	c.logger.InfoContext(ctx, "message broken into chunks",
		"original_length", len(message),
		"chunk_count", len(chunks))

	return chunks, nil
}

// parseMessageBreaks splits the model output on the delimiter and keeps
// only chunks that fit in one Discord message.
func parseMessageBreaks(response, originalMessage string) []string {
	var chunks []string
	for _, chunk := range strings.Split(response, MessageBreakDelimiter) {
		chunk = strings.TrimSpace(chunk)
		if chunk != "" && len(chunk) <= MaxChunkLength {
			chunks = append(chunks, chunk)
		}
	}

	if len(chunks) <= 1 {
		return fallbackMessageBreaks(originalMessage)
	}
	return chunks
}

// fallbackMessageBreaks groups paragraphs into chunks of roughly
// FallbackChunkLength characters.
func fallbackMessageBreaks(message string) []string {
	var chunks []string
	current := ""

	for _, para := range strings.Split(message, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		switch {
		case current == "":
			current = para
		case len(current)+len(para)+2 > FallbackChunkLength:
			chunks = append(chunks, current)
			current = para
		default:
			current += "\n\n" + para
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}

	if len(chunks) <= 1 {
		return []string{message}
	}
	return chunks
}
