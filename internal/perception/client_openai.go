package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"taskpilot/internal/logging"
	"taskpilot/internal/types"
)

// OpenAIClient implements LLMClient for any OpenAI-compatible chat/completions API.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxRetries  int
	maxTokens   int
	temperature float64
	backoff     func(attempt int) time.Duration
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// DefaultOpenAIConfig returns sensible defaults for tool calling.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:      apiKey,
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Timeout:     60 * time.Second,
		MaxRetries:  3,
		MaxTokens:   1024,
		Temperature: 0.1,
	}
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return NewOpenAIClientWithConfig(DefaultOpenAIConfig(apiKey))
}

// NewOpenAIClientWithConfig creates a new OpenAI client with custom config.
// Zero fields fall back to DefaultOpenAIConfig.
func NewOpenAIClientWithConfig(config OpenAIConfig) *OpenAIClient {
	def := DefaultOpenAIConfig(config.APIKey)
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	if config.Backoff == nil {
		config.Backoff = exponentialBackoff
	}
	return &OpenAIClient{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		model:       config.Model,
		maxRetries:  config.MaxRetries,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		backoff:     config.Backoff,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// GetModel returns the current model name.
func (c *OpenAIClient) GetModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// CompleteWithTools sends the conversation with tool definitions.
//
// Rate limits, transport failures and 5xx responses are retried up to
// MaxRetries times. Every failure is wrapped in types.ErrUpstreamUnavailable;
// a final 429 additionally wraps types.ErrRateLimited.
func (c *OpenAIClient) CompleteWithTools(ctx context.Context, systemPrompt string, history []types.Message, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	startTime := time.Now()
	model := c.GetModel()
	logging.PerceptionDebug("[OpenAI] CompleteWithTools: model=%s messages=%d tools=%d", model, len(history), len(tools))

	if c.apiKey == "" {
		logging.PerceptionError("[OpenAI] CompleteWithTools: API key not configured")
		return nil, ErrMissingAPIKey
	}

	reqBody := OpenAIRequest{
		Model:       model,
		Messages:    MapHistoryToOpenAI(systemPrompt, history),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	if len(tools) > 0 {
		reqBody.Tools = MapToolDefinitionsToOpenAI(tools)
		reqBody.ToolChoice = "auto"
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
				return nil, fmt.Errorf("%w: openai: %w", types.ErrUpstreamUnavailable, err)
			}
			logging.PerceptionDebug("[OpenAI] CompleteWithTools: retry %d/%d after: %v", attempt, c.maxRetries, lastErr)
		}
		c.throttle()

		resp, retry, err := c.do(ctx, jsonData)
		if err == nil {
			out, err := toToolResponse(resp)
			if err != nil {
				logging.PerceptionError("[OpenAI] CompleteWithTools: %v", err)
				return nil, fmt.Errorf("%w: openai: %w", types.ErrUpstreamUnavailable, err)
			}
			logging.Perception("[OpenAI] CompleteWithTools: completed in %v tool_calls=%d stop=%s",
				time.Since(startTime), len(out.ToolCalls), out.StopReason)
			return out, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}

	logging.PerceptionError("[OpenAI] CompleteWithTools: failed after %v: %v", time.Since(startTime), lastErr)
	return nil, fmt.Errorf("%w: openai: %w", types.ErrUpstreamUnavailable, lastErr)
}

// throttle keeps at least 100ms between requests from this client.
func (c *OpenAIClient) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
}

// do performs one request. The bool reports whether the failure is worth retrying.
func (c *OpenAIClient) do(ctx context.Context, body []byte) (*OpenAIResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("%w: %s", types.ErrRateLimited, truncate(string(data), 200))
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(string(data), 200))
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var out OpenAIResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != nil {
		return nil, false, fmt.Errorf("API error: %s", out.Error.Message)
	}
	return &out, false, nil
}

func toToolResponse(resp *OpenAIResponse) (*types.LLMToolResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no completion returned")
	}
	choice := resp.Choices[0]
	calls := MapOpenAIToolCallsToInternal(choice.Message.ToolCalls)
	return &types.LLMToolResponse{
		Text:       strings.TrimSpace(choice.Message.Content),
		ToolCalls:  calls,
		StopReason: stopReason(choice.FinishReason, len(calls) > 0),
		Usage: types.UsageMetadata{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}
